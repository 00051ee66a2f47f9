// Package credential registers and authenticates chat users. Passwords
// are stored as bcrypt hashes and sessions are carried by signed JWT
// access tokens that the WebSocket endpoint verifies before upgrading.
package credential
