// Package server is the WebSocket and HTTP transport for the chat relay.
//
// Each upgraded connection becomes a Client with its own read and write
// goroutines. Clients hand every inbound frame to a relay.Relay, which
// decides who receives what; the Hub owns client lifecycle, disconnect
// cleanup, the reconciliation sweep and graceful shutdown.
package server
