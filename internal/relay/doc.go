// Package relay implements room membership and the message and
// typing-presence fan-out for the chat relay.
//
// The package is transport agnostic. A Relay owns a Registry (which
// connections are in which rooms) and a TypingTracker (who is typing
// where), and pushes encoded outbound events to Peers. The server
// package adapts WebSocket clients to the Peer interface.
package relay
