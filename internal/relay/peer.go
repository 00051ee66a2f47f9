package relay

// Peer is one live connection as seen by the relay.
type Peer interface {
	// ID returns the opaque session identifier assigned at connect.
	ID() string
	// Identity returns the authenticated display name, or "" when the
	// connection did not authenticate.
	Identity() string
	// Deliver queues an encoded outbound event without blocking and
	// reports whether it was accepted.
	Deliver(payload []byte) bool
}
