package relay

import (
	"strconv"
	"sync/atomic"
	"time"
)

// TimestampLayout is the ISO-8601 layout used for createdAt on the wire.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is a chat message in flight. Messages are never stored.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	CreatedAt      time.Time
}

// IDGenerator issues message identifiers that are unique for the life
// of the process: a millisecond timestamp followed by a sequence number
// that never repeats.
type IDGenerator struct {
	seq atomic.Uint64
	now func() time.Time
}

// NewIDGenerator returns a generator stamping ids with now.
func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

// Next returns a fresh identifier.
func (g *IDGenerator) Next() string {
	n := g.seq.Add(1)
	return strconv.FormatInt(g.now().UnixMilli(), 10) + "-" + strconv.FormatUint(n, 10)
}

// processIDs is shared by every Relay that does not supply its own
// generator, so ids stay unique across relays in one process.
var processIDs = NewIDGenerator(time.Now)
