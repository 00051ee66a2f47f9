package relay

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// Relay applies inbound events to room membership and typing state and
// fans the resulting outbound events out to room members.
//
// Membership is not checked on send or typing: a connection may send to
// a room it never joined, and only that room's actual members receive
// it. Join is silent.
type Relay struct {
	rooms  *Registry
	typing *TypingTracker
	ids    *IDGenerator
	now    func() time.Time
}

// Option configures a Relay.
type Option func(*Relay)

// WithClock sets the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator sets the message id source.
func WithIDGenerator(ids *IDGenerator) Option {
	return func(r *Relay) {
		if ids != nil {
			r.ids = ids
		}
	}
}

// New returns a Relay over the given registry and tracker. Nil
// arguments are replaced with empty ones.
func New(rooms *Registry, typing *TypingTracker, opts ...Option) *Relay {
	if rooms == nil {
		rooms = NewRegistry()
	}
	if typing == nil {
		typing = NewTypingTracker()
	}
	r := &Relay{
		rooms:  rooms,
		typing: typing,
		ids:    processIDs,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rooms returns the relay's registry.
func (r *Relay) Rooms() *Registry {
	return r.rooms
}

// TypingState returns the relay's typing tracker.
func (r *Relay) TypingState() *TypingTracker {
	return r.typing
}

// HandleRaw decodes one client frame and applies it. Frames that fail
// validation are dropped and the decode error is returned for logging.
func (r *Relay) HandleRaw(peer Peer, raw []byte) error {
	ev, err := DecodeInbound(raw)
	if err != nil {
		return err
	}
	return r.Handle(peer, ev)
}

// Handle applies a decoded inbound event from peer.
func (r *Relay) Handle(peer Peer, ev Inbound) error {
	switch e := ev.(type) {
	case Join:
		return r.Join(peer, e.RoomID)
	case Leave:
		return r.Leave(peer, e.RoomID)
	case Send:
		_, err := r.Send(peer, e.RoomID, e.Text, e.SenderID)
		return err
	case Typing:
		if e.Active {
			return r.StartTyping(peer, e.RoomID, e.UserID)
		}
		return r.StopTyping(peer, e.RoomID, e.UserID)
	}
	return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
}

// Join adds peer to roomID. No event is broadcast.
func (r *Relay) Join(peer Peer, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return ErrMissingRoom
	}
	if r.rooms.Join(peer, roomID) {
		log.Printf("Connection %s joined %q (%d members)", peer.ID(), roomID, r.rooms.MemberCount(roomID))
	}
	return nil
}

// Leave removes peer from roomID. Any typing mark peer raised in that
// room is cleared and announced to the remaining members.
func (r *Relay) Leave(peer Peer, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return ErrMissingRoom
	}
	if r.rooms.Leave(peer, roomID) {
		log.Printf("Connection %s left %q", peer.ID(), roomID)
	}
	r.announceStopped(r.typing.ClearRoomFor(roomID, peer.ID()))
	return nil
}

// Send builds a message and delivers it to every current member of
// roomID, the sender included when it is a member.
func (r *Relay) Send(peer Peer, roomID, text, senderID string) (Message, error) {
	if strings.TrimSpace(roomID) == "" {
		return Message{}, ErrMissingRoom
	}
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyText
	}

	msg := Message{
		ID:             r.ids.Next(),
		ConversationID: roomID,
		SenderID:       r.identity(peer, senderID),
		Text:           text,
		CreatedAt:      r.now().UTC(),
	}
	if !r.rooms.IsMember(peer.ID(), roomID) {
		log.Printf("Connection %s sent to %q without joining it", peer.ID(), roomID)
	}

	payload, err := EncodeEvent(EventReceiveMessage, messagePayload(msg))
	if err != nil {
		return Message{}, err
	}
	r.broadcast(roomID, payload, nil)
	return msg, nil
}

// StartTyping marks the sender as typing in roomID and tells every
// other member. Repeated signals are rebroadcast so clients can reset
// their display timeout.
func (r *Relay) StartTyping(peer Peer, roomID, userID string) error {
	if strings.TrimSpace(roomID) == "" {
		return ErrMissingRoom
	}
	identity := r.identity(peer, userID)
	r.typing.SetTyping(roomID, identity, peer.ID())
	return r.sendTyping(EventTyping, roomID, identity, peer)
}

// StopTyping clears the sender's typing mark in roomID and tells every
// other member.
func (r *Relay) StopTyping(peer Peer, roomID, userID string) error {
	if strings.TrimSpace(roomID) == "" {
		return ErrMissingRoom
	}
	identity := r.identity(peer, userID)
	r.typing.ClearTyping(roomID, identity)
	return r.sendTyping(EventStopTyping, roomID, identity, peer)
}

// Disconnect removes peer from every room and clears its typing marks,
// telling each affected room's remaining members that it stopped
// typing. It must complete before the peer's resources are released.
// Calling it more than once is harmless.
func (r *Relay) Disconnect(peer Peer) {
	left := r.rooms.LeaveAll(peer)
	cleared := r.typing.ClearAllFor(peer.ID())
	if len(left) > 0 || len(cleared) > 0 {
		log.Printf("Connection %s disconnected from %d rooms, cleared %d typing marks", peer.ID(), len(left), len(cleared))
	}
	r.announceStopped(cleared)
}

// Reconcile drops membership and typing state held by peers for which
// alive returns false. It returns the number of stale entries removed.
func (r *Relay) Reconcile(alive func(peerID string) bool) int {
	peers := r.rooms.Prune(alive)
	cleared := r.typing.Prune(alive)
	r.announceStopped(cleared)
	return peers + len(cleared)
}

// Stats is a point-in-time summary of relay state.
type Stats struct {
	Rooms       int
	Memberships int
	Typing      int
}

// Stats returns the current room, membership and typing counts.
func (r *Relay) Stats() Stats {
	return Stats{
		Rooms:       r.rooms.RoomCount(),
		Memberships: r.rooms.MembershipCount(),
		Typing:      r.typing.Count(),
	}
}

func (r *Relay) sendTyping(event, roomID, identity string, sender Peer) error {
	payload, err := EncodeEvent(event, TypingPayload{UserID: identity})
	if err != nil {
		return err
	}
	r.broadcast(roomID, payload, sender)
	return nil
}

func (r *Relay) announceStopped(cleared []TypingEntry) {
	for _, entry := range cleared {
		payload, err := EncodeEvent(EventStopTyping, TypingPayload{UserID: entry.Identity})
		if err != nil {
			log.Printf("Error encoding stop_typing for %q: %v", entry.Identity, err)
			continue
		}
		r.broadcast(entry.RoomID, payload, nil)
	}
}

// broadcast delivers payload to a snapshot of roomID's members, skipping
// exclude. A full or closed recipient queue drops that delivery only.
func (r *Relay) broadcast(roomID string, payload []byte, exclude Peer) int {
	delivered := 0
	for _, member := range r.rooms.MembersOf(roomID) {
		if exclude != nil && member.ID() == exclude.ID() {
			continue
		}
		if !member.Deliver(payload) {
			log.Printf("Dropped delivery to %s in %q", member.ID(), roomID)
			continue
		}
		delivered++
	}
	return delivered
}

// identity picks the label attributed to peer's events: the
// authenticated identity when there is one, then the label the client
// declared, then the session id.
func (r *Relay) identity(peer Peer, declared string) string {
	if id := peer.Identity(); id != "" {
		return id
	}
	if strings.TrimSpace(declared) != "" {
		return declared
	}
	return peer.ID()
}
