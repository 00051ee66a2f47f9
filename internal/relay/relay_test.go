package relay_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// fakePeer records every payload it is handed. A positive capacity makes
// Deliver refuse once that many payloads are queued.
type fakePeer struct {
	id       string
	identity string
	capacity int

	mu       sync.Mutex
	received [][]byte
}

func newPeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string       { return p.id }
func (p *fakePeer) Identity() string { return p.identity }

func (p *fakePeer) Deliver(payload []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.capacity > 0 && len(p.received) >= p.capacity {
		return false
	}
	p.received = append(p.received, payload)
	return true
}

func (p *fakePeer) events(t *testing.T) []relay.Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	envs := make([]relay.Envelope, 0, len(p.received))
	for _, raw := range p.received {
		var env relay.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		envs = append(envs, env)
	}
	return envs
}

func messageOf(t *testing.T, env relay.Envelope) relay.MessagePayload {
	t.Helper()
	require.Equal(t, relay.EventReceiveMessage, env.Event)
	var msg relay.MessagePayload
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	return msg
}

func typingOf(t *testing.T, env relay.Envelope) relay.TypingPayload {
	t.Helper()
	var p relay.TypingPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	raw, err := relay.EncodeEvent(event, data)
	require.NoError(t, err)
	return raw
}

func TestSendReachesEveryMemberIncludingSender(t *testing.T) {
	r := relay.New(relay.NewRegistry(), relay.NewTypingTracker())
	a, b, outsider := newPeer("a"), newPeer("b"), newPeer("c")

	require.NoError(t, r.Join(a, "general"))
	require.NoError(t, r.Join(b, "general"))
	require.NoError(t, r.Join(outsider, "random"))

	msg, err := r.Send(a, "general", "hi", "A")
	require.NoError(t, err)

	for _, p := range []*fakePeer{a, b} {
		envs := p.events(t)
		require.Len(t, envs, 1, "peer %s", p.id)
		got := messageOf(t, envs[0])
		assert.Equal(t, "hi", got.Text)
		assert.Equal(t, "A", got.SenderID)
		assert.Equal(t, "general", got.ConversationID)
		assert.Equal(t, msg.ID, got.ID)
	}
	assert.Empty(t, outsider.events(t))
}

func TestGeneralRoomScenario(t *testing.T) {
	r := relay.New(nil, nil)
	a, b := newPeer("conn-a"), newPeer("conn-b")

	require.NoError(t, r.HandleRaw(a, frame(t, relay.EventJoinConversation, "general")))
	require.NoError(t, r.HandleRaw(b, frame(t, relay.EventJoinConversation, "general")))

	require.NoError(t, r.HandleRaw(a, []byte(`{"event":"send_message","data":{"conversationId":"general","text":"hi","senderId":"A"}}`)))
	require.NoError(t, r.HandleRaw(b, []byte(`{"event":"typing","data":{"conversationId":"general","userId":"B"}}`)))

	r.Disconnect(b)

	aEvents := a.events(t)
	require.Len(t, aEvents, 3)
	assert.Equal(t, "hi", messageOf(t, aEvents[0]).Text)
	assert.Equal(t, relay.EventTyping, aEvents[1].Event)
	assert.Equal(t, "B", typingOf(t, aEvents[1]).UserID)
	assert.Equal(t, relay.EventStopTyping, aEvents[2].Event)
	assert.Equal(t, "B", typingOf(t, aEvents[2]).UserID)

	bEvents := b.events(t)
	require.Len(t, bEvents, 1, "B must not see its own typing echo")
	assert.Equal(t, "A", messageOf(t, bEvents[0]).SenderID)
}

func TestTypingThenStopTypingArrivesInOrder(t *testing.T) {
	r := relay.New(nil, nil)
	u, peers := newPeer("u"), []*fakePeer{newPeer("p1"), newPeer("p2")}

	require.NoError(t, r.Join(u, "R"))
	for _, p := range peers {
		require.NoError(t, r.Join(p, "R"))
	}

	require.NoError(t, r.StartTyping(u, "R", "alice"))
	assert.True(t, r.TypingState().IsTyping("R", "alice"))
	require.NoError(t, r.StopTyping(u, "R", "alice"))
	assert.False(t, r.TypingState().IsTyping("R", "alice"))

	for _, p := range peers {
		envs := p.events(t)
		require.Len(t, envs, 2)
		assert.Equal(t, relay.EventTyping, envs[0].Event)
		assert.Equal(t, relay.EventStopTyping, envs[1].Event)
		assert.Equal(t, "alice", typingOf(t, envs[1]).UserID)
	}
	assert.Empty(t, u.events(t))
}

func TestRepeatedTypingIsRebroadcast(t *testing.T) {
	r := relay.New(nil, nil)
	u, peer := newPeer("u"), newPeer("p")
	require.NoError(t, r.Join(u, "R"))
	require.NoError(t, r.Join(peer, "R"))

	require.NoError(t, r.StartTyping(u, "R", "alice"))
	require.NoError(t, r.StartTyping(u, "R", "alice"))

	assert.Len(t, peer.events(t), 2)
	assert.Equal(t, []string{"alice"}, r.TypingState().TypingIn("R"))
}

func TestDisconnectClearsTypingInEveryRoom(t *testing.T) {
	r := relay.New(nil, nil)
	ghost, x, y := newPeer("ghost"), newPeer("x"), newPeer("y")

	for _, roomID := range []string{"one", "two"} {
		require.NoError(t, r.Join(ghost, roomID))
	}
	require.NoError(t, r.Join(x, "one"))
	require.NoError(t, r.Join(y, "two"))

	require.NoError(t, r.StartTyping(ghost, "one", "g"))
	require.NoError(t, r.StartTyping(ghost, "two", "g"))

	r.Disconnect(ghost)

	for _, p := range []*fakePeer{x, y} {
		envs := p.events(t)
		require.Len(t, envs, 2)
		assert.Equal(t, relay.EventStopTyping, envs[1].Event)
		assert.Equal(t, "g", typingOf(t, envs[1]).UserID)
	}
	assert.Equal(t, 0, r.TypingState().Count())
	assert.Empty(t, r.Rooms().RoomsOf("ghost"))
	assert.Empty(t, ghost.events(t))

	// A second disconnect has nothing left to clean up.
	r.Disconnect(ghost)
	assert.Len(t, x.events(t), 2)
}

func TestDisconnectWithoutTypingIsSilent(t *testing.T) {
	r := relay.New(nil, nil)
	a, b := newPeer("a"), newPeer("b")
	require.NoError(t, r.Join(a, "R"))
	require.NoError(t, r.Join(b, "R"))

	r.Disconnect(a)

	assert.Empty(t, b.events(t))
	assert.Equal(t, 1, r.Rooms().MemberCount("R"))
}

func TestDoubleJoinDeliversOnce(t *testing.T) {
	r := relay.New(nil, nil)
	a, b := newPeer("a"), newPeer("b")

	require.NoError(t, r.Join(a, "R"))
	require.NoError(t, r.Join(a, "R"))
	require.NoError(t, r.Join(b, "R"))
	assert.Equal(t, 2, r.Rooms().MemberCount("R"))

	_, err := r.Send(b, "R", "once", "b")
	require.NoError(t, err)
	assert.Len(t, a.events(t), 1)
}

func TestSendToUnjoinedRoomExcludesSender(t *testing.T) {
	r := relay.New(nil, nil)
	sender, member := newPeer("sender"), newPeer("member")
	require.NoError(t, r.Join(member, "R"))

	_, err := r.Send(sender, "R", "knock knock", "s")
	require.NoError(t, err)

	assert.Len(t, member.events(t), 1)
	assert.Empty(t, sender.events(t))
	assert.Empty(t, r.Rooms().RoomsOf("sender"), "sending must not join implicitly")
}

func TestLateJoinerDoesNotSeeEarlierMessages(t *testing.T) {
	r := relay.New(nil, nil)
	early, late := newPeer("early"), newPeer("late")
	require.NoError(t, r.Join(early, "R"))

	_, err := r.Send(early, "R", "before", "e")
	require.NoError(t, err)
	require.NoError(t, r.Join(late, "R"))

	assert.Empty(t, late.events(t))
}

func TestLeaveStopsDeliveryAndClearsTyping(t *testing.T) {
	r := relay.New(nil, nil)
	a, b := newPeer("a"), newPeer("b")
	require.NoError(t, r.Join(a, "R"))
	require.NoError(t, r.Join(b, "R"))
	require.NoError(t, r.StartTyping(a, "R", "alice"))

	require.NoError(t, r.HandleRaw(a, frame(t, relay.EventLeaveConversation, "R")))
	_, err := r.Send(b, "R", "anyone?", "b")
	require.NoError(t, err)

	assert.Empty(t, a.events(t))
	envs := b.events(t)
	require.Len(t, envs, 3)
	assert.Equal(t, relay.EventStopTyping, envs[1].Event)
	assert.Equal(t, relay.EventReceiveMessage, envs[2].Event)
}

func TestMalformedInputIsRejected(t *testing.T) {
	r := relay.New(nil, nil)
	a, b := newPeer("a"), newPeer("b")
	require.NoError(t, r.Join(a, "R"))
	require.NoError(t, r.Join(b, "R"))

	_, err := r.Send(a, "R", "   ", "a")
	require.ErrorIs(t, err, relay.ErrEmptyText)
	_, err = r.Send(a, " ", "text", "a")
	require.ErrorIs(t, err, relay.ErrMissingRoom)
	require.ErrorIs(t, r.Join(a, ""), relay.ErrMissingRoom)
	require.ErrorIs(t, r.StartTyping(a, "", "a"), relay.ErrMissingRoom)

	assert.Empty(t, b.events(t))
}

func TestAuthenticatedIdentityOverridesDeclaredLabel(t *testing.T) {
	r := relay.New(nil, nil)
	a, b := newPeer("a"), newPeer("b")
	a.identity = "alice"
	require.NoError(t, r.Join(a, "R"))
	require.NoError(t, r.Join(b, "R"))

	_, err := r.Send(a, "R", "hello", "mallory")
	require.NoError(t, err)
	require.NoError(t, r.StartTyping(a, "R", "mallory"))

	envs := b.events(t)
	require.Len(t, envs, 2)
	assert.Equal(t, "alice", messageOf(t, envs[0]).SenderID)
	assert.Equal(t, "alice", typingOf(t, envs[1]).UserID)
}

func TestMissingLabelFallsBackToSessionID(t *testing.T) {
	r := relay.New(nil, nil)
	a, b := newPeer("session-1"), newPeer("b")
	require.NoError(t, r.Join(a, "R"))
	require.NoError(t, r.Join(b, "R"))

	require.NoError(t, r.StartTyping(a, "R", ""))

	envs := b.events(t)
	require.Len(t, envs, 1)
	assert.Equal(t, "session-1", typingOf(t, envs[0]).UserID)
}

func TestFullRecipientDoesNotBlockOthers(t *testing.T) {
	r := relay.New(nil, nil)
	slow, fast, sender := newPeer("slow"), newPeer("fast"), newPeer("sender")
	slow.capacity = 1
	for _, p := range []*fakePeer{slow, fast, sender} {
		require.NoError(t, r.Join(p, "R"))
	}

	for i := 0; i < 3; i++ {
		_, err := r.Send(sender, "R", fmt.Sprintf("m%d", i), "s")
		require.NoError(t, err)
	}

	assert.Len(t, slow.events(t), 1)
	assert.Len(t, fast.events(t), 3)
	assert.Len(t, sender.events(t), 3)
}

func TestMessageTimestampAndIDs(t *testing.T) {
	fixed := time.Date(2026, 10, 16, 9, 30, 0, 123_000_000, time.UTC)
	clock := func() time.Time { return fixed }
	r := relay.New(nil, nil, relay.WithClock(clock), relay.WithIDGenerator(relay.NewIDGenerator(clock)))
	a := newPeer("a")
	require.NoError(t, r.Join(a, "R"))

	first, err := r.Send(a, "R", "one", "a")
	require.NoError(t, err)
	second, err := r.Send(a, "R", "two", "a")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	got := messageOf(t, a.events(t)[0])
	assert.Equal(t, "2026-10-16T09:30:00.123Z", got.CreatedAt)
}

func TestReconcileDropsDeadPeers(t *testing.T) {
	r := relay.New(nil, nil)
	dead, live := newPeer("dead"), newPeer("live")
	require.NoError(t, r.Join(dead, "R"))
	require.NoError(t, r.Join(live, "R"))
	require.NoError(t, r.StartTyping(dead, "R", "d"))

	removed := r.Reconcile(func(id string) bool { return id == "live" })

	assert.Equal(t, 2, removed)
	assert.Equal(t, relay.Stats{Rooms: 1, Memberships: 1, Typing: 0}, r.Stats())
	envs := live.events(t)
	require.Len(t, envs, 2)
	assert.Equal(t, relay.EventStopTyping, envs[1].Event)
}

func TestConcurrentRelayTraffic(t *testing.T) {
	r := relay.New(nil, nil)
	const numPeers = 20

	peers := make([]*fakePeer, numPeers)
	for i := range peers {
		peers[i] = newPeer(fmt.Sprintf("p%d", i))
	}

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *fakePeer) {
			defer wg.Done()
			assert.NoError(t, r.Join(p, "busy"))
			assert.NoError(t, r.StartTyping(p, "busy", p.id))
			_, err := r.Send(p, "busy", "hello from "+p.id, p.id)
			assert.NoError(t, err)
			assert.NoError(t, r.StopTyping(p, "busy", p.id))
		}(p)
	}
	wg.Wait()

	assert.Equal(t, numPeers, r.Rooms().MemberCount("busy"))
	assert.Equal(t, 0, r.TypingState().Count())

	for _, p := range peers {
		wg.Add(1)
		go func(p *fakePeer) {
			defer wg.Done()
			r.Disconnect(p)
		}(p)
	}
	wg.Wait()

	assert.Equal(t, relay.Stats{}, r.Stats())
}
