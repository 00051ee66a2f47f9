package relay

import (
	"sort"
	"sync"
)

// TypingEntry is one (room, identity) pair currently marked as typing.
type TypingEntry struct {
	RoomID   string
	Identity string
}

// TypingTracker records which identities are typing in which rooms,
// along with the connection that raised each signal so a disconnect can
// clear exactly what that connection left behind.
type TypingTracker struct {
	mu    sync.Mutex
	rooms map[string]map[string]string // room id -> identity -> owner peer id
}

// NewTypingTracker returns an empty TypingTracker.
func NewTypingTracker() *TypingTracker {
	return &TypingTracker{rooms: make(map[string]map[string]string)}
}

// SetTyping marks identity as typing in roomID on behalf of owner. It
// reports whether the identity was not already marked.
func (t *TypingTracker) SetTyping(roomID, identity, owner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	typing, ok := t.rooms[roomID]
	if !ok {
		typing = make(map[string]string)
		t.rooms[roomID] = typing
	}
	_, already := typing[identity]
	typing[identity] = owner
	return !already
}

// ClearTyping marks identity as not typing in roomID and reports
// whether it had been typing.
func (t *TypingTracker) ClearTyping(roomID, identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	typing, ok := t.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := typing[identity]; !ok {
		return false
	}
	delete(typing, identity)
	if len(typing) == 0 {
		delete(t.rooms, roomID)
	}
	return true
}

// ClearRoomFor removes every typing mark owner raised in roomID.
func (t *TypingTracker) ClearRoomFor(roomID, owner string) []TypingEntry {
	return t.clear(func(r, o string) bool { return r == roomID && o == owner })
}

// ClearAllFor removes every typing mark raised by owner, in any room,
// and returns the cleared entries sorted by room then identity.
func (t *TypingTracker) ClearAllFor(owner string) []TypingEntry {
	return t.clear(func(_, o string) bool { return o == owner })
}

// Prune removes every typing mark whose owner is no longer alive.
func (t *TypingTracker) Prune(alive func(peerID string) bool) []TypingEntry {
	return t.clear(func(_, o string) bool { return !alive(o) })
}

func (t *TypingTracker) clear(match func(roomID, owner string) bool) []TypingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cleared []TypingEntry
	for roomID, typing := range t.rooms {
		for identity, owner := range typing {
			if !match(roomID, owner) {
				continue
			}
			delete(typing, identity)
			cleared = append(cleared, TypingEntry{RoomID: roomID, Identity: identity})
		}
		if len(typing) == 0 {
			delete(t.rooms, roomID)
		}
	}

	sort.Slice(cleared, func(i, j int) bool {
		if cleared[i].RoomID != cleared[j].RoomID {
			return cleared[i].RoomID < cleared[j].RoomID
		}
		return cleared[i].Identity < cleared[j].Identity
	})
	return cleared
}

// IsTyping reports whether identity is marked as typing in roomID.
func (t *TypingTracker) IsTyping(roomID, identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.rooms[roomID][identity]
	return ok
}

// TypingIn returns the identities typing in roomID, sorted.
func (t *TypingTracker) TypingIn(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	identities := make([]string, 0, len(t.rooms[roomID]))
	for identity := range t.rooms[roomID] {
		identities = append(identities, identity)
	}
	sort.Strings(identities)
	return identities
}

// Count returns the total number of typing marks across all rooms.
func (t *TypingTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, typing := range t.rooms {
		total += len(typing)
	}
	return total
}
