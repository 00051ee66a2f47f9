package relay

import (
	"sort"
	"sync"
)

type room struct {
	mu      sync.RWMutex
	members map[string]Peer
	// closed is set once the room has been dropped from the registry;
	// joins that raced the drop retry against a fresh room.
	closed bool
}

// Registry maps room identifiers to the connections joined to them.
// The room map is guarded by a registry lock and each member set by its
// own room lock, so traffic in one room does not contend with another.
// Lock order is registry before room; the room lock is never held while
// acquiring the registry lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	idxMu  sync.Mutex
	joined map[string]map[string]struct{} // peer id -> room ids
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*room),
		joined: make(map[string]map[string]struct{}),
	}
}

func (g *Registry) lookup(roomID string) *room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[roomID]
}

func (g *Registry) roomFor(roomID string) *room {
	if rm := g.lookup(roomID); rm != nil {
		return rm
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if rm, ok := g.rooms[roomID]; ok {
		return rm
	}
	rm := &room{members: make(map[string]Peer)}
	g.rooms[roomID] = rm
	return rm
}

// Join adds peer to roomID, creating the room if needed. Joining a room
// twice is a no-op. It reports whether membership changed.
func (g *Registry) Join(peer Peer, roomID string) bool {
	id := peer.ID()
	for {
		rm := g.roomFor(roomID)

		rm.mu.Lock()
		if rm.closed {
			rm.mu.Unlock()
			continue
		}
		_, exists := rm.members[id]
		rm.members[id] = peer
		if !exists {
			g.index(id, roomID)
		}
		rm.mu.Unlock()

		return !exists
	}
}

// Leave removes peer from roomID and reports whether it was a member.
func (g *Registry) Leave(peer Peer, roomID string) bool {
	return g.leave(peer.ID(), roomID)
}

// LeaveAll removes peer from every room it joined and returns those
// rooms in sorted order.
func (g *Registry) LeaveAll(peer Peer) []string {
	return g.leaveAll(peer.ID())
}

func (g *Registry) leaveAll(peerID string) []string {
	rooms := g.RoomsOf(peerID)
	left := rooms[:0]
	for _, roomID := range rooms {
		if g.leave(peerID, roomID) {
			left = append(left, roomID)
		}
	}
	return left
}

func (g *Registry) leave(peerID, roomID string) bool {
	rm := g.lookup(roomID)
	if rm == nil {
		return false
	}

	rm.mu.Lock()
	_, ok := rm.members[peerID]
	if ok {
		delete(rm.members, peerID)
		g.unindex(peerID, roomID)
	}
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		g.dropIfEmpty(roomID, rm)
	}
	return ok
}

func (g *Registry) dropIfEmpty(roomID string, rm *room) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rooms[roomID] != rm {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if len(rm.members) == 0 {
		rm.closed = true
		delete(g.rooms, roomID)
	}
}

// MembersOf returns a snapshot of the peers joined to roomID. The
// snapshot is taken under the room lock; callers deliver after release.
func (g *Registry) MembersOf(roomID string) []Peer {
	rm := g.lookup(roomID)
	if rm == nil {
		return nil
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	members := make([]Peer, 0, len(rm.members))
	for _, peer := range rm.members {
		members = append(members, peer)
	}
	return members
}

// MemberCount returns the number of peers joined to roomID.
func (g *Registry) MemberCount(roomID string) int {
	rm := g.lookup(roomID)
	if rm == nil {
		return 0
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// IsMember reports whether the peer with peerID is joined to roomID.
func (g *Registry) IsMember(peerID, roomID string) bool {
	rm := g.lookup(roomID)
	if rm == nil {
		return false
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.members[peerID]
	return ok
}

// RoomsOf returns the rooms the peer with peerID has joined, sorted.
func (g *Registry) RoomsOf(peerID string) []string {
	g.idxMu.Lock()
	defer g.idxMu.Unlock()

	set := g.joined[peerID]
	rooms := make([]string, 0, len(set))
	for roomID := range set {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

// RoomCount returns the number of non-empty rooms.
func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// MembershipCount returns the total number of (peer, room) memberships.
func (g *Registry) MembershipCount() int {
	g.idxMu.Lock()
	defer g.idxMu.Unlock()

	total := 0
	for _, set := range g.joined {
		total += len(set)
	}
	return total
}

// Prune removes every membership held by a peer for which alive
// returns false and returns the number of peers removed.
func (g *Registry) Prune(alive func(peerID string) bool) int {
	g.idxMu.Lock()
	var stale []string
	for peerID := range g.joined {
		if !alive(peerID) {
			stale = append(stale, peerID)
		}
	}
	g.idxMu.Unlock()

	for _, peerID := range stale {
		g.leaveAll(peerID)
	}
	return len(stale)
}

// index and unindex are called with the room lock held.
func (g *Registry) index(peerID, roomID string) {
	g.idxMu.Lock()
	defer g.idxMu.Unlock()

	set, ok := g.joined[peerID]
	if !ok {
		set = make(map[string]struct{})
		g.joined[peerID] = set
	}
	set[roomID] = struct{}{}
}

func (g *Registry) unindex(peerID, roomID string) {
	g.idxMu.Lock()
	defer g.idxMu.Unlock()

	set, ok := g.joined[peerID]
	if !ok {
		return
	}
	delete(set, roomID)
	if len(set) == 0 {
		delete(g.joined, peerID)
	}
}
