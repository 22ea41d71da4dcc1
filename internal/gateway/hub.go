package gateway

import (
	"sync"

	"github.com/samber/lo"

	"github.com/Roshan282005/TELIQ/internal/metrics"
)

// Hub tracks which sessions are in which rooms, plus a per-user index so
// participant-scoped events reach every connection of a user regardless of
// room membership. All state is in memory and guarded by a single RWMutex;
// membership operations never touch storage.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Session]struct{}
	byUser map[string]map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Session]struct{}),
		byUser: make(map[string]map[*Session]struct{}),
	}
}

// Register adds a session to the user index. Called once per connection,
// after the handshake succeeds.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.byUser[s.identity.ID]
	if !ok {
		set = make(map[*Session]struct{})
		h.byUser[s.identity.ID] = set
	}
	set[s] = struct{}{}
}

// Unregister removes the session from every room and from the user index.
// Idempotent; safe to call for a session that was never registered.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID := range s.joined {
		h.removeFromRoom(roomID, s)
	}
	s.joined = nil

	if set, ok := h.byUser[s.identity.ID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.byUser, s.identity.ID)
		}
	}
}

// Join adds the session to a room. Idempotent.
func (h *Hub) Join(roomID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[*Session]struct{})
		h.rooms[roomID] = room
		metrics.RoomsActive.Inc()
	}
	room[s] = struct{}{}
	if s.joined == nil {
		s.joined = make(map[string]struct{})
	}
	s.joined[roomID] = struct{}{}
}

// Leave removes the session from a room. Idempotent.
func (h *Hub) Leave(roomID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoom(roomID, s)
	delete(s.joined, roomID)
}

// removeFromRoom drops the session from the room set. Caller holds h.mu.
func (h *Hub) removeFromRoom(roomID string, s *Session) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(h.rooms, roomID)
		metrics.RoomsActive.Dec()
	}
}

// Broadcast sends a pre-encoded frame to every session in the room.
// Sends are best-effort and non-blocking; a session with a full send buffer
// misses the frame rather than stalling the room. except, when non-nil, is
// skipped (used for typing relay).
func (h *Hub) Broadcast(roomID string, frame []byte, except *Session) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.rooms[roomID] {
		if s == except {
			continue
		}
		s.enqueue(frame)
	}
}

// BroadcastToParticipants sends a frame to every connected session of each
// listed user, whether or not they have joined any room. Duplicate user ids
// fan out once.
func (h *Hub) BroadcastToParticipants(participants []string, frame []byte, except *Session) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, userID := range lo.Uniq(participants) {
		for s := range h.byUser[userID] {
			if s == except {
				continue
			}
			s.enqueue(frame)
		}
	}
}

// OnlineParticipants filters the given user ids down to those with at least
// one live session.
func (h *Hub) OnlineParticipants(participants []string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return lo.Filter(lo.Uniq(participants), func(userID string, _ int) bool {
		return len(h.byUser[userID]) > 0
	})
}

// IsOnline reports whether the user has at least one live session.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// SessionCount returns the number of live sessions for one user.
func (h *Hub) SessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Sessions returns the number of registered sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.byUser {
		n += len(set)
	}
	return n
}

// Rooms returns the number of rooms with at least one member.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
