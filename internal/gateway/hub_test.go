package gateway

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Roshan282005/TELIQ/internal/model"
)

func fakeSession(userID string, buffer int) *Session {
	return &Session{
		id:       "test-" + userID,
		identity: model.Identity{ID: userID},
		send:     make(chan []byte, buffer),
		log:      zerolog.Nop(),
		joined:   make(map[string]struct{}),
	}
}

func drain(s *Session) [][]byte {
	var frames [][]byte
	for {
		select {
		case f := <-s.send:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestHub_JoinBroadcastLeave(t *testing.T) {
	req := require.New(t)
	hub := NewHub()
	alice := fakeSession("alice", 8)
	bob := fakeSession("bob", 8)

	hub.Register(alice)
	hub.Register(bob)
	hub.Join("room1", alice)
	hub.Join("room1", bob)
	req.Equal(1, hub.Rooms())

	hub.Broadcast("room1", []byte("hello"), nil)
	req.Len(drain(alice), 1)
	req.Len(drain(bob), 1)

	// Excluded session misses the frame.
	hub.Broadcast("room1", []byte("typing"), alice)
	req.Empty(drain(alice))
	req.Len(drain(bob), 1)

	hub.Leave("room1", alice)
	hub.Broadcast("room1", []byte("after leave"), nil)
	req.Empty(drain(alice))
	req.Len(drain(bob), 1)

	// Join and Leave are idempotent.
	hub.Join("room1", bob)
	hub.Leave("room1", alice)
	hub.Broadcast("room1", []byte("still one copy"), nil)
	req.Len(drain(bob), 1)

	hub.Leave("room1", bob)
	req.Equal(0, hub.Rooms())
}

func TestHub_BroadcastToParticipants(t *testing.T) {
	req := require.New(t)
	hub := NewHub()
	alice := fakeSession("alice", 8)
	aliceTablet := fakeSession("alice", 8)
	bob := fakeSession("bob", 8)

	hub.Register(alice)
	hub.Register(aliceTablet)
	hub.Register(bob)

	// No room membership required; duplicate ids fan out once per session.
	hub.BroadcastToParticipants([]string{"alice", "alice", "bob", "offline"}, []byte("update"), nil)
	req.Len(drain(alice), 1)
	req.Len(drain(aliceTablet), 1)
	req.Len(drain(bob), 1)

	hub.BroadcastToParticipants([]string{"alice"}, []byte("not to self"), alice)
	req.Empty(drain(alice))
	req.Len(drain(aliceTablet), 1)
}

func TestHub_UnregisterLeavesAllRooms(t *testing.T) {
	req := require.New(t)
	hub := NewHub()
	alice := fakeSession("alice", 8)

	hub.Register(alice)
	hub.Join("room1", alice)
	hub.Join("room2", alice)
	req.Equal(2, hub.Rooms())
	req.True(hub.IsOnline("alice"))

	hub.Unregister(alice)
	req.Equal(0, hub.Rooms())
	req.False(hub.IsOnline("alice"))
	req.Equal(0, hub.Sessions())

	// Unregister is idempotent.
	hub.Unregister(alice)
}

func TestHub_OnlineParticipants(t *testing.T) {
	req := require.New(t)
	hub := NewHub()
	alice := fakeSession("alice", 8)
	bob := fakeSession("bob", 8)

	hub.Register(alice)
	hub.Register(bob)

	online := hub.OnlineParticipants([]string{"alice", "bob", "clara"})
	req.ElementsMatch([]string{"alice", "bob"}, online)

	hub.Unregister(bob)
	online = hub.OnlineParticipants([]string{"alice", "bob", "clara"})
	req.Equal([]string{"alice"}, online)

	req.Equal(1, hub.SessionCount("alice"))
	req.Equal(0, hub.SessionCount("bob"))
}

func TestHub_SlowSessionDoesNotBlock(t *testing.T) {
	req := require.New(t)
	hub := NewHub()
	slow := fakeSession("slow", 1)
	fast := fakeSession("fast", 8)

	hub.Register(slow)
	hub.Register(fast)
	hub.Join("room1", slow)
	hub.Join("room1", fast)

	// Second frame overflows the slow session's buffer and is dropped;
	// the fast session still gets both.
	hub.Broadcast("room1", []byte("one"), nil)
	hub.Broadcast("room1", []byte("two"), nil)
	req.Len(drain(slow), 1)
	req.Len(drain(fast), 2)
}
