package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Roshan282005/TELIQ/internal/model"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testChat(t *testing.T, s *BadgerStore, participants ...string) *model.Chat {
	t.Helper()
	chat := &model.Chat{
		IsGroup:      len(participants) > 2,
		Participants: participants,
	}
	require.NoError(t, s.CreateChat(context.Background(), chat))
	return chat
}

func TestCreateChat_DirectChatNeedsTwoParticipants(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	err := s.CreateChat(context.Background(), &model.Chat{Participants: []string{"alice"}})
	req.ErrorIs(err, ErrInvalidChat)

	err = s.CreateChat(context.Background(), &model.Chat{IsGroup: true})
	req.ErrorIs(err, ErrInvalidChat)
}

func TestAppendMessage_UpdatesChatSummary(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	chat := testChat(t, s, "alice", "bob")
	before := chat.UpdatedAt

	stored, updated, err := s.AppendMessage(ctx, &model.Message{
		ChatID:   chat.ID,
		SenderID: "alice",
		Text:     "hello bob",
	})
	req.NoError(err)
	req.NotEmpty(stored.ID)
	req.Equal(uint64(1), stored.Seq)
	req.True(stored.SentAt.After(before) || stored.SentAt.Equal(before))

	req.NotNil(updated.LastMessage)
	req.Equal("hello bob", updated.LastMessage.Text)
	req.Equal("alice", updated.LastMessage.SenderID)
	req.Equal(stored.SentAt, updated.UpdatedAt)

	// The summary survives a reload.
	loaded, err := s.GetChat(ctx, chat.ID)
	req.NoError(err)
	req.Equal("hello bob", loaded.LastMessage.Text)
	req.False(loaded.UpdatedAt.Before(before))
}

func TestAppendMessage_TimestampsMonotonicPerChat(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	chat := testChat(t, s, "alice", "bob")

	var prev time.Time
	for i := 0; i < 20; i++ {
		stored, _, err := s.AppendMessage(ctx, &model.Message{
			ChatID:   chat.ID,
			SenderID: "alice",
			Text:     fmt.Sprintf("msg %d", i),
		})
		req.NoError(err)
		req.True(stored.SentAt.After(prev), "timestamp %v not after %v", stored.SentAt, prev)
		req.Equal(uint64(i+1), stored.Seq)
		prev = stored.SentAt
	}
}

func TestAppendMessage_UnknownChat(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	_, _, err := s.AppendMessage(context.Background(), &model.Message{
		ChatID:   "nope",
		SenderID: "alice",
		Text:     "lost",
	})
	req.ErrorIs(err, ErrNotFound)
}

func TestMessages_NewestFirstWithPaging(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	chat := testChat(t, s, "alice", "bob")

	for i := 1; i <= 10; i++ {
		_, _, err := s.AppendMessage(ctx, &model.Message{
			ChatID:   chat.ID,
			SenderID: "alice",
			Text:     fmt.Sprintf("message %d", i),
		})
		req.NoError(err)
	}

	page1, cursor1, err := s.Messages(ctx, chat.ID, 4, 0)
	req.NoError(err)
	req.Len(page1, 4)
	req.Equal("message 10", page1[0].Text)
	req.Equal("message 7", page1[3].Text)
	req.NotZero(cursor1)

	page2, cursor2, err := s.Messages(ctx, chat.ID, 4, cursor1)
	req.NoError(err)
	req.Len(page2, 4)
	req.Equal("message 6", page2[0].Text)
	req.Equal("message 3", page2[3].Text)

	page3, cursor3, err := s.Messages(ctx, chat.ID, 4, cursor2)
	req.NoError(err)
	req.Len(page3, 2)
	req.Equal("message 2", page3[0].Text)
	req.Equal("message 1", page3[1].Text)
	req.Zero(cursor3)
}

func TestChatsByParticipant(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	c1 := testChat(t, s, "alice", "bob")
	c2 := testChat(t, s, "alice", "clara")
	testChat(t, s, "bob", "clara")

	chats, err := s.ChatsByParticipant(ctx, "alice")
	req.NoError(err)
	req.Len(chats, 2)
	ids := []string{chats[0].ID, chats[1].ID}
	req.Contains(ids, c1.ID)
	req.Contains(ids, c2.ID)

	chats, err = s.ChatsByParticipant(ctx, "nobody")
	req.NoError(err)
	req.Empty(chats)
}

func TestSetReaction_ReplacesOnDuplicate(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	chat := testChat(t, s, "alice", "bob")

	stored, _, err := s.AppendMessage(ctx, &model.Message{
		ChatID: chat.ID, SenderID: "alice", Text: "react to me",
	})
	req.NoError(err)

	msg, err := s.SetReaction(ctx, stored.ID, "bob", "👍")
	req.NoError(err)
	req.Len(msg.Reactions, 1)
	req.Equal("👍", msg.Reactions[0].Symbol)

	// Same user reacting again replaces the symbol instead of appending.
	msg, err = s.SetReaction(ctx, stored.ID, "bob", "❤️")
	req.NoError(err)
	req.Len(msg.Reactions, 1)
	req.Equal("❤️", msg.Reactions[0].Symbol)
	req.Equal("bob", msg.Reactions[0].UserID)

	// A second user gets their own slot.
	msg, err = s.SetReaction(ctx, stored.ID, "alice", "😂")
	req.NoError(err)
	req.Len(msg.Reactions, 2)

	// And it persisted.
	loaded, err := s.GetMessage(ctx, stored.ID)
	req.NoError(err)
	req.Len(loaded.Reactions, 2)
}

func TestSetReaction_ConcurrentUsersAllSucceed(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	chat := testChat(t, s, "alice", "bob", "clara")

	stored, _, err := s.AppendMessage(ctx, &model.Message{
		ChatID: chat.ID, SenderID: "alice", Text: "pile on",
	})
	req.NoError(err)

	// Overlapping reaction writes to the same message must serialize,
	// not abort with a transaction conflict.
	for round := 0; round < 100; round++ {
		errs := make(chan error, 2)
		var wg sync.WaitGroup
		for _, user := range []string{"bob", "clara"} {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				_, err := s.SetReaction(ctx, stored.ID, user, "👍")
				errs <- err
			}(user)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			req.NoError(err)
		}
	}

	loaded, err := s.GetMessage(ctx, stored.ID)
	req.NoError(err)
	req.Len(loaded.Reactions, 2)
}

func TestMarkRead_ConcurrentWithReactions(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	chat := testChat(t, s, "alice", "bob")

	var ids []string
	for i := 0; i < 20; i++ {
		stored, _, err := s.AppendMessage(ctx, &model.Message{
			ChatID: chat.ID, SenderID: "alice", Text: fmt.Sprintf("backlog %d", i),
		})
		req.NoError(err)
		ids = append(ids, stored.ID)
	}

	// A catch-up receipt scan overlapping reaction and single-message
	// receipt writes on the same chat must all succeed.
	var wg sync.WaitGroup
	errs := make(chan error, len(ids)+2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.MarkRead(ctx, chat.ID, "bob")
		errs <- err
	}()
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.SetReaction(ctx, id, "bob", "❤️")
			errs <- err
		}(id)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.MarkReadMessage(ctx, ids[0], "bob")
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	msgs, _, err := s.Messages(ctx, chat.ID, 30, 0)
	req.NoError(err)
	req.Len(msgs, 20)
	for _, m := range msgs {
		req.True(m.ReadBy("bob"), "message %q has no receipt", m.Text)
		req.Len(m.Reactions, 1)
	}
}

func TestSetReaction_UnknownMessage(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	_, err := s.SetReaction(context.Background(), "missing", "bob", "👍")
	req.ErrorIs(err, ErrNotFound)
}

func TestMarkReadMessage_SingleReceipt(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	chat := testChat(t, s, "alice", "bob")

	first, _, err := s.AppendMessage(ctx, &model.Message{
		ChatID: chat.ID, SenderID: "alice", Text: "one",
	})
	req.NoError(err)
	second, _, err := s.AppendMessage(ctx, &model.Message{
		ChatID: chat.ID, SenderID: "alice", Text: "two",
	})
	req.NoError(err)

	n, err := s.MarkReadMessage(ctx, first.ID, "bob")
	req.NoError(err)
	req.Equal(1, n)

	// Only the acked message gets the receipt.
	loaded, err := s.GetMessage(ctx, first.ID)
	req.NoError(err)
	req.True(loaded.ReadBy("bob"))
	loaded, err = s.GetMessage(ctx, second.ID)
	req.NoError(err)
	req.False(loaded.ReadBy("bob"))

	// Repeat ack and own-message ack are no-ops.
	n, err = s.MarkReadMessage(ctx, first.ID, "bob")
	req.NoError(err)
	req.Zero(n)
	n, err = s.MarkReadMessage(ctx, first.ID, "alice")
	req.NoError(err)
	req.Zero(n)

	_, err = s.MarkReadMessage(ctx, "missing", "bob")
	req.ErrorIs(err, ErrNotFound)
}

func TestMarkRead_BatchesAndIsIdempotent(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()
	chat := testChat(t, s, "alice", "bob")

	for i := 0; i < 5; i++ {
		_, _, err := s.AppendMessage(ctx, &model.Message{
			ChatID: chat.ID, SenderID: "alice", Text: fmt.Sprintf("unread %d", i),
		})
		req.NoError(err)
	}
	// One message from bob himself; it must not get a receipt from bob.
	own, _, err := s.AppendMessage(ctx, &model.Message{
		ChatID: chat.ID, SenderID: "bob", Text: "my own",
	})
	req.NoError(err)

	n, err := s.MarkRead(ctx, chat.ID, "bob")
	req.NoError(err)
	req.Equal(5, n)

	// Second ack is a no-op.
	n, err = s.MarkRead(ctx, chat.ID, "bob")
	req.NoError(err)
	req.Zero(n)

	msgs, _, err := s.Messages(ctx, chat.ID, 10, 0)
	req.NoError(err)
	for _, m := range msgs {
		if m.ID == own.ID {
			req.False(m.ReadBy("bob"))
			continue
		}
		req.True(m.ReadBy("bob"), "message %q has no receipt", m.Text)
	}
}
