// Package store persists chats and messages. The gateway treats it as an
// abstract transactional document store; the badger implementation below is
// the only concrete backend.
package store

import (
	"context"
	"errors"

	"github.com/Roshan282005/TELIQ/internal/model"
)

// ErrNotFound is returned when a chat or message id resolves to nothing.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidChat is returned when a chat document violates a model
// invariant, e.g. a non-group chat without exactly two participants.
var ErrInvalidChat = errors.New("store: invalid chat")

// Store is the persistence contract consumed by the gateway and by the HTTP
// read surface. Implementations must make AppendMessage atomic with respect
// to the owning chat's summary fields.
type Store interface {
	// CreateChat persists a new chat. An empty ID is assigned server-side.
	CreateChat(ctx context.Context, chat *model.Chat) error

	// GetChat loads a chat by id.
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)

	// ChatsByParticipant lists every chat the user participates in.
	ChatsByParticipant(ctx context.Context, userID string) ([]*model.Chat, error)

	// AppendMessage assigns the message a server timestamp and sequence
	// number, persists it, and updates the chat's lastMessage/updatedAt in
	// the same transaction. The stored message and the updated chat are
	// returned. Timestamps are strictly increasing per chat.
	AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, *model.Chat, error)

	// Messages returns up to limit messages of a chat, newest first.
	// before is an exclusive sequence bound; 0 means "from the latest".
	// The returned cursor is the value to pass as before for the next page,
	// or 0 when the page is the last one.
	Messages(ctx context.Context, chatID string, limit int, before uint64) ([]*model.Message, uint64, error)

	// GetMessage loads a message by id.
	GetMessage(ctx context.Context, messageID string) (*model.Message, error)

	// SetReaction appends or replaces userID's reaction on the message and
	// returns the updated message.
	SetReaction(ctx context.Context, messageID, userID, symbol string) (*model.Message, error)

	// MarkRead adds a read receipt for userID to every message in the chat
	// that was not sent by userID and has no receipt from them yet, in one
	// batched update. Returns the number of messages updated.
	MarkRead(ctx context.Context, chatID, userID string) (int, error)

	// MarkReadMessage adds a read receipt for userID to a single message.
	// Returns the number of messages updated (0 or 1).
	MarkReadMessage(ctx context.Context, messageID, userID string) (int, error)

	Close() error
}
