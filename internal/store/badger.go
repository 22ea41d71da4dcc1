package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Roshan282005/TELIQ/internal/model"
)

// Key layout:
//
//	chat:<chatID>            -> Chat JSON
//	chat:user:<userID>:<chatID> -> nil (participant index)
//	seq:<chatID>             -> big-endian uint64, last assigned sequence
//	msg:<chatID>:<seq %020d> -> Message JSON (ordered iteration per chat)
//	msgid:<messageID>        -> msg key bytes (lookup by id)
const (
	chatPrefix     = "chat:"
	chatUserPrefix = "chat:user:"
	seqPrefix      = "seq:"
	msgPrefix      = "msg:"
	msgIDPrefix    = "msgid:"
)

// BadgerStore implements Store on top of an embedded badger database.
//
// Writes that touch a chat and its messages together run under a per-chat
// mutex so concurrent appends never conflict at the transaction level and
// sequence numbers stay strictly increasing.
type BadgerStore struct {
	db  *badger.DB
	log zerolog.Logger

	mu        sync.Mutex
	chatLocks map[string]*sync.Mutex
}

// Open opens (or creates) a badger database at dir and returns a store
// backed by it.
func Open(dir string, logger zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &BadgerStore{
		db:        db,
		log:       logger.With().Str("component", "store").Logger(),
		chatLocks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// lockChat returns the mutex guarding writes to a single chat.
func (s *BadgerStore) lockChat(chatID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.chatLocks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.chatLocks[chatID] = l
	}
	return l
}

func chatKey(chatID string) []byte     { return []byte(chatPrefix + chatID) }
func seqKey(chatID string) []byte      { return []byte(seqPrefix + chatID) }
func msgIDKey(messageID string) []byte { return []byte(msgIDPrefix + messageID) }

func msgKey(chatID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", msgPrefix, chatID, seq))
}

func participantKey(userID, chatID string) []byte {
	return []byte(chatUserPrefix + userID + ":" + chatID)
}

func (s *BadgerStore) CreateChat(ctx context.Context, chat *model.Chat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !chat.IsGroup && len(chat.Participants) != 2 {
		return fmt.Errorf("%w: direct chat needs exactly two participants, got %d",
			ErrInvalidChat, len(chat.Participants))
	}
	if len(chat.Participants) == 0 {
		return fmt.Errorf("%w: no participants", ErrInvalidChat)
	}
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}

	data, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(chatKey(chat.ID), data); err != nil {
			return err
		}
		for _, p := range chat.Participants {
			if err := txn.Set(participantKey(p, chat.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var chat model.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, chatKey(chatID), &chat)
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *BadgerStore) ChatsByParticipant(ctx context.Context, userID string) ([]*model.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var chats []*model.Chat
	prefix := []byte(chatUserPrefix + userID + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			chatID := string(it.Item().Key()[len(prefix):])
			var chat model.Chat
			if err := getJSON(txn, chatKey(chatID), &chat); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue // dangling index entry
				}
				return err
			}
			chats = append(chats, &chat)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chats, nil
}

func (s *BadgerStore) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, *model.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	lock := s.lockChat(msg.ChatID)
	lock.Lock()
	defer lock.Unlock()

	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	var chat model.Chat
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, chatKey(stored.ChatID), &chat); err != nil {
			return err
		}

		seq, err := nextSeq(txn, stored.ChatID)
		if err != nil {
			return err
		}
		stored.Seq = seq

		// Server-assigned timestamp, strictly after the chat's previous
		// update so per-chat ordering survives clock granularity.
		ts := time.Now().UTC()
		if !ts.After(chat.UpdatedAt) {
			ts = chat.UpdatedAt.Add(time.Nanosecond)
		}
		stored.SentAt = ts

		chat.LastMessage = &model.LastMessage{
			SenderID: stored.SenderID,
			Text:     stored.Text,
			SentAt:   ts,
		}
		chat.UpdatedAt = ts

		key := msgKey(stored.ChatID, seq)
		if err := setJSONWithSeq(txn, key, &stored); err != nil {
			return err
		}
		if err := txn.Set(msgIDKey(stored.ID), key); err != nil {
			return err
		}
		return setJSON(txn, chatKey(chat.ID), &chat)
	})
	if err != nil {
		return nil, nil, err
	}
	return &stored, &chat, nil
}

func (s *BadgerStore) Messages(ctx context.Context, chatID string, limit int, before uint64) ([]*model.Message, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	prefix := []byte(msgPrefix + chatID + ":")

	var msgs []*model.Message
	var cursor uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchSize = limit
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts just past the newest message key, or at
		// the page boundary when a cursor is given.
		start := msgKey(chatID, ^uint64(0))
		if before > 0 {
			start = msgKey(chatID, before-1)
		}
		for it.Seek(start); it.ValidForPrefix(prefix) && len(msgs) < limit; it.Next() {
			var m storedMessage
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return err
			}
			msg := m.toModel()
			msgs = append(msgs, msg)
			cursor = msg.Seq
		}
		if !it.ValidForPrefix(prefix) {
			cursor = 0 // last page
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return msgs, cursor, nil
}

func (s *BadgerStore) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var msg *model.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		msg, _, err = getMessageByID(txn, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// chatOfMessage resolves the chat a message belongs to, for lock acquisition
// before an update transaction.
func (s *BadgerStore) chatOfMessage(messageID string) (string, error) {
	var chatID string
	err := s.db.View(func(txn *badger.Txn) error {
		msg, _, err := getMessageByID(txn, messageID)
		if err != nil {
			return err
		}
		chatID = msg.ChatID
		return nil
	})
	return chatID, err
}

func (s *BadgerStore) SetReaction(ctx context.Context, messageID, userID, symbol string) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chatID, err := s.chatOfMessage(messageID)
	if err != nil {
		return nil, err
	}

	// Message writes serialize per chat, like AppendMessage and MarkRead.
	// Overlapping update transactions on the same keys would otherwise
	// abort with a badger conflict.
	lock := s.lockChat(chatID)
	lock.Lock()
	defer lock.Unlock()

	var updated *model.Message
	err = s.db.Update(func(txn *badger.Txn) error {
		msg, key, err := getMessageByID(txn, messageID)
		if err != nil {
			return err
		}

		replaced := false
		for i := range msg.Reactions {
			if msg.Reactions[i].UserID == userID {
				msg.Reactions[i].Symbol = symbol
				replaced = true
				break
			}
		}
		if !replaced {
			msg.Reactions = append(msg.Reactions, model.Reaction{UserID: userID, Symbol: symbol})
		}

		updated = msg
		return setJSONWithSeq(txn, key, msg)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *BadgerStore) MarkRead(ctx context.Context, chatID, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	lock := s.lockChat(chatID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	prefix := []byte(msgPrefix + chatID + ":")
	updatedCount := 0

	err := s.db.Update(func(txn *badger.Txn) error {
		updatedCount = 0

		// Collect first, write after the iterator closes. Mutating the
		// transaction mid-iteration is not safe.
		type pending struct {
			key []byte
			msg *model.Message
		}
		var updates []pending

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var m storedMessage
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				it.Close()
				return err
			}
			msg := m.toModel()
			if msg.SenderID == userID || msg.ReadBy(userID) {
				continue
			}
			msg.Receipts = append(msg.Receipts, model.Receipt{UserID: userID, ReadAt: now})
			updates = append(updates, pending{key: item.KeyCopy(nil), msg: msg})
		}
		it.Close()

		for _, u := range updates {
			if err := setJSONWithSeq(txn, u.key, u.msg); err != nil {
				return err
			}
		}
		updatedCount = len(updates)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updatedCount, nil
}

func (s *BadgerStore) MarkReadMessage(ctx context.Context, messageID, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	chatID, err := s.chatOfMessage(messageID)
	if err != nil {
		return 0, err
	}
	lock := s.lockChat(chatID)
	lock.Lock()
	defer lock.Unlock()

	updated := 0
	err = s.db.Update(func(txn *badger.Txn) error {
		msg, key, err := getMessageByID(txn, messageID)
		if err != nil {
			return err
		}
		if msg.SenderID == userID || msg.ReadBy(userID) {
			return nil
		}
		msg.Receipts = append(msg.Receipts, model.Receipt{UserID: userID, ReadAt: time.Now().UTC()})
		updated = 1
		return setJSONWithSeq(txn, key, msg)
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// storedMessage is the on-disk shape of a message. Seq is persisted here
// even though the model hides it from wire payloads.
type storedMessage struct {
	model.Message
	StoredSeq uint64 `json:"seq"`
}

func (m *storedMessage) toModel() *model.Message {
	msg := m.Message
	msg.Seq = m.StoredSeq
	return &msg
}

func setJSONWithSeq(txn *badger.Txn, key []byte, msg *model.Message) error {
	data, err := json.Marshal(&storedMessage{Message: *msg, StoredSeq: msg.Seq})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return txn.Set(key, data)
}

func getMessageByID(txn *badger.Txn, messageID string) (*model.Message, []byte, error) {
	item, err := txn.Get(msgIDKey(messageID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, nil, err
	}
	var m storedMessage
	if err := getJSON(txn, key, &m); err != nil {
		return nil, nil, err
	}
	return m.toModel(), key, nil
}

func nextSeq(txn *badger.Txn, chatID string) (uint64, error) {
	var seq uint64
	item, err := txn.Get(seqKey(chatID))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		seq = 0
	case err != nil:
		return 0, err
	default:
		if err := item.Value(func(v []byte) error {
			if len(v) == 8 {
				seq = binary.BigEndian.Uint64(v)
			}
			return nil
		}); err != nil {
			return 0, err
		}
	}
	seq++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return seq, txn.Set(seqKey(chatID), buf)
}

func setJSON(txn *badger.Txn, key []byte, in any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", in, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, out)
	})
}
