// Package model holds the persisted document shapes shared by the gateway
// and the storage layer. Field names here are the canonical wire names;
// the JSON tags are what clients see in event payloads.
package model

import "time"

// Identity is the decoded view of a verified user token. The gateway never
// creates or mutates identities; it only reads them from handshake claims.
type Identity struct {
	ID      string `json:"userId"`
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"` // email or phone
}

// Chat is a conversation between two or more participants.
//
// Invariants:
//   - a non-group chat has exactly two participants
//   - UpdatedAt is monotonically non-decreasing and advances only as a side
//     effect of a successfully persisted message
type Chat struct {
	ID           string       `json:"chatId"`
	IsGroup      bool         `json:"isGroup"`
	Name         string       `json:"name,omitempty"` // groups only
	Participants []string     `json:"participants"`
	LastMessage  *LastMessage `json:"lastMessage,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// LastMessage is a denormalized summary of the most recent message,
// maintained for chat-list rendering. Not a source of truth.
type LastMessage struct {
	SenderID string    `json:"senderId"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is a single chat message. Timestamp is server-assigned at persist
// time and strictly increasing within a chat. Seq mirrors the storage
// ordering key and is never exposed for client-side reordering.
type Message struct {
	ID        string     `json:"messageId"`
	ChatID    string     `json:"chatId"`
	SenderID  string     `json:"senderId"`
	Text      string     `json:"text"`
	MediaURL  string     `json:"mediaUrl,omitempty"`
	SentAt    time.Time  `json:"sentAt"`
	Seq       uint64     `json:"-"`
	Receipts  []Receipt  `json:"receipts,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
}

// Receipt records that one recipient has read the message. A boolean read
// flag cannot represent per-recipient state in a group chat, so receipts
// are kept as (identity, readAt) pairs.
type Receipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// ReadBy reports whether userID has a read receipt on the message.
func (m *Message) ReadBy(userID string) bool {
	for _, r := range m.Receipts {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Reaction is an emotive annotation on a message. At most one reaction per
// (identity, message) pair; a repeat reaction replaces the symbol.
type Reaction struct {
	UserID string `json:"userId"`
	Symbol string `json:"symbol"`
}
