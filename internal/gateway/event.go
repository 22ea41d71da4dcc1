package gateway

import "encoding/json"

// Event is the wire envelope for every frame in both directions.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound event types.
const (
	EventJoin       = "join"
	EventLeave      = "leave"
	EventSend       = "send"
	EventMarkRead   = "markRead"
	EventReact      = "react"
	EventTyping     = "typing"
	EventStopTyping = "stopTyping"
	EventStartCall  = "startCall"
	EventEndCall    = "endCall"
)

// Outbound event types.
const (
	EventMessage      = "message"
	EventChatUpdated  = "chatUpdated"
	EventMessagesRead = "messagesRead"
	EventReaction     = "reaction"
	EventPresence     = "presence"
	EventCallStarted  = "callStarted"
	EventCallEnded    = "callEnded"
	EventError        = "error"
)

// Error ack codes. Stable machine-readable strings; clients switch on them.
const (
	CodeEmptyMessage   = "empty_message"
	CodeUnknownChat    = "unknown_chat"
	CodeUnknownMessage = "unknown_message"
	CodeNotParticipant = "not_participant"
	CodeBadPayload     = "bad_payload"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal"
)

type joinPayload struct {
	ChatID string `json:"chatId" validate:"required"`
}

type leavePayload struct {
	ChatID string `json:"chatId" validate:"required"`
}

type sendPayload struct {
	ChatID   string `json:"chatId" validate:"required"`
	Text     string `json:"text"`
	MediaURL string `json:"mediaUrl,omitempty" validate:"omitempty,url"`
}

type markReadPayload struct {
	ChatID string `json:"chatId" validate:"required"`

	// Optional: ack a single message instead of the whole chat backlog.
	MessageID string `json:"messageId,omitempty"`
}

type reactPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	Symbol    string `json:"symbol" validate:"required,max=16"`
}

type typingPayload struct {
	ChatID string `json:"chatId" validate:"required"`
}

type callPayload struct {
	ChatID string `json:"chatId" validate:"required"`
	Kind   string `json:"kind" validate:"omitempty,oneof=audio video"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type typingEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type messagesReadEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
	Count  int    `json:"count"`
}

type reactionEvent struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Symbol    string `json:"symbol"`
}

type presenceEvent struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type callEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
	Kind   string `json:"kind,omitempty"`
}

// encode wraps a payload in the envelope and marshals it. Marshal failures
// are programming errors; the caller logs and drops the frame.
func encode(eventType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Type: eventType, Data: data})
}
