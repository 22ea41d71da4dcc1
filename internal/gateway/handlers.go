package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Roshan282005/TELIQ/internal/metrics"
	"github.com/Roshan282005/TELIQ/internal/model"
	"github.com/Roshan282005/TELIQ/internal/store"
)

// Mirror receives persisted messages for out-of-process consumers. The NATS
// relay implements it; a nil mirror disables mirroring.
type Mirror interface {
	MessagePersisted(msg *model.Message)
}

const storeTimeout = 5 * time.Second

// Gateway owns the event dispatch logic: every inbound frame lands in
// handleFrame, which validates, authorizes, persists, and fans out.
type Gateway struct {
	store    store.Store
	hub      *Hub
	validate *validator.Validate
	mirror   Mirror
	log      zerolog.Logger

	// chatLocks serializes persist+broadcast per chat so room delivery
	// order always matches durable commit order.
	mu        sync.Mutex
	chatLocks map[string]*sync.Mutex
}

func New(st store.Store, hub *Hub, mirror Mirror, log zerolog.Logger) *Gateway {
	return &Gateway{
		store:     st,
		hub:       hub,
		validate:  validator.New(),
		mirror:    mirror,
		log:       log,
		chatLocks: make(map[string]*sync.Mutex),
	}
}

func (g *Gateway) lockChat(chatID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.chatLocks[chatID]
	if !ok {
		l = &sync.Mutex{}
		g.chatLocks[chatID] = l
	}
	return l
}

// connect registers a freshly upgraded session and announces the user's
// presence to connected participants of every chat they belong to.
func (g *Gateway) connect(s *Session) {
	g.hub.Register(s)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	s.log.Info().Msg("Session connected")

	g.notifyPresence(s, true)
}

// disconnect tears the session down: leave all rooms, drop the user index
// entry, and announce offline presence if this was the user's last session.
func (g *Gateway) disconnect(s *Session) {
	_ = s.conn.Close()
	g.hub.Unregister(s)
	close(s.send)
	metrics.ConnectionsActive.Dec()
	s.log.Info().Msg("Session disconnected")

	g.notifyPresence(s, false)
}

// notifyPresence tells connected participants of the user's chats that the
// user went online or offline. Skipped when the user still has other live
// sessions, so multi-device users do not flap.
func (g *Gateway) notifyPresence(s *Session, online bool) {
	// A user with other live sessions has no visible transition.
	others := g.hub.SessionCount(s.identity.ID)
	if online && others > 1 {
		return
	}
	if !online && others > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	chats, err := g.store.ChatsByParticipant(ctx, s.identity.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("Presence lookup failed")
		return
	}

	frame, err := encode(EventPresence, presenceEvent{UserID: s.identity.ID, Online: online})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode presence event")
		return
	}

	var audience []string
	for _, chat := range chats {
		audience = append(audience, chat.Participants...)
	}
	g.hub.BroadcastToParticipants(audience, frame, s)
}

// handleFrame decodes the envelope and routes to the per-event handler.
// Unknown types and malformed payloads get an error ack; nothing a client
// sends can take the session down.
func (g *Gateway) handleFrame(s *Session, frame []byte) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		s.sendError(CodeBadPayload, "malformed event envelope")
		return
	}
	metrics.EventsReceived.WithLabelValues(ev.Type).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	switch ev.Type {
	case EventJoin:
		g.handleJoin(ctx, s, ev.Data)
	case EventLeave:
		g.handleLeave(s, ev.Data)
	case EventSend:
		g.handleSend(ctx, s, ev.Data)
	case EventMarkRead:
		g.handleMarkRead(ctx, s, ev.Data)
	case EventReact:
		g.handleReact(ctx, s, ev.Data)
	case EventTyping:
		g.handleTyping(ctx, s, ev.Data, EventTyping)
	case EventStopTyping:
		g.handleTyping(ctx, s, ev.Data, EventStopTyping)
	case EventStartCall:
		g.handleCall(ctx, s, ev.Data, EventCallStarted)
	case EventEndCall:
		g.handleCall(ctx, s, ev.Data, EventCallEnded)
	default:
		s.sendError(CodeBadPayload, "unknown event type: "+ev.Type)
	}
}

// decodePayload unmarshals and validates an event payload, answering a
// bad_payload ack on failure.
func (g *Gateway) decodePayload(s *Session, data json.RawMessage, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		s.sendError(CodeBadPayload, "malformed event payload")
		return false
	}
	if err := g.validate.Struct(dst); err != nil {
		s.sendError(CodeBadPayload, err.Error())
		return false
	}
	return true
}

// authorizeChat loads the chat and checks the session's user is a
// participant. On failure the appropriate error ack is sent and nil is
// returned.
func (g *Gateway) authorizeChat(ctx context.Context, s *Session, chatID string) *model.Chat {
	chat, err := g.store.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(CodeUnknownChat, "no such chat: "+chatID)
		return nil
	}
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID).Msg("Chat lookup failed")
		s.sendError(CodeInternal, "storage failure")
		return nil
	}
	if !chat.HasParticipant(s.identity.ID) {
		s.sendError(CodeNotParticipant, "not a participant of chat "+chatID)
		return nil
	}
	return chat
}

func (g *Gateway) handleJoin(ctx context.Context, s *Session, data json.RawMessage) {
	var p joinPayload
	if !g.decodePayload(s, data, &p) {
		return
	}
	chat := g.authorizeChat(ctx, s, p.ChatID)
	if chat == nil {
		return
	}

	g.hub.Join(p.ChatID, s)
	s.log.Debug().Str("chat_id", p.ChatID).Msg("Joined room")

	// Presence snapshot: the joining session immediately learns which
	// participants are online, without waiting for a transition.
	for _, userID := range g.hub.OnlineParticipants(chat.Participants) {
		if userID == s.identity.ID {
			continue
		}
		s.sendEvent(EventPresence, presenceEvent{UserID: userID, Online: true})
	}
}

func (g *Gateway) handleLeave(s *Session, data json.RawMessage) {
	var p leavePayload
	if !g.decodePayload(s, data, &p) {
		return
	}
	g.hub.Leave(p.ChatID, s)
	s.log.Debug().Str("chat_id", p.ChatID).Msg("Left room")
}

func (g *Gateway) handleSend(ctx context.Context, s *Session, data json.RawMessage) {
	var p sendPayload
	if !g.decodePayload(s, data, &p) {
		return
	}

	text := strings.TrimSpace(p.Text)
	if text == "" && p.MediaURL == "" {
		s.sendError(CodeEmptyMessage, "message has no text or media")
		return
	}

	chat := g.authorizeChat(ctx, s, p.ChatID)
	if chat == nil {
		return
	}

	// Persist and broadcast under the chat lock so concurrent senders
	// cannot interleave: the order frames leave the room is the order
	// messages committed.
	lock := g.lockChat(p.ChatID)
	lock.Lock()
	defer lock.Unlock()

	msg, updatedChat, err := g.store.AppendMessage(ctx, &model.Message{
		ChatID:   p.ChatID,
		SenderID: s.identity.ID,
		Text:     text,
		MediaURL: p.MediaURL,
	})
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", p.ChatID).Msg("Message persist failed")
		s.sendError(CodeInternal, "message could not be stored")
		return
	}
	metrics.MessagesPersisted.Inc()

	msgFrame, err := encode(EventMessage, msg)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode message event")
		return
	}
	g.hub.Broadcast(p.ChatID, msgFrame, nil)

	// Chat summary update reaches every connected participant, joined to
	// the room or not, so chat lists stay fresh.
	if chatFrame, err := encode(EventChatUpdated, updatedChat); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode chatUpdated event")
	} else {
		g.hub.BroadcastToParticipants(updatedChat.Participants, chatFrame, nil)
	}

	if g.mirror != nil {
		g.mirror.MessagePersisted(msg)
	}
}

func (g *Gateway) handleMarkRead(ctx context.Context, s *Session, data json.RawMessage) {
	var p markReadPayload
	if !g.decodePayload(s, data, &p) {
		return
	}
	chat := g.authorizeChat(ctx, s, p.ChatID)
	if chat == nil {
		return
	}

	var count int
	var err error
	if p.MessageID != "" {
		msg, lookupErr := g.store.GetMessage(ctx, p.MessageID)
		if errors.Is(lookupErr, store.ErrNotFound) || (lookupErr == nil && msg.ChatID != p.ChatID) {
			s.sendError(CodeUnknownMessage, "no such message in chat: "+p.MessageID)
			return
		}
		if lookupErr != nil {
			s.log.Error().Err(lookupErr).Str("message_id", p.MessageID).Msg("Message lookup failed")
			s.sendError(CodeInternal, "storage failure")
			return
		}
		count, err = g.store.MarkReadMessage(ctx, p.MessageID, s.identity.ID)
	} else {
		count, err = g.store.MarkRead(ctx, p.ChatID, s.identity.ID)
	}
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", p.ChatID).Msg("Mark read failed")
		s.sendError(CodeInternal, "receipts could not be stored")
		return
	}

	// The aggregate event goes out even when nothing changed, so receivers
	// can treat it as an idempotent state signal.
	frame, err := encode(EventMessagesRead, messagesReadEvent{
		ChatID: p.ChatID,
		UserID: s.identity.ID,
		Count:  count,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode messagesRead event")
		return
	}
	g.hub.Broadcast(p.ChatID, frame, nil)
}

func (g *Gateway) handleReact(ctx context.Context, s *Session, data json.RawMessage) {
	var p reactPayload
	if !g.decodePayload(s, data, &p) {
		return
	}

	msg, err := g.store.GetMessage(ctx, p.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(CodeUnknownMessage, "no such message: "+p.MessageID)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("message_id", p.MessageID).Msg("Message lookup failed")
		s.sendError(CodeInternal, "storage failure")
		return
	}

	if g.authorizeChat(ctx, s, msg.ChatID) == nil {
		return
	}

	updated, err := g.store.SetReaction(ctx, p.MessageID, s.identity.ID, p.Symbol)
	if err != nil {
		s.log.Error().Err(err).Str("message_id", p.MessageID).Msg("Reaction persist failed")
		s.sendError(CodeInternal, "reaction could not be stored")
		return
	}

	frame, err := encode(EventReaction, reactionEvent{
		ChatID:    updated.ChatID,
		MessageID: updated.ID,
		UserID:    s.identity.ID,
		Symbol:    p.Symbol,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode reaction event")
		return
	}
	g.hub.Broadcast(updated.ChatID, frame, nil)
}

// handleTyping relays typing state to the room, excluding the sender.
// Typing is ephemeral and never persisted.
func (g *Gateway) handleTyping(ctx context.Context, s *Session, data json.RawMessage, out string) {
	var p typingPayload
	if !g.decodePayload(s, data, &p) {
		return
	}
	if g.authorizeChat(ctx, s, p.ChatID) == nil {
		return
	}

	frame, err := encode(out, typingEvent{ChatID: p.ChatID, UserID: s.identity.ID})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode typing event")
		return
	}
	g.hub.Broadcast(p.ChatID, frame, s)
}

// handleCall relays call signaling to the full room, the caller included,
// so every device of every participant can show or clear the call UI.
// The gateway holds no call state.
func (g *Gateway) handleCall(ctx context.Context, s *Session, data json.RawMessage, out string) {
	var p callPayload
	if !g.decodePayload(s, data, &p) {
		return
	}
	if g.authorizeChat(ctx, s, p.ChatID) == nil {
		return
	}

	kind := p.Kind
	if out == EventCallEnded {
		kind = ""
	}
	frame, err := encode(out, callEvent{ChatID: p.ChatID, UserID: s.identity.ID, Kind: kind})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode call event")
		return
	}
	g.hub.Broadcast(p.ChatID, frame, nil)
}
