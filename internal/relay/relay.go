// Package relay bridges the gateway to NATS. Persisted messages are
// mirrored to a subject for downstream consumers (archive, search,
// push notifications), and trusted backend services can inject events
// into live rooms through per-room subjects. The relay is optional;
// the gateway runs fully without it.
package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/Roshan282005/TELIQ/internal/gateway"
	"github.com/Roshan282005/TELIQ/internal/model"
)

const (
	// mirrorSubject carries every persisted message.
	mirrorSubject = "teliq.events.message"

	// injectPrefix + roomID is the subject a backend service publishes to
	// in order to push a pre-encoded event frame into a live room.
	injectPrefix = "teliq.room."
)

// Broadcaster is the slice of the hub the relay needs for injection.
type Broadcaster interface {
	Broadcast(roomID string, frame []byte, except *gateway.Session)
}

// Relay is a connected NATS bridge. It implements gateway.Mirror.
type Relay struct {
	nc  *nats.Conn
	hub Broadcaster
	log zerolog.Logger
	sub *nats.Subscription
}

// Connect dials NATS, subscribes to the room injection subjects, and
// returns the bridge.
func Connect(url string, hub Broadcaster, log zerolog.Logger) (*Relay, error) {
	nc, err := nats.Connect(url,
		nats.Name("teliq-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	r := &Relay{nc: nc, hub: hub, log: log}
	r.sub, err = nc.Subscribe(injectPrefix+">", r.handleInject)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s>: %w", injectPrefix, err)
	}

	log.Info().Str("url", url).Msg("NATS relay connected")
	return r, nil
}

// MessagePersisted mirrors a durably stored message to the events subject.
// Failures are logged and dropped; mirroring never blocks or fails a send.
func (r *Relay) MessagePersisted(msg *model.Message) {
	frame, err := encodeMessage(msg)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to encode mirror event")
		return
	}
	if err := r.nc.Publish(mirrorSubject, frame); err != nil {
		r.log.Warn().Err(err).Msg("Mirror publish failed")
	}
}

// handleInject pushes a frame from a backend service into the room named
// by the subject suffix. The payload must already be a complete event
// envelope; the relay does not inspect it.
func (r *Relay) handleInject(m *nats.Msg) {
	roomID := strings.TrimPrefix(m.Subject, injectPrefix)
	if roomID == "" || strings.Contains(roomID, ".") {
		r.log.Warn().Str("subject", m.Subject).Msg("Ignoring malformed inject subject")
		return
	}
	r.hub.Broadcast(roomID, m.Data, nil)
}

// encodeMessage wraps the message in the standard event envelope, so
// downstream consumers see the same frame shape clients do.
func encodeMessage(msg *model.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(gateway.Event{Type: gateway.EventMessage, Data: data})
}

// Close drains the subscription and closes the connection.
func (r *Relay) Close() {
	if r.sub != nil {
		_ = r.sub.Drain()
	}
	r.nc.Close()
}
