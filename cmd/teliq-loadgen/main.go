// teliq-loadgen opens many authenticated gateway connections, joins them to
// one chat, and drives message traffic to measure fan-out throughput.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Roshan282005/TELIQ/internal/auth"
	"github.com/Roshan282005/TELIQ/internal/gateway"
	"github.com/Roshan282005/TELIQ/internal/model"
)

type counters struct {
	connected int64
	failed    int64
	sent      int64
	received  int64
	errAcks   int64
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://localhost:5000/ws", "gateway WebSocket URL")
		secret   = flag.String("secret", "", "JWT secret shared with the gateway")
		chatID   = flag.String("chat", "", "chat id every client joins")
		conns    = flag.Int("conns", 100, "number of concurrent connections")
		sendRate = flag.Float64("rate", 1, "messages per second per connection")
		duration = flag.Duration("duration", time.Minute, "test duration")
		report   = flag.Duration("report", 5*time.Second, "report interval")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if *secret == "" || *chatID == "" {
		log.Fatal().Msg("-secret and -chat are required")
	}

	signer := auth.NewSigner(*secret, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var stats counters
	var wg sync.WaitGroup
	for i := 0; i < *conns; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			runClient(ctx, n, *wsURL, *chatID, *sendRate, signer, &stats, log)
		}(i)
		// Ramp gently so the gateway's accept path is not the bottleneck.
		time.Sleep(10 * time.Millisecond)
	}

	ticker := time.NewTicker(*report)
	defer ticker.Stop()
	start := time.Now()
	go func() {
		for {
			select {
			case <-ticker.C:
				log.Info().
					Int64("connected", atomic.LoadInt64(&stats.connected)).
					Int64("failed", atomic.LoadInt64(&stats.failed)).
					Int64("sent", atomic.LoadInt64(&stats.sent)).
					Int64("received", atomic.LoadInt64(&stats.received)).
					Int64("error_acks", atomic.LoadInt64(&stats.errAcks)).
					Dur("elapsed", time.Since(start)).
					Msg("Progress")
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	elapsed := time.Since(start).Seconds()
	received := atomic.LoadInt64(&stats.received)
	log.Info().
		Int64("sent", atomic.LoadInt64(&stats.sent)).
		Int64("received", received).
		Str("fanout_per_sec", fmt.Sprintf("%.0f", float64(received)/elapsed)).
		Msg("Done")
}

func runClient(ctx context.Context, n int, wsURL, chatID string, rate float64, signer *auth.Signer, stats *counters, log zerolog.Logger) {
	userID := fmt.Sprintf("load-%04d", n)
	token, err := signer.Sign(model.Identity{ID: userID, Name: userID})
	if err != nil {
		atomic.AddInt64(&stats.failed, 1)
		return
	}

	sep := "?"
	if strings.Contains(wsURL, "?") {
		sep = "&"
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL+sep+"token="+token, nil)
	if err != nil {
		atomic.AddInt64(&stats.failed, 1)
		if resp != nil {
			log.Warn().Int("status", resp.StatusCode).Str("user", userID).Msg("Dial rejected")
		}
		return
	}
	defer conn.Close()
	atomic.AddInt64(&stats.connected, 1)
	defer atomic.AddInt64(&stats.connected, -1)

	if err := writeEvent(conn, gateway.EventJoin, map[string]string{"chatId": chatID}); err != nil {
		return
	}

	// Read side: count everything the gateway pushes at us.
	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			atomic.AddInt64(&stats.received, 1)
			var ev gateway.Event
			if json.Unmarshal(frame, &ev) == nil && ev.Type == gateway.EventError {
				atomic.AddInt64(&stats.errAcks, 1)
			}
		}
	}()

	if rate <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
			seq++
			err := writeEvent(conn, gateway.EventSend, map[string]string{
				"chatId": chatID,
				"text":   fmt.Sprintf("%s message %d", userID, seq),
			})
			if err != nil {
				return
			}
			atomic.AddInt64(&stats.sent, 1)
		}
	}
}

func writeEvent(conn *websocket.Conn, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(gateway.Event{Type: eventType, Data: data})
}
