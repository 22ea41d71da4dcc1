package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/Roshan282005/TELIQ/internal/config"
	"github.com/Roshan282005/TELIQ/internal/gateway"
	"github.com/Roshan282005/TELIQ/internal/logging"
	"github.com/Roshan282005/TELIQ/internal/relay"
	"github.com/Roshan282005/TELIQ/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("info", "json")
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogConfig(log)

	st, err := store.Open(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to open store")
	}
	defer st.Close()

	hub := gateway.NewHub()

	var mirror gateway.Mirror
	if cfg.NATSURL != "" {
		r, err := relay.Connect(cfg.NATSURL, hub, log)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("Failed to connect NATS relay")
		}
		defer r.Close()
		mirror = r
	}

	gw := gateway.New(st, hub, mirror, log)
	srv := gateway.NewServer(cfg, gw, hub, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown did not complete cleanly")
	}
	log.Info().Msg("Gateway stopped")
}
