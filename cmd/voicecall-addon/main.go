// voicecall-addon serves only the credential and SDP relay endpoints so a
// remote client can place calls without ever seeing the API key.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/teslashibe/go-voicecall/internal/config"
	"github.com/teslashibe/go-voicecall/internal/log"
	"github.com/teslashibe/go-voicecall/pkg/metrics"
	"github.com/teslashibe/go-voicecall/pkg/server"
	"github.com/teslashibe/go-voicecall/pkg/signaling"
)

func main() {
	path := flag.String("config", os.Getenv("VOICECALL_CONFIG"), "Path to a YAML config file")
	port := flag.Int("port", 0, "HTTP port (overrides PORT)")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(2)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	log.Init(cfg.Logging.Level)
	logger := log.L()

	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set; /api/client_secret will return 400")
	}

	minter := signaling.NewMinter(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, signaling.SessionConfig{
		Model:        cfg.OpenAI.Model,
		Voice:        cfg.OpenAI.Voice,
		Instructions: cfg.OpenAI.Instructions,
		Temperature:  cfg.OpenAI.Temperature,
	}, nil, logger)
	relay := signaling.NewDirect(strings.TrimSuffix(cfg.OpenAI.BaseURL, "/")+"/realtime/calls", nil, logger)

	srv := server.New(minter, relay,
		server.WithMetrics(metrics.New()),
		server.WithCORSOrigins(cfg.Server.CORSOrigins),
		server.WithLogger(logger),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- srv.Listen(cfg.ListenAddr()) }()

	select {
	case <-ctx.Done():
	case err := <-errc:
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
}
