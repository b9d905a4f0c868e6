// voicecall runs a local realtime voice call agent: microphone and speaker
// over WebRTC to the OpenAI realtime API, an optional wake phrase, and the
// add-on HTTP server with its control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-voicecall/internal/config"
	"github.com/teslashibe/go-voicecall/internal/log"
	"github.com/teslashibe/go-voicecall/pkg/agent"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	log.Init(cfg.Logging.Level)

	app, err := agent.New(cfg, agent.WithLogger(log.L()))
	if err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		os.Exit(1)
	}
	log.Info("goodbye")
}

// parseFlags loads the config file and environment, then applies flags.
func parseFlags() (*config.Config, error) {
	path := flag.String("config", os.Getenv("VOICECALL_CONFIG"), "Path to a YAML config file")
	level := flag.String("log-level", "", "Log level: debug, info, warn, error")
	port := flag.Int("port", 0, "HTTP port (overrides PORT)")
	mode := flag.String("signaling", "", "Signaling strategy: direct or mediated")
	phrase := flag.String("wake", "", "Enable wake listening with this phrase")
	backend := flag.String("audio", "", "Audio backend: auto, alsa, sox, mock")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		return nil, err
	}
	if *level != "" {
		cfg.Logging.Level = *level
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *mode != "" {
		cfg.Call.Signaling = *mode
	}
	if *phrase != "" {
		cfg.Wake.Enabled, cfg.Wake.Phrase = true, *phrase
	}
	if *backend != "" {
		cfg.Audio.Backend = *backend
	}
	return cfg, cfg.Validate()
}
