// Package server is the add-on HTTP surface: the ephemeral credential
// endpoint, the mediated SDP relay, a control API for the local call
// session and wake detector, a status websocket and metrics.
package server

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voicecall/pkg/call"
	"github.com/teslashibe/go-voicecall/pkg/hub"
	"github.com/teslashibe/go-voicecall/pkg/metrics"
	"github.com/teslashibe/go-voicecall/pkg/signaling"
)

// Snapshot is the control API's view of the local agent.
type Snapshot struct {
	Status    string `json:"status"`
	Call      string `json:"call"`
	CallID    string `json:"call_id,omitempty"`
	Wake      string `json:"wake"`
	Phrase    string `json:"phrase,omitempty"`
	Armed     bool   `json:"armed"`
	Signaling string `json:"signaling"`
}

// Controller drives the local call session and wake detector.
type Controller interface {
	StartCall(ctx context.Context) error
	StopCall()
	EnableWake(phrase string) error
	DisableWake()
	Snapshot() Snapshot
}

// Config holds optional Server settings.
type Config struct {
	Controller  Controller
	Hub         *hub.Hub
	Metrics     *metrics.Metrics
	CORSOrigins string
	Logger      *slog.Logger
}

// Option is a functional option for configuring a Server.
type Option func(*Config)

// WithController enables the control API.
func WithController(c Controller) Option {
	return func(cfg *Config) {
		cfg.Controller = c
	}
}

// WithHub serves h on /ws/status.
func WithHub(h *hub.Hub) Option {
	return func(cfg *Config) {
		cfg.Hub = h
	}
}

// WithMetrics serves m on /metrics and counts requests.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *Config) {
		cfg.Metrics = m
	}
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins string) Option {
	return func(cfg *Config) {
		cfg.CORSOrigins = origins
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = logger
	}
}

// Server is the fiber application.
type Server struct {
	app    *fiber.App
	cfg    Config
	minter *signaling.Minter
	relay  call.Signaler
	logger *slog.Logger
}

// New creates a Server. minter mints client secrets from the API key;
// relay performs the upstream offer exchange for /api/session.
func New(minter *signaling.Minter, relay call.Signaler, opts ...Option) *Server {
	cfg := Config{CORSOrigins: "*", Logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		minter: minter,
		relay:  relay,
		logger: cfg.Logger.With("component", "server"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-voicecall",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSOrigins}))
	app.Use(s.requestLog)

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Post("/client_secret", s.handleClientSecret)
	api.Post("/session", s.handleSession)

	if cfg.Controller != nil {
		api.Get("/status", s.handleStatus)
		api.Post("/call/start", s.handleCallStart)
		api.Post("/call/stop", s.handleCallStop)
		api.Post("/wake/enable", s.handleWakeEnable)
		api.Post("/wake/disable", s.handleWakeDisable)
	}

	if cfg.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/status", websocket.New(s.handleStatusWS))
	}

	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) requestLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	code := c.Response().StatusCode()
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			code = fe.Code
		} else {
			code = fiber.StatusInternalServerError
		}
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.HTTPRequests.WithLabelValues(c.Route().Path, strconv.Itoa(code)).Inc()
	}
	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", code,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStatusWS(c *websocket.Conn) {
	if m := s.cfg.Metrics; m != nil {
		m.StatusClients.Inc()
		defer m.StatusClients.Dec()
	}
	hub.NewClient(s.cfg.Hub, c).Run()
}
