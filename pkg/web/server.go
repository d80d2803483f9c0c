// Package web serves the browser client, the credential endpoint and the
// board relay.
package web

import (
	"context"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/voicetodo/pkg/hub"
)

// Issuer creates realtime sessions and returns the provider's reply.
type Issuer interface {
	Issue(ctx context.Context) ([]byte, error)
}

// Config configures the server.
type Config struct {
	// PublicDir is served at "/".
	PublicDir string

	// Version is reported by /health.
	Version string

	// Debug enables per-request access logs.
	Debug bool
}

// Server is the voicetodo backend.
type Server struct {
	app    *fiber.App
	cfg    Config
	issuer Issuer
	board  *hub.Hub
	logger *slog.Logger
}

// NewServer wires the routes. board relays /ws/board traffic and must be
// running for websocket clients to connect.
func NewServer(issuer Issuer, board *hub.Hub, cfg Config, l *slog.Logger) *Server {
	if l == nil {
		l = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		issuer: issuer,
		board:  board,
		logger: l.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicetodo",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.Debug {
		app.Use(logger.New())
	}

	app.Get("/session", s.handleSession)
	app.Get("/health", s.handleHealth)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/board", websocket.New(s.handleBoardWS))

	if cfg.PublicDir != "" {
		app.Static("/", cfg.PublicDir)
	}

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr, "public_dir", s.cfg.PublicDir)
	return s.app.Listen(addr)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", "addr", ln.Addr().String(), "public_dir", s.cfg.PublicDir)
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
