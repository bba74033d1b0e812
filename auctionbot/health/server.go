package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot/economy/auction"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type StatsSource interface {
	Stats() auction.Stats
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Server exposes liveness and runtime statistics over HTTP.
type Server struct {
	app     *fiber.App
	db      Pinger
	stats   StatsSource
	version string
	commit  string
}

func New(db Pinger, stats StatsSource, version, commit string) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "Auction Bot",
			DisableStartupMessage: true,
		}),
		db:      db,
		stats:   stats,
		version: version,
		commit:  commit,
	}

	s.app.Use(recover.New())
	s.app.Use(requestLogger())
	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/stats", s.handleStats)
	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", slog.String("type", "http"), slog.Any("error", err))
		return c.Status(http.StatusServiceUnavailable).JSON(Response{
			Success: false,
			Message: "database unreachable",
		})
	}

	return c.JSON(Response{
		Success: true,
		Message: "healthy",
		Data: fiber.Map{
			"version": s.version,
			"commit":  s.commit,
		},
	})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(Response{
		Success: true,
		Data:    s.stats.Stats(),
	})
}

func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		level := slog.LevelDebug
		if status >= 500 {
			level = slog.LevelError
		}
		slog.Log(c.Context(), level, "HTTP request processed",
			slog.String("type", "http"),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)))
		return err
	}
}

// Listen blocks until the server stops.
func (s *Server) Listen(addr string) error {
	slog.Info("Starting health server", slog.String("type", "http"), slog.String("address", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
