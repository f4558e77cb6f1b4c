// Package admin serves a read-only HTTP view of the mail server for
// operators: liveness, the operational log and per-account counts.
package admin

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/V3R0N1C4/MailSystem/internal/registry"
)

// Source is what the admin view reads from. *registry.Registry implements it.
type Source interface {
	Stats() []registry.AccountStats
	Log() *registry.OpLog
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the operator HTTP endpoint.
type Server struct {
	app    *fiber.App
	source Source
}

// New creates the admin server and registers its routes.
func New(source Source) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
		},
	})
	app.Use(recover.New())

	s := &Server{app: app, source: source}
	s.registerRoutes()
	return s
}

// App exposes the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.healthz)
	s.app.Get("/log", s.log)
	s.app.Get("/accounts", s.accounts)
}

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		slog.Info("shutting down admin server")
		if err := s.app.Shutdown(); err != nil {
			slog.Error("admin shutdown failed", "error", err)
		}
	}()

	slog.Info("admin server listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) healthz(c *fiber.Ctx) error {
	return c.SendString("ok")
}

// log returns the operational log, oldest first. ?tail=N keeps the last N
// lines.
func (s *Server) log(c *fiber.Ctx) error {
	lines := s.source.Log().Lines()

	tail := c.QueryInt("tail", 0)
	if tail < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "tail must not be negative")
	}
	if tail > 0 && tail < len(lines) {
		lines = lines[len(lines)-tail:]
	}
	return c.JSON(lines)
}

func (s *Server) accounts(c *fiber.Ctx) error {
	return c.JSON(s.source.Stats())
}
