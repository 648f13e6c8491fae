// Package ops serves the operational HTTP endpoint: health, outbox
// statistics for alerting and manual requeue of dead-lettered entries.
package ops

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/logging"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Outbox interface {
	Stats(ctx context.Context) (*models.OutboxStats, error)
	Requeue(ctx context.Context, id string) error
}

type Server struct {
	address string
	db      Pinger
	outbox  Outbox
	logger  logging.Logger
	app     *fiber.App
}

func NewServer(address string, l logging.Logger, db Pinger, outbox Outbox) *Server {
	s := &Server{
		address: address,
		db:      db,
		outbox:  outbox,
		logger:  l.With("module", "ops_server"),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          s.handleError,
	})
	app.Get("/healthz", s.health)
	app.Get("/outbox/stats", s.stats)
	app.Post("/outbox/:id/requeue", s.requeue)
	s.app = app

	return s
}

func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping ops server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "ops server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting ops server", "address", s.address)
	return s.app.Listener(listen)
}

func (s *Server) health(c *fiber.Ctx) error {
	if err := s.db.PingContext(c.UserContext()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) stats(c *fiber.Ctx) error {
	stats, err := s.outbox.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func (s *Server) requeue(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.outbox.Requeue(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"id": id, "status": models.OutboxPending})
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, common.ErrOutboxEntryNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, common.ErrOutboxEntryTerminal):
		code = fiber.StatusConflict
	}
	if code == fiber.StatusInternalServerError {
		s.logger.Error(c.UserContext(), "ops request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
