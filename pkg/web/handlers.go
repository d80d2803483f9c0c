package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/voicetodo/pkg/broker"
	"github.com/teslashibe/voicetodo/pkg/hub"
)

// Error bodies returned by GET /session.
const (
	MsgNoClientSecret = "Error: Could not create session or retrieve client secret."
	MsgInternal       = "Internal server error"
)

// handleSession issues an ephemeral credential and returns the provider's
// session object unchanged.
func (s *Server) handleSession(c *fiber.Ctx) error {
	rid, _ := c.Locals("requestid").(string)

	body, err := s.issuer.Issue(c.UserContext())
	switch {
	case errors.Is(err, broker.ErrNoClientSecret):
		s.logger.Error("session has no client secret", "request_id", rid, "error", err)
		return c.Status(fiber.StatusInternalServerError).SendString(MsgNoClientSecret)
	case err != nil:
		s.logger.Error("create session", "request_id", rid, "error", err)
		return c.Status(fiber.StatusInternalServerError).SendString(MsgInternal)
	}

	s.logger.Info("session issued", "request_id", rid)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

// handleHealth reports liveness and the number of board viewers
func (s *Server) handleHealth(c *fiber.Ctx) error {
	viewers := 0
	if s.board != nil {
		viewers = s.board.ClientCount()
	}
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": s.cfg.Version,
		"viewers": viewers,
	})
}

// handleBoardWS joins a websocket to the board relay
func (s *Server) handleBoardWS(c *websocket.Conn) {
	if s.board == nil {
		c.Close()
		return
	}
	hub.NewClient(s.board, c).Run()
}
