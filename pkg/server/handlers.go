package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-voicecall/pkg/call"
	"github.com/teslashibe/go-voicecall/pkg/signaling"
	"github.com/teslashibe/go-voicecall/pkg/wake"
)

// errNoAPIKey is the message returned when no upstream key is configured.
const errNoAPIKey = "OpenAI API key not configured in add-on options."

func (s *Server) handleClientSecret(c *fiber.Ctx) error {
	if s.minter == nil || !s.minter.Configured() {
		return addonError(c, fiber.StatusBadRequest, errNoAPIKey)
	}
	secret, err := s.minter.Mint(c.UserContext())
	if err != nil {
		return s.upstreamError(c, err)
	}
	return c.JSON(fiber.Map{
		"client_secret": secret.Value,
		"model":         secret.Model,
		"voice":         secret.Voice,
	})
}

// handleSession relays a raw SDP offer upstream with a freshly minted
// secret and returns the raw answer.
func (s *Server) handleSession(c *fiber.Ctx) error {
	if s.minter == nil || !s.minter.Configured() {
		return addonError(c, fiber.StatusBadRequest, errNoAPIKey)
	}
	offer := strings.TrimSpace(string(c.Body()))
	if offer == "" {
		return addonError(c, fiber.StatusBadRequest, "empty SDP offer")
	}

	secret, err := s.minter.Mint(c.UserContext())
	if err != nil {
		return s.upstreamError(c, err)
	}
	answer, err := s.relay.Exchange(c.UserContext(),
		call.SessionDescription{Type: call.SDPTypeOffer, SDP: string(c.Body())},
		&call.Credential{Value: secret.Value},
	)
	if err != nil {
		return s.upstreamError(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/sdp")
	return c.SendString(answer.SDP)
}

func (s *Server) upstreamError(c *fiber.Ctx, err error) error {
	if se, ok := signaling.IsStatusError(err); ok {
		s.logger.Warn("upstream request failed", "endpoint", se.Endpoint, "status", se.StatusCode)
		return addonError(c, fiber.StatusBadGateway, fmt.Sprintf("OpenAI error: %d %s", se.StatusCode, se.Body))
	}
	s.logger.Warn("upstream request failed", "error", err)
	return addonError(c, fiber.StatusBadGateway, err.Error())
}

// addonError writes an add-on endpoint failure. "detail" is the field
// existing add-on clients read; "error" matches the rest of the API.
func addonError(c *fiber.Ctx, code int, msg string) error {
	return c.Status(code).JSON(fiber.Map{"detail": msg, "error": msg})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Controller.Snapshot())
}

func (s *Server) handleCallStart(c *fiber.Ctx) error {
	err := s.cfg.Controller.StartCall(c.UserContext())
	switch {
	case err == nil:
		return c.JSON(s.cfg.Controller.Snapshot())
	case errors.Is(err, call.ErrAlreadyActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error(), "kind": call.Kind(err)})
	default:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "kind": call.Kind(err)})
	}
}

func (s *Server) handleCallStop(c *fiber.Ctx) error {
	s.cfg.Controller.StopCall()
	return c.JSON(s.cfg.Controller.Snapshot())
}

type wakeRequest struct {
	Phrase string `json:"phrase"`
}

func (s *Server) handleWakeEnable(c *fiber.Ctx) error {
	var req wakeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
		}
	}
	if err := s.cfg.Controller.EnableWake(req.Phrase); err != nil {
		if errors.Is(err, wake.ErrUnsupportedCapability) {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": err.Error()})
		}
		if errors.Is(err, call.ErrAlreadyActive) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(s.cfg.Controller.Snapshot())
}

func (s *Server) handleWakeDisable(c *fiber.Ctx) error {
	s.cfg.Controller.DisableWake()
	return c.JSON(s.cfg.Controller.Snapshot())
}
