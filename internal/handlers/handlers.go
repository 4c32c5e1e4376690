// Package handlers exposes the service over HTTP and WebSocket with Fiber.
package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/voice-id/internal/logger"
	"github.com/codebuildervaibhav/voice-id/internal/service"
	"github.com/codebuildervaibhav/voice-id/internal/types"
)

// Handler serves the speaker API
type Handler struct {
	svc  *service.Service
	logs *logger.Buffer
	log  zerolog.Logger
}

// NewHandler creates a new handler. logs may be nil.
func NewHandler(svc *service.Service, logs *logger.Buffer, log zerolog.Logger) *Handler {
	return &Handler{
		svc:  svc,
		logs: logs,
		log:  logger.Component(log, "http"),
	}
}

// Health handles GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(h.svc.Health(c.UserContext()))
}

// ListSpeakers handles GET /speakers
func (h *Handler) ListSpeakers(c *fiber.Ctx) error {
	speakers, err := h.svc.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"speakers": speakers})
}

// DeleteSpeaker handles DELETE /speakers/:speaker_id
func (h *Handler) DeleteSpeaker(c *fiber.Ctx) error {
	speakerID := strings.TrimSpace(c.Params("speaker_id"))
	if err := h.svc.Delete(c.UserContext(), speakerID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message":    types.MessageDeleted,
		"speaker_id": speakerID,
	})
}

// Logs handles GET /logs
func (h *Handler) Logs(c *fiber.Ctx) error {
	lines := []string{}
	if h.logs != nil {
		lines = h.logs.Lines()
	}
	return c.JSON(fiber.Map{"logs": lines})
}
