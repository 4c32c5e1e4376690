package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/voice-id/internal/apperr"
)

// Stream control messages
const (
	StreamEnd   = "END"
	StreamReset = "RESET"
)

const thresholdLocal = "threshold"

// StreamUpgrade validates the request before switching to WebSocket.
// The threshold is parsed here so a bad value gets a plain HTTP 400.
func StreamUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	threshold, err := parseThreshold(c.Query("threshold"))
	if err != nil {
		return err
	}
	c.Locals(thresholdLocal, threshold)
	return c.Next()
}

// StreamIdentify identifies speakers from audio streamed over a WebSocket.
// Binary frames are appended to a buffer; a text "END" runs identification
// on the buffered clip, replies with the same JSON as POST /identify and
// starts a new clip. "RESET" drops the buffer.
func (h *Handler) StreamIdentify(maxBytes int) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		var buffer bytes.Buffer
		threshold, _ := c.Locals(thresholdLocal).(float64)
		log := h.log.With().Str("stream_id", uuid.New().String()).Logger()

		if maxBytes > 0 {
			// A single frame over the limit closes the connection with 1009.
			c.SetReadLimit(int64(maxBytes))
		}

		log.Info().Float64("threshold", threshold).Msg("WebSocket connection established")

		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if errors.Is(err, fws.ErrReadLimit) {
					log.Warn().Int("limit", maxBytes).Msg("WebSocket frame too large")
				} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Msg("WebSocket read error")
				}
				break
			}

			switch messageType {
			case websocket.BinaryMessage:
				if maxBytes > 0 && buffer.Len()+len(message) > maxBytes {
					h.writeStreamError(c, apperr.New(apperr.CodeTooLarge, "Audio stream too large", fiber.StatusRequestEntityTooLarge))
					buffer.Reset()
					continue
				}
				buffer.Write(message)

			case websocket.TextMessage:
				switch string(message) {
				case StreamEnd:
					h.identifyBuffered(c, &buffer, threshold, log)
				case StreamReset:
					buffer.Reset()
				default:
					h.writeStreamError(c, apperr.InvalidInput("Unknown control message"))
				}
			}
		}

		log.Info().Msg("WebSocket connection closed")
	}
}

func (h *Handler) identifyBuffered(c *websocket.Conn, buffer *bytes.Buffer, threshold float64, log zerolog.Logger) {
	defer buffer.Reset()

	if buffer.Len() == 0 {
		h.writeStreamError(c, apperr.InvalidInput("No audio data received"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log.Debug().Int("bytes", buffer.Len()).Msg("Identifying streamed clip")
	result, err := h.svc.Identify(ctx, buffer.Bytes(), threshold)
	if err != nil {
		h.writeStreamError(c, err)
		return
	}
	h.writeStreamJSON(c, result.Response())
}

func (h *Handler) writeStreamError(c *websocket.Conn, err error) {
	appErr := apperr.From(err)
	if appErr.Code == apperr.CodeInternal {
		h.log.Error().Err(appErr.Cause).Msg("Stream identification failed")
	}
	h.writeStreamJSON(c, fiber.Map{"detail": appErr.Message, "code": appErr.Code})
}

func (h *Handler) writeStreamJSON(c *websocket.Conn, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode stream reply")
		return
	}
	if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.log.Warn().Err(err).Msg("WebSocket write error")
	}
}
