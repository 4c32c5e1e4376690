package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/voice-id/internal/apperr"
	"github.com/codebuildervaibhav/voice-id/internal/logger"
)

// APIKeyHeader carries the shared secret on every protected request.
const APIKeyHeader = "x-api-key"

// RequireAPIKey rejects requests whose x-api-key header does not match key.
func RequireAPIKey(key string) fiber.Handler {
	expected := []byte(key)
	return func(c *fiber.Ctx) error {
		got := []byte(c.Get(APIKeyHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			return apperr.Unauthorized("Invalid API key")
		}
		return c.Next()
	}
}

// ErrorHandler renders errors as {"detail": ..., "code": ...}. Causes of
// internal errors are logged and never sent to the client.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"detail": fe.Message,
				"code":   codeForStatus(fe.Code),
			})
		}

		appErr := apperr.From(err)
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			log.Error().
				Err(appErr.Cause).
				Str(logger.FieldRequestID, requestID(c)).
				Str("path", c.Path()).
				Msg("Request failed")
		}

		body := fiber.Map{
			"detail": appErr.Message,
			"code":   appErr.Code,
		}
		if len(appErr.Details) > 0 && appErr.HTTPStatus < http.StatusInternalServerError {
			body["details"] = appErr.Details
		}
		return c.Status(appErr.HTTPStatus).JSON(body)
	}
}

func codeForStatus(status int) apperr.Code {
	switch status {
	case http.StatusBadRequest:
		return apperr.CodeInvalidInput
	case http.StatusUnauthorized:
		return apperr.CodeUnauthorized
	case http.StatusNotFound:
		return apperr.CodeNotFound
	case http.StatusRequestEntityTooLarge:
		return apperr.CodeTooLarge
	case http.StatusServiceUnavailable:
		return apperr.CodeUnavailable
	}
	if status < http.StatusInternalServerError {
		return apperr.CodeInvalidInput
	}
	return apperr.CodeInternal
}

// RequestLogger logs one line per request with status and latency.
func RequestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			// Render now so the logged status is the one the client sees.
			if herr := c.App().Config().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		event.
			Str(logger.FieldRequestID, requestID(c)).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.IP()).
			Msg("Request handled")
		return nil
	}
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}
