package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/voice-id/internal/apperr"
	"github.com/codebuildervaibhav/voice-id/internal/types"
)

// upload is one multipart audio file read into memory.
type upload struct {
	filename string
	data     []byte
}

// readUpload reads the "file" form field. The request body limit already
// bounds its size.
func readUpload(c *fiber.Ctx) (*upload, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, apperr.InvalidInput("No file uploaded")
	}

	f, err := file.Open()
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("open upload: %w", err))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("read upload: %w", err))
	}
	return &upload{filename: file.Filename, data: data}, nil
}

// parseThreshold reads the threshold query value, defaulting when absent.
func parseThreshold(raw string) (float64, error) {
	if strings.TrimSpace(raw) == "" {
		return types.DefaultThreshold, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, apperr.InvalidInput("threshold must be a number between 0 and 1").WithDetail("threshold", raw)
	}
	return v, nil
}

// Enroll handles POST /enroll?speaker_id=&display_name=
func (h *Handler) Enroll(c *fiber.Ctx) error {
	speakerID := c.Query("speaker_id")
	if strings.TrimSpace(speakerID) == "" {
		return apperr.InvalidInput("speaker_id is required")
	}

	up, err := readUpload(c)
	if err != nil {
		return err
	}

	var metadata map[string]any
	if raw := c.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil || metadata == nil {
			return apperr.InvalidInput("metadata must be a JSON object")
		}
	}

	result, err := h.svc.Enroll(c.UserContext(), types.EnrollRequest{
		SpeakerID:   speakerID,
		DisplayName: c.Query("display_name"),
		Filename:    up.filename,
		Audio:       up.data,
		Metadata:    metadata,
	})
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// Identify handles POST /identify?threshold=
func (h *Handler) Identify(c *fiber.Ctx) error {
	threshold, err := parseThreshold(c.Query("threshold"))
	if err != nil {
		return err
	}

	up, err := readUpload(c)
	if err != nil {
		return err
	}

	result, err := h.svc.Identify(c.UserContext(), up.data, threshold)
	if err != nil {
		return err
	}
	return c.JSON(result.Response())
}
