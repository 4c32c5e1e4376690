package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/codebuildervaibhav/voice-id/internal/config"
)

func TestJSONLoggerWritesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := Component(NewWithWriter(config.LogConfig{Level: "info", Format: "json"}, &buf), "store")

	log.Info().Str(FieldSpeakerID, "alice").Msg("speaker enrolled")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry[FieldComponent] != "store" {
		t.Errorf("expected component=store, got %v", entry[FieldComponent])
	}
	if entry[FieldSpeakerID] != "alice" {
		t.Errorf("expected speaker_id=alice, got %v", entry[FieldSpeakerID])
	}
	if entry["message"] != "speaker enrolled" {
		t.Errorf("unexpected message %v", entry["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn line should be written")
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LogConfig{Level: "loud", Format: "json"}, &buf)

	log.Debug().Msg("debug")
	log.Info().Msg("info")

	if strings.Contains(buf.String(), `"debug"`) {
		t.Error("debug should be filtered by the info fallback")
	}
	if !strings.Contains(buf.String(), `"info"`) {
		t.Error("info should be written")
	}
}

func TestBufferKeepsLatestLines(t *testing.T) {
	b := NewBuffer(2)
	log := NewWithWriter(config.LogConfig{Level: "info", Format: "json"}, b)

	log.Info().Msg("one")
	log.Info().Msg("two")
	log.Info().Msg("three")

	lines := b.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "two") || !strings.Contains(lines[1], "three") {
		t.Errorf("expected the two most recent lines, got %v", lines)
	}
	if strings.HasSuffix(lines[1], "\n") {
		t.Error("expected trailing newline trimmed")
	}

	lines[0] = "mutated"
	if b.Lines()[0] == "mutated" {
		t.Error("expected Lines to return a copy")
	}
}

func TestNewBufferDefault(t *testing.T) {
	if b := NewBuffer(0); b.max != DefaultBufferLines {
		t.Errorf("expected default capacity %d, got %d", DefaultBufferLines, b.max)
	}
}

func TestNewWithBufferStripsColor(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	var out bytes.Buffer
	b := NewBuffer(10)
	log := NewWithBuffer(config.LogConfig{Level: "info", Format: "console"}, &out, b)

	log.Warn().Str(FieldSpeakerID, "alice").Msg("clip archived")

	if !strings.Contains(out.String(), "\x1b[") {
		t.Errorf("expected colored console output, got %q", out.String())
	}
	lines := b.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 buffered line, got %v", lines)
	}
	if strings.Contains(lines[0], "\x1b[") {
		t.Errorf("expected buffered line without color codes, got %q", lines[0])
	}
	if !strings.Contains(lines[0], "clip archived") || !strings.Contains(lines[0], "speaker_id=alice") {
		t.Errorf("unexpected buffered line %q", lines[0])
	}
}

func TestNewWithBufferJSON(t *testing.T) {
	var out bytes.Buffer
	b := NewBuffer(10)
	log := NewWithBuffer(config.LogConfig{Level: "info", Format: "json"}, &out, b)

	log.Info().Msg("hello")

	lines := b.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 buffered line, got %v", lines)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil || entry["message"] != "hello" {
		t.Errorf("expected JSON line, got %q (%v)", lines[0], err)
	}
	if strings.TrimSpace(out.String()) != lines[0] {
		t.Errorf("expected identical JSON on both writers, got %q and %q", out.String(), lines[0])
	}
}
