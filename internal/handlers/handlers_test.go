package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/voice-id/internal/config"
	"github.com/codebuildervaibhav/voice-id/internal/logger"
	"github.com/codebuildervaibhav/voice-id/internal/service/servicetest"
)

const testKey = "test-secret"

type testServer struct {
	app  *fiber.App
	env  *servicetest.Env
	logs *logger.Buffer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	env := servicetest.New(t)
	logs := logger.NewBuffer(100)
	app := NewApp(Options{
		Service:     env.Service,
		APIKey:      testKey,
		BodyLimitMB: 1,
		CORSOrigins: "*",
		Logs:        logs,
		Logger:      logger.NewWithWriter(config.LogConfig{Level: "info", Format: "json"}, logs),
	})
	return &testServer{app: app, env: env, logs: logs}
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if data != nil {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := s.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("expected JSON body, got %q", raw)
		}
	}
	return resp.StatusCode, body
}

func (s *testServer) upload(t *testing.T, path string, data []byte, fields map[string]string) (int, map[string]any) {
	t.Helper()
	body, contentType := multipartBody(t, "clip.wav", data, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(APIKeyHeader, testKey)
	return s.do(t, req)
}

func (s *testServer) get(t *testing.T, method, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set(APIKeyHeader, testKey)
	return s.do(t, req)
}

func TestHealthIsOpen(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["status"] != "ok" || body["model_loaded"] != true || body["store"] != "ok" {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestProtectedRoutesRequireAPIKey(t *testing.T) {
	s := newTestServer(t)
	routes := []struct{ method, path string }{
		{http.MethodPost, "/enroll?speaker_id=alice"},
		{http.MethodPost, "/identify"},
		{http.MethodGet, "/speakers"},
		{http.MethodDelete, "/speakers/alice"},
		{http.MethodGet, "/logs"},
		{http.MethodGet, "/ws/identify"},
	}
	keys := map[string]string{"missing": "", "wrong": "nope", "prefix": testKey[:4]}

	for _, r := range routes {
		for name, key := range keys {
			t.Run(r.method+" "+r.path+" "+name, func(t *testing.T) {
				req := httptest.NewRequest(r.method, r.path, nil)
				if key != "" {
					req.Header.Set(APIKeyHeader, key)
				}
				status, body := s.do(t, req)
				if status != http.StatusUnauthorized {
					t.Fatalf("expected 401, got %d", status)
				}
				if body["detail"] != "Invalid API key" || body["code"] != "UNAUTHORIZED" {
					t.Errorf("unexpected body %v", body)
				}
			})
		}
	}
}

func TestEnrollAndReenroll(t *testing.T) {
	s := newTestServer(t)
	first := s.env.Voices.Add("alice-1", []float32{1, 0, 0, 0})
	second := s.env.Voices.Add("alice-2", []float32{0, 1, 0, 0})

	status, body := s.upload(t, "/enroll?speaker_id=alice&display_name=Alice", first, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["message"] != "Speaker enrolled" || body["speaker_id"] != "alice" {
		t.Errorf("unexpected body %v", body)
	}

	status, body = s.upload(t, "/enroll?speaker_id=alice", second, map[string]string{"metadata": `{"source":"mobile"}`})
	if status != http.StatusOK || body["message"] != "Speaker updated" {
		t.Errorf("expected update, got %d %v", status, body)
	}

	_, body = s.get(t, http.MethodGet, "/speakers")
	speakers, _ := body["speakers"].([]any)
	if len(speakers) != 1 {
		t.Fatalf("expected one speaker, got %v", body)
	}
	sp := speakers[0].(map[string]any)
	if sp["speaker_id"] != "alice" || sp["display_name"] != "Alice" || sp["created_at"] == nil {
		t.Errorf("unexpected listing entry %v", sp)
	}
}

func TestEnrollValidation(t *testing.T) {
	s := newTestServer(t)
	clip := s.env.Voices.Add("clip", []float32{1, 0, 0, 0})

	tests := []struct {
		name   string
		path   string
		data   []byte
		fields map[string]string
		code   string
	}{
		{"missing speaker_id", "/enroll", clip, nil, "INVALID_INPUT"},
		{"missing file", "/enroll?speaker_id=a", nil, nil, "INVALID_INPUT"},
		{"bad metadata", "/enroll?speaker_id=a", clip, map[string]string{"metadata": "[1,2]"}, "INVALID_INPUT"},
		{"undecodable audio", "/enroll?speaker_id=a", []byte("definitely not audio"), nil, "INVALID_AUDIO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.upload(t, tt.path, tt.data, tt.fields)
			if status != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %v", status, body)
			}
			if body["code"] != tt.code {
				t.Errorf("expected code %s, got %v", tt.code, body)
			}
		})
	}

	_, body := s.upload(t, "/enroll?speaker_id=a", []byte("definitely not audio"), nil)
	if detail, _ := body["detail"].(string); !strings.HasPrefix(detail, "Failed to process audio: ") {
		t.Errorf("unexpected detail %q", detail)
	}
}

func TestIdentifyResponses(t *testing.T) {
	s := newTestServer(t)
	alice := s.env.Voices.Add("alice", []float32{1, 0, 0, 0})
	query := s.env.Voices.Add("query", []float32{3, 0, 4, 0})

	status, body := s.upload(t, "/identify", alice, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["identified"] != false || body["message"] != "No speakers enrolled" {
		t.Errorf("unexpected empty-store body %v", body)
	}
	if _, ok := body["best_match"]; ok {
		t.Error("expected no best_match on empty store")
	}

	if status, body := s.upload(t, "/enroll?speaker_id=alice&display_name=Alice", alice, nil); status != http.StatusOK {
		t.Fatalf("enroll failed: %d %v", status, body)
	}

	_, body = s.upload(t, "/identify", alice, nil)
	if body["identified"] != true || body["speaker_id"] != "alice" || body["display_name"] != "Alice" || body["similarity"] != 1.0 {
		t.Errorf("unexpected match body %v", body)
	}

	_, body = s.upload(t, "/identify?threshold=0.9", query, nil)
	if body["identified"] != false || body["message"] != "No match above threshold" {
		t.Fatalf("unexpected no-match body %v", body)
	}
	best, _ := body["best_match"].(map[string]any)
	if best["speaker_id"] != "alice" || best["similarity"] != 0.6 {
		t.Errorf("unexpected best_match %v", best)
	}

	_, body = s.upload(t, "/identify?threshold=0.5", query, nil)
	if body["identified"] != true || body["similarity"] != 0.6 {
		t.Errorf("expected match at 0.5, got %v", body)
	}
}

func TestIdentifyNullDisplayName(t *testing.T) {
	s := newTestServer(t)
	clip := s.env.Voices.Add("bob", []float32{0, 1, 0, 0})
	s.upload(t, "/enroll?speaker_id=bob", clip, nil)

	_, body := s.upload(t, "/identify", clip, nil)
	name, ok := body["display_name"]
	if !ok || name != nil {
		t.Errorf("expected display_name present and null, got %v", body)
	}
}

func TestIdentifyInvalidThreshold(t *testing.T) {
	s := newTestServer(t)
	clip := s.env.Voices.Add("clip", []float32{1, 0, 0, 0})

	for _, th := range []string{"1.5", "-0.2", "abc"} {
		status, body := s.upload(t, "/identify?threshold="+th, clip, nil)
		if status != http.StatusBadRequest || body["code"] != "INVALID_INPUT" {
			t.Errorf("threshold %s: expected 400 INVALID_INPUT, got %d %v", th, status, body)
		}
	}
}

func TestModelFailureIs500(t *testing.T) {
	s := newTestServer(t)
	clip := s.env.Voices.Add("clip", []float32{1, 0, 0, 0})
	s.env.Extractor.Fail(io.ErrUnexpectedEOF)

	status, body := s.upload(t, "/identify", clip, nil)
	if status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", status)
	}
	if body["detail"] != "Internal server error" {
		t.Errorf("expected generic detail, got %v", body)
	}
}

func TestDeleteSpeaker(t *testing.T) {
	s := newTestServer(t)
	clip := s.env.Voices.Add("clip", []float32{1, 0, 0, 0})
	s.upload(t, "/enroll?speaker_id=alice", clip, nil)
	s.upload(t, "/enroll?speaker_id=bob", clip, nil)

	status, body := s.get(t, http.MethodDelete, "/speakers/alice")
	if status != http.StatusOK || body["message"] != "Speaker deleted" || body["speaker_id"] != "alice" {
		t.Fatalf("unexpected delete response %d %v", status, body)
	}

	status, body = s.get(t, http.MethodDelete, "/speakers/alice")
	if status != http.StatusNotFound || body["detail"] != "Speaker not found" {
		t.Errorf("expected 404, got %d %v", status, body)
	}

	_, body = s.get(t, http.MethodGet, "/speakers")
	speakers, _ := body["speakers"].([]any)
	if len(speakers) != 1 || speakers[0].(map[string]any)["speaker_id"] != "bob" {
		t.Errorf("expected only bob listed, got %v", body)
	}
}

func TestDeleteSpeakerTrimsID(t *testing.T) {
	s := newTestServer(t)
	clip := s.env.Voices.Add("clip", []float32{1, 0, 0, 0})
	s.upload(t, "/enroll?speaker_id=%20alice", clip, nil)

	status, body := s.get(t, http.MethodDelete, "/speakers/%20alice")
	if status != http.StatusOK || body["speaker_id"] != "alice" {
		t.Errorf("unexpected delete response %d %v", status, body)
	}
}

func TestListEmpty(t *testing.T) {
	s := newTestServer(t)
	status, body := s.get(t, http.MethodGet, "/speakers")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	speakers, ok := body["speakers"].([]any)
	if !ok || len(speakers) != 0 {
		t.Errorf("expected empty speakers array, got %v", body)
	}
}

func TestLogsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.get(t, http.MethodGet, "/speakers")

	status, body := s.get(t, http.MethodGet, "/logs")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	lines, _ := body["logs"].([]any)
	found := false
	for _, l := range lines {
		if strings.Contains(l.(string), "/speakers") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected request log line for /speakers, got %v", lines)
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	status, body := s.get(t, http.MethodGet, "/nope")
	if status != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Errorf("expected 404 NOT_FOUND, got %d %v", status, body)
	}
}

func TestStreamIdentify(t *testing.T) {
	s := newTestServer(t)
	clip := s.env.Voices.Add("streamed-clip", []float32{1, 0, 0, 0})
	s.upload(t, "/enroll?speaker_id=alice", clip, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.app.Listener(ln)
	t.Cleanup(func() { s.app.Shutdown() })

	url := "ws://" + ln.Addr().String() + "/ws/identify?threshold=0.5"

	_, resp, err := fws.DefaultDialer.Dial(url, http.Header{"X-Api-Key": {"wrong"}})
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake failure, got %v", err)
	}

	conn, _, err := fws.DefaultDialer.Dial(url, http.Header{"X-Api-Key": {testKey}})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() map[string]any {
		t.Helper()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var out map[string]any
		if err := json.Unmarshal(msg, &out); err != nil {
			t.Fatalf("expected JSON reply, got %q", msg)
		}
		return out
	}

	// The clip arrives in two frames.
	conn.WriteMessage(fws.BinaryMessage, clip[:6])
	conn.WriteMessage(fws.BinaryMessage, clip[6:])
	conn.WriteMessage(fws.TextMessage, []byte(StreamEnd))
	if out := read(); out["identified"] != true || out["speaker_id"] != "alice" {
		t.Errorf("unexpected stream reply %v", out)
	}

	// END without audio is an error, and the connection stays usable.
	conn.WriteMessage(fws.TextMessage, []byte(StreamEnd))
	if out := read(); out["code"] != "INVALID_INPUT" {
		t.Errorf("expected INVALID_INPUT, got %v", out)
	}

	conn.WriteMessage(fws.BinaryMessage, []byte("garbage"))
	conn.WriteMessage(fws.TextMessage, []byte(StreamReset))
	conn.WriteMessage(fws.BinaryMessage, clip)
	conn.WriteMessage(fws.TextMessage, []byte(StreamEnd))
	if out := read(); out["identified"] != true {
		t.Errorf("expected match after reset, got %v", out)
	}
}

func dialStream(t *testing.T, s *testServer) *fws.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go s.app.Listener(ln)
	t.Cleanup(func() { s.app.Shutdown() })

	conn, _, err := fws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/identify", http.Header{"X-Api-Key": {testKey}})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestStreamBufferLimit(t *testing.T) {
	s := newTestServer(t)
	conn := dialStream(t, s)

	// Each frame fits, together they exceed the 1 MiB limit.
	frame := make([]byte, 700*1024)
	conn.WriteMessage(fws.BinaryMessage, frame)
	conn.WriteMessage(fws.BinaryMessage, frame)

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(msg, &out); err != nil || out["code"] != "PAYLOAD_TOO_LARGE" {
		t.Fatalf("expected PAYLOAD_TOO_LARGE, got %q", msg)
	}

	// The buffer was dropped and the connection is still open.
	conn.WriteMessage(fws.TextMessage, []byte(StreamEnd))
	if _, msg, err = conn.ReadMessage(); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if err := json.Unmarshal(msg, &out); err != nil || out["code"] != "INVALID_INPUT" {
		t.Errorf("expected INVALID_INPUT for empty buffer, got %q", msg)
	}
}

func TestStreamOversizedFrameClosesConnection(t *testing.T) {
	s := newTestServer(t)
	conn := dialStream(t, s)

	conn.WriteMessage(fws.BinaryMessage, make([]byte, 2*1024*1024))

	_, msg, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected connection closed, got reply %q", msg)
	}
	if ce, ok := err.(*fws.CloseError); ok && ce.Code != fws.CloseMessageTooBig {
		t.Errorf("expected close code %d, got %d", fws.CloseMessageTooBig, ce.Code)
	}
}
