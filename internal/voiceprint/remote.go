package voiceprint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codebuildervaibhav/voice-id/internal/types"
)

// RemoteExtractor delegates inference to an HTTP sidecar that hosts the
// model (for example a SpeechBrain service).
//
// Request:  POST {url} {"sample_rate":16000,"samples":[...]}
// Response: 200 {"embedding":[...]}
type RemoteExtractor struct {
	url    string
	dim    int
	client *http.Client
}

type remoteRequest struct {
	SampleRate int       `json:"sample_rate"`
	Samples    []float32 `json:"samples"`
}

type remoteResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// NewRemoteExtractor creates a client for the sidecar at url.
func NewRemoteExtractor(url string, dim int, timeout time.Duration) *RemoteExtractor {
	return &RemoteExtractor{
		url:    url,
		dim:    dim,
		client: &http.Client{Timeout: timeout},
	}
}

// Extract implements Extractor.
func (r *RemoteExtractor) Extract(ctx context.Context, samples []float32) ([]float32, error) {
	body, err := json.Marshal(remoteRequest{SampleRate: types.TargetSampleRate, Samples: samples})
	if err != nil {
		return nil, fmt.Errorf("voiceprint: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("voiceprint: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: sidecar request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("voiceprint: read response: %w", err)
	}

	var out remoteResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(raw, &out) == nil && out.Error != "" {
			return nil, fmt.Errorf("voiceprint: sidecar returned %d: %s", resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("voiceprint: sidecar returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("voiceprint: decode response: %w", err)
	}
	if err := checkEmbedding(out.Embedding, r.dim); err != nil {
		return nil, err
	}
	return out.Embedding, nil
}

// Dimension implements Extractor.
func (r *RemoteExtractor) Dimension() int {
	return r.dim
}

// Loaded implements Extractor. The sidecar is contacted lazily; a failed
// call surfaces as an Extract error instead.
func (r *RemoteExtractor) Loaded() bool {
	return r.url != ""
}

// Close implements Extractor.
func (r *RemoteExtractor) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
