package types

import "time"

// TargetSampleRate is the sample rate every voiceprint is computed at.
const TargetSampleRate = 16000

// DefaultThreshold is the minimum cosine similarity for a positive identification.
const DefaultThreshold = 0.80

// Identify response messages
const (
	MessageNoSpeakers = "No speakers enrolled"
	MessageNoMatch    = "No match above threshold"
)

// Enroll response messages
const (
	MessageEnrolled = "Speaker enrolled"
	MessageUpdated  = "Speaker updated"
	MessageDeleted  = "Speaker deleted"
)

// SpeakerProfile is one enrolled speaker
type SpeakerProfile struct {
	SpeakerID   string
	DisplayName string
	Voiceprint  []float32
	CreatedAt   time.Time
	Metadata    map[string]any
}

// SpeakerSummary is the listing view of a profile
type SpeakerSummary struct {
	SpeakerID   string     `json:"speaker_id"`
	DisplayName *string    `json:"display_name"`
	CreatedAt   *time.Time `json:"created_at"`
}

// Match is the closest stored profile to a query voiceprint
type Match struct {
	SpeakerID   string
	DisplayName *string
	Similarity  float64
}

// BestMatch describes the closest candidate when nothing clears the threshold
type BestMatch struct {
	SpeakerID  string  `json:"speaker_id"`
	Similarity float64 `json:"similarity"`
}

// IdentifyResult is the outcome of an identification request
type IdentifyResult struct {
	Identified  bool
	Message     string
	SpeakerID   string
	DisplayName *string
	Similarity  float64
	BestMatch   *BestMatch
}

// Response renders the result in the wire shape clients expect:
// matched results carry speaker_id, display_name and similarity, misses
// carry a message and, when a candidate exists, best_match.
func (r IdentifyResult) Response() map[string]any {
	if r.Identified {
		return map[string]any{
			"identified":   true,
			"speaker_id":   r.SpeakerID,
			"display_name": r.DisplayName,
			"similarity":   r.Similarity,
		}
	}
	resp := map[string]any{
		"identified": false,
		"message":    r.Message,
	}
	if r.BestMatch != nil {
		resp["best_match"] = r.BestMatch
	}
	return resp
}

// EnrollResult is the outcome of an enrollment request
type EnrollResult struct {
	Message   string `json:"message"`
	SpeakerID string `json:"speaker_id"`
	Created   bool   `json:"-"`
}

// Health reports whether the service can answer requests
type Health struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Store       string `json:"store"`
}

// EnrollRequest carries one enrollment upload
type EnrollRequest struct {
	SpeakerID   string
	DisplayName string
	Filename    string
	Audio       []byte
	Metadata    map[string]any
}
