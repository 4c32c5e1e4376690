package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/voice-id/internal/config"
	"github.com/codebuildervaibhav/voice-id/internal/types"
)

var (
	// ErrNotFound is returned when a speaker identifier is not enrolled.
	ErrNotFound = errors.New("speaker not found")

	// ErrDimension is returned when a voiceprint does not match the store's dimension.
	ErrDimension = errors.New("voiceprint dimension mismatch")
)

// Store persists speaker profiles and answers nearest-neighbour queries.
type Store interface {
	// Upsert inserts a profile or overwrites the voiceprint of an existing one.
	// DisplayName and Metadata replace stored values only when set.
	// created reports whether a new row was inserted.
	Upsert(ctx context.Context, p types.SpeakerProfile) (created bool, err error)

	// Nearest returns the profile with the highest cosine similarity to vec,
	// or nil when no profiles exist.
	Nearest(ctx context.Context, vec []float32) (*types.Match, error)

	List(ctx context.Context) ([]types.SpeakerSummary, error)
	Delete(ctx context.Context, speakerID string) error
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and migrates its schema.
func Open(ctx context.Context, cfg config.StoreConfig, dim int, log zerolog.Logger) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgresStore(ctx, cfg, dim, log)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg, dim, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// connect opens driverName and pings it until it answers, backing off
// linearly between attempts.
func connect(ctx context.Context, driverName, dsn string, retries int, log zerolog.Logger) (*sql.DB, error) {
	if retries < 1 {
		retries = 1
	}

	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("database connection canceled: %w", ctx.Err())
		}

		var db *sql.DB
		db, err = sql.Open(driverName, dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				log.Info().Int("attempt", attempt).Str("driver", driverName).Msg("Database connection established")
				return db, nil
			}
			db.Close()
		}

		if attempt < retries {
			backoff := time.Duration(attempt) * time.Second
			log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).
				Msg("Database connection attempt failed, retrying")

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("database connection canceled during retry: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", retries, err)
}

func checkDimension(vec []float32, dim int) error {
	if len(vec) != dim {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimension, len(vec), dim)
	}
	return nil
}

// metadataParam encodes metadata for storage; nil means "keep existing".
func metadataParam(meta map[string]any) (any, error) {
	if meta == nil {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// encodeVector packs a voiceprint as little-endian float32s.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector blob of %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}

// cosineDistance returns 1 - cos(a, b), matching pgvector's <=> operator.
// A zero vector is maximally distant from everything.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
