package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"modernc.org/sqlite"

	"github.com/codebuildervaibhav/voice-id/internal/config"
	"github.com/codebuildervaibhav/voice-id/internal/types"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions installs vec_cosine_distance(a, b) on the sqlite driver
// so that similarity ranking happens inside the query, as <=> does in pgvector.
func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction("vec_cosine_distance", 2,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				a, okA := args[0].([]byte)
				b, okB := args[1].([]byte)
				if !okA || !okB {
					return nil, errors.New("vec_cosine_distance: arguments must be blobs")
				}
				if len(a) != len(b) {
					return nil, fmt.Errorf("vec_cosine_distance: length mismatch %d != %d", len(a), len(b))
				}
				va, err := decodeVector(a)
				if err != nil {
					return nil, err
				}
				vb, err := decodeVector(b)
				if err != nil {
					return nil, err
				}
				return cosineDistance(va, vb), nil
			})
	})
	return registerErr
}

// SQLiteStore keeps profiles in a local SQLite database
type SQLiteStore struct {
	db  *sql.DB
	dim int
	log zerolog.Logger
}

// NewSQLiteStore opens (creating if needed) the database file and its schema
func NewSQLiteStore(ctx context.Context, cfg config.StoreConfig, dim int, log zerolog.Logger) (*SQLiteStore, error) {
	if err := registerFunctions(); err != nil {
		return nil, fmt.Errorf("failed to register sqlite functions: %w", err)
	}

	path := strings.TrimPrefix(cfg.DSN, "sqlite://")
	if file, _, _ := strings.Cut(path, "?"); file != ":memory:" && !strings.HasPrefix(file, "file:") {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	if !strings.Contains(path, "busy_timeout") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		path += sep + "_pragma=busy_timeout(5000)"
	}

	db, err := connect(ctx, "sqlite", path, cfg.ConnectRetries, log)
	if err != nil {
		return nil, err
	}
	// One writer at a time; this also keeps :memory: databases on a single connection.
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS speakers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		speaker_key TEXT NOT NULL UNIQUE,
		display_name TEXT,
		embedding BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		meta TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_speakers_created_at ON speakers(created_at);
	`

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &SQLiteStore{db: db, dim: dim, log: log}, nil
}

// Upsert implements Store
func (s *SQLiteStore) Upsert(ctx context.Context, p types.SpeakerProfile) (bool, error) {
	if err := checkDimension(p.Voiceprint, s.dim); err != nil {
		return false, err
	}
	meta, err := metadataParam(p.Metadata)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM speakers WHERE speaker_key = ?`, p.SpeakerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up speaker: %w", err)
	}

	query := `
	INSERT INTO speakers (speaker_key, display_name, embedding, created_at, meta)
	VALUES (?1, ?2, ?3, ?4, COALESCE(?5, '{}'))
	ON CONFLICT(speaker_key) DO UPDATE SET
		embedding = excluded.embedding,
		display_name = COALESCE(?2, speakers.display_name),
		meta = COALESCE(?5, speakers.meta)
	`
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, query, p.SpeakerID, nullableString(p.DisplayName),
		encodeVector(p.Voiceprint), createdAt, meta)
	if err != nil {
		return false, fmt.Errorf("failed to save speaker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit speaker: %w", err)
	}
	return exists == 0, nil
}

// Nearest implements Store
func (s *SQLiteStore) Nearest(ctx context.Context, vec []float32) (*types.Match, error) {
	if err := checkDimension(vec, s.dim); err != nil {
		return nil, err
	}

	query := `
	SELECT speaker_key, display_name, 1 - vec_cosine_distance(embedding, ?1) AS similarity
	FROM speakers
	ORDER BY vec_cosine_distance(embedding, ?1), speaker_key
	LIMIT 1
	`

	var (
		m    types.Match
		name sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, encodeVector(vec)).Scan(&m.SpeakerID, &name, &m.Similarity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest speaker: %w", err)
	}
	if name.Valid {
		m.DisplayName = &name.String
	}
	return &m, nil
}

// List implements Store
func (s *SQLiteStore) List(ctx context.Context) ([]types.SpeakerSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT speaker_key, display_name, created_at FROM speakers ORDER BY created_at, speaker_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list speakers: %w", err)
	}
	defer rows.Close()

	speakers := []types.SpeakerSummary{}
	for rows.Next() {
		var (
			id        string
			name      sql.NullString
			createdAt time.Time
		)
		if err := rows.Scan(&id, &name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan speaker: %w", err)
		}
		summary := types.SpeakerSummary{SpeakerID: id, CreatedAt: &createdAt}
		if name.Valid {
			summary.DisplayName = &name.String
		}
		speakers = append(speakers, summary)
	}
	return speakers, rows.Err()
}

// Delete implements Store
func (s *SQLiteStore) Delete(ctx context.Context, speakerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM speakers WHERE speaker_key = ?`, speakerID)
	if err != nil {
		return fmt.Errorf("failed to delete speaker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete speaker: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count implements Store
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM speakers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count speakers: %w", err)
	}
	return n, nil
}

// Ping implements Store
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
