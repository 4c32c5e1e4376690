package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/voice-id/internal/config"
	"github.com/codebuildervaibhav/voice-id/internal/types"
)

// PostgresStore keeps profiles in PostgreSQL with the pgvector extension.
// Similarity is computed by the server with the <=> cosine distance operator.
type PostgresStore struct {
	db  *sql.DB
	dim int
	log zerolog.Logger
}

// NewPostgresStore connects with retry and ensures the extension and table exist.
func NewPostgresStore(ctx context.Context, cfg config.StoreConfig, dim int, log zerolog.Logger) (*PostgresStore, error) {
	db, err := connect(ctx, "pgx", cfg.DSN, cfg.ConnectRetries, log)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &PostgresStore{db: db, dim: dim, log: log}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS speakers (
			id BIGSERIAL PRIMARY KEY,
			speaker_key TEXT NOT NULL UNIQUE,
			display_name TEXT,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			meta JSONB NOT NULL DEFAULT '{}'::jsonb
		)`, s.dim),
		`CREATE INDEX IF NOT EXISTS idx_speakers_created_at ON speakers (created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	s.log.Debug().Int("dimension", s.dim).Msg("Schema ready")
	return nil
}

// Upsert implements Store. xmax is zero only for freshly inserted rows.
func (s *PostgresStore) Upsert(ctx context.Context, p types.SpeakerProfile) (bool, error) {
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

	query := `
	INSERT INTO speakers (speaker_key, display_name, embedding, meta)
	VALUES ($1, $2, $3, COALESCE($4::jsonb, '{}'::jsonb))
	ON CONFLICT (speaker_key) DO UPDATE SET
		embedding = EXCLUDED.embedding,
		display_name = COALESCE(EXCLUDED.display_name, speakers.display_name),
		meta = COALESCE($4::jsonb, speakers.meta)
	RETURNING (xmax = 0) AS inserted
	`
	var inserted bool
	err = tx.QueryRowContext(ctx, query, p.SpeakerID, nullableString(p.DisplayName),
		pgvector.NewVector(p.Voiceprint), meta).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to save speaker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit speaker: %w", err)
	}
	return inserted, nil
}

// Nearest implements Store
func (s *PostgresStore) Nearest(ctx context.Context, vec []float32) (*types.Match, error) {
	if err := checkDimension(vec, s.dim); err != nil {
		return nil, err
	}

	query := `
	SELECT speaker_key, display_name, 1 - (embedding <=> $1) AS similarity
	FROM speakers
	ORDER BY embedding <=> $1, speaker_key
	LIMIT 1
	`
	var (
		m    types.Match
		name sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, pgvector.NewVector(vec)).Scan(&m.SpeakerID, &name, &m.Similarity)
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
func (s *PostgresStore) List(ctx context.Context) ([]types.SpeakerSummary, error) {
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
func (s *PostgresStore) Delete(ctx context.Context, speakerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM speakers WHERE speaker_key = $1`, speakerID)
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
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM speakers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count speakers: %w", err)
	}
	return n, nil
}

// Ping implements Store
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
