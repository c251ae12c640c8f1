// Package postgres archives terminal support jobs in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "support_transcripts"

// Config controls the Postgres connection pool used for transcripts.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

var _ support.TranscriptStore = (*TranscriptStore)(nil)

// TranscriptStore upserts one row per job.
type TranscriptStore struct {
	pool  execCloser
	table string
}

// NewTranscriptStore connects a pool using cfg.
func NewTranscriptStore(ctx context.Context, cfg Config) (*TranscriptStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewTranscriptStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewTranscriptStoreWithPool wraps an existing pool.
func NewTranscriptStoreWithPool(pool execCloser, table string) (*TranscriptStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &TranscriptStore{pool: pool, table: table}, nil
}

// SaveTranscript inserts the transcript, replacing an earlier row for the same
// job. A job reaped after a worker already finished it keeps the later row.
func (s *TranscriptStore) SaveTranscript(ctx context.Context, t support.Transcript) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("transcript store is not configured")
	}
	if t.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	links, err := json.Marshal(nonNil(t.Links))
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	status,
	source,
	event_id,
	language,
	query,
	category,
	answer,
	links,
	error,
	attempts,
	enqueued_at,
	started_at,
	ended_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (job_id) DO UPDATE SET
	status = EXCLUDED.status,
	category = EXCLUDED.category,
	answer = EXCLUDED.answer,
	links = EXCLUDED.links,
	error = EXCLUDED.error,
	attempts = EXCLUDED.attempts,
	ended_at = EXCLUDED.ended_at`, s.table)

	args := []any{
		t.JobID,
		string(t.Status),
		string(t.Request.Source),
		t.Request.EventID,
		t.Request.Language,
		t.Request.Query,
		string(t.Category),
		t.Answer,
		links,
		t.Error,
		t.Attempts,
		t.EnqueuedAt,
		t.StartedAt,
		t.EndedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return support.Unavailable("insert transcript", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *TranscriptStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return support.Unavailable("ping postgres", err)
	}
	return nil
}

// Close releases the pool.
func (s *TranscriptStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func nonNil(links []string) []string {
	if links == nil {
		return []string{}
	}
	return links
}
