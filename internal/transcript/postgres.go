package transcript

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_records (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			session_key TEXT NOT NULL,
			interaction_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_session_seq ON transcript_records (session_key, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		r = fill(r)
		batch.Queue(
			`INSERT INTO transcript_records (id, session_key, interaction_id, agent_id, role, content, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.SessionKey, r.InteractionID, r.AgentID, r.Role, r.Content, r.CreatedAt,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, sessionKey string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_key, interaction_id, agent_id, role, content, created_at
		 FROM transcript_records WHERE session_key=$1 ORDER BY seq DESC LIMIT $2`,
		sessionKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.SessionKey, &r.InteractionID, &r.AgentID, &r.Role, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
