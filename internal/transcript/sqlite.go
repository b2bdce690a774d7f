package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists transcripts in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS transcript_records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_key TEXT NOT NULL,
		interaction_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create transcript table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_transcript_session_seq ON transcript_records (session_key, seq)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create transcript index: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		r = fill(r)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transcript_records (id, session_key, interaction_id, agent_id, role, content, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.SessionKey, r.InteractionID, r.AgentID, r.Role, r.Content, r.CreatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("save transcript: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) List(ctx context.Context, sessionKey string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_key, interaction_id, agent_id, role, content, created_at
		 FROM transcript_records WHERE session_key = ? ORDER BY seq DESC LIMIT ?`,
		sessionKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r     Record
			nanos int64
		)
		if err := rows.Scan(&r.ID, &r.SessionKey, &r.InteractionID, &r.AgentID, &r.Role, &r.Content, &nanos); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		r.CreatedAt = time.Unix(0, nanos).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
