package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB is the Postgres handle for the render ledger.
type DB struct {
	*sql.DB
}

func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{DB: conn}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS render_jobs (
	id                 TEXT PRIMARY KEY,
	chat_id            TEXT NOT NULL,
	media_kind         TEXT NOT NULL,
	apply_fade         BOOLEAN NOT NULL DEFAULT FALSE,
	status             TEXT NOT NULL,
	error_kind         TEXT,
	error_message      TEXT,
	messages_to_delete JSONB NOT NULL DEFAULT '[]',
	started_at         TIMESTAMPTZ,
	finished_at        TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS render_jobs_chat_id_idx ON render_jobs (chat_id, created_at DESC);
`

// EnsureSchema creates the ledger table if it does not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
