package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/drivedeck/internal/logging"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS drivedeck_sessions (
	id         TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS drivedeck_sessions_expires_idx ON drivedeck_sessions (expires_at);
`

// PostgresStore keeps sessions in a PostgreSQL table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database and creates the sessions table.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Name implements Store.
func (s *PostgresStore) Name() string { return "postgres" }

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM drivedeck_sessions WHERE id = $1 AND expires_at > now()`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return data, nil
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO drivedeck_sessions (id, data, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`,
		id, data, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drivedeck_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Purge removes expired rows.
func (s *PostgresStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drivedeck_sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Debug("purged expired sessions", zap.Int64("count", n))
	}
	return n, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
