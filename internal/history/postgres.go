package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_history (
	room  TEXT NOT NULL,
	key   TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (room, key)
)`

// PostgresStore persists history in PostgreSQL through a connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a pool for databaseURL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Put(ctx context.Context, room, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_history (room, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (room, key) DO UPDATE SET value = EXCLUDED.value
	`, room, key, value)
	return err
}

func (s *PostgresStore) List(ctx context.Context, room string, opts ListOptions) ([]Entry, error) {
	query := `SELECT key, value FROM chat_history WHERE room = $1 ORDER BY key COLLATE "C"`
	if opts.Reverse {
		query += ` DESC`
	}
	args := []any{room}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) DeleteAll(ctx context.Context, room string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chat_history WHERE room = $1`, room)
	return err
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
