// Package store handles all database and shared-store interactions.
//
// postgres.go -- pgxpool connection setup and directory queries.
// Postgres is the durable directory of users and rooms; the admission layer only
// ever asks it existence questions. All queries are parameterized.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the subset of *pgxpool.Pool the store uses.
// Lets tests substitute pgxmock.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore is the durable user and room directory.
type PostgresStore struct {
	pool pgxPool
}

// NewPostgresStore creates a connection pool, pings it, and returns a ready-to-use store.
// Call once at startup; the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser inserts a new user. Username must already be normalized and validated.
// Returns ErrUserExists on a unique violation.
func (s *PostgresStore) CreateUser(ctx context.Context, username string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO users (username) VALUES ($1)",
		username)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrUserExists
		}
		return fmt.Errorf("%w: creating user: %w", ErrUnavailable, err)
	}
	return nil
}

// UserExists reports whether username has registered.
func (s *PostgresStore) UserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)",
		username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: checking user: %w", ErrUnavailable, err)
	}
	return exists, nil
}

// RoomExists reports whether a room with the given id exists.
func (s *PostgresStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)",
		roomID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: checking room: %w", ErrUnavailable, err)
	}
	return exists, nil
}
