package store

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_CreateUser(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts username", func(t *testing.T) {
		s, mock := newMockPostgres(t)
		mock.ExpectExec("INSERT INTO users").
			WithArgs("alice").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.CreateUser(ctx, "alice"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to ErrUserExists", func(t *testing.T) {
		s, mock := newMockPostgres(t)
		mock.ExpectExec("INSERT INTO users").
			WithArgs("alice").
			WillReturnError(&pgconn.PgError{Code: "23505"})

		assert.ErrorIs(t, s.CreateUser(ctx, "alice"), ErrUserExists)
	})

	t.Run("other failures are ErrUnavailable", func(t *testing.T) {
		s, mock := newMockPostgres(t)
		mock.ExpectExec("INSERT INTO users").
			WithArgs("alice").
			WillReturnError(errors.New("connection reset"))

		err := s.CreateUser(ctx, "alice")
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.NotErrorIs(t, err, ErrUserExists)
	})
}

func TestPostgresStore_Exists(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("lobby").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := s.UserExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RoomExists(ctx, "lobby")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	ctx := context.Background()
	migrations := fstest.MapFS{
		"001_directory.sql": {Data: []byte("CREATE TABLE users (username TEXT)")},
		"002_rooms.sql":     {Data: []byte("CREATE TABLE rooms (id TEXT)")},
	}

	t.Run("applies pending and skips applied", func(t *testing.T) {
		s, mock := newMockPostgres(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("001_directory.sql").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("002_rooms.sql").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE rooms").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec("INSERT INTO schema_migrations").
			WithArgs("002_rooms.sql").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		n, err := s.Migrate(ctx, migrations)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed statement rolls back and stops", func(t *testing.T) {
		s, mock := newMockPostgres(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("001_directory.sql").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE users").
			WillReturnError(errors.New("syntax error"))
		mock.ExpectRollback()

		n, err := s.Migrate(ctx, migrations)
		require.Error(t, err)
		assert.Equal(t, 0, n)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
