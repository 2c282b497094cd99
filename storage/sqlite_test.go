package storage

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewSQLiteRejectsPathTraversal(t *testing.T) {
	sqlite, err := NewSQLite("../escape.db", zap.NewNop().Sugar())
	assert.Error(t, err)
	assert.Nil(t, sqlite)
}

func TestNewSQLiteInMemory(t *testing.T) {
	sqlite, err := NewSQLite(":memory:", zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	var name string
	err = sqlite.ReadDB.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='table' AND name='csrf_tokens'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "csrf_tokens", name)
}

func TestReadPoolIsQueryOnly(t *testing.T) {
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	_, err = sqlite.ReadDB.Exec(
		`INSERT INTO csrf_tokens (client, token, expiration, created_at, updated_at) VALUES ('c', 't', 1, '', '')`)
	assert.Error(t, err, "read pool must reject writes")
}

func TestWithTransactionCommits(t *testing.T) {
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	err = sqlite.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO csrf_tokens (client, token, expiration, created_at, updated_at) VALUES ('c', 't', 1, '', '')`)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, sqlite.ReadDB.QueryRow(`SELECT COUNT(*) FROM csrf_tokens`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	failure := errors.New("abort")
	err = sqlite.WithTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO csrf_tokens (client, token, expiration, created_at, updated_at) VALUES ('c', 't', 1, '', '')`); err != nil {
			return err
		}
		return failure
	})
	assert.ErrorIs(t, err, failure)

	var count int
	require.NoError(t, sqlite.ReadDB.QueryRow(`SELECT COUNT(*) FROM csrf_tokens`).Scan(&count))
	assert.Equal(t, 0, count)
}
