package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDB_Memory(t *testing.T) {
	conn, err := NewSqliteDB()
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	_, err = conn.Exec("INSERT INTO t (v) VALUES ('a')")
	require.NoError(t, err)

	var n int
	require.NoError(t, conn.Get(&n, "SELECT COUNT(*) FROM t"))
	assert.Equal(t, 1, n)
}

func TestNewSqliteDB_FileCreatesParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	conn, err := NewSqliteDB(WithPath(path), WithMaxOpenConns(1))
	require.NoError(t, err)
	defer conn.Close()

	assert.DirExists(t, filepath.Dir(path))
	assert.FileExists(t, path)
}

func TestNewSqliteDB_BadPragma(t *testing.T) {
	_, err := NewSqliteDB(WithPragmas("THIS IS NOT SQL;"))
	assert.Error(t, err)
}
