package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeBatchFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBatch(t *testing.T) {
	path := writeBatchFile(t, `
original: "SELECT id, name FROM users WHERE age > 18"
candidates:
  - id: c1
    worker: optimizer-a
    sql: "SELECT id, name FROM users WHERE age >= 19"
    columns: [id, name]
  - sql: "SELECT id, name FROM users FORCE INDEX (idx_age) WHERE age > 18"
`)
	batch, err := LoadBatch(path)
	require.NoError(t, err)
	require.Equal(t, "SELECT id, name FROM users WHERE age > 18", batch.Original)
	require.Len(t, batch.Candidates, 2)
	require.Equal(t, "c1", batch.Candidates[0].ID)
	require.Equal(t, "optimizer-a", batch.Candidates[0].WorkerTag)
	require.Equal(t, []string{"id", "name"}, batch.Candidates[0].DeclaredColumns)
	require.Empty(t, batch.Candidates[1].ID)
}

func TestBatchFileSource(t *testing.T) {
	path := writeBatchFile(t, `
original: "SELECT id FROM t"
candidates:
  - id: c1
    sql: "SELECT id FROM t WHERE 1 = 1"
`)
	src := &BatchFileSource{Path: path}
	original, err := src.Original()
	require.NoError(t, err)
	require.Equal(t, "SELECT id FROM t", original)

	candidates, err := src.Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "c1", candidates[0].ID)

	// The file is read once; a second call serves the cached batch.
	require.NoError(t, os.Remove(path))
	candidates, err = src.Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
}

func TestLoadBatchMissingOriginal(t *testing.T) {
	path := writeBatchFile(t, `
candidates:
  - sql: "SELECT 1"
`)
	_, err := LoadBatch(path)
	require.Error(t, err)
}

func TestLoadBatchEmptyCandidateSQL(t *testing.T) {
	path := writeBatchFile(t, `
original: "SELECT 1"
candidates:
  - sql: "   "
`)
	_, err := LoadBatch(path)
	require.Error(t, err)
}

func TestLoadBatchMissingFile(t *testing.T) {
	_, err := LoadBatch(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
