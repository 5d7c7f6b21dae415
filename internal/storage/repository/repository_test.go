package repository_test

import (
	"os"
	"path/filepath"
	"testing"

	"deftheim/internal/storage/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stage(t *testing.T, s *repository.Store, modID, content string) string {
	t.Helper()
	dir, err := s.StagingDir(modID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.dll"), []byte(content), 0644))
	return dir
}

func TestStore_ModPath(t *testing.T) {
	s := repository.New("/repo")
	assert.Equal(t, "/repo/Author-Mod", s.ModPath("Author-Mod"))
}

func TestStore_CommitNew(t *testing.T) {
	s := repository.New(t.TempDir())
	staged := stage(t, s, "A-A", "v1")

	_, finalize, err := s.Commit(staged, "A-A")
	require.NoError(t, err)
	finalize()

	assert.True(t, s.Exists("A-A"))
	data, err := os.ReadFile(filepath.Join(s.ModPath("A-A"), "plugin.dll"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestStore_CommitReplaceAndUndo(t *testing.T) {
	s := repository.New(t.TempDir())
	_, finalize, err := s.Commit(stage(t, s, "A-A", "v1"), "A-A")
	require.NoError(t, err)
	finalize()

	undo, _, err := s.Commit(stage(t, s, "A-A", "v2"), "A-A")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(s.ModPath("A-A"), "plugin.dll"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	require.NoError(t, undo())
	data, err = os.ReadFile(filepath.Join(s.ModPath("A-A"), "plugin.dll"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestStore_RemoveAndUndo(t *testing.T) {
	s := repository.New(t.TempDir())
	_, finalize, err := s.Commit(stage(t, s, "A-A", "v1"), "A-A")
	require.NoError(t, err)
	finalize()

	undo, _, err := s.Remove("A-A")
	require.NoError(t, err)
	assert.False(t, s.Exists("A-A"))

	require.NoError(t, undo())
	assert.True(t, s.Exists("A-A"))

	_, finalize, err = s.Remove("A-A")
	require.NoError(t, err)
	finalize()
	assert.False(t, s.Exists("A-A"))
}

func TestStore_CleanStale(t *testing.T) {
	s := repository.New(t.TempDir())
	staged := stage(t, s, "A-A", "v1")

	require.NoError(t, s.CleanStale())
	_, err := os.Stat(staged)
	assert.True(t, os.IsNotExist(err))
}

func TestSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 10), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 5), 0644))

	size, err := repository.Size(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(15), size)
}
