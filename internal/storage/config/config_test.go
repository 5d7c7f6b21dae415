package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"deftheim/internal/domain"
	"deftheim/internal/storage/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	dataDir := t.TempDir()
	s, err := config.Load(t.TempDir(), dataDir)
	require.NoError(t, err)

	assert.Equal(t, domain.ThemeDark, s.Theme)
	assert.True(t, s.AutoUpdate)
	assert.True(t, s.AutoBackup)
	assert.Equal(t, "en", s.Language)
	assert.Equal(t, "symlink", s.LinkMethod)
	assert.Equal(t, domain.DefaultBackupRetention, s.BackupRetention)
	assert.Equal(t, filepath.Join(dataDir, "repository"), s.RepositoryPath)
	assert.Equal(t, filepath.Join(dataDir, "backups"), s.BackupPath)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
valheim_path: /games/valheim
theme: light
auto_backup: false
link_method: copy
backup_retention: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte(content), 0644))

	s, err := config.Load(dir, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "/games/valheim", s.ValheimPath)
	assert.Equal(t, "/games/valheim/BepInEx", s.FrameworkPath())
	assert.Equal(t, "/games/valheim/BepInEx/config", s.ConfigPath())
	assert.Equal(t, domain.ThemeLight, s.Theme)
	assert.False(t, s.AutoBackup)
	assert.True(t, s.AutoUpdate)
	assert.Equal(t, "copy", s.LinkMethod)
	assert.Equal(t, 3, s.Retention())
}

func TestLoad_InvalidTheme(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte("theme: neon\n"), 0644))

	_, err := config.Load(dir, t.TempDir())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	dataDir := t.TempDir()

	s := config.Defaults(dataDir)
	s.ValheimPath = "/opt/valheim"
	s.Language = "de"
	s.AutoUpdate = false
	require.NoError(t, config.Save(dir, dataDir, s))

	loaded, err := config.Load(dir, dataDir)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)

	_, err = os.Stat(filepath.Join(dir, "settings.yaml.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestSave_RejectsRelativePaths(t *testing.T) {
	s := config.Defaults(t.TempDir())
	s.RepositoryPath = "relative/repo"

	err := config.Save(t.TempDir(), t.TempDir(), s)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
