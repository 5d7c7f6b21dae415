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

func TestResolveUnder(t *testing.T) {
	root := "/games/valheim/BepInEx/config"

	tests := []struct {
		name    string
		rel     string
		want    string
		wantErr bool
	}{
		{"root", "", root, false},
		{"dot", ".", root, false},
		{"subdir", "Azumatt", root + "/Azumatt", false},
		{"nested", "a/b", root + "/a/b", false},
		{"absolute", "/etc", "", true},
		{"traversal", "../plugins", "", true},
		{"hidden traversal", "a/../../x", "", true},
		{"backslash traversal", `a\..\..`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := config.ResolveUnder(root, tt.rel)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveUnder_NoRoot(t *testing.T) {
	_, err := config.ResolveUnder("", "x")
	assert.ErrorIs(t, err, domain.ErrInvalidPath)
}

func TestValidateFileName(t *testing.T) {
	assert.NoError(t, config.ValidateFileName("BepInEx.cfg"))
	assert.Error(t, config.ValidateFileName(""))
	assert.Error(t, config.ValidateFileName(".."))
	assert.Error(t, config.ValidateFileName("a/b.cfg"))
	assert.Error(t, config.ValidateFileName(`a\b.cfg`))
}

func TestSamePath(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(dir, link))

	assert.True(t, config.SamePath(dir, dir+"/"))
	assert.True(t, config.SamePath(dir, link))
	assert.False(t, config.SamePath(dir, t.TempDir()))
}
