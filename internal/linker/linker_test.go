package linker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"deftheim/internal/domain"
	"deftheim/internal/linker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestSymlinkLinker_DeployAndDetect(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "test.dll")
	dst := filepath.Join(dir, "dst", "test.dll")
	writeFile(t, src, "content")

	l := linker.NewSymlink()
	require.NoError(t, l.Deploy(src, dst))

	info, err := os.Lstat(dst)
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeSymlink != 0)

	ok, err := l.IsDeployed(src, dst)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.IsDeployed(filepath.Join(dir, "other"), dst)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSymlinkLinker_UndeployRefusesRegularFiles(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "user.dll")
	writeFile(t, dst, "mine")

	l := linker.NewSymlink()
	err := l.Undeploy(dst)
	assert.ErrorIs(t, err, domain.ErrLinkFailed)

	ok, err := l.IsDeployed(filepath.Join(dir, "src.dll"), dst)
	require.NoError(t, err)
	assert.False(t, ok)

	// Missing files are already undeployed
	assert.NoError(t, l.Undeploy(filepath.Join(dir, "missing")))
}

func TestHardlinkLinker_Deploy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.dll")
	dst := filepath.Join(dir, "out", "dst.dll")
	writeFile(t, src, "content")

	l := linker.NewHardlink()
	require.NoError(t, l.Deploy(src, dst))

	srcInfo, err := os.Stat(src)
	require.NoError(t, err)
	dstInfo, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, os.SameFile(srcInfo, dstInfo))

	ok, err := l.IsDeployed(src, dst)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Undeploy(dst))
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestCopyLinker_Deploy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.dll")
	dst := filepath.Join(dir, "dst.dll")
	writeFile(t, src, "content")

	l := linker.NewCopy()
	require.NoError(t, l.Deploy(src, dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "content", string(content))

	ok, err := l.IsDeployed(src, dst)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNew_ReturnsCorrectLinker(t *testing.T) {
	assert.Equal(t, domain.LinkSymlink, linker.New(domain.LinkSymlink).Method())
	assert.Equal(t, domain.LinkHardlink, linker.New(domain.LinkHardlink).Method())
	assert.Equal(t, domain.LinkCopy, linker.New(domain.LinkCopy).Method())
}

func TestTree_DeployDetectUndeploy(t *testing.T) {
	for _, method := range []domain.LinkMethod{domain.LinkSymlink, domain.LinkHardlink, domain.LinkCopy} {
		t.Run(method.String(), func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "repo", "Author-Mod")
			dst := filepath.Join(dir, "plugins", "Author-Mod")
			writeFile(t, filepath.Join(src, "Mod.dll"), "dll")
			writeFile(t, filepath.Join(src, "assets", "bundle"), "bundle")

			l := linker.New(method)
			ok, err := linker.IsTreeDeployed(l, src, dst)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, linker.DeployTree(context.Background(), l, src, dst))
			ok, err = linker.IsTreeDeployed(l, src, dst)
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, linker.UndeployTree(l, src, dst))
			_, err = os.Stat(dst)
			assert.True(t, os.IsNotExist(err))

			// Package untouched
			_, err = os.Stat(filepath.Join(src, "assets", "bundle"))
			assert.NoError(t, err)
		})
	}
}

func TestDeployTree_CancelledRollsBack(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "repo", "Author-Mod")
	dst := filepath.Join(dir, "plugins", "Author-Mod")
	writeFile(t, filepath.Join(src, "Mod.dll"), "dll")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := linker.DeployTree(ctx, linker.NewSymlink(), src, dst)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = os.Stat(dst)
	assert.True(t, os.IsNotExist(err))
}

func TestUndeployTree_KeepsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "repo", "Author-Mod")
	dst := filepath.Join(dir, "plugins", "Author-Mod")
	writeFile(t, filepath.Join(src, "Mod.dll"), "dll")

	l := linker.NewSymlink()
	require.NoError(t, linker.DeployTree(context.Background(), l, src, dst))
	writeFile(t, filepath.Join(dst, "generated.cache"), "x")

	require.NoError(t, linker.UndeployTree(l, src, dst))
	_, err := os.Stat(filepath.Join(dst, "generated.cache"))
	assert.NoError(t, err)
	_, err = os.Lstat(filepath.Join(dst, "Mod.dll"))
	assert.True(t, os.IsNotExist(err))
}
