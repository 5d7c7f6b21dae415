package core_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deftheim/internal/core"
	"deftheim/internal/domain"
)

type serviceEnv struct {
	svc       *core.Service
	configDir string
	dataDir   string
	launcher  *fakeLauncher
}

func newTestService(t *testing.T, remote *httptest.Server) *serviceEnv {
	t.Helper()
	t.Setenv("STEAM_ROOT", "")
	root := t.TempDir()
	if remote == nil {
		remote = httptest.NewServer(http.NotFoundHandler())
		t.Cleanup(remote.Close)
	}

	env := &serviceEnv{
		configDir: filepath.Join(root, "config"),
		dataDir:   filepath.Join(root, "data"),
		launcher:  &fakeLauncher{},
	}
	svc, err := core.NewService(core.ServiceConfig{
		ConfigDir:       env.configDir,
		DataDir:         env.dataDir,
		HTTPClient:      remote.Client(),
		Logger:          quietLogger(),
		Launcher:        env.launcher,
		Home:            root,
		ThunderstoreURL: remote.URL,
		RetryBackoff:    time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	env.svc = svc
	return env
}

func TestNewService_Defaults(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()

	settings := env.svc.LoadSettings(ctx)
	assert.Equal(t, filepath.Join(env.dataDir, "repository"), settings.RepositoryPath)
	assert.True(t, settings.AutoBackup)
	assert.FileExists(t, filepath.Join(env.dataDir, "deftheim.db"))
	assert.Equal(t, []string{domain.SourceThunderstore}, env.svc.Sources())

	mods, err := env.svc.ScanMods(ctx)
	require.NoError(t, err)
	assert.Empty(t, mods)
}

func TestService_ConcurrentMutationConflicts(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-release
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(remote.Close)
	env := newTestService(t, remote)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := env.svc.InstallMod(ctx, "Author-Mod", false)
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("install never reached the remote repository")
	}

	err := env.svc.EnableMod(ctx, "Author-Mod")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.KindConflict, domain.Kind(err))

	_, err = env.svc.CreateBackup(ctx, "")
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Background rescans are skipped rather than queued
	ran, err := env.svc.Rescan(ctx)
	assert.NoError(t, err)
	assert.False(t, ran)

	close(release)
	assert.Error(t, <-done)

	ran, err = env.svc.Rescan(ctx)
	assert.NoError(t, err)
	assert.True(t, ran)
}

func TestService_MutationWaitsForReads(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()

	reading := make(chan struct{})
	release := make(chan struct{})
	go func() {
		env.svc.TryRead(func() error {
			close(reading)
			<-release
			return nil
		})
	}()
	<-reading

	done := make(chan error, 1)
	go func() { done <- env.svc.EnableMod(ctx, "Author-Mod") }()

	select {
	case err := <-done:
		t.Fatalf("mutation ran during a read: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	err := <-done
	assert.ErrorIs(t, err, domain.ErrModNotFound)
	assert.NotErrorIs(t, err, domain.ErrConflict)
}

func TestService_RepoPathMustMatch(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()
	repo := env.svc.LoadSettings(ctx).RepositoryPath

	_, err := env.svc.UpdateMod(ctx, "/somewhere/else", "Author-Mod")
	assert.ErrorIs(t, err, domain.ErrInvalidPath)

	_, err = env.svc.UpdateMod(ctx, "relative/repo", "Author-Mod")
	assert.ErrorIs(t, err, domain.ErrInvalidPath)

	_, err = env.svc.UpdateAllMods(ctx, "/somewhere/else")
	assert.ErrorIs(t, err, domain.ErrInvalidPath)

	// The configured path, spelled differently, is accepted
	_, err = env.svc.UpdateMod(ctx, repo+string(filepath.Separator), "Author-Mod")
	assert.ErrorIs(t, err, domain.ErrModNotFound)

	results, err := env.svc.UpdateAllMods(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestService_SettingsAndConfigFiles(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()

	_, err := env.svc.ListConfigFiles(ctx, "")
	assert.Error(t, err)

	game := filepath.Join(t.TempDir(), "valheim")
	cfgDir := filepath.Join(game, "BepInEx", "config")
	require.NoError(t, os.MkdirAll(cfgDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "mod.cfg"), []byte("a = 1"), 0644))

	settings := env.svc.LoadSettings(ctx)
	settings.ValheimPath = game
	settings.Theme = domain.ThemeLight
	require.NoError(t, env.svc.SaveSettings(ctx, settings))
	assert.Equal(t, game, env.svc.LoadSettings(ctx).ValheimPath)

	files, err := env.svc.ListConfigFiles(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"mod.cfg"}, files)

	require.NoError(t, env.svc.SaveConfigFile(ctx, "", "mod.cfg", "a = 2"))
	content, err := env.svc.ReadConfigFile(ctx, "", "mod.cfg")
	require.NoError(t, err)
	assert.Equal(t, "a = 2", content)

	_, err = env.svc.ReadConfigFile(ctx, "../..", "mod.cfg")
	assert.ErrorIs(t, err, domain.ErrInvalidPath)

	tree, err := env.svc.ConfigTree(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, "mod.cfg", tree[0].Path)

	// Invalid settings are rejected and the previous ones kept
	bad := settings
	bad.Theme = "neon"
	assert.ErrorIs(t, env.svc.SaveSettings(ctx, bad), domain.ErrInvalidConfig)
	assert.Equal(t, domain.ThemeLight, env.svc.LoadSettings(ctx).Theme)

	// Settings survive a restart
	require.NoError(t, env.svc.Close())
	reopened, err := core.NewService(core.ServiceConfig{
		ConfigDir: env.configDir,
		DataDir:   env.dataDir,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, game, reopened.LoadSettings(ctx).ValheimPath)
}

func TestService_LaunchGameSwitchesFirst(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()

	game := filepath.Join(t.TempDir(), "valheim")
	require.NoError(t, os.MkdirAll(filepath.Join(game, "BepInEx", "core"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(game, "BepInEx", "core", "BepInEx.dll"), []byte("core"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(game, "start_game_bepinex.sh"), []byte("#!/bin/sh"), 0755))

	settings := env.svc.LoadSettings(ctx)
	settings.ValheimPath = game
	settings.AutoBackup = false
	require.NoError(t, env.svc.SaveSettings(ctx, settings))
	assert.True(t, env.svc.CheckModFramework())

	p, err := env.svc.CreateProfile(ctx, domain.Profile{Name: "Play"})
	require.NoError(t, err)

	result, err := env.svc.LaunchGame(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, core.LaunchDirect, result.Method)
	assert.Equal(t, p.ID, result.ProfileID)
	require.NotNil(t, result.Switch)
	assert.Equal(t, domain.SwitchCommitted, result.Switch.State)
	assert.Len(t, env.launcher.calls(), 1)

	st, err := env.svc.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.ActiveProfile)
	assert.Equal(t, p.ID, st.ActiveProfile.ID)
	assert.True(t, st.FrameworkInstalled)
}

func TestService_BackupsThroughService(t *testing.T) {
	env := newTestService(t, nil)
	ctx := context.Background()

	b, err := env.svc.CreateBackup(ctx, "manual one")
	require.NoError(t, err)
	assert.Equal(t, "manual one", b.Description)

	list, err := env.svc.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, env.svc.RestoreBackup(ctx, b.ID))
	require.NoError(t, env.svc.DeleteBackup(ctx, b.ID))

	st, err := env.svc.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Backups)
	assert.Empty(t, st.Inconsistent)
}
