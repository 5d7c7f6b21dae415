package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deftheim/internal/domain"
)

type cliEnv struct {
	configDir string
	dataDir   string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	t.Setenv("STEAM_ROOT", "")
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	return &cliEnv{
		configDir: filepath.Join(root, "config"),
		dataDir:   filepath.Join(root, "data"),
	}
}

// run executes the root command. Flag values persist between executions,
// so the directory and output flags are always passed explicitly.
func (e *cliEnv) run(t *testing.T, asJSON bool, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)

	full := []string{
		"--config-dir", e.configDir,
		"--data-dir", e.dataDir,
		"--no-color",
		"--json=" + strconv.FormatBool(asJSON),
	}
	rootCmd.SetArgs(append(full, args...))
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestProfileCommands(t *testing.T) {
	env := newCLIEnv(t)
	t.Cleanup(func() { profileMods, profileDescription, profileName = nil, "", "" })

	out, err := env.run(t, false, "profile", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No profiles found.")

	out, err = env.run(t, false, "profile", "create", "Vanilla+", "--description", "light touch")
	require.NoError(t, err)
	assert.Contains(t, out, "Created profile Vanilla+ (0 mods)")

	out, err = env.run(t, true, "profile", "list")
	require.NoError(t, err)
	var profiles []domain.Profile
	require.NoError(t, json.Unmarshal([]byte(out), &profiles))
	require.Len(t, profiles, 1)
	assert.Equal(t, "Vanilla+", profiles[0].Name)
	assert.Equal(t, "light touch", profiles[0].Description)

	// Profiles resolve by name, case-insensitively
	out, err = env.run(t, false, "profile", "duplicate", "vanilla+", "--name", "Copy")
	require.NoError(t, err)
	assert.Contains(t, out, "Created profile Copy")

	out, err = env.run(t, false, "profile", "export", "Copy")
	require.NoError(t, err)
	code := strings.TrimSpace(out)
	assert.NotEmpty(t, code)

	out, err = env.run(t, false, "profile", "import", code, "--name", "Imported")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported profile Imported")

	out, err = env.run(t, false, "profile", "delete", "Copy")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted profile Copy")

	_, err = env.run(t, false, "profile", "delete", "Copy")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	assert.Equal(t, 1, exitCode(err))
}

func TestSettingsCommands(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, false, "settings", "set", "theme", "light")
	require.NoError(t, err)
	assert.Contains(t, out, "Set theme to light")

	out, err = env.run(t, true, "settings", "show")
	require.NoError(t, err)
	var s domain.AppSettings
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, domain.ThemeLight, s.Theme)

	_, err = env.run(t, false, "settings", "set", "colour", "blue")
	var usage *usageError
	require.ErrorAs(t, err, &usage)
	assert.Equal(t, 2, exitCode(err))

	_, err = env.run(t, false, "settings", "set", "theme", "neon")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestInvokeCommand(t *testing.T) {
	env := newCLIEnv(t)
	t.Cleanup(func() { invokeList = false })

	out, err := env.run(t, false, "invoke", "create_profile", `{"profile":{"name":"From API"}}`)
	require.NoError(t, err)
	var created domain.Profile
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "From API", created.Name)
	assert.NotEmpty(t, created.ID)

	out, err = env.run(t, false, "invoke", "list_profiles")
	require.NoError(t, err)
	assert.Contains(t, out, created.ID)

	_, err = env.run(t, false, "invoke", "get_profile", `{"id":`)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = env.run(t, false, "invoke", "no_such_command")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	out, err = env.run(t, false, "invoke", "--list", "status")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.Contains(t, names, "switch_profile")
}

func TestStatusCommand(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, false, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not set")
	assert.Contains(t, out, "0 installed, 0 enabled")

	out, err = env.run(t, true, "status")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, false, st["frameworkInstalled"])
}
