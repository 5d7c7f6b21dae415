package rpc_test

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deftheim/internal/core"
	"deftheim/internal/domain"
)

func newServiceRouter(t *testing.T) (http.Handler, *core.Service) {
	t.Helper()
	remote := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(remote.Close)

	root := t.TempDir()
	svc, err := core.NewService(core.ServiceConfig{
		ConfigDir:       filepath.Join(root, "config"),
		DataDir:         filepath.Join(root, "data"),
		Logger:          testLogger(),
		HTTPClient:      remote.Client(),
		ThunderstoreURL: remote.URL,
		RetryBackoff:    time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return newTestRouter(svc), svc
}

func TestService_ProfileRoundTrip(t *testing.T) {
	r, _ := newServiceRouter(t)

	var created domain.Profile
	result(t, invoke(r, "create_profile", `{"profile":{"name":"Vanilla+","mods":[]}}`), &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Vanilla+", created.Name)

	var updated domain.Profile
	result(t, invoke(r, "update_profile", `{"id":"`+created.ID+`","updates":{"description":"light touch"}}`), &updated)
	assert.Equal(t, "light touch", updated.Description)

	var code string
	result(t, invoke(r, "export_profile_to_code", `{"profileId":"`+created.ID+`"}`), &code)
	assert.NotEmpty(t, code)

	var imported domain.Profile
	result(t, invoke(r, "import_profile_from_code", `{"code":"`+code+`","name":"Copy"}`), &imported)
	assert.NotEqual(t, created.ID, imported.ID)

	var report domain.SwitchReport
	result(t, invoke(r, "switch_profile", `{"id":"`+created.ID+`"}`), &report)
	assert.Equal(t, domain.SwitchCommitted, report.State)

	var profiles []domain.Profile
	result(t, invoke(r, "list_profiles", ""), &profiles)
	require.Len(t, profiles, 2)

	w := invoke(r, "delete_profile", `{"id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestService_SettingsAndBackups(t *testing.T) {
	r, svc := newServiceRouter(t)

	var settings domain.AppSettings
	result(t, invoke(r, "load_settings", ""), &settings)
	assert.Equal(t, domain.ThemeDark, settings.Theme)

	settings.Theme = domain.ThemeLight
	body := map[string]any{"settings": settings}
	w := invoke(r, "save_settings", mustJSON(t, body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.ThemeLight, svc.LoadSettings(t.Context()).Theme)

	w = invoke(r, "save_settings", `{"settings":{"theme":"neon"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var backup domain.Backup
	result(t, invoke(r, "create_backup", `{"description":"checkpoint"}`), &backup)
	assert.Equal(t, "checkpoint", backup.Description)

	var backups []domain.Backup
	result(t, invoke(r, "list_backups", ""), &backups)
	require.Len(t, backups, 1)

	w = invoke(r, "restore_backup", `{"backupId":"`+backup.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = invoke(r, "update_all_mods", `{"repoPath":"/not/the/repo"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var results []domain.UpdateResult
	result(t, invoke(r, "update_all_mods", `{"repoPath":""}`), &results)
	assert.Empty(t, results)
}
