package rpc_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deftheim/internal/domain"
	"deftheim/internal/rpc"
)

func TestDispatcher_Commands(t *testing.T) {
	d := rpc.NewDispatcher(&stubBackend{}, testLogger())
	commands := d.Commands()

	for _, name := range []string{
		"scan_mods", "refresh_catalog", "install_mod", "uninstall_mod", "enable_mod", "disable_mod",
		"create_profile", "update_profile", "delete_profile", "switch_profile",
		"list_profiles", "duplicate_profile", "list_profile_templates",
		"export_profile_to_code", "import_profile_from_code",
		"detect_install_path", "check_mod_framework", "install_mod_framework", "launch_game",
		"check_updates", "update_mod", "update_all_mods",
		"create_backup", "restore_backup", "list_backups", "delete_backup",
		"save_settings", "load_settings",
		"list_config_files", "read_config_file", "save_config_file",
	} {
		assert.Contains(t, commands, name)
	}
	assert.IsIncreasing(t, commands)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(&stubBackend{})

	w := doRequest(r, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(rpc.RequestIDHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestCommandsEndpoint(t *testing.T) {
	r := newTestRouter(&stubBackend{})

	w := doRequest(r, http.MethodGet, "/api/v1/commands", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Commands []string `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Commands, "switch_profile")
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(&stubBackend{})
	doRequest(r, http.MethodGet, "/api/v1/health", "")

	w := doRequest(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deftheim_http_requests_total")
}

func TestInvoke_UnknownCommand(t *testing.T) {
	r := newTestRouter(&stubBackend{})

	w := invoke(r, "format_disk", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "not_found", body.Code)
	assert.NotEmpty(t, body.RequestID)
}

func TestInvoke_InvalidArguments(t *testing.T) {
	backend := &stubBackend{}
	r := newTestRouter(backend)

	w := invoke(r, "enable_mod", `{"modId":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeError(t, w).Code)

	w = invoke(r, "enable_mod", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Message, "modId is required")
	assert.Empty(t, backend.enabled)
}

func TestInvoke_Success(t *testing.T) {
	backend := &stubBackend{}
	r := newTestRouter(backend)

	w := invoke(r, "enable_mod", `{"modId":"Author-Mod"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"result":null}`, w.Body.String())
	assert.Equal(t, []string{"Author-Mod"}, backend.enabled)

	// Empty lists are encoded as arrays
	w = invoke(r, "list_mods", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"result":[]}`, w.Body.String())

	w = invoke(r, "refresh_catalog", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"result":[]}`, w.Body.String())
	assert.Equal(t, 1, backend.refreshed)
}

func TestInvoke_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		details map[string]any
	}{
		{"not found", fmt.Errorf("%w: X-Y", domain.ErrModNotFound), http.StatusNotFound, "not_found", nil},
		{"conflict", fmt.Errorf("enable_mod: %w", domain.ErrConflict), http.StatusConflict, "conflict", nil},
		{
			"dependency",
			&domain.DependencyError{ModID: "A-A", Unmet: []string{"B-B"}},
			http.StatusUnprocessableEntity, "dependency",
			map[string]any{"modId": "A-A", "unmet": []any{"B-B"}, "dependents": nil},
		},
		{
			"cycle",
			&domain.CyclicDependencyError{Cycle: []string{"A-A", "B-B", "A-A"}},
			http.StatusUnprocessableEntity, "cyclic_dependency",
			map[string]any{"cycle": []any{"A-A", "B-B", "A-A"}},
		},
		{
			"network",
			&domain.NetworkError{Source: "thunderstore", Err: errors.New("timeout")},
			http.StatusBadGateway, "network",
			map[string]any{"source": "thunderstore"},
		},
		{"io", &domain.IOError{Op: "linking", Err: errors.New("denied")}, http.StatusInternalServerError, "io", nil},
		{"invalid", fmt.Errorf("%w: bad", domain.ErrInvalidPath), http.StatusBadRequest, "invalid_request", nil},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "internal_error", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&stubBackend{enableErr: tt.err})

			w := invoke(r, "enable_mod", `{"modId":"A-A"}`)
			assert.Equal(t, tt.status, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.err.Error(), body.Message)
			assert.Equal(t, tt.details, body.Details)
		})
	}
}

func TestInvoke_CheckUpdates(t *testing.T) {
	backend := &stubBackend{
		plan: []domain.UpdateInfo{
			{ModID: "Author-Mod", CurrentVersion: "1.0.0", AvailableVersion: "1.2.0"},
			{ModID: "Author-Gone", CurrentVersion: "1.0.0", AvailableVersion: "2.0.0"},
		},
		mods: map[string]domain.Mod{
			"Author-Mod": {ID: "Author-Mod", Name: "Mod", Version: "1.0.0", State: domain.StateEnabled},
		},
	}
	r := newTestRouter(backend)

	var mods []map[string]any
	result(t, invoke(r, "check_updates", ""), &mods)
	require.Len(t, mods, 1)
	assert.Equal(t, "Author-Mod", mods[0]["id"])
	assert.Equal(t, "1.2.0", mods[0]["version"])
	assert.Equal(t, "1.0.0", mods[0]["currentVersion"])
	assert.Equal(t, true, mods[0]["enabled"])
}

func TestCORS(t *testing.T) {
	r := newTestRouter(&stubBackend{})

	req := doRequestWithOrigin(r, "http://localhost:1420")
	assert.Equal(t, "http://localhost:1420", req.Header().Get("Access-Control-Allow-Origin"))

	req = doRequestWithOrigin(r, "http://evil.example")
	assert.Empty(t, req.Header().Get("Access-Control-Allow-Origin"))
}
