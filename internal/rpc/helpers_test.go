package rpc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"deftheim/internal/domain"
	"deftheim/internal/rpc"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// stubBackend implements only what a test sets; other methods panic through
// the nil embedded interface.
type stubBackend struct {
	rpc.Backend

	enableErr error
	enabled   []string
	plan      []domain.UpdateInfo
	mods      map[string]domain.Mod
	refreshed int
}

func (s *stubBackend) RefreshCatalog(context.Context) ([]domain.Mod, error) {
	s.refreshed++
	return nil, nil
}

func (s *stubBackend) EnableMod(_ context.Context, id string) error {
	s.enabled = append(s.enabled, id)
	return s.enableErr
}

func (s *stubBackend) ListMods(context.Context) ([]domain.Mod, error) {
	return nil, nil
}

func (s *stubBackend) CheckUpdates(context.Context) ([]domain.UpdateInfo, error) {
	return s.plan, nil
}

func (s *stubBackend) GetMod(_ context.Context, id string) (*domain.Mod, error) {
	m, ok := s.mods[id]
	if !ok {
		return nil, domain.ErrModNotFound
	}
	return &m, nil
}

func newTestRouter(backend rpc.Backend) http.Handler {
	return rpc.NewRouter(&rpc.RouterDeps{
		Log:         testLogger(),
		Dispatcher:  rpc.NewDispatcher(backend, testLogger()),
		CORSOrigins: []string{"http://localhost:1420"},
		Version:     "test",
	})
}

// doRequest performs an HTTP request against the router and returns the recorder.
func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func invoke(r http.Handler, command, body string) *httptest.ResponseRecorder {
	return doRequest(r, http.MethodPost, "/api/v1/invoke/"+command, body)
}

// result decodes the result field of a successful response into v.
func result(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Result, v))
}

type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	RequestID string         `json:"request_id"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func doRequestWithOrigin(r http.Handler, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	req.Header.Set("Origin", origin)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
