package source_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"deftheim/internal/domain"
	"deftheim/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetcher() *source.Fetcher {
	f := source.NewFetcher(nil, "test")
	f.Backoff = time.Millisecond
	return f
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	var out struct{ OK bool }
	err := testFetcher().GetJSON(context.Background(), server.URL, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcher_GivesUpAsNetworkError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var out map[string]any
	err := testFetcher().GetJSON(context.Background(), server.URL, &out)

	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "test", netErr.Source)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcher_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	var out map[string]any
	err := testFetcher().GetJSON(context.Background(), server.URL, &out)
	assert.ErrorIs(t, err, domain.ErrModNotFound)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetcher_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	var out map[string]any
	err := testFetcher().GetJSON(context.Background(), server.URL, &out)
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}

func TestFetcher_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	var out map[string]any
	err := testFetcher().GetJSON(context.Background(), url, &out)
	var netErr *domain.NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestFetcher_SendsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	f := testFetcher()
	f.Header.Set("apikey", "secret")
	var out map[string]any
	require.NoError(t, f.GetJSON(context.Background(), server.URL, &out))
}
