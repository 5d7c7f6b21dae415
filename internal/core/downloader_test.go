package core_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"deftheim/internal/core"
	"deftheim/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFastDownloader(client *http.Client) *core.Downloader {
	d := core.NewDownloader(client)
	d.SetRetry(3, time.Millisecond)
	return d
}

func TestDownloader_Download_ReturnsChecksum(t *testing.T) {
	content := []byte("test file content for checksum")
	expectedChecksum := "a6c8dd750278627f27bfb3617b73e122dc982a64a20a465b139869fe1fda65ff"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "test.zip")
	result, err := newFastDownloader(nil).Download(context.Background(), server.URL, destPath, nil)
	require.NoError(t, err)

	assert.Equal(t, destPath, result.Path)
	assert.Equal(t, int64(len(content)), result.Size)
	assert.Equal(t, expectedChecksum, result.Checksum)
}

func TestDownloader_Download_ProgressTracking(t *testing.T) {
	content := make([]byte, 1000)
	for i := range content {
		content[i] = byte(i % 256)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write(content)
	}))
	defer server.Close()

	var lastProgress core.DownloadProgress
	progressFn := func(p core.DownloadProgress) {
		lastProgress = p
	}

	destPath := filepath.Join(t.TempDir(), "nested", "dir", "test.bin")
	_, err := newFastDownloader(nil).Download(context.Background(), server.URL, destPath, progressFn)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), lastProgress.TotalBytes)
	assert.Equal(t, int64(1000), lastProgress.Downloaded)
	assert.InDelta(t, 100.0, lastProgress.Percentage, 0.1)

	data, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestDownloader_Download_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	destPath := filepath.Join(t.TempDir(), "test.zip")
	_, err := newFastDownloader(nil).Download(ctx, server.URL, destPath, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, destPath)
}

func TestDownloader_Download_RetriesOnTransientError(t *testing.T) {
	content := []byte("ok after retries")
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.Write(content)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "test.zip")
	result, err := newFastDownloader(nil).Download(context.Background(), server.URL, destPath, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), result.Size)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDownloader_Download_RetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "test.zip")
	_, err := newFastDownloader(nil).Download(context.Background(), server.URL, destPath, nil)
	require.Error(t, err)

	var netErr *domain.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, domain.KindNetwork, domain.Kind(err))
}

func TestDownloader_Download_NotFoundIsDownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "test.zip")
	_, err := newFastDownloader(nil).Download(context.Background(), server.URL, destPath, nil)
	assert.ErrorIs(t, err, domain.ErrDownloadFailed)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestDownloader_Download_ReplacesExistingFile(t *testing.T) {
	content := []byte("test content for atomic write")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "final.zip")
	require.NoError(t, os.WriteFile(destPath, []byte("old content"), 0644))

	_, err := newFastDownloader(nil).Download(context.Background(), server.URL, destPath, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.NoFileExists(t, destPath+".part")
}

func TestDownloader_Download_CustomHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TestAgent", r.Header.Get("User-Agent"))
		w.Write([]byte("custom client test"))
	}))
	defer server.Close()

	customClient := &http.Client{
		Transport: &testRoundTripper{header: "TestAgent", rt: http.DefaultTransport},
	}

	_, err := newFastDownloader(customClient).Download(context.Background(), server.URL, filepath.Join(t.TempDir(), "x.zip"), nil)
	require.NoError(t, err)
}

type testRoundTripper struct {
	header string
	rt     http.RoundTripper
}

func (t *testRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", t.header)
	return t.rt.RoundTrip(req)
}
