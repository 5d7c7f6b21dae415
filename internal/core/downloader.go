package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"deftheim/internal/domain"
	"deftheim/internal/source"
)

// DownloadProgress represents the current state of a download
type DownloadProgress struct {
	TotalBytes int64   // Total size in bytes (0 if unknown)
	Downloaded int64   // Bytes downloaded so far
	Percentage float64 // Completion percentage (0-100)
}

// ProgressFunc is called periodically during download with progress updates
type ProgressFunc func(DownloadProgress)

// DownloadResult contains the outcome of a download
type DownloadResult struct {
	Path     string // Final file path
	Size     int64  // Bytes downloaded
	Checksum string // SHA-256 of the downloaded file
}

// Downloader fetches package archives. Transient failures are retried by
// the underlying source.Fetcher.
type Downloader struct {
	fetcher *source.Fetcher
}

// NewDownloader creates a new Downloader with the given HTTP client
// If httpClient is nil, http.DefaultClient is used
func NewDownloader(httpClient *http.Client) *Downloader {
	f := source.NewFetcher(httpClient, "download")
	f.Header.Set("Accept", "application/zip, application/octet-stream, */*")
	return &Downloader{fetcher: f}
}

// SetRetry overrides the retry budget for transient failures.
func (d *Downloader) SetRetry(attempts uint64, backoff time.Duration) {
	d.fetcher.Attempts = attempts
	d.fetcher.Backoff = backoff
}

// Download fetches url into destPath. The file only appears at destPath
// once it is complete.
func (d *Downloader) Download(ctx context.Context, url, destPath string, progressFn ProgressFunc) (*DownloadResult, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return nil, &domain.IOError{Op: "creating download dir", Path: filepath.Dir(destPath), Err: err}
	}

	var result *DownloadResult
	err := d.fetcher.Do(ctx, http.MethodGet, url, func(resp *http.Response) error {
		r, err := writeDownload(resp, destPath, progressFn)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		var netErr *domain.NetworkError
		var ioErr *domain.IOError
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.As(err, &netErr), errors.As(err, &ioErr), errors.Is(err, domain.ErrAuthRequired):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
		}
	}
	return result, nil
}

func writeDownload(resp *http.Response, destPath string, progressFn ProgressFunc) (*DownloadResult, error) {
	tempPath := destPath + ".part"
	file, err := os.Create(tempPath)
	if err != nil {
		return nil, &domain.IOError{Op: "creating file", Path: tempPath, Err: err}
	}
	defer func() {
		file.Close()
		os.Remove(tempPath)
	}()

	hasher := sha256.New()
	reader := &progressReader{
		reader:     resp.Body,
		totalBytes: resp.ContentLength,
		progressFn: progressFn,
	}

	written, err := io.Copy(file, io.TeeReader(reader, hasher))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return nil, fmt.Errorf("short body: got %d of %d bytes", written, resp.ContentLength)
	}

	if err := file.Close(); err != nil {
		return nil, &domain.IOError{Op: "closing file", Path: tempPath, Err: err}
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		return nil, &domain.IOError{Op: "renaming file", Path: destPath, Err: err}
	}

	return &DownloadResult{
		Path:     destPath,
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// progressReader wraps an io.Reader to track download progress
type progressReader struct {
	reader     io.Reader
	totalBytes int64
	downloaded int64
	progressFn ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.downloaded += int64(n)
		if r.progressFn != nil {
			progress := DownloadProgress{
				TotalBytes: r.totalBytes,
				Downloaded: r.downloaded,
			}
			if r.totalBytes > 0 {
				progress.Percentage = float64(r.downloaded) / float64(r.totalBytes) * 100
			}
			r.progressFn(progress)
		}
	}
	return n, err
}

type downloadProgressKey struct{}

// WithDownloadProgress attaches a progress callback used by installs and
// updates running under ctx.
func WithDownloadProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, downloadProgressKey{}, fn)
}

func downloadProgress(ctx context.Context) ProgressFunc {
	fn, _ := ctx.Value(downloadProgressKey{}).(ProgressFunc)
	return fn
}
