package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"deftheim/internal/domain"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 250 * time.Millisecond
)

// StatusError is an unexpected HTTP status from a repository
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error (status %d)", e.Code)
	}
	return fmt.Sprintf("API error (status %d): %s", e.Code, e.Body)
}

// Fetcher performs repository HTTP requests with bounded exponential
// retry. Only transport failures and 5xx responses are retried.
type Fetcher struct {
	Client   *http.Client
	Source   string
	Header   http.Header
	Attempts uint64
	Backoff  time.Duration
}

// NewFetcher creates a Fetcher for the named source
func NewFetcher(client *http.Client, sourceID string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		Client:   client,
		Source:   sourceID,
		Header:   make(http.Header),
		Attempts: defaultAttempts,
		Backoff:  defaultBackoff,
	}
}

// GetJSON fetches url and decodes the JSON body into out.
func (f *Fetcher) GetJSON(ctx context.Context, url string, out any) error {
	return f.Do(ctx, http.MethodGet, url, func(resp *http.Response) error {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	})
}

// Do sends a body-less request and hands a 2xx response to handle. Errors
// from handle are not retried.
func (f *Fetcher) Do(ctx context.Context, method, url string, handle func(*http.Response) error) error {
	attempts := f.Attempts
	if attempts == 0 {
		attempts = defaultAttempts
	}
	base := f.Backoff
	if base <= 0 {
		base = defaultBackoff
	}
	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(base))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := f.once(ctx, method, url, handle)
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if isTransient(err) {
		return &domain.NetworkError{Source: f.Source, Err: err}
	}
	return err
}

func (f *Fetcher) once(ctx context.Context, method, url string, handle func(*http.Response) error) (err error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range f.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing response body: %w", cerr)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrModNotFound, url)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s rejected the request", domain.ErrAuthRequired, f.Source)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	return handle(resp)
}

type transportError struct{ err error }

func (e *transportError) Error() string { return fmt.Sprintf("executing request: %v", e.err) }
func (e *transportError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 500
}
