package nexusmods

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hasura/go-graphql-client"
	"github.com/sethvargo/go-retry"

	"deftheim/internal/domain"
	"deftheim/internal/source"
)

const (
	defaultGraphQLEndpoint = "https://api.nexusmods.com/v2/graphql"
	defaultRESTBaseURL     = "https://api.nexusmods.com"
)

// Client wraps the Nexus Mods GraphQL API for metadata and the REST API for
// download links.
type Client struct {
	gql     *graphql.Client
	rest    *source.Fetcher
	baseURL string
	backoff time.Duration
}

// NewClient creates a new Nexus Mods API client. Empty endpoint and baseURL
// select the public API.
func NewClient(httpClient *http.Client, apiKey, endpoint, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = defaultGraphQLEndpoint
	}
	if baseURL == "" {
		baseURL = defaultRESTBaseURL
	}

	authed := &http.Client{
		Timeout:   httpClient.Timeout,
		Transport: &apiKeyTransport{base: httpClient.Transport, apiKey: apiKey},
	}

	rest := source.NewFetcher(httpClient, domain.SourceNexusMods)
	rest.Header.Set("apikey", apiKey)

	return &Client{
		gql:     graphql.NewClient(endpoint, authed),
		rest:    rest,
		baseURL: strings.TrimRight(baseURL, "/"),
		backoff: 250 * time.Millisecond,
	}
}

type apiKeyTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.apiKey != "" {
		req = req.Clone(req.Context())
		req.Header.Set("apikey", t.apiKey)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// GetMod fetches a mod by its numeric id
func (c *Client) GetMod(ctx context.Context, gameDomain string, modID int) (*ModData, error) {
	var query struct {
		Mod ModData `graphql:"mod(gameDomain: $gameDomain, modId: $modId)"`
	}
	variables := map[string]any{
		"gameDomain": graphql.String(gameDomain),
		"modId":      graphql.Int(modID),
	}

	if err := c.query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("querying mod %d: %w", modID, err)
	}
	if query.Mod.ModID == 0 {
		return nil, fmt.Errorf("%w: nexus mod %d", domain.ErrModNotFound, modID)
	}
	return &query.Mod, nil
}

// GetModFiles fetches the files of a mod
func (c *Client) GetModFiles(ctx context.Context, gameDomain string, modID int) ([]FileData, error) {
	var query struct {
		ModFiles []FileData `graphql:"modFiles(gameDomain: $gameDomain, modId: $modId)"`
	}
	variables := map[string]any{
		"gameDomain": graphql.String(gameDomain),
		"modId":      graphql.Int(modID),
	}

	if err := c.query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("querying files of mod %d: %w", modID, err)
	}
	return query.ModFiles, nil
}

// GetDownloadLinks asks the REST API for download locations of a file
func (c *Client) GetDownloadLinks(ctx context.Context, gameDomain string, modID, fileID int) ([]DownloadLink, error) {
	url := fmt.Sprintf("%s/v1/games/%s/mods/%d/files/%d/download_link.json", c.baseURL, gameDomain, modID, fileID)

	var links []DownloadLink
	if err := c.rest.GetJSON(ctx, url, &links); err != nil {
		return nil, fmt.Errorf("getting download links: %w", err)
	}
	return links, nil
}

// query runs a GraphQL query, retrying request-level failures.
func (c *Client) query(ctx context.Context, q any, variables map[string]any) error {
	backoff := retry.WithMaxRetries(2, retry.NewExponential(c.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.gql.Query(ctx, q, variables)
		if isRequestError(err) {
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
	if isRequestError(err) {
		if strings.Contains(err.Error(), "401") || strings.Contains(err.Error(), "403") {
			return fmt.Errorf("%w: nexusmods rejected the api key", domain.ErrAuthRequired)
		}
		return &domain.NetworkError{Source: domain.SourceNexusMods, Err: err}
	}
	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return fmt.Errorf("%w: %v", domain.ErrModNotFound, err)
	}
	return err
}

// isRequestError reports transport failures and non-200 responses, which
// the GraphQL client tags with the request_error code.
func isRequestError(err error) bool {
	var gqlErrs graphql.Errors
	if !errors.As(err, &gqlErrs) {
		return false
	}
	for _, e := range gqlErrs {
		if code, _ := e.Extensions["code"].(string); code == graphql.ErrRequestError {
			return true
		}
	}
	return false
}
