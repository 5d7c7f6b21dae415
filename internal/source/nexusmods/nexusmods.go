// Package nexusmods is the fallback repository for mods published on Nexus
// Mods. A mod is only looked up there when its website url is a Nexus
// Valheim page.
package nexusmods

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"deftheim/internal/domain"
)

// GameDomain is the Nexus game domain for Valheim
const GameDomain = "valheim"

var modPageRe = regexp.MustCompile(`^https?://(?:www\.)?nexusmods\.com/valheim/mods/(\d+)`)

// NexusMods implements source.Repository
type NexusMods struct {
	client *Client
}

// Option configures the repository
type Option func(*options)

type options struct {
	endpoint string
	baseURL  string
	backoff  time.Duration
}

// WithEndpoint overrides the GraphQL endpoint
func WithEndpoint(u string) Option { return func(o *options) { o.endpoint = u } }

// WithBaseURL overrides the REST host
func WithBaseURL(u string) Option { return func(o *options) { o.baseURL = u } }

// WithRetryBackoff sets the base delay between retried requests
func WithRetryBackoff(d time.Duration) Option { return func(o *options) { o.backoff = d } }

// New creates a new NexusMods source
func New(httpClient *http.Client, apiKey string, opts ...Option) *NexusMods {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	c := NewClient(httpClient, apiKey, o.endpoint, o.baseURL)
	if o.backoff > 0 {
		c.backoff = o.backoff
		c.rest.Backoff = o.backoff
	}
	return &NexusMods{client: c}
}

// ID returns the source identifier
func (n *NexusMods) ID() string { return domain.SourceNexusMods }

// Name returns the display name
func (n *NexusMods) Name() string { return "Nexus Mods" }

// ModIDFromURL extracts the numeric Nexus mod id from a Valheim mod page url
func ModIDFromURL(u string) (int, bool) {
	m := modPageRe.FindStringSubmatch(strings.TrimSpace(u))
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	return id, err == nil
}

// Latest returns the current version of mod as published on Nexus Mods
func (n *NexusMods) Latest(ctx context.Context, mod domain.Mod) (*domain.Release, error) {
	nexusID, ok := ModIDFromURL(mod.WebsiteURL)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no nexus page", domain.ErrModNotFound, mod.ID)
	}

	data, err := n.client.GetMod(ctx, GameDomain, nexusID)
	if err != nil {
		return nil, err
	}

	files, err := n.client.GetModFiles(ctx, GameDomain, nexusID)
	if err != nil {
		return nil, err
	}

	rel := &domain.Release{
		ModID:       mod.ID,
		Name:        data.Name,
		Author:      data.Author,
		Version:     data.Version,
		Description: data.Summary,
		Icon:        data.PictureURL,
		WebsiteURL:  mod.WebsiteURL,
		Categories:  nonEmpty(data.Category),
		Downloads:   &data.Downloads,
		Source:      domain.SourceNexusMods,
	}
	if t, err := time.Parse(time.RFC3339, data.UpdatedAt); err == nil {
		rel.Updated = t
	}
	if f, ok := primaryFile(files); ok {
		rel.Ref = strconv.Itoa(f.FileID)
		rel.FileSize = f.Size
		if f.Version != "" {
			rel.Version = f.Version
		}
	}
	return rel, nil
}

// DownloadURL resolves a CDN link for the release's primary file. Nexus
// only hands out links to premium accounts through the API.
func (n *NexusMods) DownloadURL(ctx context.Context, rel *domain.Release) (string, error) {
	nexusID, ok := ModIDFromURL(rel.WebsiteURL)
	if !ok || rel.Ref == "" {
		return "", fmt.Errorf("%w: no nexus file for %s", domain.ErrDownloadFailed, rel.ModID)
	}
	fileID, err := strconv.Atoi(rel.Ref)
	if err != nil {
		return "", fmt.Errorf("invalid file ID %q: %w", rel.Ref, err)
	}

	links, err := n.client.GetDownloadLinks(ctx, GameDomain, nexusID, fileID)
	if err != nil {
		return "", err
	}
	if len(links) == 0 {
		return "", fmt.Errorf("%w: no download links available", domain.ErrDownloadFailed)
	}
	return links[0].URI, nil
}

// primaryFile picks the newest MAIN file, or the newest file of any
// category when there is no MAIN file.
func primaryFile(files []FileData) (FileData, bool) {
	if len(files) == 0 {
		return FileData{}, false
	}
	sorted := make([]FileData, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date > sorted[j].Date })
	for _, f := range sorted {
		if strings.EqualFold(f.Category, "MAIN") {
			return f, true
		}
	}
	return sorted[0], true
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
