// Package thunderstore reads the Valheim community listing of the
// Thunderstore package repository.
package thunderstore

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"deftheim/internal/domain"
	"deftheim/internal/source"
)

const (
	// DefaultBaseURL is the public Thunderstore host
	DefaultBaseURL = "https://thunderstore.io"
	listingPath    = "/c/valheim/api/v1/package/"
	defaultTTL     = 10 * time.Minute
)

// Thunderstore implements source.Repository over the package listing. The
// listing is fetched whole, cached for a TTL and shared between concurrent
// callers.
type Thunderstore struct {
	fetcher *source.Fetcher
	baseURL string
	ttl     time.Duration
	now     func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	index   map[string]*Package
	fetched time.Time
}

// Option configures a Thunderstore repository
type Option func(*Thunderstore)

// WithBaseURL points the repository at another host
func WithBaseURL(u string) Option {
	return func(t *Thunderstore) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithTTL sets how long a fetched listing is reused
func WithTTL(d time.Duration) Option {
	return func(t *Thunderstore) { t.ttl = d }
}

// WithRetryBackoff sets the base delay between retried requests
func WithRetryBackoff(d time.Duration) Option {
	return func(t *Thunderstore) { t.fetcher.Backoff = d }
}

// New creates a Thunderstore repository
func New(httpClient *http.Client, opts ...Option) *Thunderstore {
	t := &Thunderstore{
		fetcher: source.NewFetcher(httpClient, domain.SourceThunderstore),
		baseURL: DefaultBaseURL,
		ttl:     defaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID returns the source identifier
func (t *Thunderstore) ID() string { return domain.SourceThunderstore }

// Name returns the display name
func (t *Thunderstore) Name() string { return "Thunderstore" }

// Latest returns the newest version of the package named by mod.ID
func (t *Thunderstore) Latest(ctx context.Context, mod domain.Mod) (*domain.Release, error) {
	index, err := t.listing(ctx)
	if err != nil {
		return nil, err
	}

	pkg, ok := index[mod.ID]
	if !ok || len(pkg.Versions) == 0 {
		return nil, fmt.Errorf("%w: %s on thunderstore", domain.ErrModNotFound, mod.ID)
	}
	return toRelease(pkg), nil
}

// DownloadURL returns the package archive location from the listing
func (t *Thunderstore) DownloadURL(_ context.Context, rel *domain.Release) (string, error) {
	if rel.DownloadURL == "" {
		return "", fmt.Errorf("%w: no download url for %s", domain.ErrDownloadFailed, rel.ModID)
	}
	return rel.DownloadURL, nil
}

// Browse returns the newest release of every listed package, ordered by
// mod id. Deprecated packages are left out. refresh bypasses the cache.
func (t *Thunderstore) Browse(ctx context.Context, refresh bool) ([]domain.Release, error) {
	if refresh {
		t.Invalidate()
	}
	index, err := t.listing(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Release, 0, len(index))
	for _, p := range index {
		if p.IsDeprecated || len(p.Versions) == 0 {
			continue
		}
		out = append(out, *toRelease(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModID < out[j].ModID })
	return out, nil
}

// Invalidate drops the cached listing
func (t *Thunderstore) Invalidate() {
	t.mu.Lock()
	t.index = nil
	t.mu.Unlock()
}

func (t *Thunderstore) listing(ctx context.Context) (map[string]*Package, error) {
	t.mu.RLock()
	index, fetched := t.index, t.fetched
	t.mu.RUnlock()
	if index != nil && t.now().Sub(fetched) < t.ttl {
		return index, nil
	}

	v, err, _ := t.group.Do("listing", func() (any, error) {
		var packages []Package
		if err := t.fetcher.GetJSON(ctx, t.baseURL+listingPath, &packages); err != nil {
			return nil, fmt.Errorf("fetching package listing: %w", err)
		}

		index := make(map[string]*Package, len(packages))
		for i := range packages {
			index[packages[i].FullName] = &packages[i]
		}

		t.mu.Lock()
		t.index = index
		t.fetched = t.now()
		t.mu.Unlock()
		return index, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]*Package), nil
}

func toRelease(p *Package) *domain.Release {
	v := p.Versions[0]
	rating := float64(p.RatingScore)
	var downloads int64
	for _, pv := range p.Versions {
		downloads += pv.Downloads
	}

	website := v.WebsiteURL
	if website == "" {
		website = p.PackageURL
	}

	return &domain.Release{
		ModID:        p.FullName,
		Name:         p.Name,
		Author:       p.Owner,
		Version:      v.VersionNumber,
		Description:  v.Description,
		Icon:         v.Icon,
		DownloadURL:  v.DownloadURL,
		WebsiteURL:   website,
		Dependencies: v.Dependencies,
		Categories:   p.Categories,
		Rating:       &rating,
		Downloads:    &downloads,
		FileSize:     v.FileSize,
		Updated:      p.DateUpdated,
		Source:       domain.SourceThunderstore,
	}
}
