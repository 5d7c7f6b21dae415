package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"deftheim/internal/domain"
)

// Registry holds the configured repositories in priority order
type Registry struct {
	mu      sync.RWMutex
	sources []Repository
}

// NewRegistry creates a new source registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a repository at the lowest priority. Registering an id
// twice replaces the earlier entry in place.
func (r *Registry) Register(repo Repository) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.sources {
		if s.ID() == repo.ID() {
			r.sources[i] = repo
			return
		}
	}
	r.sources = append(r.sources, repo)
}

// Get retrieves a repository by id
func (r *Registry) Get(id string) (Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sources {
		if s.ID() == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("source not found: %s", id)
}

// List returns the registered repositories in priority order
func (r *Registry) List() []Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Repository, len(r.sources))
	copy(out, r.sources)
	return out
}

// Resolve asks each repository in priority order for the latest release of
// mod and returns the first hit. When no repository knows the mod the error
// wraps domain.ErrModNotFound, unless some repository could not be reached,
// in which case the network errors are returned joined.
func (r *Registry) Resolve(ctx context.Context, mod domain.Mod) (*domain.Release, Repository, error) {
	var netErrs []error
	for _, repo := range r.List() {
		rel, err := repo.Latest(ctx, mod)
		if err == nil {
			if rel.Source == "" {
				rel.Source = repo.ID()
			}
			return rel, repo, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		if errors.Is(err, domain.ErrModNotFound) {
			continue
		}
		netErrs = append(netErrs, err)
	}

	if len(netErrs) > 0 {
		return nil, nil, errors.Join(netErrs...)
	}
	return nil, nil, fmt.Errorf("%w: %s", domain.ErrModNotFound, mod.ID)
}
