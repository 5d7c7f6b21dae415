// Package source defines the remote mod repositories deftheim can install
// and update from.
package source

import (
	"context"

	"deftheim/internal/domain"
)

// Repository is a remote mod repository
type Repository interface {
	// Identity
	ID() string
	Name() string

	// Latest returns the newest release of mod. Only mod.ID is guaranteed to
	// be set; repositories that key mods differently may use the other
	// catalog fields. Unknown mods yield an error wrapping domain.ErrModNotFound.
	Latest(ctx context.Context, mod domain.Mod) (*domain.Release, error)

	// DownloadURL resolves where the archive for rel can be fetched from.
	DownloadURL(ctx context.Context, rel *domain.Release) (string, error)
}

// Browser is implemented by repositories that can list their whole
// catalog, not just look up known mods.
type Browser interface {
	// Browse returns the newest release of every mod. refresh bypasses any
	// cached listing.
	Browse(ctx context.Context, refresh bool) ([]domain.Release, error)
}
