package core

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"deftheim/internal/domain"
	"deftheim/internal/linker"
	"deftheim/internal/metrics"
	"deftheim/internal/scanner"
	"deftheim/internal/source"
	"deftheim/internal/storage/db"
)

// Catalog keeps the mod catalog in step with the repository and the plugins
// directory. It performs no locking of its own; callers serialize
// mutations.
type Catalog struct {
	db         *db.DB
	env        *Env
	registry   *source.Registry
	downloader *Downloader
	extractor  *Extractor
	resolver   *DependencyResolver
	log        *logrus.Logger

	scans singleflight.Group
}

// NewCatalog creates a catalog manager
func NewCatalog(database *db.DB, env *Env, registry *source.Registry, downloader *Downloader, log *logrus.Logger) *Catalog {
	return &Catalog{
		db:         database,
		env:        env,
		registry:   registry,
		downloader: downloader,
		extractor:  NewPackageExtractor(),
		resolver:   NewDependencyResolver(),
		log:        log,
	}
}

// Scan reconciles the catalog with the repository. Packages on disk become
// installed entries, enabled when fully deployed. Entries whose package has
// vanished become not installed. Remote metadata on existing entries is
// kept. Concurrent scans share one pass.
func (c *Catalog) Scan(ctx context.Context) ([]domain.Mod, error) {
	v, err, _ := c.scans.Do("scan", func() (any, error) {
		return c.scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Mod), nil
}

func (c *Catalog) scan(ctx context.Context) ([]domain.Mod, error) {
	root := c.env.Repo.Root()
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, &domain.ScanError{Path: root, Err: err}
	}

	packages, failures, err := scanner.ScanRepository(ctx, root)
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		c.log.WithError(f).Warn("skipping unreadable package")
	}

	stored, err := c.db.ListMods(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Mod, len(stored))
	for i := range stored {
		byID[stored[i].ID] = &stored[i]
	}

	seen := make(map[string]bool, len(packages))
	var updated []domain.Mod
	for i := range packages {
		pkg := &packages[i]
		seen[pkg.ID] = true

		state := domain.StateDisabled
		if target := c.env.DeployPath(pkg.ID); target != "" {
			deployed, err := linker.IsTreeDeployed(c.env.Linker, pkg.Path, target)
			if err != nil {
				c.log.WithError(err).WithField("mod", pkg.ID).Warn("checking deployment")
			}
			if deployed {
				state = domain.StateEnabled
			}
		}

		mod := pkg.ToMod(state)
		if prev, ok := byID[pkg.ID]; ok {
			mergeRemote(&mod, prev)
		}
		updated = append(updated, mod)
	}
	for _, prev := range stored {
		if !seen[prev.ID] && prev.Installed() {
			prev.State = domain.StateNotInstalled
			updated = append(updated, prev)
		}
	}

	err = c.db.InTx(ctx, func(tx *db.Tx) error {
		for i := range updated {
			if err := tx.UpsertMod(ctx, &updated[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	mods, err := c.db.ListMods(ctx)
	if err != nil {
		return nil, err
	}
	metrics.SetModCounts(mods)
	c.log.WithFields(logrus.Fields{"packages": len(packages), "failed": len(failures)}).Debug("scan complete")
	return mods, nil
}

// mergeRemote carries repository metadata from the stored entry over a
// freshly scanned one. Local manifest fields win where they are set.
func mergeRemote(mod, prev *domain.Mod) {
	if prev.Source != "" && prev.Source != domain.SourceLocal {
		mod.Source = prev.Source
		mod.LastUpdated = prev.LastUpdated
	}
	if mod.Icon == "" {
		mod.Icon = prev.Icon
	}
	if mod.Description == "" {
		mod.Description = prev.Description
	}
	if mod.WebsiteURL == "" {
		mod.WebsiteURL = prev.WebsiteURL
	}
	mod.Categories = prev.Categories
	mod.DownloadURL = prev.DownloadURL
	mod.Rating = prev.Rating
	mod.Downloads = prev.Downloads
	mod.PreviousVersion = prev.PreviousVersion
}

// Refresh pulls the full listing of every repository that can be browsed
// into the catalog. Mods not in the repository become not-installed
// entries carrying the remote metadata; installed entries only take
// rating, downloads and categories, plus fields their manifest left empty.
func (c *Catalog) Refresh(ctx context.Context) ([]domain.Mod, error) {
	var releases []domain.Release
	var errs []error
	browsed := 0
	for _, repo := range c.registry.List() {
		b, ok := repo.(source.Browser)
		if !ok {
			continue
		}
		browsed++
		list, err := b.Browse(ctx, true)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		releases = append(releases, list...)
	}
	if browsed > 0 && len(errs) == browsed {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		c.log.WithError(err).Warn("refreshing listing")
	}

	stored, err := c.db.ListMods(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Mod, len(stored))
	for i := range stored {
		byID[stored[i].ID] = &stored[i]
	}

	err = c.db.InTx(ctx, func(tx *db.Tx) error {
		for i := range releases {
			rel := &releases[i]
			var mod domain.Mod
			if prev, ok := byID[rel.ModID]; ok && prev.Installed() {
				mod = *prev
				refreshInstalled(&mod, rel)
			} else {
				mod = listedMod(rel)
			}
			if err := tx.UpsertMod(ctx, &mod); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	mods, err := c.db.ListMods(ctx)
	if err != nil {
		return nil, err
	}
	metrics.SetModCounts(mods)
	c.log.WithField("listed", len(releases)).Info("catalog refreshed")
	return mods, nil
}

// listedMod is the catalog entry of a mod known only from a listing.
func listedMod(rel *domain.Release) domain.Mod {
	deps, requires := scanner.ParseDependencies(rel.Dependencies)
	mod := domain.Mod{
		ID:           rel.ModID,
		Name:         rel.Name,
		Version:      rel.Version,
		Author:       rel.Author,
		Size:         rel.FileSize,
		State:        domain.StateNotInstalled,
		Dependencies: deps,
		Requires:     requires,
	}
	applyRelease(&mod, rel)
	return mod
}

func refreshInstalled(mod *domain.Mod, rel *domain.Release) {
	if len(rel.Categories) > 0 {
		mod.Categories = rel.Categories
	}
	if rel.Rating != nil {
		mod.Rating = rel.Rating
	}
	if rel.Downloads != nil {
		mod.Downloads = rel.Downloads
	}
	if mod.Icon == "" {
		mod.Icon = rel.Icon
	}
	if mod.Description == "" {
		mod.Description = rel.Description
	}
	if mod.WebsiteURL == "" {
		mod.WebsiteURL = rel.WebsiteURL
	}
}

// List returns the catalog
func (c *Catalog) List(ctx context.Context) ([]domain.Mod, error) {
	return c.db.ListMods(ctx)
}

// Get returns one catalog entry
func (c *Catalog) Get(ctx context.Context, id string) (*domain.Mod, error) {
	return c.db.GetMod(ctx, id)
}

// Enable deploys an installed mod. Every transitive dependency must already
// be installed and enabled.
func (c *Catalog) Enable(ctx context.Context, id string) error {
	mods, err := c.db.ListMods(ctx)
	if err != nil {
		return err
	}
	mod, byID, err := findMod(mods, id)
	if err != nil {
		return err
	}
	if !mod.Installed() {
		return fmt.Errorf("%w: %s", domain.ErrModNotInstalled, id)
	}
	if mod.Enabled() {
		return nil
	}

	closure, err := c.resolver.Closure(BuildGraph(mods), id)
	if err != nil {
		return err
	}
	var unmet []string
	for _, dep := range closure {
		if m, ok := byID[dep]; !ok || !m.Enabled() {
			unmet = append(unmet, dep)
		}
	}
	if len(unmet) > 0 {
		return &domain.DependencyError{ModID: id, Unmet: unmet}
	}

	return c.setEnabled(ctx, mod, true)
}

// Disable undeploys a mod. It is refused while any installed mod depends
// on it, enabled or not.
func (c *Catalog) Disable(ctx context.Context, id string) error {
	mods, err := c.db.ListMods(ctx)
	if err != nil {
		return err
	}
	mod, _, err := findMod(mods, id)
	if err != nil {
		return err
	}
	if !mod.Installed() {
		return fmt.Errorf("%w: %s", domain.ErrModNotInstalled, id)
	}
	if !mod.Enabled() {
		return nil
	}

	if dependents := c.resolver.Dependents(mods, id, false); len(dependents) > 0 {
		return &domain.DependencyError{ModID: id, Dependents: dependents}
	}

	return c.setEnabled(ctx, mod, false)
}

// setEnabled moves one mod between disabled and enabled without dependency
// checks. The filesystem changes first; if persisting the new state fails
// the filesystem change is reverted.
func (c *Catalog) setEnabled(ctx context.Context, mod *domain.Mod, enable bool) error {
	target := c.env.DeployPath(mod.ID)
	if target == "" {
		return fmt.Errorf("%w: game path is not set", domain.ErrInvalidConfig)
	}
	src := c.env.Repo.ModPath(mod.ID)

	state := domain.StateDisabled
	if enable {
		state = domain.StateEnabled
		if err := linker.DeployTree(ctx, c.env.Linker, src, target); err != nil {
			return deployError("deploying", target, err)
		}
	} else if err := linker.UndeployTree(c.env.Linker, src, target); err != nil {
		return deployError("undeploying", target, err)
	}

	if err := c.db.SetModState(ctx, mod.ID, state); err != nil {
		if enable {
			_ = linker.UndeployTree(c.env.Linker, src, target)
		} else if rerr := linker.DeployTree(context.WithoutCancel(ctx), c.env.Linker, src, target); rerr != nil {
			c.log.WithError(rerr).WithField("mod", mod.ID).Error("redeploying after failed state change")
		}
		return err
	}

	mod.State = state
	c.log.WithFields(logrus.Fields{"mod": mod.ID, "state": state.String()}).Info("mod state changed")
	return nil
}

func deployError(op, path string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.IOError{Op: op, Path: path, Err: fmt.Errorf("%w: %v", domain.ErrLinkFailed, err)}
}

func findMod(mods []domain.Mod, id string) (*domain.Mod, map[string]*domain.Mod, error) {
	byID := make(map[string]*domain.Mod, len(mods))
	for i := range mods {
		byID[mods[i].ID] = &mods[i]
	}
	mod, ok := byID[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrModNotFound, id)
	}
	return mod, byID, nil
}
