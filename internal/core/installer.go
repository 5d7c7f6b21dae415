package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/sirupsen/logrus"

	"deftheim/internal/domain"
	"deftheim/internal/linker"
	"deftheim/internal/scanner"
	"deftheim/internal/source"
	"deftheim/internal/storage/db"
)

// Install downloads a mod from the first repository that knows it and adds
// it to the repository disabled. An already installed mod is returned
// unchanged. With withDeps, missing dependencies are installed first.
func (c *Catalog) Install(ctx context.Context, id string, withDeps bool) (*domain.Mod, error) {
	return c.install(ctx, id, withDeps, nil)
}

func (c *Catalog) install(ctx context.Context, id string, withDeps bool, chain []string) (*domain.Mod, error) {
	if i := slices.Index(chain, id); i >= 0 {
		return nil, &domain.CyclicDependencyError{Cycle: append(slices.Clone(chain[i:]), id)}
	}

	lookup := domain.Mod{ID: id}
	existing, err := c.db.GetMod(ctx, id)
	switch {
	case err == nil && existing.Installed():
		return existing, nil
	case err == nil:
		lookup = *existing
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	rel, repo, err := c.registry.Resolve(ctx, lookup)
	if err != nil {
		return nil, err
	}

	if withDeps {
		deps, _ := scanner.ParseDependencies(rel.Dependencies)
		for _, dep := range deps {
			if _, err := c.install(ctx, dep, true, append(chain, id)); err != nil {
				return nil, fmt.Errorf("installing dependency %s of %s: %w", dep, id, err)
			}
		}
	}

	staged, err := c.fetch(ctx, repo, rel)
	if err != nil {
		return nil, err
	}

	undo, finalize, err := c.env.Repo.Commit(staged, id)
	if err != nil {
		os.RemoveAll(staged)
		return nil, &domain.IOError{Op: "installing package", Path: c.env.Repo.ModPath(id), Err: err}
	}

	mod, err := c.packageMod(id, domain.StateDisabled, existing, rel)
	if err == nil {
		err = c.db.UpsertMod(ctx, mod)
	}
	if err != nil {
		if uerr := undo(); uerr != nil {
			c.log.WithError(uerr).WithField("mod", id).Error("removing package after failed install")
		}
		return nil, err
	}
	finalize()

	c.log.WithFields(logrus.Fields{"mod": id, "version": mod.Version, "source": rel.Source}).Info("installed mod")
	return mod, nil
}

// Uninstall removes a mod's package, undeploying it first. It is refused
// while an enabled mod depends on it. The catalog entry stays, not
// installed.
func (c *Catalog) Uninstall(ctx context.Context, id string) error {
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
	if dependents := c.resolver.Dependents(mods, id, true); len(dependents) > 0 {
		return &domain.DependencyError{ModID: id, Dependents: dependents}
	}

	src := c.env.Repo.ModPath(id)
	target := c.env.DeployPath(id)
	deployed := mod.Enabled() && target != ""
	redeploy := func() {
		if !deployed {
			return
		}
		if err := linker.DeployTree(context.WithoutCancel(ctx), c.env.Linker, src, target); err != nil {
			c.log.WithError(err).WithField("mod", id).Error("redeploying after failed uninstall")
		}
	}

	if deployed {
		if err := linker.UndeployTree(c.env.Linker, src, target); err != nil {
			return deployError("undeploying", target, err)
		}
	}

	undo, finalize, err := c.env.Repo.Remove(id)
	if err != nil {
		redeploy()
		return &domain.IOError{Op: "removing package", Path: src, Err: err}
	}

	if err := c.db.SetModState(ctx, id, domain.StateNotInstalled); err != nil {
		if uerr := undo(); uerr != nil {
			c.log.WithError(uerr).WithField("mod", id).Error("restoring package after failed uninstall")
		}
		redeploy()
		return err
	}
	finalize()

	c.log.WithField("mod", id).Info("uninstalled mod")
	return nil
}

// UpdateMod replaces an installed mod with the latest release. The new
// version's dependencies must be satisfiable by the current catalog; an
// enabled mod is redeployed and stays enabled. A mod that is already
// current is returned unchanged.
func (c *Catalog) UpdateMod(ctx context.Context, id string) (*domain.Mod, error) {
	mods, err := c.db.ListMods(ctx)
	if err != nil {
		return nil, err
	}
	mod, byID, err := findMod(mods, id)
	if err != nil {
		return nil, err
	}
	if !mod.Installed() {
		return nil, fmt.Errorf("%w: %s", domain.ErrModNotInstalled, id)
	}

	rel, repo, err := c.registry.Resolve(ctx, *mod)
	if err != nil {
		return nil, err
	}
	if !domain.IsNewerVersion(mod.Version, rel.Version) {
		return mod, nil
	}

	staged, err := c.fetch(ctx, repo, rel)
	if err != nil {
		return nil, err
	}
	if unmet, err := c.unmetRequirements(staged, mod, byID); err != nil || len(unmet) > 0 {
		os.RemoveAll(staged)
		if err != nil {
			return nil, err
		}
		return nil, &domain.VersionConflictError{ModID: id, Version: rel.Version, Unmet: unmet}
	}

	src := c.env.Repo.ModPath(id)
	target := c.env.DeployPath(id)
	deployed := mod.Enabled() && target != ""
	redeployOld := func() {
		if !deployed {
			return
		}
		if err := linker.DeployTree(context.WithoutCancel(ctx), c.env.Linker, src, target); err != nil {
			c.log.WithError(err).WithField("mod", id).Error("redeploying previous version")
		}
	}

	if deployed {
		if err := linker.UndeployTree(c.env.Linker, src, target); err != nil {
			os.RemoveAll(staged)
			return nil, deployError("undeploying", target, err)
		}
	}

	undo, finalize, err := c.env.Repo.Commit(staged, id)
	if err != nil {
		os.RemoveAll(staged)
		redeployOld()
		return nil, &domain.IOError{Op: "replacing package", Path: src, Err: err}
	}
	revert := func() {
		if deployed {
			_ = linker.UndeployTree(c.env.Linker, src, target)
		}
		if err := undo(); err != nil {
			c.log.WithError(err).WithField("mod", id).Error("restoring previous version")
		}
		redeployOld()
	}

	if deployed {
		if err := linker.DeployTree(ctx, c.env.Linker, src, target); err != nil {
			revert()
			return nil, deployError("deploying", target, err)
		}
	}

	updated, err := c.packageMod(id, mod.State, mod, rel)
	if err != nil {
		revert()
		return nil, err
	}
	updated.PreviousVersion = mod.Version

	err = c.db.InTx(ctx, func(tx *db.Tx) error {
		if err := tx.UpsertMod(ctx, updated); err != nil {
			return err
		}
		return tx.DeleteUpdatePlanEntry(ctx, id)
	})
	if err != nil {
		revert()
		return nil, err
	}
	finalize()

	c.log.WithFields(logrus.Fields{"mod": id, "from": mod.Version, "to": updated.Version}).Info("updated mod")
	return updated, nil
}

// unmetRequirements checks the staged package's declared dependencies
// against the catalog. An enabled mod additionally needs its dependencies
// enabled.
func (c *Catalog) unmetRequirements(staged string, mod *domain.Mod, byID map[string]*domain.Mod) ([]string, error) {
	manifest, err := scanner.ReadManifest(staged)
	if err != nil {
		return nil, &domain.IOError{Op: "reading new manifest", Path: staged, Err: err}
	}

	deps, requires := scanner.ParseDependencies(manifest.Dependencies)
	var unmet []string
	for _, dep := range deps {
		if dep == mod.ID {
			continue
		}
		m, ok := byID[dep]
		switch {
		case !ok || !m.Installed():
			unmet = append(unmet, dep)
		case requires[dep] != "" && domain.CompareVersions(m.Version, requires[dep]) < 0:
			unmet = append(unmet, fmt.Sprintf("%s >= %s", dep, requires[dep]))
		case mod.Enabled() && !m.Enabled():
			unmet = append(unmet, dep)
		}
	}
	return unmet, nil
}

// fetch downloads and unpacks a release into a fresh staging directory.
func (c *Catalog) fetch(ctx context.Context, repo source.Repository, rel *domain.Release) (string, error) {
	link, err := repo.DownloadURL(ctx, rel)
	if err != nil {
		return "", err
	}

	staged, err := c.env.Repo.StagingDir(rel.ModID)
	if err != nil {
		return "", &domain.IOError{Op: "staging", Path: c.env.Repo.Root(), Err: err}
	}
	archive := staged + c.archiveExt(link)
	defer os.Remove(archive)

	fail := func(err error) (string, error) {
		os.RemoveAll(staged)
		return "", err
	}

	c.log.WithFields(logrus.Fields{"mod": rel.ModID, "version": rel.Version}).Debug("downloading")
	if _, err := c.downloader.Download(ctx, link, archive, downloadProgress(ctx)); err != nil {
		return fail(err)
	}
	if err := c.extractor.Extract(ctx, archive, staged); err != nil {
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		return fail(fmt.Errorf("unpacking %s: %w", rel.ModID, err))
	}
	if err := ensureManifest(staged, rel); err != nil {
		return fail(err)
	}
	return staged, nil
}

// archiveExt keeps the extension of the download when it names a format
// the extractor understands; otherwise the archive is sniffed.
func (c *Catalog) archiveExt(link string) string {
	if u, err := url.Parse(link); err == nil {
		if ext := path.Ext(u.Path); c.extractor.CanExtract(ext) {
			return ext
		}
	}
	return ".download"
}

// ensureManifest writes a manifest from release metadata for archives that
// ship without one, as Nexus uploads usually do.
func ensureManifest(dir string, rel *domain.Release) error {
	_, err := os.Stat(filepath.Join(dir, scanner.ManifestFile))
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return &domain.IOError{Op: "reading manifest", Path: dir, Err: err}
	}

	_, name := domain.SplitModID(rel.ModID)
	data, err := json.MarshalIndent(scanner.Manifest{
		Name:          name,
		VersionNumber: rel.Version,
		WebsiteURL:    rel.WebsiteURL,
		Description:   rel.Description,
		Dependencies:  rel.Dependencies,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, scanner.ManifestFile), data, 0644); err != nil {
		return &domain.IOError{Op: "writing manifest", Path: dir, Err: err}
	}
	return nil
}

// packageMod builds the catalog entry for a committed package, merging the
// previous entry and the release it came from.
func (c *Catalog) packageMod(id string, state domain.ModState, prev *domain.Mod, rel *domain.Release) (*domain.Mod, error) {
	pkg, err := scanner.ReadPackage(c.env.Repo.ModPath(id))
	if err != nil {
		return nil, &domain.IOError{Op: "reading package", Path: c.env.Repo.ModPath(id), Err: err}
	}

	mod := pkg.ToMod(state)
	if prev != nil {
		mergeRemote(&mod, prev)
	}
	applyRelease(&mod, rel)
	return &mod, nil
}

func applyRelease(mod *domain.Mod, rel *domain.Release) {
	mod.Source = rel.Source
	mod.DownloadURL = rel.DownloadURL
	if rel.WebsiteURL != "" {
		mod.WebsiteURL = rel.WebsiteURL
	}
	if mod.Description == "" {
		mod.Description = rel.Description
	}
	if mod.Icon == "" {
		mod.Icon = rel.Icon
	}
	if len(rel.Categories) > 0 {
		mod.Categories = rel.Categories
	}
	if rel.Rating != nil {
		mod.Rating = rel.Rating
	}
	if rel.Downloads != nil {
		mod.Downloads = rel.Downloads
	}
	if !rel.Updated.IsZero() {
		mod.LastUpdated = rel.Updated.UTC()
	}
}
