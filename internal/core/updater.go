package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"deftheim/internal/domain"
	"deftheim/internal/source"
	"deftheim/internal/storage/db"
)

// maxConcurrentChecks bounds parallel repository lookups during a check.
const maxConcurrentChecks = 8

// Updater checks for and applies mod updates
type Updater struct {
	db       *db.DB
	catalog  *Catalog
	registry *source.Registry
	log      *logrus.Logger
	now      func() time.Time
}

// NewUpdater creates a new updater
func NewUpdater(database *db.DB, catalog *Catalog, registry *source.Registry, log *logrus.Logger) *Updater {
	return &Updater{
		db:       database,
		catalog:  catalog,
		registry: registry,
		log:      log,
		now:      time.Now,
	}
}

// Check looks up every installed mod in the registered repositories and
// stores the resulting plan for UpdateAll. Mods no repository knows are
// skipped. If every lookup failed on the network, a NetworkError is
// returned and the previous plan is kept.
func (u *Updater) Check(ctx context.Context) ([]domain.UpdateInfo, error) {
	mods, err := u.catalog.List(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		plan      = []domain.UpdateInfo{}
		attempted int
		netErrs   []error
	)
	checkedAt := u.now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)
	for i := range mods {
		mod := mods[i]
		if !mod.Installed() {
			continue
		}
		attempted++
		g.Go(func() error {
			rel, _, err := u.registry.Resolve(gctx, mod)
			if err != nil {
				var netErr *domain.NetworkError
				switch {
				case gctx.Err() != nil:
					return gctx.Err()
				case errors.Is(err, domain.ErrNotFound):
					u.log.WithField("mod", mod.ID).Debug("no repository knows mod")
				case errors.As(err, &netErr):
					mu.Lock()
					netErrs = append(netErrs, err)
					mu.Unlock()
					u.log.WithError(err).WithField("mod", mod.ID).Warn("update lookup failed")
				default:
					u.log.WithError(err).WithField("mod", mod.ID).Warn("update lookup failed")
				}
				return nil
			}

			if !domain.IsNewerVersion(mod.Version, rel.Version) {
				return nil
			}
			mu.Lock()
			plan = append(plan, domain.UpdateInfo{
				ModID:            mod.ID,
				CurrentVersion:   mod.Version,
				AvailableVersion: rel.Version,
				Source:           rel.Source,
				DownloadURL:      rel.DownloadURL,
				CheckedAt:        checkedAt,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if attempted > 0 && len(netErrs) == attempted {
		return nil, &domain.NetworkError{Source: "all repositories", Err: errors.Join(netErrs...)}
	}

	sort.Slice(plan, func(i, j int) bool { return plan[i].ModID < plan[j].ModID })
	if err := u.db.ReplaceUpdatePlan(ctx, plan); err != nil {
		return nil, err
	}
	u.log.WithFields(logrus.Fields{"checked": attempted, "available": len(plan)}).Info("update check complete")
	return plan, nil
}

// Plan returns the stored result of the last check
func (u *Updater) Plan(ctx context.Context) ([]domain.UpdateInfo, error) {
	return u.db.UpdatePlan(ctx)
}

// UpdateAll applies the stored plan one mod at a time. Each update is
// atomic on its own; a failure does not stop the run. If ctx is cancelled
// the remaining mods are reported as not reached. Returns a
// BatchUpdateError carrying every result unless all updates applied.
func (u *Updater) UpdateAll(ctx context.Context) ([]domain.UpdateResult, error) {
	plan, err := u.db.UpdatePlan(ctx)
	if err != nil {
		return nil, err
	}

	progressFn, _ := ctx.Value(domain.UpdateProgressContextKey).(domain.UpdateProgressFunc)

	results := make([]domain.UpdateResult, 0, len(plan))
	incomplete := false
	for i, item := range plan {
		res := domain.UpdateResult{ModID: item.ModID, FromVersion: item.CurrentVersion, ToVersion: item.AvailableVersion}

		if ctx.Err() != nil {
			res.Status = domain.UpdateNotReached
			results = append(results, res)
			incomplete = true
			continue
		}
		if progressFn != nil {
			progressFn(i+1, len(plan), item.ModID)
		}

		mod, err := u.catalog.UpdateMod(ctx, item.ModID)
		switch {
		case err != nil && ctx.Err() != nil:
			res.Status = domain.UpdateNotReached
			res.Err = err
			res.Error = err.Error()
			incomplete = true
		case err != nil:
			res.Status = domain.UpdateFailed
			res.Err = err
			res.Error = err.Error()
			incomplete = true
			u.log.WithError(err).WithField("mod", item.ModID).Warn("update failed")
		case mod.Version == item.CurrentVersion:
			res.Status = domain.UpdateSkipped
			res.ToVersion = mod.Version
			if derr := u.db.DeleteUpdatePlanEntry(ctx, item.ModID); derr != nil {
				u.log.WithError(derr).Warn("clearing planned update")
			}
		default:
			res.Status = domain.UpdateApplied
			res.ToVersion = mod.Version
		}
		results = append(results, res)
	}

	if incomplete {
		return results, &domain.BatchUpdateError{Results: results}
	}
	return results, nil
}
