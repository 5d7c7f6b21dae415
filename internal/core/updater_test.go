package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deftheim/internal/domain"
)

func TestUpdater_Check(t *testing.T) {
	f := newFixture(t)
	f.installed(t, "Author-Fresh", "1.0.0", false)
	f.installed(t, "Author-Stale", "1.0.0", false)
	f.repo.publish(t, "Author-Stale", "1.2.0")

	plan, err := f.updater.Check(f.ctx)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "Author-Stale", plan[0].ModID)
	assert.Equal(t, "1.0.0", plan[0].CurrentVersion)
	assert.Equal(t, "1.2.0", plan[0].AvailableVersion)
	assert.Equal(t, "fake", plan[0].Source)

	stored, err := f.updater.Plan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, plan[0].ModID, stored[0].ModID)
}

func TestUpdater_CheckAllUnreachable(t *testing.T) {
	f := newFixture(t)
	f.installed(t, "Author-Mod", "1.0.0", false)
	f.repo.setFailure(&domain.NetworkError{Source: "fake", Err: errors.New("connection refused")})

	_, err := f.updater.Check(f.ctx)
	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "all repositories", netErr.Source)
	assert.Equal(t, domain.KindNetwork, domain.Kind(err))
}

func TestUpdater_CheckSkipsUnknownMods(t *testing.T) {
	f := newFixture(t)
	writeManifest(t, f.env.Repo.ModPath("Local-Only"), "1.0.0")
	_, err := f.catalog.Scan(f.ctx)
	require.NoError(t, err)

	plan, err := f.updater.Check(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestUpdater_UpdateAll(t *testing.T) {
	f := newFixture(t)
	f.installed(t, "Author-One", "1.0.0", true)
	f.installed(t, "Author-Two", "1.0.0", false)
	f.repo.publish(t, "Author-One", "1.1.0")
	f.repo.publish(t, "Author-Two", "2.0.0")
	_, err := f.updater.Check(f.ctx)
	require.NoError(t, err)

	var progress []string
	ctx := context.WithValue(f.ctx, domain.UpdateProgressContextKey, domain.UpdateProgressFunc(func(n, total int, modID string) {
		progress = append(progress, modID)
	}))

	results, err := f.updater.UpdateAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, domain.UpdateApplied, r.Status, r.ModID)
	}
	assert.Equal(t, []string{"Author-One", "Author-Two"}, progress)
	assert.Equal(t, "1.1.0", f.mod(t, "Author-One").Version)
	assert.True(t, f.deployed("Author-One"))

	plan, err := f.updater.Plan(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestUpdater_UpdateAllPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.installed(t, "Author-Good", "1.0.0", false)
	f.installed(t, "Author-Bad", "1.0.0", false)
	f.repo.publish(t, "Author-Good", "1.1.0")
	f.repo.publish(t, "Author-Bad", "1.1.0", "Missing-Dependency-1.0.0")
	_, err := f.updater.Check(f.ctx)
	require.NoError(t, err)

	results, err := f.updater.UpdateAll(f.ctx)
	var batchErr *domain.BatchUpdateError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, results, 2)

	byID := map[string]domain.UpdateResult{}
	for _, r := range results {
		byID[r.ModID] = r
	}
	assert.Equal(t, domain.UpdateFailed, byID["Author-Bad"].Status)
	assert.NotEmpty(t, byID["Author-Bad"].Error)
	assert.Equal(t, domain.UpdateApplied, byID["Author-Good"].Status)

	require.Len(t, batchErr.Failed(), 1)
	assert.Equal(t, "Author-Bad", batchErr.Failed()[0].ModID)

	// The failed mod stays planned
	plan, err := f.updater.Plan(f.ctx)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "Author-Bad", plan[0].ModID)
}

func TestUpdater_UpdateAllCancelled(t *testing.T) {
	f := newFixture(t)
	f.installed(t, "Author-One", "1.0.0", false)
	f.installed(t, "Author-Two", "1.0.0", false)
	f.repo.publish(t, "Author-One", "1.1.0")
	f.repo.publish(t, "Author-Two", "1.1.0")
	_, err := f.updater.Check(f.ctx)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	results, err := f.updater.UpdateAll(ctx)
	var batchErr *domain.BatchUpdateError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, domain.UpdateNotReached, r.Status)
	}
	assert.Equal(t, "1.0.0", f.mod(t, "Author-One").Version)
}

func TestUpdater_UpdateAllSkipsCurrent(t *testing.T) {
	f := newFixture(t)
	f.installed(t, "Author-Mod", "1.0.0", false)
	f.repo.publish(t, "Author-Mod", "1.1.0")
	_, err := f.updater.Check(f.ctx)
	require.NoError(t, err)

	// The release is pulled before the update runs
	f.repo.publish(t, "Author-Mod", "1.0.0")

	results, err := f.updater.UpdateAll(f.ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.UpdateSkipped, results[0].Status)

	plan, err := f.updater.Plan(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, plan)
}
