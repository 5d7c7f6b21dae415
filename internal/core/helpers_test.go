package core_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"deftheim/internal/core"
	"deftheim/internal/domain"
	"deftheim/internal/source"
	"deftheim/internal/storage/db"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeRepo is an in-process remote repository serving zip packages from an
// httptest server.
type fakeRepo struct {
	mu       sync.Mutex
	releases map[string]*domain.Release
	archives map[string][]byte
	fail     error
	server   *httptest.Server
}

func newFakeRepo(t *testing.T) *fakeRepo {
	t.Helper()
	r := &fakeRepo{
		releases: make(map[string]*domain.Release),
		archives: make(map[string][]byte),
	}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		data, ok := r.archives[req.URL.Path]
		r.mu.Unlock()
		if !ok {
			http.NotFound(w, req)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRepo) ID() string   { return "fake" }
func (r *fakeRepo) Name() string { return "Fake" }

func (r *fakeRepo) Latest(_ context.Context, mod domain.Mod) (*domain.Release, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	rel, ok := r.releases[mod.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrModNotFound, mod.ID)
	}
	out := *rel
	return &out, nil
}

func (r *fakeRepo) DownloadURL(_ context.Context, rel *domain.Release) (string, error) {
	return rel.DownloadURL, nil
}

func (r *fakeRepo) Browse(_ context.Context, _ bool) ([]domain.Release, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	out := make([]domain.Release, 0, len(r.releases))
	for _, rel := range r.releases {
		out = append(out, *rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModID < out[j].ModID })
	return out, nil
}

// rate sets the listing statistics of a published release.
func (r *fakeRepo) rate(id string, rating float64, downloads int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel := r.releases[id]
	rel.Rating = &rating
	rel.Downloads = &downloads
}

func (r *fakeRepo) setFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

// publish makes version the latest release of id. deps are manifest
// dependency strings such as "Author-Name-1.0.0".
func (r *fakeRepo) publish(t *testing.T, id, version string, deps ...string) {
	t.Helper()
	_, name := domain.SplitModID(id)
	if deps == nil {
		deps = []string{}
	}
	manifest, err := json.Marshal(map[string]any{
		"name":           name,
		"version_number": version,
		"description":    name + " for tests",
		"dependencies":   deps,
	})
	require.NoError(t, err)

	r.publishFiles(t, id, version, deps, map[string]string{
		"manifest.json":            string(manifest),
		"plugins/" + name + ".dll": "binary " + version,
	})
}

// publishFiles publishes a release whose archive holds exactly files.
func (r *fakeRepo) publishFiles(t *testing.T, id, version string, deps []string, files map[string]string) {
	t.Helper()
	author, name := domain.SplitModID(id)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for entry, content := range files {
		w, err := zw.Create(entry)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := "/dl/" + id + "-" + version + ".zip"
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archives[path] = buf.Bytes()
	r.releases[id] = &domain.Release{
		ModID:        id,
		Name:         name,
		Author:       author,
		Version:      version,
		DownloadURL:  r.server.URL + path,
		Dependencies: deps,
		Categories:   []string{"Tweaks"},
		Updated:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

type fixture struct {
	ctx        context.Context
	root       string
	game       string
	db         *db.DB
	env        *core.Env
	repo       *fakeRepo
	registry   *source.Registry
	downloader *core.Downloader
	catalog    *core.Catalog
	backups    *core.BackupManager
	profiles   *core.ProfileManager
	updater    *core.Updater
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	game := filepath.Join(root, "valheim")
	require.NoError(t, os.MkdirAll(game, 0755))

	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	env := core.NewEnv(domain.AppSettings{
		ValheimPath:     game,
		RepositoryPath:  filepath.Join(root, "repository"),
		BackupPath:      filepath.Join(root, "backups"),
		Theme:           domain.ThemeDark,
		LinkMethod:      domain.LinkSymlink.String(),
		BackupRetention: 3,
	})

	repo := newFakeRepo(t)
	registry := source.NewRegistry()
	registry.Register(repo)

	downloader := core.NewDownloader(repo.server.Client())
	downloader.SetRetry(1, time.Millisecond)

	log := quietLogger()
	catalog := core.NewCatalog(database, env, registry, downloader, log)
	backups := core.NewBackupManager(database, env, log)

	return &fixture{
		ctx:        context.Background(),
		root:       root,
		game:       game,
		db:         database,
		env:        env,
		repo:       repo,
		registry:   registry,
		downloader: downloader,
		catalog:    catalog,
		backups:    backups,
		profiles:   core.NewProfileManager(database, env, catalog, backups, log),
		updater:    core.NewUpdater(database, catalog, registry, log),
	}
}

// installed publishes and installs id, enabling it when enable is set.
func (f *fixture) installed(t *testing.T, id, version string, enable bool, deps ...string) {
	t.Helper()
	f.repo.publish(t, id, version, deps...)
	_, err := f.catalog.Install(f.ctx, id, false)
	require.NoError(t, err)
	if enable {
		require.NoError(t, f.catalog.Enable(f.ctx, id))
	}
}

func (f *fixture) mod(t *testing.T, id string) *domain.Mod {
	t.Helper()
	mod, err := f.catalog.Get(f.ctx, id)
	require.NoError(t, err)
	return mod
}

// deployed reports whether id's plugin file is present in the plugins dir.
func (f *fixture) deployed(id string) bool {
	_, name := domain.SplitModID(id)
	_, err := os.Lstat(filepath.Join(f.env.DeployPath(id), "plugins", name+".dll"))
	return err == nil
}
