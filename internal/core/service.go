package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"deftheim/internal/domain"
	"deftheim/internal/metrics"
	"deftheim/internal/scanner"
	"deftheim/internal/source"
	"deftheim/internal/source/nexusmods"
	"deftheim/internal/source/thunderstore"
	"deftheim/internal/storage/config"
	"deftheim/internal/storage/db"
)

// ServiceConfig holds configuration for the core service
type ServiceConfig struct {
	ConfigDir string // Directory holding settings.yaml
	DataDir   string // Directory for the database and default storage paths

	// NexusAPIKey overrides the key stored in the database. Nexus Mods is
	// only consulted when a key is available.
	NexusAPIKey string

	HTTPClient *http.Client
	Logger     *logrus.Logger
	Launcher   Launcher
	Home       string // used for Steam library discovery

	ThunderstoreURL string
	NexusEndpoint   string
	NexusBaseURL    string
	RetryBackoff    time.Duration // zero keeps the library defaults
}

// Service is the single owner of application state. Every RPC command maps
// to one method. Mutating methods fail fast with domain.ErrConflict when
// another mutation is running, then wait for in-flight reads to drain and
// take the gate exclusively; reads share it.
type Service struct {
	busy sync.Mutex
	gate sync.RWMutex

	cfg        ServiceConfig
	db         *db.DB
	env        *Env
	registry   *source.Registry
	downloader *Downloader
	catalog    *Catalog
	profiles   *ProfileManager
	backups    *BackupManager
	updater    *Updater
	system     *System
	log        *logrus.Logger
}

// NewService creates a new core service instance
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetOutput(io.Discard)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.Launcher == nil {
		cfg.Launcher = ExecLauncher{}
	}
	if cfg.Home == "" {
		cfg.Home, _ = os.UserHomeDir()
	}

	settings, err := config.Load(cfg.ConfigDir, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	database, err := db.New(filepath.Join(cfg.DataDir, "deftheim.db"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	env := NewEnv(*settings)
	if err := env.Repo.CleanStale(); err != nil {
		cfg.Logger.WithError(err).Warn("cleaning stale repository entries")
	}

	s := &Service{
		cfg:        cfg,
		db:         database,
		env:        env,
		registry:   source.NewRegistry(),
		downloader: NewDownloader(cfg.HTTPClient),
		log:        cfg.Logger,
	}
	if cfg.RetryBackoff > 0 {
		s.downloader.SetRetry(3, cfg.RetryBackoff)
	}

	if err := s.registerSources(context.Background()); err != nil {
		database.Close()
		return nil, err
	}

	s.catalog = NewCatalog(database, env, s.registry, s.downloader, s.log)
	s.backups = NewBackupManager(database, env, s.log)
	s.profiles = NewProfileManager(database, env, s.catalog, s.backups, s.log)
	s.updater = NewUpdater(database, s.catalog, s.registry, s.log)
	s.system = NewSystem(env, s.registry, s.downloader, cfg.Launcher, cfg.Home, s.log)

	return s, nil
}

func (s *Service) registerSources(ctx context.Context) error {
	var tsOpts []thunderstore.Option
	if s.cfg.ThunderstoreURL != "" {
		tsOpts = append(tsOpts, thunderstore.WithBaseURL(s.cfg.ThunderstoreURL))
	}
	if s.cfg.RetryBackoff > 0 {
		tsOpts = append(tsOpts, thunderstore.WithRetryBackoff(s.cfg.RetryBackoff))
	}
	s.registry.Register(thunderstore.New(s.cfg.HTTPClient, tsOpts...))

	key := s.cfg.NexusAPIKey
	if key == "" {
		token, err := s.db.GetToken(ctx, domain.SourceNexusMods)
		if err != nil {
			return err
		}
		if token != nil {
			key = token.APIKey
		}
	}
	if key != "" {
		s.registry.Register(s.nexus(key))
	}
	return nil
}

func (s *Service) nexus(key string) *nexusmods.NexusMods {
	var opts []nexusmods.Option
	if s.cfg.NexusEndpoint != "" {
		opts = append(opts, nexusmods.WithEndpoint(s.cfg.NexusEndpoint))
	}
	if s.cfg.NexusBaseURL != "" {
		opts = append(opts, nexusmods.WithBaseURL(s.cfg.NexusBaseURL))
	}
	if s.cfg.RetryBackoff > 0 {
		opts = append(opts, nexusmods.WithRetryBackoff(s.cfg.RetryBackoff))
	}
	return nexusmods.New(s.cfg.HTTPClient, key, opts...)
}

// Close releases resources held by the service
func (s *Service) Close() error {
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// mutate runs fn holding the gate exclusively. It never waits for a
// running mutation; reads, background rescans included, are short and are
// waited for.
func (s *Service) mutate(op string, fn func() error) error {
	if !s.busy.TryLock() {
		metrics.ObserveOperation(op, domain.ErrConflict)
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}
	defer s.busy.Unlock()
	s.gate.Lock()
	defer s.gate.Unlock()

	err := fn()
	metrics.ObserveOperation(op, err)
	return err
}

func (s *Service) read(fn func() error) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return fn()
}

// TryRead runs fn under the shared gate unless a mutation holds it, in
// which case it reports false without running fn.
func (s *Service) TryRead(fn func() error) (bool, error) {
	if !s.gate.TryRLock() {
		return false, nil
	}
	defer s.gate.RUnlock()
	return true, fn()
}

// autoBackup snapshots before a destructive operation when enabled.
func (s *Service) autoBackup(ctx context.Context, description, trigger string) error {
	if !s.env.Settings.AutoBackup {
		return nil
	}
	_, err := s.backups.Snapshot(ctx, description, trigger)
	return err
}

// checkRepoPath accepts an empty path or one naming the configured repository.
func (s *Service) checkRepoPath(repoPath string) error {
	if repoPath == "" {
		return nil
	}
	if !filepath.IsAbs(repoPath) || !config.SamePath(repoPath, s.env.Settings.RepositoryPath) {
		return fmt.Errorf("%w: %s is not the configured repository", domain.ErrInvalidPath, repoPath)
	}
	return nil
}

// Mods

// ScanMods reconciles the catalog with the repository.
func (s *Service) ScanMods(ctx context.Context) ([]domain.Mod, error) {
	var mods []domain.Mod
	err := s.read(func() error {
		var err error
		mods, err = s.catalog.Scan(ctx)
		return err
	})
	return mods, err
}

// Rescan is ScanMods for background callers: it is skipped while a
// mutation is running.
func (s *Service) Rescan(ctx context.Context) (bool, error) {
	return s.TryRead(func() error {
		_, err := s.catalog.Scan(ctx)
		return err
	})
}

// RefreshCatalog lists every mod the remote repositories offer.
func (s *Service) RefreshCatalog(ctx context.Context) ([]domain.Mod, error) {
	var mods []domain.Mod
	err := s.mutate("refresh_catalog", func() error {
		var err error
		mods, err = s.catalog.Refresh(ctx)
		return err
	})
	return mods, err
}

// ListMods returns the stored catalog.
func (s *Service) ListMods(ctx context.Context) ([]domain.Mod, error) {
	var mods []domain.Mod
	err := s.read(func() error {
		var err error
		mods, err = s.catalog.List(ctx)
		return err
	})
	return mods, err
}

// GetMod returns one catalog entry.
func (s *Service) GetMod(ctx context.Context, id string) (*domain.Mod, error) {
	var mod *domain.Mod
	err := s.read(func() error {
		var err error
		mod, err = s.catalog.Get(ctx, id)
		return err
	})
	return mod, err
}

// InstallMod downloads and installs a mod, and its missing dependencies
// when withDeps is set.
func (s *Service) InstallMod(ctx context.Context, id string, withDeps bool) (*domain.Mod, error) {
	var mod *domain.Mod
	err := s.mutate("install_mod", func() error {
		if err := s.autoBackup(ctx, "Before installing "+id, domain.TriggerInstall); err != nil {
			return err
		}
		var err error
		mod, err = s.catalog.Install(ctx, id, withDeps)
		return err
	})
	return mod, err
}

// UninstallMod removes a mod from the repository and the plugins directory.
func (s *Service) UninstallMod(ctx context.Context, id string) error {
	return s.mutate("uninstall_mod", func() error {
		if err := s.autoBackup(ctx, "Before uninstalling "+id, domain.TriggerUninstall); err != nil {
			return err
		}
		return s.catalog.Uninstall(ctx, id)
	})
}

// EnableMod deploys an installed mod.
func (s *Service) EnableMod(ctx context.Context, id string) error {
	return s.mutate("enable_mod", func() error {
		return s.catalog.Enable(ctx, id)
	})
}

// DisableMod undeploys an enabled mod.
func (s *Service) DisableMod(ctx context.Context, id string) error {
	return s.mutate("disable_mod", func() error {
		return s.catalog.Disable(ctx, id)
	})
}

// Profiles

func (s *Service) CreateProfile(ctx context.Context, p domain.Profile) (*domain.Profile, error) {
	var out *domain.Profile
	err := s.mutate("create_profile", func() error {
		var err error
		out, err = s.profiles.Create(ctx, p)
		return err
	})
	return out, err
}

func (s *Service) UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.Profile, error) {
	var out *domain.Profile
	err := s.mutate("update_profile", func() error {
		var err error
		out, err = s.profiles.Update(ctx, id, upd)
		return err
	})
	return out, err
}

func (s *Service) DeleteProfile(ctx context.Context, id string) error {
	return s.mutate("delete_profile", func() error {
		return s.profiles.Delete(ctx, id)
	})
}

// SwitchProfile makes id the active profile and deploys exactly its mods.
func (s *Service) SwitchProfile(ctx context.Context, id string) (*domain.SwitchReport, error) {
	var report *domain.SwitchReport
	err := s.mutate("switch_profile", func() error {
		var err error
		report, err = s.profiles.Switch(ctx, id)
		return err
	})
	return report, err
}

func (s *Service) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	var out []domain.Profile
	err := s.read(func() error {
		var err error
		out, err = s.profiles.List(ctx)
		return err
	})
	return out, err
}

func (s *Service) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	var out *domain.Profile
	err := s.read(func() error {
		var err error
		out, err = s.profiles.Get(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) DuplicateProfile(ctx context.Context, id, name string) (*domain.Profile, error) {
	var out *domain.Profile
	err := s.mutate("duplicate_profile", func() error {
		var err error
		out, err = s.profiles.Duplicate(ctx, id, name)
		return err
	})
	return out, err
}

// ProfileTemplates lists the built-in templates.
func (s *Service) ProfileTemplates() []domain.ProfileTemplate {
	return s.profiles.Templates()
}

func (s *Service) CreateProfileFromTemplate(ctx context.Context, templateID, name string) (*domain.Profile, error) {
	var out *domain.Profile
	err := s.mutate("create_profile_from_template", func() error {
		var err error
		out, err = s.profiles.CreateFromTemplate(ctx, templateID, name)
		return err
	})
	return out, err
}

func (s *Service) ExportProfileToCode(ctx context.Context, id string) (string, error) {
	var code string
	err := s.read(func() error {
		var err error
		code, err = s.profiles.ExportToCode(ctx, id)
		return err
	})
	return code, err
}

// ImportProfileFromCode always creates a new profile.
func (s *Service) ImportProfileFromCode(ctx context.Context, code, name string) (*domain.Profile, error) {
	var out *domain.Profile
	err := s.mutate("import_profile_from_code", func() error {
		var err error
		out, err = s.profiles.ImportFromCode(ctx, code, name)
		return err
	})
	return out, err
}

// System

func (s *Service) DetectInstallPath(ctx context.Context) (string, error) {
	var path string
	err := s.read(func() error {
		var err error
		path, err = s.system.DetectInstallPath(ctx)
		return err
	})
	return path, err
}

func (s *Service) CheckModFramework() bool {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.system.CheckModFramework()
}

func (s *Service) InstallModFramework(ctx context.Context) error {
	return s.mutate("install_mod_framework", func() error {
		if err := s.autoBackup(ctx, "Before installing BepInEx", domain.TriggerFramework); err != nil {
			return err
		}
		return s.system.InstallModFramework(ctx)
	})
}

// LaunchResult describes a started game.
type LaunchResult struct {
	Method    string               `json:"method"`
	ProfileID string               `json:"profileId,omitempty"`
	Switch    *domain.SwitchReport `json:"switch,omitempty"`
}

// LaunchGame optionally switches to profileID, then starts the game. Play
// time is credited to the active profile when the game process is tracked.
func (s *Service) LaunchGame(ctx context.Context, profileID string) (*LaunchResult, error) {
	result := &LaunchResult{}
	if profileID != "" {
		report, err := s.SwitchProfile(ctx, profileID)
		if err != nil {
			return nil, err
		}
		result.Switch = report
	}

	var wait func() error
	err := s.read(func() error {
		active, err := s.db.ActiveProfileID(ctx)
		if err != nil {
			return err
		}
		result.ProfileID = active
		result.Method, wait, err = s.system.Launch(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	if wait != nil && result.ProfileID != "" {
		go s.trackPlayTime(result.ProfileID, wait)
	}
	return result, nil
}

func (s *Service) trackPlayTime(profileID string, wait func() error) {
	started := time.Now()
	if err := wait(); err != nil {
		s.log.WithError(err).Debug("game exited with error")
	}
	played := time.Since(started)

	s.gate.RLock()
	defer s.gate.RUnlock()
	if err := s.profiles.AddPlayTime(context.Background(), profileID, played); err != nil {
		s.log.WithError(err).WithField("profile", profileID).Warn("recording play time")
	}
}

// Updates

// CheckUpdates refreshes the update plan from the remote repositories.
func (s *Service) CheckUpdates(ctx context.Context) ([]domain.UpdateInfo, error) {
	var plan []domain.UpdateInfo
	err := s.read(func() error {
		var err error
		plan, err = s.updater.Check(ctx)
		return err
	})
	return plan, err
}

// UpdatePlan returns the stored result of the last update check.
func (s *Service) UpdatePlan(ctx context.Context) ([]domain.UpdateInfo, error) {
	var plan []domain.UpdateInfo
	err := s.read(func() error {
		var err error
		plan, err = s.updater.Plan(ctx)
		return err
	})
	return plan, err
}

// UpdateMod replaces an installed mod with its latest release.
func (s *Service) UpdateMod(ctx context.Context, repoPath, id string) (*domain.Mod, error) {
	var mod *domain.Mod
	err := s.mutate("update_mod", func() error {
		if err := s.checkRepoPath(repoPath); err != nil {
			return err
		}
		if err := s.autoBackup(ctx, "Before updating "+id, domain.TriggerUpdate); err != nil {
			return err
		}
		var err error
		mod, err = s.catalog.UpdateMod(ctx, id)
		return err
	})
	return mod, err
}

// UpdateAllMods applies the stored update plan. One backup covers the run.
func (s *Service) UpdateAllMods(ctx context.Context, repoPath string) ([]domain.UpdateResult, error) {
	var results []domain.UpdateResult
	err := s.mutate("update_all_mods", func() error {
		if err := s.checkRepoPath(repoPath); err != nil {
			return err
		}
		plan, err := s.updater.Plan(ctx)
		if err != nil {
			return err
		}
		if len(plan) == 0 {
			results = []domain.UpdateResult{}
			return nil
		}
		if err := s.autoBackup(ctx, fmt.Sprintf("Before updating %d mods", len(plan)), domain.TriggerUpdate); err != nil {
			return err
		}
		results, err = s.updater.UpdateAll(ctx)
		return err
	})
	return results, err
}

// Backups

func (s *Service) CreateBackup(ctx context.Context, description string) (*domain.Backup, error) {
	var b *domain.Backup
	err := s.mutate("create_backup", func() error {
		var err error
		b, err = s.backups.Snapshot(ctx, description, domain.TriggerManual)
		return err
	})
	return b, err
}

func (s *Service) RestoreBackup(ctx context.Context, id string) error {
	return s.mutate("restore_backup", func() error {
		return s.backups.Restore(ctx, id)
	})
}

func (s *Service) ListBackups(ctx context.Context) ([]domain.Backup, error) {
	var out []domain.Backup
	err := s.read(func() error {
		var err error
		out, err = s.backups.List(ctx)
		return err
	})
	return out, err
}

func (s *Service) DeleteBackup(ctx context.Context, id string) error {
	return s.mutate("delete_backup", func() error {
		return s.backups.Delete(ctx, id)
	})
}

// Settings

// SaveSettings validates and persists settings, then rebuilds the
// settings-derived environment shared by the managers.
func (s *Service) SaveSettings(ctx context.Context, settings domain.AppSettings) error {
	return s.mutate("save_settings", func() error {
		if err := config.Save(s.cfg.ConfigDir, s.cfg.DataDir, &settings); err != nil {
			return err
		}
		*s.env = *NewEnv(settings)
		s.log.WithField("repository", settings.RepositoryPath).Info("settings saved")
		return nil
	})
}

func (s *Service) LoadSettings(ctx context.Context) domain.AppSettings {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.env.Settings
}

// SetNexusAPIKey stores key and starts consulting Nexus Mods. An empty key
// removes the stored one; the running registry keeps Nexus until restart.
func (s *Service) SetNexusAPIKey(ctx context.Context, key string) error {
	return s.mutate("set_nexus_api_key", func() error {
		if key == "" {
			return s.db.DeleteToken(ctx, domain.SourceNexusMods)
		}
		if err := s.db.SaveToken(ctx, domain.SourceNexusMods, key); err != nil {
			return err
		}
		s.registry.Register(s.nexus(key))
		return nil
	})
}

// Sources lists the ids of the configured remote repositories.
func (s *Service) Sources() []string {
	var ids []string
	for _, r := range s.registry.List() {
		ids = append(ids, r.ID())
	}
	return ids
}

// Config files

func (s *Service) ListConfigFiles(ctx context.Context, path string) ([]string, error) {
	var files []string
	err := s.read(func() error {
		var err error
		files, err = s.env.Configs.List(path)
		return err
	})
	return files, err
}

func (s *Service) ReadConfigFile(ctx context.Context, path, filename string) (string, error) {
	var content string
	err := s.read(func() error {
		var err error
		content, err = s.env.Configs.Read(path, filename)
		return err
	})
	return content, err
}

func (s *Service) SaveConfigFile(ctx context.Context, path, filename, content string) error {
	return s.mutate("save_config_file", func() error {
		return s.env.Configs.Save(path, filename, content)
	})
}

// ConfigTree lists every file under the plugin configuration root.
func (s *Service) ConfigTree(ctx context.Context) ([]scanner.FileInfo, error) {
	var files []scanner.FileInfo
	err := s.read(func() error {
		root := s.env.Settings.ConfigPath()
		if root == "" {
			return fmt.Errorf("%w: game path is not set", domain.ErrInvalidConfig)
		}
		var err error
		files, err = scanner.ConfigTree(ctx, root)
		return err
	})
	return files, err
}

// Status summarizes the state of the installation.
type Status struct {
	GamePath           string          `json:"gamePath"`
	RepositoryPath     string          `json:"repositoryPath"`
	FrameworkInstalled bool            `json:"frameworkInstalled"`
	Mods               int             `json:"mods"`
	Installed          int             `json:"installed"`
	Enabled            int             `json:"enabled"`
	ActiveProfile      *domain.Profile `json:"activeProfile,omitempty"`
	PendingUpdates     int             `json:"pendingUpdates"`
	Backups            int             `json:"backups"`
	Sources            []string        `json:"sources"`
	Inconsistent       string          `json:"restoreInconsistent,omitempty"`
}

// Status reports counts and paths without touching remote repositories.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{Sources: s.Sources()}
	err := s.read(func() error {
		st.GamePath = s.env.Settings.ValheimPath
		st.RepositoryPath = s.env.Settings.RepositoryPath
		st.FrameworkInstalled = s.system.CheckModFramework()

		mods, err := s.catalog.List(ctx)
		if err != nil {
			return err
		}
		st.Mods = len(mods)
		for i := range mods {
			if mods[i].Installed() {
				st.Installed++
			}
			if mods[i].Enabled() {
				st.Enabled++
			}
		}

		if st.ActiveProfile, err = s.profiles.Active(ctx); err != nil {
			return err
		}
		plan, err := s.updater.Plan(ctx)
		if err != nil {
			return err
		}
		st.PendingUpdates = len(plan)

		backups, err := s.backups.List(ctx)
		if err != nil {
			return err
		}
		st.Backups = len(backups)

		st.Inconsistent, err = s.backups.Inconsistent(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Watched returns the directories whose changes should trigger a rescan.
func (s *Service) Watched() []string {
	s.gate.RLock()
	defer s.gate.RUnlock()
	dirs := []string{s.env.Settings.RepositoryPath}
	if p := s.env.Settings.PluginsPath(); p != "" {
		dirs = append(dirs, p)
	}
	return dirs
}
