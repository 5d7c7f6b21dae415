package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"deftheim/internal/domain"
)

type noArgs struct{}

type modArgs struct {
	ModID            string `json:"modId"`
	WithDependencies bool   `json:"withDependencies"`
}

type idArgs struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type createProfileArgs struct {
	Profile domain.Profile `json:"profile"`
}

type updateProfileArgs struct {
	ID      string               `json:"id"`
	Updates domain.ProfileUpdate `json:"updates"`
}

type templateArgs struct {
	TemplateID string `json:"templateId"`
	Name       string `json:"name"`
}

type profileCodeArgs struct {
	ProfileID string `json:"profileId"`
	Code      string `json:"code"`
	Name      string `json:"name"`
}

type updateArgs struct {
	RepoPath string `json:"repoPath"`
	ModID    string `json:"modId"`
}

type backupArgs struct {
	BackupID    string `json:"backupId"`
	Description string `json:"description"`
}

type settingsArgs struct {
	Settings *domain.AppSettings `json:"settings"`
}

type apiKeyArgs struct {
	APIKey string `json:"apiKey"`
}

type configFileArgs struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// updateCandidate is a mod as it would be after updating: version holds the
// available release and currentVersion the installed one.
type updateCandidate struct {
	mod     domain.Mod
	current string
}

func (u updateCandidate) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(u.mod)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["currentVersion"], err = json.Marshal(u.current)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

func (d *Dispatcher) register() {
	b := d.backend

	// Mods
	d.handle("scan_mods", command(func(ctx context.Context, _ noArgs) (any, error) {
		mods, err := b.ScanMods(ctx)
		return orEmpty(mods), err
	}))
	d.handle("list_mods", command(func(ctx context.Context, _ noArgs) (any, error) {
		mods, err := b.ListMods(ctx)
		return orEmpty(mods), err
	}))
	d.handle("refresh_catalog", command(func(ctx context.Context, _ noArgs) (any, error) {
		mods, err := b.RefreshCatalog(ctx)
		return orEmpty(mods), err
	}))
	d.handle("get_mod", command(func(ctx context.Context, a modArgs) (any, error) {
		if err := required("modId", a.ModID); err != nil {
			return nil, err
		}
		return b.GetMod(ctx, a.ModID)
	}))
	d.handle("install_mod", command(func(ctx context.Context, a modArgs) (any, error) {
		if err := required("modId", a.ModID); err != nil {
			return nil, err
		}
		return b.InstallMod(ctx, a.ModID, a.WithDependencies)
	}))
	d.handle("uninstall_mod", command(func(ctx context.Context, a modArgs) (any, error) {
		if err := required("modId", a.ModID); err != nil {
			return nil, err
		}
		return nil, b.UninstallMod(ctx, a.ModID)
	}))
	d.handle("enable_mod", command(func(ctx context.Context, a modArgs) (any, error) {
		if err := required("modId", a.ModID); err != nil {
			return nil, err
		}
		return nil, b.EnableMod(ctx, a.ModID)
	}))
	d.handle("disable_mod", command(func(ctx context.Context, a modArgs) (any, error) {
		if err := required("modId", a.ModID); err != nil {
			return nil, err
		}
		return nil, b.DisableMod(ctx, a.ModID)
	}))

	// Profiles
	d.handle("create_profile", command(func(ctx context.Context, a createProfileArgs) (any, error) {
		return b.CreateProfile(ctx, a.Profile)
	}))
	d.handle("update_profile", command(func(ctx context.Context, a updateProfileArgs) (any, error) {
		if err := required("id", a.ID); err != nil {
			return nil, err
		}
		return b.UpdateProfile(ctx, a.ID, a.Updates)
	}))
	d.handle("delete_profile", command(func(ctx context.Context, a idArgs) (any, error) {
		if err := required("id", a.ID); err != nil {
			return nil, err
		}
		return nil, b.DeleteProfile(ctx, a.ID)
	}))
	d.handle("switch_profile", command(func(ctx context.Context, a idArgs) (any, error) {
		if err := required("id", a.ID); err != nil {
			return nil, err
		}
		return b.SwitchProfile(ctx, a.ID)
	}))
	d.handle("list_profiles", command(func(ctx context.Context, _ noArgs) (any, error) {
		profiles, err := b.ListProfiles(ctx)
		return orEmpty(profiles), err
	}))
	d.handle("get_profile", command(func(ctx context.Context, a idArgs) (any, error) {
		if err := required("id", a.ID); err != nil {
			return nil, err
		}
		return b.GetProfile(ctx, a.ID)
	}))
	d.handle("duplicate_profile", command(func(ctx context.Context, a idArgs) (any, error) {
		if err := required("id", a.ID); err != nil {
			return nil, err
		}
		return b.DuplicateProfile(ctx, a.ID, a.Name)
	}))
	d.handle("list_profile_templates", command(func(ctx context.Context, _ noArgs) (any, error) {
		return orEmpty(b.ProfileTemplates()), nil
	}))
	d.handle("create_profile_from_template", command(func(ctx context.Context, a templateArgs) (any, error) {
		if err := required("templateId", a.TemplateID); err != nil {
			return nil, err
		}
		return b.CreateProfileFromTemplate(ctx, a.TemplateID, a.Name)
	}))
	d.handle("export_profile_to_code", command(func(ctx context.Context, a profileCodeArgs) (any, error) {
		if err := required("profileId", a.ProfileID); err != nil {
			return nil, err
		}
		return b.ExportProfileToCode(ctx, a.ProfileID)
	}))
	d.handle("import_profile_from_code", command(func(ctx context.Context, a profileCodeArgs) (any, error) {
		if err := required("code", a.Code); err != nil {
			return nil, err
		}
		return b.ImportProfileFromCode(ctx, a.Code, a.Name)
	}))

	// System
	d.handle("detect_install_path", command(func(ctx context.Context, _ noArgs) (any, error) {
		return b.DetectInstallPath(ctx)
	}))
	d.handle("check_mod_framework", command(func(ctx context.Context, _ noArgs) (any, error) {
		return b.CheckModFramework(), nil
	}))
	d.handle("install_mod_framework", command(func(ctx context.Context, _ noArgs) (any, error) {
		return nil, b.InstallModFramework(ctx)
	}))
	d.handle("launch_game", command(func(ctx context.Context, a profileCodeArgs) (any, error) {
		return b.LaunchGame(ctx, a.ProfileID)
	}))
	d.handle("status", command(func(ctx context.Context, _ noArgs) (any, error) {
		return b.Status(ctx)
	}))

	// Updates
	d.handle("check_updates", command(func(ctx context.Context, _ noArgs) (any, error) {
		plan, err := b.CheckUpdates(ctx)
		if err != nil {
			return nil, err
		}
		return d.candidates(ctx, plan)
	}))
	d.handle("update_plan", command(func(ctx context.Context, _ noArgs) (any, error) {
		plan, err := b.UpdatePlan(ctx)
		return orEmpty(plan), err
	}))
	d.handle("update_mod", command(func(ctx context.Context, a updateArgs) (any, error) {
		if err := required("modId", a.ModID); err != nil {
			return nil, err
		}
		return b.UpdateMod(ctx, a.RepoPath, a.ModID)
	}))
	d.handle("update_all_mods", command(func(ctx context.Context, a updateArgs) (any, error) {
		results, err := b.UpdateAllMods(ctx, a.RepoPath)
		return orEmpty(results), err
	}))

	// Backups
	d.handle("create_backup", command(func(ctx context.Context, a backupArgs) (any, error) {
		return b.CreateBackup(ctx, a.Description)
	}))
	d.handle("restore_backup", command(func(ctx context.Context, a backupArgs) (any, error) {
		if err := required("backupId", a.BackupID); err != nil {
			return nil, err
		}
		return nil, b.RestoreBackup(ctx, a.BackupID)
	}))
	d.handle("list_backups", command(func(ctx context.Context, _ noArgs) (any, error) {
		backups, err := b.ListBackups(ctx)
		return orEmpty(backups), err
	}))
	d.handle("delete_backup", command(func(ctx context.Context, a backupArgs) (any, error) {
		if err := required("backupId", a.BackupID); err != nil {
			return nil, err
		}
		return nil, b.DeleteBackup(ctx, a.BackupID)
	}))

	// Settings
	d.handle("save_settings", command(func(ctx context.Context, a settingsArgs) (any, error) {
		if a.Settings == nil {
			return nil, required("settings", "")
		}
		return nil, b.SaveSettings(ctx, *a.Settings)
	}))
	d.handle("load_settings", command(func(ctx context.Context, _ noArgs) (any, error) {
		return b.LoadSettings(ctx), nil
	}))
	d.handle("set_nexus_api_key", command(func(ctx context.Context, a apiKeyArgs) (any, error) {
		return nil, b.SetNexusAPIKey(ctx, a.APIKey)
	}))
	d.handle("list_sources", command(func(ctx context.Context, _ noArgs) (any, error) {
		return orEmpty(b.Sources()), nil
	}))

	// Config files
	d.handle("list_config_files", command(func(ctx context.Context, a configFileArgs) (any, error) {
		files, err := b.ListConfigFiles(ctx, a.Path)
		return orEmpty(files), err
	}))
	d.handle("read_config_file", command(func(ctx context.Context, a configFileArgs) (any, error) {
		if err := required("filename", a.Filename); err != nil {
			return nil, err
		}
		return b.ReadConfigFile(ctx, a.Path, a.Filename)
	}))
	d.handle("save_config_file", command(func(ctx context.Context, a configFileArgs) (any, error) {
		if err := required("filename", a.Filename); err != nil {
			return nil, err
		}
		return nil, b.SaveConfigFile(ctx, a.Path, a.Filename, a.Content)
	}))
	d.handle("config_tree", command(func(ctx context.Context, _ noArgs) (any, error) {
		files, err := b.ConfigTree(ctx)
		return orEmpty(files), err
	}))
}

// candidates joins the update plan with the catalog. Plan entries whose mod
// vanished since the check are dropped.
func (d *Dispatcher) candidates(ctx context.Context, plan []domain.UpdateInfo) ([]updateCandidate, error) {
	out := make([]updateCandidate, 0, len(plan))
	for _, info := range plan {
		mod, err := d.backend.GetMod(ctx, info.ModID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		next := *mod
		next.Version = info.AvailableVersion
		if info.DownloadURL != "" {
			next.DownloadURL = info.DownloadURL
		}
		out = append(out, updateCandidate{mod: next, current: info.CurrentVersion})
	}
	return out, nil
}
