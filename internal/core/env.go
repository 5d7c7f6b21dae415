package core

import (
	"path/filepath"

	"deftheim/internal/domain"
	"deftheim/internal/linker"
	"deftheim/internal/storage/configfiles"
	"deftheim/internal/storage/repository"
)

// Env is the settings-derived state shared by the managers. The service
// replaces it wholesale while holding the write lock when settings change.
type Env struct {
	Settings domain.AppSettings
	Repo     *repository.Store
	Configs  *configfiles.Store
	Linker   linker.Linker
}

// NewEnv derives stores and the linker from settings.
func NewEnv(s domain.AppSettings) *Env {
	return &Env{
		Settings: s,
		Repo:     repository.New(s.RepositoryPath),
		Configs:  configfiles.New(s.ConfigPath()),
		Linker:   linker.New(domain.ParseLinkMethod(s.LinkMethod)),
	}
}

// DeployPath returns where a mod is deployed, or "" when the game path is
// not configured.
func (e *Env) DeployPath(modID string) string {
	plugins := e.Settings.PluginsPath()
	if plugins == "" {
		return ""
	}
	return filepath.Join(plugins, modID)
}
