package domain

// Themes accepted in AppSettings.
const (
	ThemeDark  = "dark"
	ThemeLight = "light"
	ThemeAuto  = "auto"
)

// DefaultBackupRetention is how many backups are kept when the setting is unset.
const DefaultBackupRetention = 10

// AppSettings is the persisted, process-wide configuration.
type AppSettings struct {
	ValheimPath     string `yaml:"valheim_path" json:"valheimPath"`
	BepInExPath     string `yaml:"bepinex_path" json:"bepinexPath"`
	RepositoryPath  string `yaml:"repository_path" json:"repositoryPath"`
	BackupPath      string `yaml:"backup_path" json:"backupPath"`
	Theme           string `yaml:"theme" json:"theme"`
	AutoUpdate      bool   `yaml:"auto_update" json:"autoUpdate"`
	AutoBackup      bool   `yaml:"auto_backup" json:"autoBackup"`
	Language        string `yaml:"language" json:"language"`
	LinkMethod      string `yaml:"link_method,omitempty" json:"linkMethod,omitempty"`
	BackupRetention int    `yaml:"backup_retention,omitempty" json:"backupRetention,omitempty"`
}

// FrameworkPath returns the BepInEx directory, derived from the game path
// when not set explicitly.
func (s *AppSettings) FrameworkPath() string {
	if s.BepInExPath != "" {
		return s.BepInExPath
	}
	if s.ValheimPath == "" {
		return ""
	}
	return s.ValheimPath + "/" + FrameworkDirName
}

// PluginsPath is where enabled mods are deployed.
func (s *AppSettings) PluginsPath() string {
	if fw := s.FrameworkPath(); fw != "" {
		return fw + "/plugins"
	}
	return ""
}

// ConfigPath is the plugin configuration root.
func (s *AppSettings) ConfigPath() string {
	if fw := s.FrameworkPath(); fw != "" {
		return fw + "/config"
	}
	return ""
}

// Retention returns the effective backup retention count.
func (s *AppSettings) Retention() int {
	if s.BackupRetention <= 0 {
		return DefaultBackupRetention
	}
	return s.BackupRetention
}
