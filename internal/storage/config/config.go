// Package config persists application settings and validates paths derived
// from them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"deftheim/internal/domain"

	"gopkg.in/yaml.v3"
)

const settingsFile = "settings.yaml"

// Defaults returns the settings used when no settings file exists. Storage
// paths live under dataDir.
func Defaults(dataDir string) *domain.AppSettings {
	return &domain.AppSettings{
		RepositoryPath:  filepath.Join(dataDir, "repository"),
		BackupPath:      filepath.Join(dataDir, "backups"),
		Theme:           domain.ThemeDark,
		AutoUpdate:      true,
		AutoBackup:      true,
		Language:        "en",
		LinkMethod:      domain.LinkSymlink.String(),
		BackupRetention: domain.DefaultBackupRetention,
	}
}

// Load reads settings from configDir, filling unset fields from Defaults.
func Load(configDir, dataDir string) (*domain.AppSettings, error) {
	s := Defaults(dataDir)

	data, err := os.ReadFile(filepath.Join(configDir, settingsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	fillDefaults(s, dataDir)

	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Save validates s and writes it to configDir atomically.
func Save(configDir, dataDir string, s *domain.AppSettings) error {
	fillDefaults(s, dataDir)
	if err := Validate(s); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	target := filepath.Join(configDir, settingsFile)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing settings: %w", err)
	}

	return nil
}

// Validate rejects unknown enum values and relative storage paths.
func Validate(s *domain.AppSettings) error {
	switch s.Theme {
	case domain.ThemeDark, domain.ThemeLight, domain.ThemeAuto:
	default:
		return fmt.Errorf("%w: unknown theme %q", domain.ErrInvalidConfig, s.Theme)
	}
	if !domain.ValidLinkMethod(s.LinkMethod) {
		return fmt.Errorf("%w: unknown link method %q", domain.ErrInvalidConfig, s.LinkMethod)
	}
	if s.BackupRetention < 0 {
		return fmt.Errorf("%w: backup retention must not be negative", domain.ErrInvalidConfig)
	}

	for name, p := range map[string]string{
		"valheim path":    s.ValheimPath,
		"bepinex path":    s.BepInExPath,
		"repository path": s.RepositoryPath,
		"backup path":     s.BackupPath,
	} {
		if p != "" && !filepath.IsAbs(p) {
			return fmt.Errorf("%w: %s must be absolute", domain.ErrInvalidConfig, name)
		}
	}
	return nil
}

func fillDefaults(s *domain.AppSettings, dataDir string) {
	d := Defaults(dataDir)
	if s.RepositoryPath == "" {
		s.RepositoryPath = d.RepositoryPath
	}
	if s.BackupPath == "" {
		s.BackupPath = d.BackupPath
	}
	if s.Theme == "" {
		s.Theme = d.Theme
	}
	if s.Language == "" {
		s.Language = d.Language
	}
	if s.LinkMethod == "" {
		s.LinkMethod = d.LinkMethod
	}
	if s.BackupRetention == 0 {
		s.BackupRetention = d.BackupRetention
	}
}
