package domain

import "time"

// Backup triggers.
const (
	TriggerManual    = "manual"
	TriggerInstall   = "install"
	TriggerUninstall = "uninstall"
	TriggerUpdate    = "update"
	TriggerSwitch    = "switch"
	TriggerRestore   = "restore"
	TriggerFramework = "framework"
)

// Backup is an immutable archive of the repository, plugin and config trees
// plus the catalog and profile state at the time it was taken.
type Backup struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Created     time.Time `json:"timestamp"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Trigger     string    `json:"trigger"`
}

// StateSnapshot is the database portion of a backup.
type StateSnapshot struct {
	Version         int               `yaml:"version"`
	Taken           time.Time         `yaml:"taken"`
	ActiveProfileID string            `yaml:"active_profile_id,omitempty"`
	Mods            []SnapshotMod     `yaml:"mods"`
	Profiles        []SnapshotProfile `yaml:"profiles"`
}

// SnapshotMod is a catalog row as stored in a backup.
type SnapshotMod struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	Version         string            `yaml:"version"`
	Author          string            `yaml:"author,omitempty"`
	Description     string            `yaml:"description,omitempty"`
	Icon            string            `yaml:"icon,omitempty"`
	Size            int64             `yaml:"size"`
	State           int               `yaml:"state"`
	Dependencies    []string          `yaml:"dependencies,omitempty"`
	Requires        map[string]string `yaml:"requires,omitempty"`
	Categories      []string          `yaml:"categories,omitempty"`
	DownloadURL     string            `yaml:"download_url,omitempty"`
	WebsiteURL      string            `yaml:"website_url,omitempty"`
	Rating          *float64          `yaml:"rating,omitempty"`
	Downloads       *int64            `yaml:"downloads,omitempty"`
	LastUpdated     time.Time         `yaml:"last_updated"`
	Source          string            `yaml:"source"`
	PreviousVersion string            `yaml:"previous_version,omitempty"`
}

// SnapshotProfile is a profile row as stored in a backup.
type SnapshotProfile struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Icon        string     `yaml:"icon,omitempty"`
	Color       string     `yaml:"color,omitempty"`
	Mods        []string   `yaml:"mods,omitempty"`
	Created     time.Time  `yaml:"created"`
	LastUsed    *time.Time `yaml:"last_used,omitempty"`
	PlayTime    int64      `yaml:"play_time"` // seconds
}

// ToSnapshot converts a catalog entry for archiving.
func (m *Mod) ToSnapshot() SnapshotMod {
	return SnapshotMod{
		ID:              m.ID,
		Name:            m.Name,
		Version:         m.Version,
		Author:          m.Author,
		Description:     m.Description,
		Icon:            m.Icon,
		Size:            m.Size,
		State:           int(m.State),
		Dependencies:    m.Dependencies,
		Requires:        m.Requires,
		Categories:      m.Categories,
		DownloadURL:     m.DownloadURL,
		WebsiteURL:      m.WebsiteURL,
		Rating:          m.Rating,
		Downloads:       m.Downloads,
		LastUpdated:     m.LastUpdated,
		Source:          m.Source,
		PreviousVersion: m.PreviousVersion,
	}
}

// Mod converts an archived row back to a catalog entry.
func (s SnapshotMod) Mod() Mod {
	return Mod{
		ID:              s.ID,
		Name:            s.Name,
		Version:         s.Version,
		Author:          s.Author,
		Description:     s.Description,
		Icon:            s.Icon,
		Size:            s.Size,
		State:           ModState(s.State),
		Dependencies:    s.Dependencies,
		Requires:        s.Requires,
		Categories:      s.Categories,
		DownloadURL:     s.DownloadURL,
		WebsiteURL:      s.WebsiteURL,
		Rating:          s.Rating,
		Downloads:       s.Downloads,
		LastUpdated:     s.LastUpdated,
		Source:          s.Source,
		PreviousVersion: s.PreviousVersion,
	}
}

// ToSnapshot converts a profile for archiving.
func (p *Profile) ToSnapshot() SnapshotProfile {
	return SnapshotProfile{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Icon:        p.Icon,
		Color:       p.Color,
		Mods:        p.Mods,
		Created:     p.Created,
		LastUsed:    p.LastUsed,
		PlayTime:    int64(p.PlayTime / time.Second),
	}
}

// Profile converts an archived row back to a profile.
func (s SnapshotProfile) Profile() Profile {
	return Profile{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Icon:        s.Icon,
		Color:       s.Color,
		Mods:        s.Mods,
		Created:     s.Created,
		LastUsed:    s.LastUsed,
		PlayTime:    time.Duration(s.PlayTime) * time.Second,
	}
}
