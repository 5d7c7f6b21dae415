package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Source IDs for where a mod came from.
const (
	SourceThunderstore = "thunderstore"
	SourceNexusMods    = "nexusmods"
	SourceLocal        = "local"
)

// ModState is the lifecycle state of a catalog entry. A single state value
// makes "enabled but not installed" unrepresentable.
type ModState int

const (
	StateNotInstalled ModState = iota
	StateDisabled              // installed, not deployed
	StateEnabled               // installed and deployed
)

func (s ModState) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	default:
		return "not_installed"
	}
}

// Mod is a catalog entry.
type Mod struct {
	ID              string
	Name            string
	Version         string
	Author          string
	Description     string
	Icon            string
	Size            int64
	State           ModState
	Dependencies    []string          // mod ids, manifest order
	Requires        map[string]string // dependency id -> minimum version
	Categories      []string
	DownloadURL     string
	WebsiteURL      string
	Rating          *float64
	Downloads       *int64
	LastUpdated     time.Time
	Source          string
	PreviousVersion string
}

// Installed reports whether the mod package is present in the repository.
func (m *Mod) Installed() bool { return m.State != StateNotInstalled }

// Enabled reports whether the mod is deployed into the game.
func (m *Mod) Enabled() bool { return m.State == StateEnabled }

// DependsOn reports whether id is a direct dependency of m.
func (m *Mod) DependsOn(id string) bool {
	for _, dep := range m.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

type modJSON struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Author          string            `json:"author"`
	Description     string            `json:"description"`
	Icon            string            `json:"icon,omitempty"`
	Size            int64             `json:"size"`
	Installed       bool              `json:"installed"`
	Enabled         bool              `json:"enabled"`
	Dependencies    []string          `json:"dependencies"`
	Requires        map[string]string `json:"requires,omitempty"`
	Categories      []string          `json:"categories"`
	DownloadURL     string            `json:"downloadUrl,omitempty"`
	WebsiteURL      string            `json:"websiteUrl,omitempty"`
	Rating          *float64          `json:"rating,omitempty"`
	Downloads       *int64            `json:"downloads,omitempty"`
	LastUpdated     time.Time         `json:"lastUpdated"`
	Source          string            `json:"source,omitempty"`
	PreviousVersion string            `json:"previousVersion,omitempty"`
}

// MarshalJSON encodes the state as the installed/enabled pair the UI expects.
func (m Mod) MarshalJSON() ([]byte, error) {
	deps := m.Dependencies
	if deps == nil {
		deps = []string{}
	}
	cats := m.Categories
	if cats == nil {
		cats = []string{}
	}
	return json.Marshal(modJSON{
		ID:              m.ID,
		Name:            m.Name,
		Version:         m.Version,
		Author:          m.Author,
		Description:     m.Description,
		Icon:            m.Icon,
		Size:            m.Size,
		Installed:       m.Installed(),
		Enabled:         m.Enabled(),
		Dependencies:    deps,
		Requires:        m.Requires,
		Categories:      cats,
		DownloadURL:     m.DownloadURL,
		WebsiteURL:      m.WebsiteURL,
		Rating:          m.Rating,
		Downloads:       m.Downloads,
		LastUpdated:     m.LastUpdated,
		Source:          m.Source,
		PreviousVersion: m.PreviousVersion,
	})
}

// UnmarshalJSON accepts the UI shape. enabled=true implies installed.
func (m *Mod) UnmarshalJSON(data []byte) error {
	var raw modJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	state := StateNotInstalled
	switch {
	case raw.Enabled:
		state = StateEnabled
	case raw.Installed:
		state = StateDisabled
	}

	*m = Mod{
		ID:              raw.ID,
		Name:            raw.Name,
		Version:         raw.Version,
		Author:          raw.Author,
		Description:     raw.Description,
		Icon:            raw.Icon,
		Size:            raw.Size,
		State:           state,
		Dependencies:    raw.Dependencies,
		Requires:        raw.Requires,
		Categories:      raw.Categories,
		DownloadURL:     raw.DownloadURL,
		WebsiteURL:      raw.WebsiteURL,
		Rating:          raw.Rating,
		Downloads:       raw.Downloads,
		LastUpdated:     raw.LastUpdated,
		Source:          raw.Source,
		PreviousVersion: raw.PreviousVersion,
	}
	return nil
}

// ParseDependency splits a Thunderstore dependency string
// ("Author-Name-1.2.3") into the mod id and the minimum version. Strings
// without a trailing version are returned as-is.
func ParseDependency(s string) (id, version string) {
	s = strings.TrimSpace(s)
	i := strings.LastIndex(s, "-")
	if i <= 0 || i == len(s)-1 {
		return s, ""
	}
	candidate := s[i+1:]
	if !looksLikeVersion(candidate) || !strings.Contains(s[:i], "-") {
		return s, ""
	}
	return s[:i], candidate
}

// FormatDependency is the inverse of ParseDependency.
func FormatDependency(id, version string) string {
	if version == "" {
		return id
	}
	return fmt.Sprintf("%s-%s", id, version)
}

// SplitModID returns the author and package name of an "Author-Name" id.
func SplitModID(id string) (author, name string) {
	author, name, ok := strings.Cut(id, "-")
	if !ok {
		return "", id
	}
	return author, name
}

func looksLikeVersion(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}
