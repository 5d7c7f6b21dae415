package domain

import (
	"encoding/json"
	"time"
)

// Profile is a named, switchable selection of mods.
type Profile struct {
	ID          string
	Name        string
	Description string
	Icon        string
	Color       string
	Mods        []string // mod ids, insertion order
	Active      bool     // derived from the single active profile pointer
	Created     time.Time
	LastUsed    *time.Time
	PlayTime    time.Duration
}

// HasMod reports whether id belongs to the profile.
func (p *Profile) HasMod(id string) bool {
	for _, m := range p.Mods {
		if m == id {
			return true
		}
	}
	return false
}

type profileJSON struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Color       string     `json:"color"`
	Mods        []string   `json:"mods"`
	Active      bool       `json:"active"`
	Created     time.Time  `json:"created"`
	LastUsed    *time.Time `json:"lastUsed,omitempty"`
	PlayTime    int64      `json:"playTime"` // seconds
}

func (p Profile) MarshalJSON() ([]byte, error) {
	mods := p.Mods
	if mods == nil {
		mods = []string{}
	}
	return json.Marshal(profileJSON{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Icon:        p.Icon,
		Color:       p.Color,
		Mods:        mods,
		Active:      p.Active,
		Created:     p.Created,
		LastUsed:    p.LastUsed,
		PlayTime:    int64(p.PlayTime / time.Second),
	})
}

func (p *Profile) UnmarshalJSON(data []byte) error {
	var raw profileJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Profile{
		ID:          raw.ID,
		Name:        raw.Name,
		Description: raw.Description,
		Icon:        raw.Icon,
		Color:       raw.Color,
		Mods:        raw.Mods,
		Active:      raw.Active,
		Created:     raw.Created,
		LastUsed:    raw.LastUsed,
		PlayTime:    time.Duration(raw.PlayTime) * time.Second,
	}
	return nil
}

// ProfileUpdate is a partial update; nil fields are left untouched.
type ProfileUpdate struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Icon        *string   `json:"icon,omitempty"`
	Color       *string   `json:"color,omitempty"`
	Mods        *[]string `json:"mods,omitempty"`
	PlayTime    *int64    `json:"playTime,omitempty"` // seconds
}

// SharedProfile is the portable payload carried by a profile share code.
type SharedProfile struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Icon        string   `yaml:"icon,omitempty"`
	Color       string   `yaml:"color,omitempty"`
	Mods        []string `yaml:"mods"`
}

// ProfileTemplate is a built-in starting point for a new profile.
type ProfileTemplate struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Icon        string   `json:"icon"`
	Color       string   `json:"color"`
	Mods        []string `json:"mods"`
}

// SwitchState is a step of the profile switch state machine.
type SwitchState string

const (
	SwitchIdle       SwitchState = "idle"
	SwitchSwitching  SwitchState = "switching"
	SwitchCommitted  SwitchState = "committed"
	SwitchRolledBack SwitchState = "rolled_back"
)

// SwitchReport describes a completed switch.
type SwitchReport struct {
	ProfileID         string      `json:"profileId"`
	PreviousProfileID string      `json:"previousProfileId,omitempty"`
	State             SwitchState `json:"state"`
	Enabled           []string    `json:"enabled"`
	Disabled          []string    `json:"disabled"`
	BackupID          string      `json:"backupId,omitempty"`
}
