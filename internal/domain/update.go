package domain

import "time"

// UpdateProgressFunc is called during update runs with (current 1-based index, total count, mod id).
type UpdateProgressFunc func(n, total int, modID string)

type updateProgressKey struct{}

// UpdateProgressContextKey is the context key for UpdateProgressFunc. Attach with context.WithValue.
var UpdateProgressContextKey = &updateProgressKey{}

// Release is the latest version of a mod as published by a remote repository.
type Release struct {
	ModID        string
	Name         string
	Author       string
	Version      string
	Description  string
	Icon         string
	DownloadURL  string
	WebsiteURL   string
	Dependencies []string // raw "Author-Name-1.0.0" strings
	Categories   []string
	Rating       *float64
	Downloads    *int64
	FileSize     int64
	Updated      time.Time
	Source       string
	Ref          string // repository-specific file reference, when DownloadURL is resolved late
}

// UpdateInfo is one entry of an update plan.
type UpdateInfo struct {
	ModID            string    `json:"modId"`
	CurrentVersion   string    `json:"currentVersion"`
	AvailableVersion string    `json:"availableVersion"`
	Source           string    `json:"source"`
	DownloadURL      string    `json:"downloadUrl,omitempty"`
	CheckedAt        time.Time `json:"checkedAt"`
}

// UpdateStatus is the outcome of applying one planned update.
type UpdateStatus string

const (
	UpdateApplied    UpdateStatus = "updated"
	UpdateFailed     UpdateStatus = "failed"
	UpdateSkipped    UpdateStatus = "skipped"
	UpdateNotReached UpdateStatus = "not_reached"
)

// UpdateResult reports the outcome of one planned update.
type UpdateResult struct {
	ModID       string       `json:"modId"`
	FromVersion string       `json:"fromVersion"`
	ToVersion   string       `json:"toVersion"`
	Status      UpdateStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	Err         error        `json:"-"`
}
