package thunderstore

import "time"

// Package is one entry of the community package listing
type Package struct {
	Name         string    `json:"name"`
	FullName     string    `json:"full_name"` // "Author-Name", the mod id
	Owner        string    `json:"owner"`
	PackageURL   string    `json:"package_url"`
	DateCreated  time.Time `json:"date_created"`
	DateUpdated  time.Time `json:"date_updated"`
	RatingScore  int       `json:"rating_score"`
	IsPinned     bool      `json:"is_pinned"`
	IsDeprecated bool      `json:"is_deprecated"`
	Categories   []string  `json:"categories"`
	Versions     []Version `json:"versions"` // newest first
}

// Version is one published version of a package
type Version struct {
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Description   string    `json:"description"`
	Icon          string    `json:"icon"`
	VersionNumber string    `json:"version_number"`
	Dependencies  []string  `json:"dependencies"`
	DownloadURL   string    `json:"download_url"`
	Downloads     int64     `json:"downloads"`
	DateCreated   time.Time `json:"date_created"`
	WebsiteURL    string    `json:"website_url"`
	IsActive      bool      `json:"is_active"`
	FileSize      int64     `json:"file_size"`
}
