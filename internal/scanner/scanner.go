// Package scanner walks the package repository and the plugin config
// directory.
package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"deftheim/internal/domain"
	"deftheim/internal/storage/repository"
)

// ManifestFile is the per-package metadata file.
const ManifestFile = "manifest.json"

// IconFile is the optional package icon.
const IconFile = "icon.png"

// Manifest is the Thunderstore package manifest.
type Manifest struct {
	Name          string   `json:"name"`
	VersionNumber string   `json:"version_number"`
	WebsiteURL    string   `json:"website_url"`
	Description   string   `json:"description"`
	Dependencies  []string `json:"dependencies"`
}

// Package is one package found in the repository.
type Package struct {
	ID       string
	Author   string
	Manifest Manifest
	Path     string
	Size     int64
	HasIcon  bool
	Modified time.Time
}

// ToMod converts a scanned package into a catalog entry in the given state.
func (p *Package) ToMod(state domain.ModState) domain.Mod {
	mod := domain.Mod{
		ID:          p.ID,
		Name:        p.Manifest.Name,
		Version:     p.Manifest.VersionNumber,
		Author:      p.Author,
		Description: p.Manifest.Description,
		Size:        p.Size,
		State:       state,
		WebsiteURL:  p.Manifest.WebsiteURL,
		LastUpdated: p.Modified,
		Source:      domain.SourceLocal,
	}
	if p.HasIcon {
		mod.Icon = filepath.Join(p.Path, IconFile)
	}
	mod.Dependencies, mod.Requires = ParseDependencies(p.Manifest.Dependencies)
	return mod
}

// ParseDependencies turns manifest dependency strings into mod ids and
// minimum versions. The mod framework itself is not a catalog dependency.
func ParseDependencies(raw []string) ([]string, map[string]string) {
	var ids []string
	var requires map[string]string
	for _, s := range raw {
		id, version := domain.ParseDependency(s)
		if id == "" || id == domain.FrameworkPackageID {
			continue
		}
		ids = append(ids, id)
		if version != "" {
			if requires == nil {
				requires = make(map[string]string)
			}
			requires[id] = version
		}
	}
	return ids, requires
}

// ScanRepository reads every package directory directly under root.
// Packages whose manifest cannot be read are reported in failures and
// skipped. An unreadable root returns a *domain.ScanError.
func ScanRepository(ctx context.Context, root string) (packages []Package, failures []error, err error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, &domain.ScanError{Path: root, Err: err}
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return packages, failures, err
		}
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		pkg, err := ReadPackage(filepath.Join(root, e.Name()))
		if err != nil {
			failures = append(failures, err)
			continue
		}
		packages = append(packages, *pkg)
	}

	sort.Slice(packages, func(i, j int) bool { return packages[i].ID < packages[j].ID })
	return packages, failures, nil
}

// ReadPackage reads one package directory. The directory name is the mod id
// ("Author-Name").
func ReadPackage(dir string) (*Package, error) {
	id := filepath.Base(dir)
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", id, err)
	}

	info, err := os.Stat(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", id, err)
	}

	size, err := repository.Size(dir)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", id, err)
	}

	author, name := domain.SplitModID(id)
	if manifest.Name == "" {
		manifest.Name = name
	}

	_, iconErr := os.Stat(filepath.Join(dir, IconFile))

	return &Package{
		ID:       id,
		Author:   author,
		Manifest: *manifest,
		Path:     dir,
		Size:     size,
		HasIcon:  iconErr == nil,
		Modified: info.ModTime().UTC(),
	}, nil
}

// ReadManifest parses dir/manifest.json. A UTF-8 byte order mark, common in
// published manifests, is tolerated.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.VersionNumber == "" {
		return nil, fmt.Errorf("manifest has no version_number")
	}
	return &m, nil
}

// ListFiles returns the names of the regular files directly inside dir,
// sorted.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// FileInfo describes one file under the config directory.
type FileInfo struct {
	Path     string    `json:"path"` // relative to the scanned root
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// ConfigTree lists every regular file under root, sorted by path.
func ConfigTree(ctx context.Context, root string) ([]FileInfo, error) {
	var out []FileInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, FileInfo{Path: filepath.ToSlash(rel), Size: info.Size(), Modified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, &domain.ScanError{Path: root, Err: err}
	}
	return out, nil
}
