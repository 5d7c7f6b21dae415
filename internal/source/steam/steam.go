// Package steam locates the Valheim installation through the local Steam
// libraries.
package steam

import (
	"fmt"
	"os"
	"path/filepath"

	"deftheim/internal/domain"
)

// Installation is a Valheim install found on disk
type Installation struct {
	SteamRoot   string
	LibraryPath string
	InstallPath string
	AppID       string
}

// FindSteamRoots returns candidate Steam installation roots in search
// order. home is the user's home directory; STEAM_ROOT takes precedence.
func FindSteamRoots(home string) []string {
	candidates := []string{
		filepath.Join(home, ".steam", "steam"),
		filepath.Join(home, ".local", "share", "Steam"),
		filepath.Join(home, ".var", "app", "com.valvesoftware.Steam", ".local", "share", "Steam"),
	}
	if p := os.Getenv("STEAM_ROOT"); p != "" {
		candidates = append([]string{p}, candidates...)
	}

	var out []string
	seen := make(map[string]bool)
	for _, p := range candidates {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			continue
		}
		key := p
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			key = resolved
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// GetLibraryPaths returns all library roots of a Steam installation. A
// missing libraryfolders.vdf means the root is the only library.
func GetLibraryPaths(steamRoot string) ([]string, error) {
	vdfPath := filepath.Join(steamRoot, "steamapps", "libraryfolders.vdf")
	f, err := os.Open(vdfPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{steamRoot}, nil
		}
		return nil, fmt.Errorf("reading libraryfolders: %w", err)
	}
	defer f.Close()

	root, err := ParseVDF(f)
	if err != nil {
		return nil, fmt.Errorf("parsing libraryfolders: %w", err)
	}
	paths := libraryPaths(root)
	if len(paths) == 0 {
		return []string{steamRoot}, nil
	}
	return paths, nil
}

// FindApp looks for the app manifest of appID in every library of every
// Steam root and returns the first install directory that exists.
func FindApp(steamRoots []string, appID string) (*Installation, error) {
	for _, steamRoot := range steamRoots {
		libraries, err := GetLibraryPaths(steamRoot)
		if err != nil {
			continue
		}
		for _, lib := range libraries {
			manifestPath := filepath.Join(lib, "steamapps", "appmanifest_"+appID+".acf")
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				continue
			}
			m, err := ParseAppManifest(string(data))
			if err != nil || m.InstallDir == "" {
				continue
			}
			installPath := filepath.Join(lib, "steamapps", "common", m.InstallDir)
			if info, err := os.Stat(installPath); err != nil || !info.IsDir() {
				continue
			}
			return &Installation{SteamRoot: steamRoot, LibraryPath: lib, InstallPath: installPath, AppID: appID}, nil
		}
	}
	return nil, fmt.Errorf("%w: steam app %s", domain.ErrInstallNotFound, appID)
}

// FindValheim locates Valheim through the Steam libraries under home
func FindValheim(home string) (*Installation, error) {
	return FindApp(FindSteamRoots(home), domain.ValheimAppID)
}
