// Package configfiles reads and writes plugin configuration files under the
// mod framework's config directory.
package configfiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"deftheim/internal/domain"
	"deftheim/internal/scanner"
	"deftheim/internal/storage/config"
)

// Store is scoped to one config root. Paths passed to its methods are
// relative subdirectories of that root; "" is the root itself.
type Store struct {
	root string
}

// New creates a store for root
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the config directory
func (s *Store) Root() string { return s.root }

// List returns the names of regular files in path, sorted
func (s *Store) List(path string) ([]string, error) {
	dir, err := config.ResolveUnder(s.root, path)
	if err != nil {
		return nil, err
	}

	names, err := scanner.ListFiles(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigFileNotFound, dir)
		}
		return nil, &domain.IOError{Op: "listing", Path: dir, Err: err}
	}
	return names, nil
}

// Read returns the content of a config file
func (s *Store) Read(path, filename string) (string, error) {
	full, err := s.resolve(path, filename)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", domain.ErrConfigFileNotFound, full)
		}
		return "", &domain.IOError{Op: "reading", Path: full, Err: err}
	}
	return string(data), nil
}

// Save replaces (or creates) a config file. The directory must exist.
// The write goes through a temp file and a rename so readers never see a
// truncated file.
func (s *Store) Save(path, filename, content string) error {
	full, err := s.resolve(path, filename)
	if err != nil {
		return err
	}

	dir := filepath.Dir(full)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", domain.ErrConfigFileNotFound, dir)
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(full); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filename+".*.tmp")
	if err != nil {
		return &domain.IOError{Op: "writing", Path: full, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &domain.IOError{Op: "writing", Path: full, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &domain.IOError{Op: "writing", Path: full, Err: err}
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return &domain.IOError{Op: "writing", Path: full, Err: err}
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return &domain.IOError{Op: "replacing", Path: full, Err: err}
	}
	return nil
}

func (s *Store) resolve(path, filename string) (string, error) {
	if err := config.ValidateFileName(filename); err != nil {
		return "", err
	}
	dir, err := config.ResolveUnder(s.root, path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}
