// Package repository manages the local package repository: one extracted
// package per mod at <root>/<Author-Name>/.
package repository

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store manages the package repository on disk
type Store struct {
	root string
}

// New creates a store rooted at root
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the repository directory
func (s *Store) Root() string { return s.root }

// ModPath returns the directory holding a mod's package
func (s *Store) ModPath(modID string) string {
	return filepath.Join(s.root, modID)
}

// Exists checks if a mod's package is present
func (s *Store) Exists(modID string) bool {
	info, err := os.Stat(s.ModPath(modID))
	return err == nil && info.IsDir()
}

// StagingDir creates an empty hidden directory inside the repository for
// assembling a package before it is committed. Staging on the same
// filesystem keeps Commit a rename.
func (s *Store) StagingDir(modID string) (string, error) {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return "", fmt.Errorf("creating repository: %w", err)
	}
	dir := filepath.Join(s.root, fmt.Sprintf(".staging-%s-%s", modID, uuid.NewString()[:8]))
	if err := os.Mkdir(dir, 0755); err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}
	return dir, nil
}

// Commit moves a staged package into place. Any existing package is moved
// aside; the returned undo function puts it back, and finalize deletes it.
func (s *Store) Commit(staged, modID string) (undo func() error, finalize func(), err error) {
	target := s.ModPath(modID)
	var aside string

	if s.Exists(modID) {
		aside = s.asidePath(modID)
		if err := os.Rename(target, aside); err != nil {
			return nil, nil, fmt.Errorf("moving old package aside: %w", err)
		}
	}

	if err := os.Rename(staged, target); err != nil {
		if aside != "" {
			_ = os.Rename(aside, target)
		}
		return nil, nil, fmt.Errorf("committing package: %w", err)
	}

	undo = func() error {
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("removing new package: %w", err)
		}
		if aside != "" {
			if err := os.Rename(aside, target); err != nil {
				return fmt.Errorf("restoring old package: %w", err)
			}
		}
		return nil
	}
	finalize = func() {
		if aside != "" {
			os.RemoveAll(aside)
		}
	}
	return undo, finalize, nil
}

// Remove moves a package out of the repository. undo puts it back;
// finalize deletes it for good.
func (s *Store) Remove(modID string) (undo func() error, finalize func(), err error) {
	target := s.ModPath(modID)
	if !s.Exists(modID) {
		return func() error { return nil }, func() {}, nil
	}

	aside := s.asidePath(modID)
	if err := os.Rename(target, aside); err != nil {
		return nil, nil, fmt.Errorf("removing package: %w", err)
	}
	return func() error { return os.Rename(aside, target) }, func() { os.RemoveAll(aside) }, nil
}

// Size returns the total size of a directory tree
func Size(dir string) (int64, error) {
	var totalSize int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		totalSize += info.Size()
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("calculating size: %w", err)
	}

	return totalSize, nil
}

// CleanStale removes leftover staging and aside directories from
// interrupted operations.
func (s *Store) CleanStale() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading repository: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".staging-") || strings.HasPrefix(e.Name(), ".old-") {
			if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
				return fmt.Errorf("removing %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

func (s *Store) asidePath(modID string) string {
	return filepath.Join(s.root, fmt.Sprintf(".old-%s-%s", modID, uuid.NewString()[:8]))
}
