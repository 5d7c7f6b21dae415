package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"deftheim/internal/domain"
)

// ResolveUnder joins rel onto root and returns the cleaned absolute path.
// It returns ErrInvalidPath if:
//   - rel is absolute
//   - rel contains parent directory traversal (..)
//   - the result would escape root
func ResolveUnder(root, rel string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: root is not configured", domain.ErrInvalidPath)
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", fmt.Errorf("%w: %q must be relative", domain.ErrInvalidPath, rel)
	}
	for _, part := range strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "", fmt.Errorf("%w: %q contains traversal", domain.ErrInvalidPath, rel)
		}
	}

	cleanRoot := filepath.Clean(root)
	full := filepath.Join(cleanRoot, rel)
	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %s", domain.ErrInvalidPath, rel, root)
	}
	return full, nil
}

// ValidateFileName accepts plain file names only.
func ValidateFileName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: invalid file name %q", domain.ErrInvalidPath, name)
	}
	return nil
}

// SamePath reports whether a and b name the same location after cleaning
// and resolving symlinks where possible.
func SamePath(a, b string) bool {
	return canonical(a) == canonical(b)
}

func canonical(p string) string {
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return p
}
