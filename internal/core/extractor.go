package core

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"deftheim/internal/domain"
)

const (
	formatZip = "zip"
	format7z  = "7z"
	formatRar = "rar"
)

// extract7zTimeout bounds a 7z run on a corrupted archive.
const extract7zTimeout = 5 * time.Minute

// creatorFAT marks zip entries written on Windows, whose names may use
// backslashes as separators.
const creatorFAT = 0

// Nexus uploads usually mirror the game directory (BepInEx/plugins/...).
// Packages in the repository keep plugins/ and config/ at their root.
const frameworkDir = "BepInEx"

var layoutDirs = map[string]bool{"plugins": true, "config": true, "patchers": true, "monomod": true}

// packagingJunk holds lower-cased names archivers leave behind.
var packagingJunk = map[string]bool{"__macosx": true, ".ds_store": true, "thumbs.db": true, "desktop.ini": true}

// Extractor unpacks downloaded archives. Thunderstore packages are always
// zip; Nexus uploads may also be .7z or .rar, which need the 7z command.
type Extractor struct {
	packageLayout bool
	sevenZip      string
}

// NewExtractor returns an extractor that writes archives out as they are.
func NewExtractor() *Extractor {
	return &Extractor{sevenZip: "7z"}
}

// NewPackageExtractor returns an extractor for mod packages. After
// unpacking it brings the tree into repository layout (see normalizeLayout).
func NewPackageExtractor() *Extractor {
	return &Extractor{packageLayout: true, sevenZip: "7z"}
}

// Extract unpacks archivePath into destDir. Archives without a known
// extension are sniffed for the zip signature. Malformed or unsafe archives
// fail with domain.ErrInvalidArchive.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string) error {
	format := e.DetectFormat(archivePath)
	if format == "" && isZip(archivePath) {
		format = formatZip
	}
	if format == "" {
		return fmt.Errorf("%w: unsupported archive format %q", domain.ErrInvalidArchive, filepath.Ext(archivePath))
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return &domain.IOError{Op: "creating", Path: destDir, Err: err}
	}

	var err error
	if format == formatZip {
		err = e.unzip(ctx, archivePath, destDir)
	} else {
		err = e.run7z(ctx, archivePath, destDir)
	}
	if err != nil || !e.packageLayout {
		return err
	}
	return normalizeLayout(destDir)
}

// CanExtract reports whether filename has an extension Extract handles.
func (e *Extractor) CanExtract(filename string) bool {
	return e.DetectFormat(filename) != ""
}

// DetectFormat maps a file extension to an archive format, or "".
func (e *Extractor) DetectFormat(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".zip":
		return formatZip
	case ".7z":
		return format7z
	case ".rar":
		return formatRar
	}
	return ""
}

func isZip(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return string(magic) == "PK\x03\x04"
}

func (e *Extractor) unzip(ctx context.Context, archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &domain.IOError{Op: "opening", Path: archivePath, Err: err}
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidArchive, filepath.Base(archivePath), err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := unzipEntry(f, destDir); err != nil {
			return err
		}
	}
	return nil
}

func unzipEntry(f *zip.File, destDir string) error {
	name := f.Name
	if f.CreatorVersion>>8 == creatorFAT {
		name = strings.ReplaceAll(name, `\`, "/")
	}
	target, err := entryPath(destDir, name)
	if err != nil {
		return err
	}

	switch {
	case f.Mode()&fs.ModeSymlink != 0:
		return fmt.Errorf("%w: entry %s is a symlink", domain.ErrInvalidArchive, f.Name)
	case strings.HasSuffix(name, "/") || f.FileInfo().IsDir():
		if err := os.MkdirAll(target, 0755); err != nil {
			return &domain.IOError{Op: "creating", Path: target, Err: err}
		}
		return nil
	}
	if err := restoreFile(f, target); err != nil {
		return &domain.IOError{Op: "extracting", Path: target, Err: err}
	}
	return nil
}

// entryPath resolves a slash-separated archive entry name below destDir.
// Absolute names, drive letters and names climbing out of destDir are
// rejected.
func entryPath(destDir, name string) (string, error) {
	if path.IsAbs(name) || (len(name) > 1 && name[1] == ':') {
		return "", fmt.Errorf("%w: entry %s has an absolute path", domain.ErrInvalidArchive, name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: entry %s escapes the destination", domain.ErrInvalidArchive, name)
	}
	return filepath.Join(destDir, filepath.FromSlash(clean)), nil
}

func (e *Extractor) run7z(ctx context.Context, archivePath, destDir string) error {
	bin, err := exec.LookPath(e.sevenZip)
	if err != nil {
		return &domain.IOError{Op: "extracting", Path: archivePath,
			Err: errors.New("7z command not found: install p7zip-full to extract .7z and .rar files")}
	}

	runCtx, cancel := context.WithTimeout(ctx, extract7zTimeout)
	defer cancel()

	// -o takes the directory without a space
	out, err := exec.CommandContext(runCtx, bin, "x", "-y", "-o"+destDir, archivePath).CombinedOutput()
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case runCtx.Err() == context.DeadlineExceeded:
		return &domain.IOError{Op: "extracting", Path: archivePath, Err: fmt.Errorf("7z timed out after %v", extract7zTimeout)}
	}
	return fmt.Errorf("%w: 7z: %v: %s", domain.ErrInvalidArchive, err, strings.TrimSpace(string(out)))
}

// normalizeLayout rewrites an unpacked mod package in place. Archiver
// leftovers go first, then a lone folder wrapping the whole package is
// unwrapped. Last, a BepInEx folder is merged into the root.
func normalizeLayout(dir string) error {
	if err := removeJunk(dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &domain.IOError{Op: "reading", Path: dir, Err: err}
	}
	if len(entries) == 1 && entries[0].IsDir() && !layoutDirs[strings.ToLower(entries[0].Name())] {
		if err := hoist(dir, entries[0].Name()); err != nil {
			return err
		}
		if entries, err = os.ReadDir(dir); err != nil {
			return &domain.IOError{Op: "reading", Path: dir, Err: err}
		}
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.EqualFold(entry.Name(), frameworkDir) {
			return hoist(dir, entry.Name())
		}
	}
	return nil
}

func removeJunk(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := strings.ToLower(d.Name())
		if p == dir || !(packagingJunk[name] || strings.HasPrefix(name, "._")) {
			return nil
		}
		if err := os.RemoveAll(p); err != nil {
			return &domain.IOError{Op: "removing", Path: p, Err: err}
		}
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
}

// hoist moves the contents of dir/name up into dir. The folder is renamed
// aside first so a child sharing its name cannot collide with it.
func hoist(dir, name string) error {
	aside := filepath.Join(dir, ".hoist-"+uuid.NewString()[:8])
	if err := os.Rename(filepath.Join(dir, name), aside); err != nil {
		return &domain.IOError{Op: "moving", Path: filepath.Join(dir, name), Err: err}
	}
	if err := merge(aside, dir, name); err != nil {
		return err
	}
	if err := os.Remove(aside); err != nil {
		return &domain.IOError{Op: "removing", Path: aside, Err: err}
	}
	return nil
}

// merge moves every entry of src into dst, descending into directories
// present on both sides. rel names src in error messages.
func merge(src, dst, rel string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return &domain.IOError{Op: "reading", Path: src, Err: err}
	}
	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		existing, err := os.Lstat(to)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if err := os.Rename(from, to); err != nil {
				return &domain.IOError{Op: "moving", Path: from, Err: err}
			}
			continue
		case err != nil:
			return &domain.IOError{Op: "inspecting", Path: to, Err: err}
		}
		if !entry.IsDir() || !existing.IsDir() {
			return fmt.Errorf("%w: %s appears twice in the package", domain.ErrInvalidArchive, path.Join(rel, entry.Name()))
		}
		if err := merge(from, to, path.Join(rel, entry.Name())); err != nil {
			return err
		}
		if err := os.Remove(from); err != nil {
			return &domain.IOError{Op: "removing", Path: from, Err: err}
		}
	}
	return nil
}
