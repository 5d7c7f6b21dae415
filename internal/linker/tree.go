package linker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// DeployTree deploys every file under srcDir to the same relative path under
// dstDir. On failure the files deployed so far are removed again.
func DeployTree(ctx context.Context, l Linker, srcDir, dstDir string) error {
	files, err := listFiles(srcDir)
	if err != nil {
		return err
	}

	deployed := make([]string, 0, len(files))
	rollback := func() {
		for _, dst := range deployed {
			_ = l.Undeploy(dst)
		}
		CleanupEmptyDirs(dstDir)
	}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			rollback()
			return err
		}
		dst := filepath.Join(dstDir, rel)
		if err := l.Deploy(filepath.Join(srcDir, rel), dst); err != nil {
			rollback()
			return fmt.Errorf("deploying %s: %w", rel, err)
		}
		deployed = append(deployed, dst)
	}
	return nil
}

// UndeployTree removes the files of srcDir from dstDir, then any
// directories left empty. Files under dstDir that did not come from srcDir
// are left alone.
func UndeployTree(l Linker, srcDir, dstDir string) error {
	files, err := listFiles(srcDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if len(files) == 0 {
		// Package already gone: fall back to what is deployed.
		files, err = listFiles(dstDir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
	}

	var errs []error
	for _, rel := range files {
		if err := l.Undeploy(filepath.Join(dstDir, rel)); err != nil {
			errs = append(errs, err)
		}
	}
	CleanupEmptyDirs(dstDir)
	return errors.Join(errs...)
}

// IsTreeDeployed reports whether every file of srcDir is deployed under
// dstDir. An empty package counts as deployed when dstDir exists.
func IsTreeDeployed(l Linker, srcDir, dstDir string) (bool, error) {
	if _, err := os.Lstat(dstDir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	files, err := listFiles(srcDir)
	if err != nil {
		return false, err
	}
	for _, rel := range files {
		ok, err := l.IsDeployed(filepath.Join(srcDir, rel), filepath.Join(dstDir, rel))
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// CleanupEmptyDirs removes empty directories under root, deepest first,
// including root itself.
func CleanupEmptyDirs(root string) {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, dir := range dirs {
		_ = os.Remove(dir) // fails on non-empty directories
	}
}

func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
