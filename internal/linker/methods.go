package linker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"deftheim/internal/domain"
)

// SymlinkLinker deploys files as symbolic links into the repository
type SymlinkLinker struct{}

// NewSymlink creates a new symlink linker
func NewSymlink() *SymlinkLinker { return &SymlinkLinker{} }

func (l *SymlinkLinker) Deploy(src, dst string) error {
	if err := prepare(dst); err != nil {
		return err
	}
	if err := os.Symlink(src, dst); err != nil {
		return fmt.Errorf("%w: symlinking %s: %v", domain.ErrLinkFailed, dst, err)
	}
	return nil
}

// Undeploy removes dst, refusing to touch anything that is not a symlink
func (l *SymlinkLinker) Undeploy(dst string) error {
	info, err := os.Lstat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking %s: %w", dst, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("%w: not a symlink: %s", domain.ErrLinkFailed, dst)
	}
	return remove(dst)
}

func (l *SymlinkLinker) IsDeployed(src, dst string) (bool, error) {
	target, err := os.Readlink(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		var pathErr *os.PathError
		if errors.As(err, &pathErr) && errors.Is(pathErr.Err, syscall.EINVAL) {
			return false, nil // regular file
		}
		return false, err
	}
	return filepath.Clean(target) == filepath.Clean(src), nil
}

func (l *SymlinkLinker) Method() domain.LinkMethod { return domain.LinkSymlink }

// HardlinkLinker deploys files as hard links, copying when src and dst are
// on different filesystems
type HardlinkLinker struct{}

// NewHardlink creates a new hardlink linker
func NewHardlink() *HardlinkLinker { return &HardlinkLinker{} }

func (l *HardlinkLinker) Deploy(src, dst string) error {
	if err := prepare(dst); err != nil {
		return err
	}
	if err := os.Link(src, dst); err != nil {
		if errors.Is(err, syscall.EXDEV) {
			return copyFile(src, dst)
		}
		return fmt.Errorf("%w: hardlinking %s: %v", domain.ErrLinkFailed, dst, err)
	}
	return nil
}

func (l *HardlinkLinker) Undeploy(dst string) error { return remove(dst) }

func (l *HardlinkLinker) IsDeployed(src, dst string) (bool, error) {
	dstInfo, err := os.Lstat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	// A cross-device fallback copy counts when the sizes match.
	return os.SameFile(srcInfo, dstInfo) || (dstInfo.Mode().IsRegular() && dstInfo.Size() == srcInfo.Size()), nil
}

func (l *HardlinkLinker) Method() domain.LinkMethod { return domain.LinkHardlink }

// CopyLinker deploys independent copies
type CopyLinker struct{}

// NewCopy creates a new copy linker
func NewCopy() *CopyLinker { return &CopyLinker{} }

func (l *CopyLinker) Deploy(src, dst string) error {
	if err := prepare(dst); err != nil {
		return err
	}
	return copyFile(src, dst)
}

func (l *CopyLinker) Undeploy(dst string) error { return remove(dst) }

func (l *CopyLinker) IsDeployed(src, dst string) (bool, error) {
	dstInfo, err := os.Lstat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	return dstInfo.Mode().IsRegular() && dstInfo.Size() == srcInfo.Size(), nil
}

func (l *CopyLinker) Method() domain.LinkMethod { return domain.LinkCopy }

// prepare creates dst's parent and clears whatever is at dst.
func prepare(dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating destination dir: %w", err)
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing existing file: %w", err)
	}
	return nil
}

func remove(dst string) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing %s: %v", domain.ErrLinkFailed, dst, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", domain.ErrLinkFailed, dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("%w: copying to %s: %v", domain.ErrLinkFailed, dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("%w: closing %s: %v", domain.ErrLinkFailed, dst, err)
	}
	return nil
}
