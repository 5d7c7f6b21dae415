package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"deftheim/internal/domain"
	"deftheim/internal/source"
	"deftheim/internal/source/steam"
)

// frameworkPayload is the directory inside the BepInEx pack archive that
// is copied into the game directory.
const frameworkPayload = "BepInExPack_Valheim"

// Launch methods reported by System.Launch.
const (
	LaunchDirect = "direct"
	LaunchSteam  = "steam"
)

// Launcher starts a process without waiting for it. wait blocks until the
// process exits.
type Launcher interface {
	Start(dir, name string, args ...string) (wait func() error, err error)
}

// ExecLauncher starts processes with os/exec
type ExecLauncher struct{}

func (ExecLauncher) Start(dir, name string, args ...string) (func() error, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Wait, nil
}

// System handles game detection, the mod framework and launching
type System struct {
	env        *Env
	registry   *source.Registry
	downloader *Downloader
	extractor  *Extractor
	launcher   Launcher
	lookPath   func(string) (string, error)
	home       string
	log        *logrus.Logger
}

// NewSystem creates a system manager. home is searched for Steam libraries.
func NewSystem(env *Env, registry *source.Registry, downloader *Downloader, launcher Launcher, home string, log *logrus.Logger) *System {
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	return &System{
		env:        env,
		registry:   registry,
		downloader: downloader,
		extractor:  NewExtractor(),
		launcher:   launcher,
		lookPath:   exec.LookPath,
		home:       home,
		log:        log,
	}
}

// DetectInstallPath finds the Valheim installation, first through the
// Steam library folders and then in common install locations.
func (s *System) DetectInstallPath(ctx context.Context) (string, error) {
	inst, err := steam.FindValheim(s.home)
	if err == nil {
		s.log.WithFields(logrus.Fields{"path": inst.InstallPath, "library": inst.LibraryPath}).Debug("found Valheim through Steam")
		return inst.InstallPath, nil
	}
	if !errors.Is(err, domain.ErrInstallNotFound) {
		s.log.WithError(err).Debug("steam lookup failed")
	}

	for _, dir := range []string{
		filepath.Join(s.home, ".local", "share", "Steam", "steamapps", "common", domain.ValheimSteamName),
		filepath.Join(s.home, ".steam", "steam", "steamapps", "common", domain.ValheimSteamName),
		filepath.Join(s.home, "Games", domain.ValheimSteamName),
		filepath.Join(s.home, "games", domain.ValheimSteamName),
	} {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if isFile(filepath.Join(dir, domain.ValheimExecutable)) {
			return dir, nil
		}
	}
	return "", domain.ErrInstallNotFound
}

// CheckModFramework reports whether BepInEx is installed in the game
func (s *System) CheckModFramework() bool {
	fw := s.env.Settings.FrameworkPath()
	if fw == "" {
		return false
	}
	return isFile(filepath.Join(fw, "core", "BepInEx.dll"))
}

// InstallModFramework downloads the BepInEx pack and copies it into the
// game directory, overwriting older framework files.
func (s *System) InstallModFramework(ctx context.Context) error {
	game := s.env.Settings.ValheimPath
	if game == "" {
		return fmt.Errorf("%w: game path is not set", domain.ErrInvalidConfig)
	}

	rel, repo, err := s.registry.Resolve(ctx, domain.Mod{ID: domain.FrameworkPackageID})
	if err != nil {
		return err
	}
	link, err := repo.DownloadURL(ctx, rel)
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "deftheim-framework-")
	if err != nil {
		return &domain.IOError{Op: "creating temp dir", Err: err}
	}
	defer os.RemoveAll(tmp)

	archive := filepath.Join(tmp, "pack.zip")
	if _, err := s.downloader.Download(ctx, link, archive, downloadProgress(ctx)); err != nil {
		return err
	}
	unpacked := filepath.Join(tmp, "pack")
	if err := s.extractor.Extract(ctx, archive, unpacked); err != nil {
		return fmt.Errorf("unpacking %s: %w", rel.ModID, err)
	}

	payload := filepath.Join(unpacked, frameworkPayload)
	if info, err := os.Stat(payload); err != nil || !info.IsDir() {
		payload = unpacked
	}
	if err := copyTree(ctx, payload, game); err != nil {
		return &domain.IOError{Op: "installing framework", Path: game, Err: err}
	}

	s.log.WithFields(logrus.Fields{"version": rel.Version, "path": game}).Info("installed mod framework")
	return nil
}

// Launch starts the game. With the framework installed and its start
// script present the script is run directly and wait is returned; otherwise
// the launch is handed to Steam and wait is nil.
func (s *System) Launch(ctx context.Context) (method string, wait func() error, err error) {
	game := s.env.Settings.ValheimPath
	script := filepath.Join(game, "start_game_bepinex.sh")
	if game != "" && s.CheckModFramework() && isFile(script) {
		wait, err := s.launcher.Start(game, script)
		if err != nil {
			return "", nil, &domain.IOError{Op: "launching", Path: script, Err: err}
		}
		s.log.WithField("script", script).Info("launched game")
		return LaunchDirect, wait, nil
	}

	name, args := "xdg-open", []string{"steam://rungameid/" + domain.ValheimAppID}
	if bin, err := s.lookPath("steam"); err == nil {
		name, args = bin, []string{"-applaunch", domain.ValheimAppID}
	}
	if _, err := s.launcher.Start(game, name, args...); err != nil {
		return "", nil, &domain.IOError{Op: "launching", Path: name, Err: err}
	}
	s.log.WithField("via", name).Info("launched game through Steam")
	return LaunchSteam, nil, nil
}

// copyTree copies every file under src into dst, replacing existing files.
func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	// Remove first so a hardlinked or read-only target is replaced, not written through.
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm|0600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
