package core

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"deftheim/internal/domain"
	"deftheim/internal/metrics"
	"deftheim/internal/storage/db"
)

const (
	stateEntry       = "state.yaml"
	snapshotVersion  = 1
	keyInconsistent  = "restore_inconsistent"
	backupTimeFormat = "20060102-150405"
)

// Archive roots of the trees captured by a backup.
const (
	treeRepository = "repository"
	treePlugins    = "plugins"
	treeConfig     = "config"
)

// BackupManager creates and restores snapshots of the repository, the
// deployed plugins, plugin configuration and the catalog state.
type BackupManager struct {
	db  *db.DB
	env *Env
	log *logrus.Logger
	now func() time.Time
}

// NewBackupManager creates a new backup manager
func NewBackupManager(database *db.DB, env *Env, log *logrus.Logger) *BackupManager {
	return &BackupManager{db: database, env: env, log: log, now: time.Now}
}

type backupTree struct {
	name string
	path string
}

func (b *BackupManager) trees() []backupTree {
	out := []backupTree{{treeRepository, b.env.Repo.Root()}}
	if p := b.env.Settings.PluginsPath(); p != "" {
		out = append(out, backupTree{treePlugins, p})
	}
	if p := b.env.Settings.ConfigPath(); p != "" {
		out = append(out, backupTree{treeConfig, p})
	}
	return out
}

// Snapshot writes a new backup archive and indexes it. The archive is only
// indexed once it is complete; any failure leaves neither a file nor an
// index entry behind. Older backups beyond the retention count are pruned.
func (b *BackupManager) Snapshot(ctx context.Context, description, trigger string) (*domain.Backup, error) {
	if trigger == "" {
		trigger = domain.TriggerManual
	}
	created := b.now().UTC()
	id := created.Format(backupTimeFormat) + "-" + uuid.NewString()[:8]

	dir := b.env.Settings.BackupPath
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &domain.BackupError{Err: err}
	}
	final := filepath.Join(dir, id+".zip")
	tmp := filepath.Join(dir, "."+id+".zip.tmp")

	size, err := b.writeArchive(ctx, tmp, created)
	if err == nil {
		err = os.Rename(tmp, final)
	}
	if err != nil {
		os.Remove(tmp)
		if ctx.Err() != nil {
			return nil, &domain.BackupError{Err: ctx.Err()}
		}
		return nil, &domain.BackupError{Err: err}
	}

	backup := &domain.Backup{
		ID:          id,
		Description: description,
		Created:     created,
		Path:        final,
		Size:        size,
		Trigger:     trigger,
	}
	if err := b.db.InsertBackup(ctx, backup); err != nil {
		os.Remove(final)
		return nil, &domain.BackupError{Err: err}
	}

	b.log.WithFields(logrus.Fields{"backup": id, "trigger": trigger, "size": size}).Info("created backup")
	if err := b.prune(ctx); err != nil {
		b.log.WithError(err).Warn("pruning old backups")
	}
	return backup, nil
}

func (b *BackupManager) writeArchive(ctx context.Context, path string, taken time.Time) (size int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(f)
	for _, t := range b.trees() {
		if err := addTree(ctx, zw, t.name, t.path); err != nil {
			return 0, fmt.Errorf("archiving %s: %w", t.name, err)
		}
	}

	snapshot, err := b.snapshot(ctx, taken)
	if err != nil {
		return 0, err
	}
	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return 0, fmt.Errorf("encoding state: %w", err)
	}
	w, err := zw.Create(stateEntry)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(data); err != nil {
		return 0, err
	}

	if err := zw.Close(); err != nil {
		return 0, err
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b *BackupManager) snapshot(ctx context.Context, taken time.Time) (*domain.StateSnapshot, error) {
	mods, err := b.db.ListMods(ctx)
	if err != nil {
		return nil, err
	}
	profiles, err := b.db.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	active, err := b.db.ActiveProfileID(ctx)
	if err != nil {
		return nil, err
	}

	s := &domain.StateSnapshot{
		Version:         snapshotVersion,
		Taken:           taken,
		ActiveProfileID: active,
		Mods:            make([]domain.SnapshotMod, 0, len(mods)),
		Profiles:        make([]domain.SnapshotProfile, 0, len(profiles)),
	}
	for i := range mods {
		s.Mods = append(s.Mods, mods[i].ToSnapshot())
	}
	for i := range profiles {
		s.Profiles = append(s.Profiles, profiles[i].ToSnapshot())
	}
	return s, nil
}

// addTree archives root under prefix/. Symlinks are stored as links.
// Hidden top-level entries of the tree (staging areas) are skipped. The
// prefix directory entry is always written so restore knows the tree was
// captured.
func addTree(ctx context.Context, zw *zip.Writer, prefix, root string) error {
	if _, err := zw.CreateHeader(&zip.FileHeader{Name: prefix + "/", Method: zip.Store}); err != nil {
		return err
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !strings.ContainsRune(rel, filepath.Separator) && strings.HasPrefix(rel, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = prefix + "/" + filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			header.Name += "/"
			_, err := zw.CreateHeader(header)
			return err
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			header.Method = zip.Store
			w, err := zw.CreateHeader(header)
			if err != nil {
				return err
			}
			_, err = w.Write([]byte(target))
			return err
		case d.Type().IsRegular():
			header.Method = zip.Deflate
			w, err := zw.CreateHeader(header)
			if err != nil {
				return err
			}
			src, err := os.Open(path)
			if err != nil {
				return err
			}
			defer src.Close()
			_, err = io.Copy(w, src)
			return err
		}
		return nil
	})
}

// List returns the backup index, newest first
func (b *BackupManager) List(ctx context.Context) ([]domain.Backup, error) {
	backups, err := b.db.ListBackups(ctx)
	if err != nil {
		return nil, err
	}
	metrics.BackupCount.Set(float64(len(backups)))
	return backups, nil
}

// Delete removes a backup archive and its index entry
func (b *BackupManager) Delete(ctx context.Context, id string) error {
	backup, err := b.db.GetBackup(ctx, id)
	if err != nil {
		return err
	}
	if err := os.Remove(backup.Path); err != nil && !os.IsNotExist(err) {
		return &domain.IOError{Op: "deleting backup", Path: backup.Path, Err: err}
	}
	if err := b.db.DeleteBackup(ctx, id); err != nil {
		return err
	}
	b.log.WithField("backup", id).Info("deleted backup")
	return nil
}

// prune deletes backups beyond the retention count, oldest first
func (b *BackupManager) prune(ctx context.Context) error {
	backups, err := b.db.ListBackups(ctx)
	if err != nil {
		return err
	}
	keep := b.env.Settings.Retention()
	var errs []error
	for _, old := range backups[min(keep, len(backups)):] {
		if err := b.Delete(ctx, old.ID); err != nil {
			errs = append(errs, err)
		}
	}
	metrics.BackupCount.Set(float64(min(keep, len(backups))))
	return errors.Join(errs...)
}

// Inconsistent returns the id of a backup whose restore failed midway, or
// "" when the installation is consistent.
func (b *BackupManager) Inconsistent(ctx context.Context) (string, error) {
	return b.db.GetState(ctx, keyInconsistent)
}

type swappedTree struct {
	live  string
	aside string // "" when the live tree did not exist
}

// Restore replaces the live trees and the catalog state with a backup.
// Every captured tree is extracted to a staging directory next to its live
// counterpart before anything is swapped. If swapping or the database
// update fails, the previous trees are swapped back; if that also fails the
// installation is flagged as inconsistent.
func (b *BackupManager) Restore(ctx context.Context, id string) error {
	backup, err := b.db.GetBackup(ctx, id)
	if err != nil {
		return err
	}
	restoreErr := func(err error) error {
		return &domain.RestoreError{BackupID: id, Err: err}
	}

	zr, err := zip.OpenReader(backup.Path)
	if err != nil {
		return restoreErr(err)
	}
	defer zr.Close()

	snapshot, err := readSnapshot(&zr.Reader)
	if err != nil {
		return restoreErr(err)
	}

	suffix := uuid.NewString()[:8]
	var staged []backupTree
	cleanup := func() {
		for _, s := range staged {
			os.RemoveAll(s.path)
		}
	}
	for _, t := range b.trees() {
		if !hasEntry(&zr.Reader, t.name+"/") {
			continue
		}
		dir := t.path + ".restore-" + suffix
		staged = append(staged, backupTree{name: t.name, path: dir})
		if err := extractTree(ctx, &zr.Reader, t.name, dir); err != nil {
			cleanup()
			if ctx.Err() != nil {
				return restoreErr(ctx.Err())
			}
			return restoreErr(fmt.Errorf("extracting %s: %w", t.name, err))
		}
	}

	// Past this point the live trees change; finish even if ctx is cancelled.
	ctx = context.WithoutCancel(ctx)

	live := make(map[string]string)
	for _, t := range b.trees() {
		live[t.name] = t.path
	}
	var swapped []swappedTree
	var swapErr error
	for _, s := range staged {
		st, err := swapIn(s.path, live[s.name], suffix)
		if err != nil {
			swapErr = fmt.Errorf("replacing %s: %w", s.name, err)
			break
		}
		swapped = append(swapped, st)
	}

	if swapErr == nil {
		swapErr = b.db.InTx(ctx, func(tx *db.Tx) error {
			mods := make([]domain.Mod, 0, len(snapshot.Mods))
			for _, m := range snapshot.Mods {
				mods = append(mods, m.Mod())
			}
			profiles := make([]domain.Profile, 0, len(snapshot.Profiles))
			for _, p := range snapshot.Profiles {
				profiles = append(profiles, p.Profile())
			}
			if err := tx.ReplaceCatalog(ctx, mods); err != nil {
				return err
			}
			if err := tx.ReplaceProfiles(ctx, profiles, snapshot.ActiveProfileID); err != nil {
				return err
			}
			if err := tx.ReplaceUpdatePlan(ctx, nil); err != nil {
				return err
			}
			return tx.DeleteState(ctx, keyInconsistent)
		})
	}

	if swapErr != nil {
		cleanup()
		if err := swapBack(swapped); err != nil {
			if ferr := b.db.SetState(ctx, keyInconsistent, id); ferr != nil {
				b.log.WithError(ferr).Error("flagging inconsistent restore")
			}
			b.log.WithError(err).WithField("backup", id).Error("restore left installation inconsistent")
			return &domain.RestoreError{BackupID: id, Inconsistent: true, Err: errors.Join(swapErr, err)}
		}
		return restoreErr(swapErr)
	}

	for _, s := range swapped {
		if s.aside != "" {
			os.RemoveAll(s.aside)
		}
	}
	b.log.WithField("backup", id).Info("restored backup")
	return nil
}

func swapIn(staged, live, suffix string) (swappedTree, error) {
	st := swappedTree{live: live}
	if _, err := os.Lstat(live); err == nil {
		st.aside = live + ".pre-restore-" + suffix
		if err := os.Rename(live, st.aside); err != nil {
			return st, err
		}
	} else if err := os.MkdirAll(filepath.Dir(live), 0755); err != nil {
		return st, err
	}

	if err := os.Rename(staged, live); err != nil {
		if st.aside != "" {
			if rerr := os.Rename(st.aside, live); rerr != nil {
				return st, errors.Join(err, rerr)
			}
		}
		return st, err
	}
	return st, nil
}

func swapBack(swapped []swappedTree) error {
	var errs []error
	for i := len(swapped) - 1; i >= 0; i-- {
		s := swapped[i]
		if err := os.RemoveAll(s.live); err != nil {
			errs = append(errs, err)
			continue
		}
		if s.aside != "" {
			if err := os.Rename(s.aside, s.live); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func readSnapshot(zr *zip.Reader) (*domain.StateSnapshot, error) {
	f, err := zr.Open(stateEntry)
	if err != nil {
		return nil, fmt.Errorf("backup has no %s: %w", stateEntry, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var s domain.StateSnapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", stateEntry, err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	return &s, nil
}

func hasEntry(zr *zip.Reader, name string) bool {
	for _, f := range zr.File {
		if f.Name == name {
			return true
		}
	}
	return false
}

// extractTree writes the entries under prefix/ into dest.
func extractTree(ctx context.Context, zr *zip.Reader, prefix, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, ok := strings.CutPrefix(f.Name, prefix+"/")
		if !ok || rel == "" {
			continue
		}
		target, err := entryPath(dest, rel)
		if err != nil {
			return err
		}

		switch {
		case f.FileInfo().IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case f.Mode()&fs.ModeSymlink != 0:
			if err := restoreSymlink(f, target); err != nil {
				return err
			}
		default:
			if err := restoreFile(f, target); err != nil {
				return err
			}
		}
	}
	return nil
}

func restoreSymlink(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	link, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	return os.Symlink(string(link), target)
}

func restoreFile(f *zip.File, target string) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, rc)
	return err
}
