package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrModNotFound        = fmt.Errorf("mod %w", ErrNotFound)
	ErrProfileNotFound    = fmt.Errorf("profile %w", ErrNotFound)
	ErrBackupNotFound     = fmt.Errorf("backup %w", ErrNotFound)
	ErrConfigFileNotFound = fmt.Errorf("config file %w", ErrNotFound)
	ErrInstallNotFound    = fmt.Errorf("game installation %w", ErrNotFound)

	ErrModNotInstalled    = errors.New("mod not installed")
	ErrConflict           = errors.New("another operation is in progress")
	ErrDependencyLoop     = errors.New("circular dependency detected")
	ErrAuthRequired       = errors.New("authentication required")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrInvalidPath        = errors.New("invalid path")
	ErrInvalidProfile     = errors.New("invalid profile")
	ErrInvalidProfileCode = errors.New("invalid profile code")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrDownloadFailed     = errors.New("download failed")
	ErrLinkFailed         = errors.New("link operation failed")
	ErrInvalidArchive     = errors.New("invalid archive")
)

// ScanError reports that the scan root itself could not be read.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scanning %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// IOError wraps a filesystem failure with the operation and path involved.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NetworkError reports that a remote repository could not be reached.
type NetworkError struct {
	Source string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s unreachable: %v", e.Source, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DependencyError is returned when enabling a mod with unmet dependencies, or
// when disabling/uninstalling a mod that other mods still depend on.
type DependencyError struct {
	ModID      string
	Unmet      []string
	Dependents []string
}

func (e *DependencyError) Error() string {
	if len(e.Dependents) > 0 {
		return fmt.Sprintf("%s is required by %s", e.ModID, strings.Join(e.Dependents, ", "))
	}
	return fmt.Sprintf("%s has unmet dependencies: %s", e.ModID, strings.Join(e.Unmet, ", "))
}

// CyclicDependencyError names the mods forming a dependency cycle.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("%v: %s", ErrDependencyLoop, strings.Join(e.Cycle, " -> "))
}

func (e *CyclicDependencyError) Unwrap() error { return ErrDependencyLoop }

// VersionConflictError is returned when a new package version requires
// dependencies the catalog cannot satisfy.
type VersionConflictError struct {
	ModID   string
	Version string
	Unmet   []string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s %s requires %s", e.ModID, e.Version, strings.Join(e.Unmet, ", "))
}

// BackupError reports a failed snapshot. No index entry exists for it.
type BackupError struct {
	Err error
}

func (e *BackupError) Error() string { return fmt.Sprintf("backup failed: %v", e.Err) }

func (e *BackupError) Unwrap() error { return e.Err }

// RestoreError reports a failed restore. When Inconsistent is set the live
// directories may be partially restored and need manual attention.
type RestoreError struct {
	BackupID     string
	Inconsistent bool
	Err          error
}

func (e *RestoreError) Error() string {
	if e.Inconsistent {
		return fmt.Sprintf("restoring backup %s left the installation inconsistent: %v", e.BackupID, e.Err)
	}
	return fmt.Sprintf("restoring backup %s: %v", e.BackupID, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// ProfileSwitchError carries the step and mod at which a switch failed and
// whether the previous state was recovered.
type ProfileSwitchError struct {
	ProfileID      string
	Step           string
	ModID          string
	RolledBack     bool
	RestoredBackup string
	Err            error
}

func (e *ProfileSwitchError) Error() string {
	msg := fmt.Sprintf("switching to profile %s failed at %s", e.ProfileID, e.Step)
	if e.ModID != "" {
		msg += " (" + e.ModID + ")"
	}
	switch {
	case e.RestoredBackup != "":
		msg += ", restored backup " + e.RestoredBackup
	case e.RolledBack:
		msg += ", rolled back"
	}
	return msg + ": " + e.Err.Error()
}

func (e *ProfileSwitchError) Unwrap() error { return e.Err }

// BatchUpdateError aggregates the outcome of an update-all run that did not
// fully succeed.
type BatchUpdateError struct {
	Results []UpdateResult
}

func (e *BatchUpdateError) Error() string {
	var failed, skipped []string
	for _, r := range e.Results {
		switch r.Status {
		case UpdateFailed:
			failed = append(failed, r.ModID)
		case UpdateNotReached:
			skipped = append(skipped, r.ModID)
		}
	}
	msg := fmt.Sprintf("%d of %d updates failed", len(failed), len(e.Results))
	if len(failed) > 0 {
		msg += ": " + strings.Join(failed, ", ")
	}
	if len(skipped) > 0 {
		msg += fmt.Sprintf("; not reached: %s", strings.Join(skipped, ", "))
	}
	return msg
}

// Failed returns the results that failed or were not reached.
func (e *BatchUpdateError) Failed() []UpdateResult {
	var out []UpdateResult
	for _, r := range e.Results {
		if r.Status == UpdateFailed || r.Status == UpdateNotReached {
			out = append(out, r)
		}
	}
	return out
}

// ErrorKind classifies errors for transports and exit codes.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindIO               ErrorKind = "io"
	KindNetwork          ErrorKind = "network"
	KindDependency       ErrorKind = "dependency"
	KindCyclicDependency ErrorKind = "cyclic_dependency"
	KindVersionConflict  ErrorKind = "version_conflict"
	KindConflict         ErrorKind = "conflict"
	KindBackup           ErrorKind = "backup"
	KindRestore          ErrorKind = "restore"
	KindProfileSwitch    ErrorKind = "profile_switch"
	KindBatchUpdate      ErrorKind = "batch_update"
	KindScan             ErrorKind = "scan"
	KindInvalid          ErrorKind = "invalid_request"
	KindAuth             ErrorKind = "auth_required"
	KindInternal         ErrorKind = "internal_error"
)

// Kind returns the most specific classification of err. Outer wrappers win:
// a ProfileSwitchError caused by an IOError is a profile_switch error.
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var (
		switchErr  *ProfileSwitchError
		batchErr   *BatchUpdateError
		backupErr  *BackupError
		restoreErr *RestoreError
		cycleErr   *CyclicDependencyError
		depErr     *DependencyError
		verErr     *VersionConflictError
		netErr     *NetworkError
		scanErr    *ScanError
		ioErr      *IOError
	)

	switch {
	case errors.As(err, &switchErr):
		return KindProfileSwitch
	case errors.As(err, &batchErr):
		return KindBatchUpdate
	case errors.As(err, &restoreErr):
		return KindRestore
	case errors.As(err, &backupErr):
		return KindBackup
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.As(err, &cycleErr), errors.Is(err, ErrDependencyLoop):
		return KindCyclicDependency
	case errors.As(err, &depErr):
		return KindDependency
	case errors.As(err, &verErr):
		return KindVersionConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.As(err, &netErr), errors.Is(err, ErrDownloadFailed):
		return KindNetwork
	case errors.As(err, &scanErr):
		return KindScan
	case errors.Is(err, ErrAuthRequired):
		return KindAuth
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrInvalidPath),
		errors.Is(err, ErrInvalidProfile), errors.Is(err, ErrInvalidProfileCode),
		errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrModNotInstalled):
		return KindInvalid
	case errors.As(err, &ioErr), errors.Is(err, ErrLinkFailed), errors.Is(err, ErrInvalidArchive):
		return KindIO
	default:
		return KindInternal
	}
}
