// Package rpc exposes the service as named commands taking JSON arguments,
// and serves them over HTTP.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"deftheim/internal/core"
	"deftheim/internal/domain"
	"deftheim/internal/scanner"
)

// ErrUnknownCommand is returned by Invoke for names with no handler.
var ErrUnknownCommand = fmt.Errorf("command %w", domain.ErrNotFound)

// Backend is the application surface the commands call into. core.Service
// implements it.
type Backend interface {
	ScanMods(ctx context.Context) ([]domain.Mod, error)
	ListMods(ctx context.Context) ([]domain.Mod, error)
	RefreshCatalog(ctx context.Context) ([]domain.Mod, error)
	GetMod(ctx context.Context, id string) (*domain.Mod, error)
	InstallMod(ctx context.Context, id string, withDeps bool) (*domain.Mod, error)
	UninstallMod(ctx context.Context, id string) error
	EnableMod(ctx context.Context, id string) error
	DisableMod(ctx context.Context, id string) error

	CreateProfile(ctx context.Context, p domain.Profile) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.Profile, error)
	DeleteProfile(ctx context.Context, id string) error
	SwitchProfile(ctx context.Context, id string) (*domain.SwitchReport, error)
	ListProfiles(ctx context.Context) ([]domain.Profile, error)
	GetProfile(ctx context.Context, id string) (*domain.Profile, error)
	DuplicateProfile(ctx context.Context, id, name string) (*domain.Profile, error)
	ProfileTemplates() []domain.ProfileTemplate
	CreateProfileFromTemplate(ctx context.Context, templateID, name string) (*domain.Profile, error)
	ExportProfileToCode(ctx context.Context, id string) (string, error)
	ImportProfileFromCode(ctx context.Context, code, name string) (*domain.Profile, error)

	DetectInstallPath(ctx context.Context) (string, error)
	CheckModFramework() bool
	InstallModFramework(ctx context.Context) error
	LaunchGame(ctx context.Context, profileID string) (*core.LaunchResult, error)

	CheckUpdates(ctx context.Context) ([]domain.UpdateInfo, error)
	UpdatePlan(ctx context.Context) ([]domain.UpdateInfo, error)
	UpdateMod(ctx context.Context, repoPath, id string) (*domain.Mod, error)
	UpdateAllMods(ctx context.Context, repoPath string) ([]domain.UpdateResult, error)

	CreateBackup(ctx context.Context, description string) (*domain.Backup, error)
	RestoreBackup(ctx context.Context, id string) error
	ListBackups(ctx context.Context) ([]domain.Backup, error)
	DeleteBackup(ctx context.Context, id string) error

	SaveSettings(ctx context.Context, settings domain.AppSettings) error
	LoadSettings(ctx context.Context) domain.AppSettings
	SetNexusAPIKey(ctx context.Context, key string) error
	Sources() []string

	ListConfigFiles(ctx context.Context, path string) ([]string, error)
	ReadConfigFile(ctx context.Context, path, filename string) (string, error)
	SaveConfigFile(ctx context.Context, path, filename, content string) error
	ConfigTree(ctx context.Context) ([]scanner.FileInfo, error)

	Status(ctx context.Context) (*core.Status, error)
}

// Handler runs one command with its raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Dispatcher maps command names to handlers.
type Dispatcher struct {
	backend  Backend
	commands map[string]Handler
	log      *logrus.Logger
}

// NewDispatcher registers every command against backend.
func NewDispatcher(backend Backend, log *logrus.Logger) *Dispatcher {
	d := &Dispatcher{
		backend:  backend,
		commands: make(map[string]Handler),
		log:      log,
	}
	d.register()
	return d
}

// Commands returns the registered command names, sorted.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named command.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	h, ok := d.commands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	result, err := h(ctx, args)
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"command": name,
			"kind":    domain.Kind(err),
		}).WithError(err).Debug("command failed")
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) handle(name string, h Handler) {
	d.commands[name] = h
}

// command adapts a typed handler, decoding its arguments first.
func command[T any](fn func(ctx context.Context, args T) (any, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		args, err := decode[T](raw)
		if err != nil {
			return nil, err
		}
		return fn(ctx, args)
	}
}

// decode treats an empty body or null as zero arguments.
func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return v, nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrInvalidArgument, name)
	}
	return nil
}

// orEmpty keeps empty lists encoding as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
