package core

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"deftheim/internal/domain"
	"deftheim/internal/storage/db"
)

// Share codes are ShareCodePrefix followed by base64url(gzip(yaml)).
const (
	ShareCodePrefix  = "DFT1:"
	maxShareCodeSize = 1 << 20
)

// Switch steps reported in ProfileSwitchError.
const (
	StepValidate = "validate"
	StepBackup   = "backup"
	StepDisable  = "disable"
	StepEnable   = "enable"
	StepCommit   = "commit"
)

// ProfileManager handles profile CRUD and switching
type ProfileManager struct {
	db       *db.DB
	env      *Env
	catalog  *Catalog
	backups  *BackupManager
	resolver *DependencyResolver
	log      *logrus.Logger
	now      func() time.Time

	state domain.SwitchState
}

// NewProfileManager creates a new profile manager
func NewProfileManager(database *db.DB, env *Env, catalog *Catalog, backups *BackupManager, log *logrus.Logger) *ProfileManager {
	return &ProfileManager{
		db:       database,
		env:      env,
		catalog:  catalog,
		backups:  backups,
		resolver: NewDependencyResolver(),
		log:      log,
		now:      time.Now,
		state:    domain.SwitchIdle,
	}
}

// Create stores a new profile. Name is required and must be unique.
func (pm *ProfileManager) Create(ctx context.Context, p domain.Profile) (*domain.Profile, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := pm.checkName(ctx, p.Name, ""); err != nil {
		return nil, err
	}

	p.ID = uuid.NewString()
	p.Mods = dedupe(p.Mods)
	p.Active = false
	p.Created = pm.now().UTC()
	p.LastUsed = nil
	if p.PlayTime < 0 {
		p.PlayTime = 0
	}

	if err := pm.db.InsertProfile(ctx, &p); err != nil {
		return nil, err
	}
	pm.log.WithFields(logrus.Fields{"profile": p.ID, "name": p.Name}).Info("created profile")
	return pm.db.GetProfile(ctx, p.ID)
}

// Update applies a partial update to a profile
func (pm *ProfileManager) Update(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.Profile, error) {
	p, err := pm.db.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if err := pm.checkName(ctx, name, id); err != nil {
			return nil, err
		}
		p.Name = name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.Icon != nil {
		p.Icon = *upd.Icon
	}
	if upd.Color != nil {
		p.Color = *upd.Color
	}
	if upd.Mods != nil {
		p.Mods = dedupe(*upd.Mods)
	}
	if upd.PlayTime != nil {
		if *upd.PlayTime < 0 {
			return nil, fmt.Errorf("%w: play time must not be negative", domain.ErrInvalidProfile)
		}
		p.PlayTime = time.Duration(*upd.PlayTime) * time.Second
	}

	if err := pm.db.UpdateProfile(ctx, p); err != nil {
		return nil, err
	}
	return pm.db.GetProfile(ctx, id)
}

// Delete removes a profile. Deleting the active profile leaves no profile
// active; deployed mods are not touched.
func (pm *ProfileManager) Delete(ctx context.Context, id string) error {
	if err := pm.db.DeleteProfile(ctx, id); err != nil {
		return err
	}
	pm.log.WithField("profile", id).Info("deleted profile")
	return nil
}

// List returns all profiles
func (pm *ProfileManager) List(ctx context.Context) ([]domain.Profile, error) {
	return pm.db.ListProfiles(ctx)
}

// Get returns one profile
func (pm *ProfileManager) Get(ctx context.Context, id string) (*domain.Profile, error) {
	return pm.db.GetProfile(ctx, id)
}

// Active returns the active profile, or nil when none is active
func (pm *ProfileManager) Active(ctx context.Context) (*domain.Profile, error) {
	id, err := pm.db.ActiveProfileID(ctx)
	if err != nil || id == "" {
		return nil, err
	}
	return pm.db.GetProfile(ctx, id)
}

// State reports the current step of the switch state machine.
func (pm *ProfileManager) State() domain.SwitchState { return pm.state }

// Duplicate copies a profile under a new name
func (pm *ProfileManager) Duplicate(ctx context.Context, id, name string) (*domain.Profile, error) {
	src, err := pm.db.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = src.Name + " (copy)"
	}
	return pm.Create(ctx, domain.Profile{
		Name:        name,
		Description: src.Description,
		Icon:        src.Icon,
		Color:       src.Color,
		Mods:        slices.Clone(src.Mods),
	})
}

// AddPlayTime adds d to a profile's play time
func (pm *ProfileManager) AddPlayTime(ctx context.Context, id string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	p, err := pm.db.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	p.PlayTime += d.Truncate(time.Second)
	return pm.db.UpdateProfile(ctx, p)
}

// Switch makes id the active profile. The enabled set is changed to
// exactly the profile's mods: mods outside it are disabled in reverse
// dependency order, then missing ones are enabled in dependency order.
// The plan is validated before anything changes. On failure the previous
// enabled set is restored, falling back to the pre-switch backup; the
// active profile only changes once every step succeeded.
func (pm *ProfileManager) Switch(ctx context.Context, id string) (*domain.SwitchReport, error) {
	target, err := pm.db.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	previous, err := pm.db.ActiveProfileID(ctx)
	if err != nil {
		return nil, err
	}

	pm.state = domain.SwitchSwitching
	defer func() {
		if pm.state == domain.SwitchSwitching {
			pm.state = domain.SwitchIdle
		}
	}()

	fail := func(step, modID string, err error) *domain.ProfileSwitchError {
		return &domain.ProfileSwitchError{ProfileID: id, Step: step, ModID: modID, Err: err}
	}

	mods, err := pm.catalog.List(ctx)
	if err != nil {
		return nil, fail(StepValidate, "", err)
	}
	plan, err := pm.plan(mods, target)
	if err != nil {
		var depErr *domain.DependencyError
		modID := ""
		if errors.As(err, &depErr) {
			modID = depErr.ModID
		}
		return nil, fail(StepValidate, modID, err)
	}
	if pm.env.Settings.PluginsPath() == "" && (len(plan.disable) > 0 || len(plan.enable) > 0) {
		return nil, fail(StepValidate, "", fmt.Errorf("%w: game path is not set", domain.ErrInvalidConfig))
	}

	report := &domain.SwitchReport{
		ProfileID:         id,
		PreviousProfileID: previous,
		Enabled:           []string{},
		Disabled:          []string{},
	}

	var backup *domain.Backup
	if pm.env.Settings.AutoBackup && pm.backups != nil {
		backup, err = pm.backups.Snapshot(ctx, "Before switching to "+target.Name, domain.TriggerSwitch)
		if err != nil {
			return nil, fail(StepBackup, "", err)
		}
		report.BackupID = backup.ID
	}

	byID := make(map[string]*domain.Mod, len(mods))
	for i := range mods {
		byID[mods[i].ID] = &mods[i]
	}

	step, failedMod := "", ""
	err = func() error {
		step = StepDisable
		for _, modID := range plan.disable {
			failedMod = modID
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := pm.catalog.setEnabled(ctx, byID[modID], false); err != nil {
				return err
			}
			report.Disabled = append(report.Disabled, modID)
		}

		step = StepEnable
		for _, modID := range plan.enable {
			failedMod = modID
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := pm.catalog.setEnabled(ctx, byID[modID], true); err != nil {
				return err
			}
			report.Enabled = append(report.Enabled, modID)
		}

		step, failedMod = StepCommit, ""
		return pm.db.InTx(ctx, func(tx *db.Tx) error {
			if err := tx.SetActiveProfileID(ctx, id); err != nil {
				return err
			}
			return tx.TouchProfile(ctx, id, pm.now().UTC())
		})
	}()
	if err == nil {
		pm.state = domain.SwitchCommitted
		report.State = domain.SwitchCommitted
		pm.log.WithFields(logrus.Fields{
			"profile":  id,
			"enabled":  len(report.Enabled),
			"disabled": len(report.Disabled),
		}).Info("switched profile")
		return report, nil
	}

	switchErr := fail(step, failedMod, err)
	pm.rollback(ctx, report, byID, backup, switchErr)
	pm.state = domain.SwitchRolledBack
	pm.log.WithError(switchErr).Error("profile switch failed")
	return nil, switchErr
}

type switchPlan struct {
	disable []string // reverse dependency order
	enable  []string // dependency order
}

// plan computes the diff between the enabled set and the profile and
// checks that the post-switch enabled set is closed under dependencies and
// acyclic.
func (pm *ProfileManager) plan(mods []domain.Mod, target *domain.Profile) (*switchPlan, error) {
	byID := make(map[string]*domain.Mod, len(mods))
	var current []string
	for i := range mods {
		byID[mods[i].ID] = &mods[i]
		if mods[i].Enabled() {
			current = append(current, mods[i].ID)
		}
	}

	want := make(map[string]bool, len(target.Mods))
	for _, modID := range target.Mods {
		m, ok := byID[modID]
		if !ok || !m.Installed() {
			return nil, &domain.DependencyError{ModID: modID, Unmet: []string{modID}}
		}
		want[modID] = true
	}

	g := BuildGraph(mods)
	for _, modID := range target.Mods {
		closure, err := pm.resolver.Closure(g, modID)
		if err != nil {
			return nil, err
		}
		var unmet []string
		for _, dep := range closure {
			if !want[dep] {
				unmet = append(unmet, dep)
			}
		}
		if len(unmet) > 0 {
			return nil, &domain.DependencyError{ModID: modID, Unmet: unmet}
		}
	}
	if _, err := pm.resolver.Order(g, target.Mods); err != nil {
		return nil, err
	}

	var toDisable, toEnable []string
	for _, modID := range current {
		if !want[modID] {
			toDisable = append(toDisable, modID)
		}
	}
	for _, modID := range target.Mods {
		if !byID[modID].Enabled() {
			toEnable = append(toEnable, modID)
		}
	}

	disable, err := pm.resolver.ReverseOrder(g, toDisable)
	if err != nil {
		return nil, err
	}
	enable, err := pm.resolver.Order(g, toEnable)
	if err != nil {
		return nil, err
	}
	return &switchPlan{disable: disable, enable: enable}, nil
}

// rollback undoes the steps recorded in report in reverse. If that fails
// and a backup was taken, the backup is restored instead.
func (pm *ProfileManager) rollback(ctx context.Context, report *domain.SwitchReport, byID map[string]*domain.Mod, backup *domain.Backup, switchErr *domain.ProfileSwitchError) {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(report.Enabled) - 1; i >= 0; i-- {
		if err := pm.catalog.setEnabled(ctx, byID[report.Enabled[i]], false); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(report.Disabled) - 1; i >= 0; i-- {
		if err := pm.catalog.setEnabled(ctx, byID[report.Disabled[i]], true); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		switchErr.RolledBack = true
		return
	}

	rbErr := errors.Join(errs...)
	pm.log.WithError(rbErr).Error("rolling back profile switch")
	if backup == nil {
		switchErr.Err = fmt.Errorf("%w; rollback failed: %v", switchErr.Err, rbErr)
		return
	}
	if err := pm.backups.Restore(ctx, backup.ID); err != nil {
		switchErr.Err = fmt.Errorf("%w; rollback failed: %v; restoring backup %s failed: %v", switchErr.Err, rbErr, backup.ID, err)
		return
	}
	switchErr.RolledBack = true
	switchErr.RestoredBackup = backup.ID
}

// Templates returns the built-in profile templates
func (pm *ProfileManager) Templates() []domain.ProfileTemplate {
	return slices.Clone(builtinTemplates)
}

// CreateFromTemplate creates a profile seeded from a template
func (pm *ProfileManager) CreateFromTemplate(ctx context.Context, templateID, name string) (*domain.Profile, error) {
	i := slices.IndexFunc(builtinTemplates, func(t domain.ProfileTemplate) bool { return t.ID == templateID })
	if i < 0 {
		return nil, fmt.Errorf("template %w: %s", domain.ErrNotFound, templateID)
	}
	t := builtinTemplates[i]
	if strings.TrimSpace(name) == "" {
		name = t.Name
	}
	return pm.Create(ctx, domain.Profile{
		Name:        name,
		Description: t.Description,
		Icon:        t.Icon,
		Color:       t.Color,
		Mods:        slices.Clone(t.Mods),
	})
}

// ExportToCode encodes a profile as a share code
func (pm *ProfileManager) ExportToCode(ctx context.Context, id string) (string, error) {
	p, err := pm.db.GetProfile(ctx, id)
	if err != nil {
		return "", err
	}
	return EncodeShareCode(domain.SharedProfile{
		Name:        p.Name,
		Description: p.Description,
		Icon:        p.Icon,
		Color:       p.Color,
		Mods:        p.Mods,
	})
}

// ImportFromCode creates a profile from a share code. A non-empty name
// overrides the one in the code. Existing profiles are never replaced: a
// taken name gets a numeric suffix.
func (pm *ProfileManager) ImportFromCode(ctx context.Context, code, name string) (*domain.Profile, error) {
	shared, err := DecodeShareCode(code)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) != "" {
		shared.Name = name
	}
	name, err = pm.freeName(ctx, strings.TrimSpace(shared.Name))
	if err != nil {
		return nil, err
	}
	return pm.Create(ctx, domain.Profile{
		Name:        name,
		Description: shared.Description,
		Icon:        shared.Icon,
		Color:       shared.Color,
		Mods:        shared.Mods,
	})
}

// EncodeShareCode serializes a shared profile
func EncodeShareCode(p domain.SharedProfile) (string, error) {
	if p.Mods == nil {
		p.Mods = []string{}
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding profile: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("compressing profile: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compressing profile: %w", err)
	}
	return ShareCodePrefix + base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeShareCode parses a share code produced by EncodeShareCode
func DecodeShareCode(code string) (*domain.SharedProfile, error) {
	code = strings.TrimSpace(code)
	payload, ok := strings.CutPrefix(code, ShareCodePrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s prefix", domain.ErrInvalidProfileCode, ShareCodePrefix)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(payload, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidProfileCode, err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidProfileCode, err)
	}
	defer zr.Close()
	data, err := io.ReadAll(io.LimitReader(zr, maxShareCodeSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidProfileCode, err)
	}
	if len(data) > maxShareCodeSize {
		return nil, fmt.Errorf("%w: payload too large", domain.ErrInvalidProfileCode)
	}

	var p domain.SharedProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidProfileCode, err)
	}
	for _, id := range p.Mods {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w: empty mod id", domain.ErrInvalidProfileCode)
		}
	}
	p.Mods = dedupe(p.Mods)
	return &p, nil
}

func (pm *ProfileManager) checkName(ctx context.Context, name, selfID string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrInvalidProfile)
	}
	profiles, err := pm.db.ListProfiles(ctx)
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if p.ID != selfID && strings.EqualFold(p.Name, name) {
			return fmt.Errorf("%w: a profile named %q already exists", domain.ErrInvalidProfile, name)
		}
	}
	return nil
}

// freeName returns name, or "name (2)", "name (3)", ... when it is taken.
func (pm *ProfileManager) freeName(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	profiles, err := pm.db.ListProfiles(ctx)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		taken[strings.ToLower(p.Name)] = true
	}
	candidate := name
	for n := 2; taken[strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s (%d)", name, n)
	}
	return candidate, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

var builtinTemplates = []domain.ProfileTemplate{
	{
		ID:          "vanilla-plus",
		Name:        "Vanilla+",
		Description: "Quality of life tweaks that keep the original feel",
		Icon:        "🛡",
		Color:       "#4a7c59",
		Mods: []string{
			"Azumatt-AzuCraftyBoxes",
			"Azumatt-AzuAutoStore",
			"Advize-PlantEverything",
		},
	},
	{
		ID:          "builder",
		Name:        "Builder",
		Description: "Building and decoration tools",
		Icon:        "🔨",
		Color:       "#b5651d",
		Mods: []string{
			"ValheimModding-Jotunn",
			"MathiasDecrock-PlanBuild",
			"Searica-MoreVanillaBuilds",
		},
	},
	{
		ID:          "adventure",
		Name:        "Adventure",
		Description: "New content and challenges",
		Icon:        "⚔",
		Color:       "#7a1f1f",
		Mods: []string{
			"ValheimModding-Jotunn",
			"Therzie-Monstrum",
			"Therzie-Warfare",
		},
	},
}
