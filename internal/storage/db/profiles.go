package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"deftheim/internal/domain"
)

const keyActiveProfile = "active_profile_id"

// InsertProfile stores a new profile and its mod membership
func (q *Queries) InsertProfile(ctx context.Context, p *domain.Profile) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO profiles (id, name, description, icon, color, created, last_used, play_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, p.Icon, p.Color, formatTime(p.Created),
		formatNullTime(p.LastUsed), int64(p.PlayTime/time.Second))
	if err != nil {
		return fmt.Errorf("inserting profile %s: %w", p.ID, err)
	}
	return q.setProfileMods(ctx, p.ID, p.Mods)
}

// UpdateProfile rewrites every stored field of an existing profile
func (q *Queries) UpdateProfile(ctx context.Context, p *domain.Profile) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE profiles
		SET name = ?, description = ?, icon = ?, color = ?, last_used = ?, play_time = ?
		WHERE id = ?
	`, p.Name, p.Description, p.Icon, p.Color, formatNullTime(p.LastUsed),
		int64(p.PlayTime/time.Second), p.ID)
	if err != nil {
		return fmt.Errorf("updating profile %s: %w", p.ID, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrProfileNotFound, p.ID)
	}
	return q.setProfileMods(ctx, p.ID, p.Mods)
}

// TouchProfile sets last_used for a profile
func (q *Queries) TouchProfile(ctx context.Context, id string, at time.Time) error {
	result, err := q.q.ExecContext(ctx, "UPDATE profiles SET last_used = ? WHERE id = ?", formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touching profile %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrProfileNotFound, id)
	}
	return nil
}

// DeleteProfile removes a profile and, if it was active, clears the active
// pointer in one transaction.
func (d *DB) DeleteProfile(ctx context.Context, id string) error {
	return d.InTx(ctx, func(tx *Tx) error {
		return tx.DeleteProfile(ctx, id)
	})
}

// DeleteProfile removes a profile. If it was active the active pointer is
// cleared too.
func (q *Queries) DeleteProfile(ctx context.Context, id string) error {
	result, err := q.q.ExecContext(ctx, "DELETE FROM profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting profile %s: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrProfileNotFound, id)
	}

	if _, err := q.q.ExecContext(ctx,
		"DELETE FROM app_state WHERE key = ? AND value = ?", keyActiveProfile, id); err != nil {
		return fmt.Errorf("clearing active profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by id
func (q *Queries) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT id, name, description, icon, color, created, last_used, play_time
		FROM profiles WHERE id = ?
	`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProfileNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	members, err := q.profileMods(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Mods = members[id]

	active, err := q.ActiveProfileID(ctx)
	if err != nil {
		return nil, err
	}
	p.Active = active == p.ID
	return p, nil
}

// ListProfiles returns all profiles ordered by creation time
func (q *Queries) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, name, description, icon, color, created, last_used, play_time
		FROM profiles ORDER BY created, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	members, err := q.profileMods(ctx, "")
	if err != nil {
		return nil, err
	}
	active, err := q.ActiveProfileID(ctx)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		profiles[i].Mods = members[profiles[i].ID]
		profiles[i].Active = profiles[i].ID == active
	}
	return profiles, nil
}

// ActiveProfileID returns the active profile id, or "" when none is active
func (q *Queries) ActiveProfileID(ctx context.Context) (string, error) {
	v, err := q.GetState(ctx, keyActiveProfile)
	if err != nil {
		return "", err
	}
	return v, nil
}

// SetActiveProfileID points the single active-profile slot at id. An empty
// id clears it.
func (q *Queries) SetActiveProfileID(ctx context.Context, id string) error {
	if id == "" {
		return q.DeleteState(ctx, keyActiveProfile)
	}

	var exists int
	err := q.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiles WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking profile %s: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", domain.ErrProfileNotFound, id)
	}
	return q.SetState(ctx, keyActiveProfile, id)
}

// ReplaceProfiles deletes every profile and inserts profiles instead
func (q *Queries) ReplaceProfiles(ctx context.Context, profiles []domain.Profile, activeID string) error {
	if _, err := q.q.ExecContext(ctx, "DELETE FROM profile_mods"); err != nil {
		return fmt.Errorf("clearing profile mods: %w", err)
	}
	if _, err := q.q.ExecContext(ctx, "DELETE FROM profiles"); err != nil {
		return fmt.Errorf("clearing profiles: %w", err)
	}
	for i := range profiles {
		if err := q.InsertProfile(ctx, &profiles[i]); err != nil {
			return err
		}
	}
	return q.SetActiveProfileID(ctx, activeID)
}

func (q *Queries) setProfileMods(ctx context.Context, profileID string, mods []string) error {
	if _, err := q.q.ExecContext(ctx, "DELETE FROM profile_mods WHERE profile_id = ?", profileID); err != nil {
		return fmt.Errorf("clearing mods of profile %s: %w", profileID, err)
	}
	for i, modID := range mods {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO profile_mods (profile_id, mod_id, position) VALUES (?, ?, ?)
			ON CONFLICT(profile_id, mod_id) DO NOTHING
		`, profileID, modID, i)
		if err != nil {
			return fmt.Errorf("adding %s to profile %s: %w", modID, profileID, err)
		}
	}
	return nil
}

func (q *Queries) profileMods(ctx context.Context, profileID string) (map[string][]string, error) {
	query := "SELECT profile_id, mod_id FROM profile_mods"
	var args []any
	if profileID != "" {
		query += " WHERE profile_id = ?"
		args = append(args, profileID)
	}
	query += " ORDER BY profile_id, position"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying profile mods: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var pid, mid string
		if err := rows.Scan(&pid, &mid); err != nil {
			return nil, fmt.Errorf("scanning profile mod: %w", err)
		}
		out[pid] = append(out[pid], mid)
	}
	return out, rows.Err()
}

func scanProfile(s scanner) (*domain.Profile, error) {
	var (
		p        domain.Profile
		created  string
		lastUsed sql.NullString
		playTime int64
	)
	err := s.Scan(&p.ID, &p.Name, &p.Description, &p.Icon, &p.Color, &created, &lastUsed, &playTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning profile: %w", err)
	}

	if p.Created, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.LastUsed, err = parseNullTime(lastUsed); err != nil {
		return nil, err
	}
	p.PlayTime = time.Duration(playTime) * time.Second
	return &p, nil
}
