package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"deftheim/internal/domain"
)

const modColumns = `id, name, version, author, description, icon, size, state, categories,
	download_url, website_url, rating, downloads, last_updated, source, previous_version`

// UpsertMod inserts or updates a catalog entry together with its dependency list
func (q *Queries) UpsertMod(ctx context.Context, mod *domain.Mod) error {
	cats, err := json.Marshal(nonNil(mod.Categories))
	if err != nil {
		return fmt.Errorf("encoding categories: %w", err)
	}

	_, err = q.q.ExecContext(ctx, `
		INSERT INTO mods (`+modColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			author = excluded.author,
			description = excluded.description,
			icon = excluded.icon,
			size = excluded.size,
			state = excluded.state,
			categories = excluded.categories,
			download_url = excluded.download_url,
			website_url = excluded.website_url,
			rating = excluded.rating,
			downloads = excluded.downloads,
			last_updated = excluded.last_updated,
			source = excluded.source,
			previous_version = excluded.previous_version
	`, mod.ID, mod.Name, mod.Version, mod.Author, mod.Description, mod.Icon, mod.Size, int(mod.State),
		string(cats), mod.DownloadURL, mod.WebsiteURL, mod.Rating, mod.Downloads,
		formatTime(mod.LastUpdated), sourceOrLocal(mod.Source), mod.PreviousVersion)
	if err != nil {
		return fmt.Errorf("saving mod %s: %w", mod.ID, err)
	}

	if _, err := q.q.ExecContext(ctx, "DELETE FROM mod_dependencies WHERE mod_id = ?", mod.ID); err != nil {
		return fmt.Errorf("clearing dependencies of %s: %w", mod.ID, err)
	}
	for i, dep := range mod.Dependencies {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO mod_dependencies (mod_id, position, dependency_id, min_version)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(mod_id, dependency_id) DO NOTHING
		`, mod.ID, i, dep, mod.Requires[dep])
		if err != nil {
			return fmt.Errorf("saving dependency %s of %s: %w", dep, mod.ID, err)
		}
	}

	return nil
}

// GetMod retrieves a single catalog entry
func (q *Queries) GetMod(ctx context.Context, id string) (*domain.Mod, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+modColumns+" FROM mods WHERE id = ?", id)
	mod, err := scanMod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrModNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	deps, err := q.dependencies(ctx, id)
	if err != nil {
		return nil, err
	}
	applyDependencies(mod, deps[id])
	return mod, nil
}

// ListMods returns the whole catalog ordered by id
func (q *Queries) ListMods(ctx context.Context) ([]domain.Mod, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT "+modColumns+" FROM mods ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying mods: %w", err)
	}
	defer rows.Close()

	var mods []domain.Mod
	for rows.Next() {
		mod, err := scanMod(rows)
		if err != nil {
			return nil, err
		}
		mods = append(mods, *mod)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	deps, err := q.dependencies(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range mods {
		applyDependencies(&mods[i], deps[mods[i].ID])
	}
	return mods, nil
}

// SetModState changes the lifecycle state of a mod
func (q *Queries) SetModState(ctx context.Context, id string, state domain.ModState) error {
	result, err := q.q.ExecContext(ctx, "UPDATE mods SET state = ? WHERE id = ?", int(state), id)
	if err != nil {
		return fmt.Errorf("setting state of %s: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrModNotFound, id)
	}
	return nil
}

// DeleteMod removes a catalog entry and its dependency rows
func (q *Queries) DeleteMod(ctx context.Context, id string) error {
	result, err := q.q.ExecContext(ctx, "DELETE FROM mods WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting mod %s: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrModNotFound, id)
	}
	return nil
}

// Dependents returns the ids of mods that declare id as a dependency
func (q *Queries) Dependents(ctx context.Context, id string) ([]string, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT mod_id FROM mod_dependencies WHERE dependency_id = ? ORDER BY mod_id", id)
	if err != nil {
		return nil, fmt.Errorf("querying dependents of %s: %w", id, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var modID string
		if err := rows.Scan(&modID); err != nil {
			return nil, fmt.Errorf("scanning dependent: %w", err)
		}
		out = append(out, modID)
	}
	return out, rows.Err()
}

// ReplaceCatalog deletes every catalog entry and inserts mods instead
func (q *Queries) ReplaceCatalog(ctx context.Context, mods []domain.Mod) error {
	if _, err := q.q.ExecContext(ctx, "DELETE FROM mod_dependencies"); err != nil {
		return fmt.Errorf("clearing dependencies: %w", err)
	}
	if _, err := q.q.ExecContext(ctx, "DELETE FROM mods"); err != nil {
		return fmt.Errorf("clearing mods: %w", err)
	}
	for i := range mods {
		if err := q.UpsertMod(ctx, &mods[i]); err != nil {
			return err
		}
	}
	return nil
}

type dependencyRow struct {
	id         string
	minVersion string
}

// dependencies loads dependency rows for one mod, or all mods when id is empty.
func (q *Queries) dependencies(ctx context.Context, id string) (map[string][]dependencyRow, error) {
	query := "SELECT mod_id, dependency_id, min_version FROM mod_dependencies"
	var args []any
	if id != "" {
		query += " WHERE mod_id = ?"
		args = append(args, id)
	}
	query += " ORDER BY mod_id, position"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dependencies: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]dependencyRow)
	for rows.Next() {
		var modID string
		var dep dependencyRow
		if err := rows.Scan(&modID, &dep.id, &dep.minVersion); err != nil {
			return nil, fmt.Errorf("scanning dependency: %w", err)
		}
		out[modID] = append(out[modID], dep)
	}
	return out, rows.Err()
}

func applyDependencies(mod *domain.Mod, deps []dependencyRow) {
	for _, d := range deps {
		mod.Dependencies = append(mod.Dependencies, d.id)
		if d.minVersion != "" {
			if mod.Requires == nil {
				mod.Requires = make(map[string]string)
			}
			mod.Requires[d.id] = d.minVersion
		}
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMod(s scanner) (*domain.Mod, error) {
	var (
		mod         domain.Mod
		state       int
		cats        string
		rating      sql.NullFloat64
		downloads   sql.NullInt64
		lastUpdated string
	)
	err := s.Scan(&mod.ID, &mod.Name, &mod.Version, &mod.Author, &mod.Description, &mod.Icon,
		&mod.Size, &state, &cats, &mod.DownloadURL, &mod.WebsiteURL, &rating, &downloads,
		&lastUpdated, &mod.Source, &mod.PreviousVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning mod: %w", err)
	}

	mod.State = domain.ModState(state)
	if cats != "" && cats != "[]" {
		if err := json.Unmarshal([]byte(cats), &mod.Categories); err != nil {
			return nil, fmt.Errorf("decoding categories of %s: %w", mod.ID, err)
		}
		sort.Strings(mod.Categories)
	}
	if rating.Valid {
		mod.Rating = &rating.Float64
	}
	if downloads.Valid {
		mod.Downloads = &downloads.Int64
	}
	if mod.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, err
	}
	return &mod, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func sourceOrLocal(s string) string {
	if s == "" {
		return domain.SourceLocal
	}
	return s
}
