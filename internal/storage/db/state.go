package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"deftheim/internal/domain"
)

// GetState reads an app_state value; a missing key yields "".
func (q *Queries) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := q.q.QueryRowContext(ctx, "SELECT value FROM app_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading state %s: %w", key, err)
	}
	return value, nil
}

// SetState writes an app_state value
func (q *Queries) SetState(ctx context.Context, key, value string) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO app_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("writing state %s: %w", key, err)
	}
	return nil
}

// DeleteState removes an app_state value
func (q *Queries) DeleteState(ctx context.Context, key string) error {
	if _, err := q.q.ExecContext(ctx, "DELETE FROM app_state WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting state %s: %w", key, err)
	}
	return nil
}

// ReplaceUpdatePlan stores the result of the latest update check
func (q *Queries) ReplaceUpdatePlan(ctx context.Context, plan []domain.UpdateInfo) error {
	if _, err := q.q.ExecContext(ctx, "DELETE FROM update_plan"); err != nil {
		return fmt.Errorf("clearing update plan: %w", err)
	}
	for _, u := range plan {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO update_plan (mod_id, current_version, available_version, source, download_url, checked_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, u.ModID, u.CurrentVersion, u.AvailableVersion, u.Source, u.DownloadURL, formatTime(u.CheckedAt))
		if err != nil {
			return fmt.Errorf("saving planned update for %s: %w", u.ModID, err)
		}
	}
	return nil
}

// UpdatePlan returns the stored update plan ordered by mod id
func (q *Queries) UpdatePlan(ctx context.Context) ([]domain.UpdateInfo, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT mod_id, current_version, available_version, source, download_url, checked_at
		FROM update_plan ORDER BY mod_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying update plan: %w", err)
	}
	defer rows.Close()

	var plan []domain.UpdateInfo
	for rows.Next() {
		var u domain.UpdateInfo
		var checked string
		if err := rows.Scan(&u.ModID, &u.CurrentVersion, &u.AvailableVersion, &u.Source, &u.DownloadURL, &checked); err != nil {
			return nil, fmt.Errorf("scanning planned update: %w", err)
		}
		if u.CheckedAt, err = parseTime(checked); err != nil {
			return nil, err
		}
		plan = append(plan, u)
	}
	return plan, rows.Err()
}

// DeleteUpdatePlanEntry drops one mod from the stored plan
func (q *Queries) DeleteUpdatePlanEntry(ctx context.Context, modID string) error {
	if _, err := q.q.ExecContext(ctx, "DELETE FROM update_plan WHERE mod_id = ?", modID); err != nil {
		return fmt.Errorf("removing planned update for %s: %w", modID, err)
	}
	return nil
}
