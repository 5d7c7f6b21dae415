package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"deftheim/internal/domain"
)

// InsertBackup records a completed backup archive in the index
func (q *Queries) InsertBackup(ctx context.Context, b *domain.Backup) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO backups (id, description, created, path, size, reason)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.Description, formatTime(b.Created), b.Path, b.Size, b.Trigger)
	if err != nil {
		return fmt.Errorf("indexing backup %s: %w", b.ID, err)
	}
	return nil
}

// GetBackup retrieves an index entry
func (q *Queries) GetBackup(ctx context.Context, id string) (*domain.Backup, error) {
	var b domain.Backup
	var created string
	err := q.q.QueryRowContext(ctx, `
		SELECT id, description, created, path, size, reason FROM backups WHERE id = ?
	`, id).Scan(&b.ID, &b.Description, &created, &b.Path, &b.Size, &b.Trigger)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrBackupNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying backup %s: %w", id, err)
	}
	if b.Created, err = parseTime(created); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBackups returns the index newest first
func (q *Queries) ListBackups(ctx context.Context) ([]domain.Backup, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, description, created, path, size, reason
		FROM backups ORDER BY created DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying backups: %w", err)
	}
	defer rows.Close()

	var out []domain.Backup
	for rows.Next() {
		var b domain.Backup
		var created string
		if err := rows.Scan(&b.ID, &b.Description, &created, &b.Path, &b.Size, &b.Trigger); err != nil {
			return nil, fmt.Errorf("scanning backup: %w", err)
		}
		if b.Created, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBackup removes an index entry
func (q *Queries) DeleteBackup(ctx context.Context, id string) error {
	result, err := q.q.ExecContext(ctx, "DELETE FROM backups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting backup %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrBackupNotFound, id)
	}
	return nil
}
