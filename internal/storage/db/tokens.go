package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StoredToken represents an API key stored for a remote repository
type StoredToken struct {
	SourceID  string
	APIKey    string
	UpdatedAt time.Time
}

// SaveToken saves or updates an API key for a source
func (q *Queries) SaveToken(ctx context.Context, sourceID, apiKey string) error {
	_, err := q.q.ExecContext(ctx, `
        INSERT INTO auth_tokens (source_id, token_data, updated_at)
        VALUES (?, ?, ?)
        ON CONFLICT(source_id) DO UPDATE SET
            token_data = excluded.token_data,
            updated_at = excluded.updated_at
    `, sourceID, apiKey, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

// GetToken retrieves the API key for a source; nil when none is stored
func (q *Queries) GetToken(ctx context.Context, sourceID string) (*StoredToken, error) {
	var token StoredToken
	var updated string
	err := q.q.QueryRowContext(ctx, `
        SELECT source_id, token_data, updated_at
        FROM auth_tokens
        WHERE source_id = ?
    `, sourceID).Scan(&token.SourceID, &token.APIKey, &updated)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}
	if token.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &token, nil
}

// DeleteToken removes the API key for a source
func (q *Queries) DeleteToken(ctx context.Context, sourceID string) error {
	_, err := q.q.ExecContext(ctx, "DELETE FROM auth_tokens WHERE source_id = ?", sourceID)
	if err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}
