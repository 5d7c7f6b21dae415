package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveToken(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveToken(ctx, "nexusmods", "test-api-key-123"))

	token, err := db.GetToken(ctx, "nexusmods")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "nexusmods", token.SourceID)
	assert.Equal(t, "test-api-key-123", token.APIKey)
	assert.False(t, token.UpdatedAt.IsZero())
}

func TestSaveToken_Update(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveToken(ctx, "nexusmods", "old-key"))
	require.NoError(t, db.SaveToken(ctx, "nexusmods", "new-key"))

	token, err := db.GetToken(ctx, "nexusmods")
	require.NoError(t, err)
	assert.Equal(t, "new-key", token.APIKey)
}

func TestGetToken_NotFound(t *testing.T) {
	db := setupTestDB(t)

	token, err := db.GetToken(context.Background(), "nonexistent")
	assert.NoError(t, err)
	assert.Nil(t, token)
}

func TestDeleteToken(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveToken(ctx, "nexusmods", "test-key"))
	require.NoError(t, db.DeleteToken(ctx, "nexusmods"))

	token, err := db.GetToken(ctx, "nexusmods")
	assert.NoError(t, err)
	assert.Nil(t, token)

	// Deleting again is not an error
	assert.NoError(t, db.DeleteToken(ctx, "nexusmods"))
}

func TestTimestamps_RoundTrip(t *testing.T) {
	ts := parseMust(t, "2024-03-01T10:20:30.123456789Z")
	s := formatTime(ts)
	back, err := parseTime(s)
	require.NoError(t, err)
	assert.True(t, ts.Equal(back))
	assert.Equal(t, s, formatTime(back))

	zero, err := parseTime("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}
