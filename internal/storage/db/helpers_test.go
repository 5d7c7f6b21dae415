package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func parseMust(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339Nano, s)
	require.NoError(t, err)
	return ts
}
