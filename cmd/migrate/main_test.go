package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_AppliesThenReportsUpToDate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, dbPath, false, &out))
	assert.Contains(t, out.String(), "Applied migration 1")
	assert.Contains(t, out.String(), "Applied migration 2")

	out.Reset()
	require.NoError(t, run(ctx, dbPath, false, &out))
	assert.Equal(t, "Schema is up to date\n", out.String())
}

func TestRun_Status(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, dbPath, false, &out))

	out.Reset()
	require.NoError(t, run(ctx, dbPath, true, &out))
	assert.Contains(t, out.String(), "work_items")
	assert.Contains(t, out.String(), "audit_logs")
	assert.NotContains(t, out.String(), "pending")
}

func TestRun_StatusMissingDatabase(t *testing.T) {
	err := run(context.Background(), filepath.Join(t.TempDir(), "missing.db"), true, &bytes.Buffer{})
	assert.ErrorContains(t, err, "database file not found")
}
