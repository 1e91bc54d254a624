package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// setupTestStore creates a migrated in-memory store.
func setupTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.Open(":memory:", storage.LatestSchemaVersion)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// testBase returns a cmdBase wired to store and the default config.
func testBase(store *storage.SQLiteStore, jsonOut bool) cmdBase {
	return cmdBase{
		globals: &GlobalFlags{JSON: jsonOut},
		version: "test",
		cfg:     config.DefaultConfig(),
		store:   store,
	}
}

// seedVisits inserts records and returns their ids.
func seedVisits(t *testing.T, store *storage.SQLiteStore, records ...storage.PageVisitRecord) []int64 {
	t.Helper()
	ids, err := store.Insert(context.Background(), records...)
	require.NoError(t, err)
	return ids
}
