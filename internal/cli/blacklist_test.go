package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlacklist_AddListRemove(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	add := &BlacklistAddCommand{cmdBase: testBase(store, false)}
	add.Args.Pattern = "facebook\\.com"
	output := captureOutput(t, func() {
		require.NoError(t, add.Execute(nil))
	})
	assert.Contains(t, output, "Added pattern: facebook\\.com")

	add.Args.Pattern = "^https://news\\."
	captureOutput(t, func() {
		require.NoError(t, add.Execute(nil))
	})

	// Duplicates are not stored twice.
	output = captureOutput(t, func() {
		require.NoError(t, add.Execute(nil))
	})
	assert.Contains(t, output, "already present")

	patterns, err := store.Blacklist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"facebook\\.com", "^https://news\\."}, patterns)

	list := &BlacklistListCommand{cmdBase: testBase(store, false)}
	output = captureOutput(t, func() {
		require.NoError(t, list.Execute(nil))
	})
	assert.Contains(t, output, "  1  facebook\\.com")
	assert.Contains(t, output, "  2  ^https://news\\.")

	remove := &BlacklistRemoveCommand{cmdBase: testBase(store, false)}
	remove.Args.Pattern = "facebook\\.com"
	captureOutput(t, func() {
		require.NoError(t, remove.Execute(nil))
	})

	patterns, err = store.Blacklist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"^https://news\\."}, patterns)
}

func TestBlacklist_AddRejectsInvalidPattern(t *testing.T) {
	store := setupTestStore(t)
	add := &BlacklistAddCommand{cmdBase: testBase(store, false)}
	add.Args.Pattern = "[unclosed"

	require.Error(t, add.Execute(nil))

	patterns, err := store.Blacklist(context.Background())
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestBlacklist_ListMarksInvalid(t *testing.T) {
	store := setupTestStore(t)
	// Patterns written by another client are not validated on the way in.
	require.NoError(t, store.SetBlacklist(context.Background(), []string{"[bad", "good"}))

	list := &BlacklistListCommand{cmdBase: testBase(store, true)}
	output := captureOutput(t, func() {
		require.NoError(t, list.Execute(nil))
	})

	var entries []blacklistEntry
	require.NoError(t, json.Unmarshal([]byte(output), &entries))
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Valid)
	assert.NotEmpty(t, entries[0].Error)
	assert.True(t, entries[1].Valid)
}

func TestBlacklist_ListEmpty(t *testing.T) {
	list := &BlacklistListCommand{cmdBase: testBase(setupTestStore(t), false)}
	output := captureOutput(t, func() {
		require.NoError(t, list.Execute(nil))
	})
	assert.Contains(t, output, "Blacklist is empty.")
}

func TestBlacklist_RemoveMissing(t *testing.T) {
	remove := &BlacklistRemoveCommand{cmdBase: testBase(setupTestStore(t), false)}
	remove.Args.Pattern = "nope"

	err := remove.Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pattern not found")
}

func TestBlacklist_Fallback(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	show := &BlacklistFallbackCommand{cmdBase: testBase(store, false)}
	output := captureOutput(t, func() {
		require.NoError(t, show.Execute(nil))
	})
	assert.Contains(t, output, "Fallback: built-in (http://127.0.0.1:8731/fallback)")

	set := &BlacklistFallbackCommand{cmdBase: testBase(store, false)}
	set.Args.URL = "https://example.com/focus"
	captureOutput(t, func() {
		require.NoError(t, set.Execute(nil))
	})
	got, err := store.FallbackURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/focus", got)

	output = captureOutput(t, func() {
		require.NoError(t, show.Execute(nil))
	})
	assert.Contains(t, output, "Fallback: https://example.com/focus")

	reset := &BlacklistFallbackCommand{cmdBase: testBase(store, false), Clear: true}
	captureOutput(t, func() {
		require.NoError(t, reset.Execute(nil))
	})
	got, err = store.FallbackURL(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBlacklist_FallbackRejectsRelative(t *testing.T) {
	set := &BlacklistFallbackCommand{cmdBase: testBase(setupTestStore(t), false)}
	set.Args.URL = "focus.html"

	assert.Error(t, set.Execute(nil))
}

func TestBlacklist_ParsesNestedCommands(t *testing.T) {
	parser, _, cmds := buildParser("test")
	store := setupTestStore(t)
	cmds.Blacklist.Add.store = store
	cmds.Blacklist.Add.cfg = testBase(store, false).cfg

	captureOutput(t, func() {
		_, err := parser.ParseArgs([]string{"blacklist", "add", "reddit"})
		require.NoError(t, err)
	})

	patterns, err := store.Blacklist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"reddit"}, patterns)
}
