package cli

import (
	"context"
	"fmt"
	"net/url"

	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/guard"
	"github.com/runnerr0/pagetime/internal/storage"
)

type blacklistEntry struct {
	Pattern string `json:"pattern"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
}

// Execute implements the go-flags Commander interface for BlacklistListCommand.
func (c *BlacklistListCommand) Execute(args []string) error {
	return c.withStore(c.executeWithStore)
}

func (c *BlacklistListCommand) executeWithStore(ctx context.Context, _ *config.Config, store *storage.SQLiteStore) error {
	patterns, err := store.Blacklist(ctx)
	if err != nil {
		return err
	}

	invalid := make(map[string]*guard.PatternCompileError)
	for _, e := range guard.Validate(patterns) {
		invalid[e.Pattern] = e
	}

	entries := make([]blacklistEntry, 0, len(patterns))
	for _, p := range patterns {
		entry := blacklistEntry{Pattern: p, Valid: true}
		if e, ok := invalid[p]; ok {
			entry.Valid = false
			entry.Error = e.Err.Error()
		}
		entries = append(entries, entry)
	}

	if c.jsonOutput() {
		return printJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("Blacklist is empty.")
		return nil
	}
	for i, e := range entries {
		if e.Valid {
			fmt.Printf("%3d  %s\n", i+1, e.Pattern)
			continue
		}
		fmt.Printf("%3d  %s  (invalid, ignored: %s)\n", i+1, e.Pattern, e.Error)
	}
	return nil
}

// Execute implements the go-flags Commander interface for BlacklistAddCommand.
func (c *BlacklistAddCommand) Execute(args []string) error {
	return c.withStore(c.executeWithStore)
}

func (c *BlacklistAddCommand) executeWithStore(ctx context.Context, _ *config.Config, store *storage.SQLiteStore) error {
	pattern := c.Args.Pattern
	if errs := guard.Validate([]string{pattern}); len(errs) > 0 {
		return errs[0]
	}

	patterns, err := store.Blacklist(ctx)
	if err != nil {
		return err
	}
	for _, p := range patterns {
		if p == pattern {
			fmt.Printf("Pattern already present: %s\n", pattern)
			return nil
		}
	}

	if err := store.SetBlacklist(ctx, append(patterns, pattern)); err != nil {
		return err
	}
	fmt.Printf("Added pattern: %s\n", pattern)
	return nil
}

// Execute implements the go-flags Commander interface for BlacklistRemoveCommand.
func (c *BlacklistRemoveCommand) Execute(args []string) error {
	return c.withStore(c.executeWithStore)
}

func (c *BlacklistRemoveCommand) executeWithStore(ctx context.Context, _ *config.Config, store *storage.SQLiteStore) error {
	patterns, err := store.Blacklist(ctx)
	if err != nil {
		return err
	}

	kept := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p != c.Args.Pattern {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(patterns) {
		return fmt.Errorf("pattern not found: %s", c.Args.Pattern)
	}

	if err := store.SetBlacklist(ctx, kept); err != nil {
		return err
	}
	fmt.Printf("Removed pattern: %s\n", c.Args.Pattern)
	return nil
}

// Execute implements the go-flags Commander interface for BlacklistFallbackCommand.
func (c *BlacklistFallbackCommand) Execute(args []string) error {
	return c.withStore(c.executeWithStore)
}

func (c *BlacklistFallbackCommand) executeWithStore(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) error {
	switch {
	case c.Clear:
		if err := store.SetFallbackURL(ctx, ""); err != nil {
			return err
		}
		fmt.Println("Fallback cleared; the built-in page is used.")
		return nil

	case c.Args.URL != "":
		u, err := url.Parse(c.Args.URL)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("invalid fallback URL: %s", c.Args.URL)
		}
		if err := store.SetFallbackURL(ctx, c.Args.URL); err != nil {
			return err
		}
		fmt.Printf("Fallback set: %s\n", c.Args.URL)
		return nil
	}

	current, err := store.FallbackURL(ctx)
	if err != nil {
		return err
	}
	if c.jsonOutput() {
		return printJSON(map[string]interface{}{"fallback_url": current})
	}
	if current == "" {
		fmt.Printf("Fallback: built-in (%s/fallback)\n", cfg.Daemon.BaseURL())
		return nil
	}
	fmt.Printf("Fallback: %s\n", current)
	return nil
}
