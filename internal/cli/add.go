package cli

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/storage"
)

// Execute implements the go-flags Commander interface for AddCommand.
func (c *AddCommand) Execute(args []string) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required for add command")
	}
	if c.Duration == "" {
		return fmt.Errorf("--duration is required for add command")
	}
	return c.withStore(c.executeWithStore)
}

// executeWithStore runs the add logic against a provided store (used by tests).
func (c *AddCommand) executeWithStore(ctx context.Context, _ *config.Config, store *storage.SQLiteStore) error {
	parsed, err := url.ParseRequestURI(c.URL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("invalid URL: %s", c.URL)
	}

	visible, err := parseDuration(c.Duration)
	if err != nil {
		return err
	}

	start := time.Now().Add(-visible)
	if c.Start != "" {
		start, err = time.Parse(time.RFC3339, c.Start)
		if err != nil {
			return fmt.Errorf("invalid --start %q: %w", c.Start, err)
		}
	}

	record := storage.PageVisitRecord{
		URL:       c.URL,
		Favicon:   c.Favicon,
		Duration:  visible.Milliseconds(),
		StartTime: start.UnixMilli(),
		EndTime:   start.Add(visible).UnixMilli(),
	}
	ids, err := store.Insert(ctx, record)
	if err != nil {
		return fmt.Errorf("storing record: %w", err)
	}
	record.ID = ids[0]
	record.Domain = storage.ExtractDomain(record.URL)

	if c.jsonOutput() {
		return printJSON(record)
	}

	fmt.Printf("Added record %d\n", record.ID)
	fmt.Printf("  URL:     %s\n", record.URL)
	fmt.Printf("  Start:   %s\n", formatTimeMillis(record.StartTime))
	fmt.Printf("  Visible: %s\n", formatMillis(record.Duration))
	return nil
}
