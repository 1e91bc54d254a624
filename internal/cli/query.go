package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/storage"
)

// Execute implements the go-flags Commander interface for QueryCommand.
func (c *QueryCommand) Execute(args []string) error {
	return c.withStore(c.executeWithStore)
}

func (c *QueryCommand) executeWithStore(ctx context.Context, _ *config.Config, store *storage.SQLiteStore) error {
	criteria, err := c.criteria(time.Now())
	if err != nil {
		return err
	}

	records, err := store.Query(ctx, criteria)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	total := len(records)
	if c.Limit > 0 && len(records) > c.Limit {
		records = records[:c.Limit]
	}

	if c.jsonOutput() {
		if records == nil {
			records = []storage.PageVisitRecord{}
		}
		return printJSON(map[string]interface{}{
			"total":   total,
			"records": records,
		})
	}

	if total == 0 {
		fmt.Println("No records found.")
		return nil
	}

	fmt.Printf("%-6s %-19s %-19s %12s  %s\n", "ID", "START", "END", "VISIBLE", "URL")
	for _, r := range records {
		fmt.Printf("%-6d %-19s %-19s %12s  %s\n",
			r.ID,
			formatTimeMillis(r.StartTime),
			formatTimeMillis(r.EndTime),
			formatMillis(r.Duration),
			truncate(r.URL, 80),
		)
	}
	if len(records) < total {
		fmt.Printf("\nShowing %d of %d records (use --limit 0 for all).\n", len(records), total)
	}
	return nil
}
