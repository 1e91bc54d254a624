package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/storage"
)

// Execute implements the go-flags Commander interface for RemoveCommand.
func (c *RemoveCommand) Execute(args []string) error {
	return c.withStore(c.executeWithStore)
}

func (c *RemoveCommand) executeWithStore(ctx context.Context, _ *config.Config, store *storage.SQLiteStore) error {
	criteria, err := c.criteria(time.Now())
	if err != nil {
		return err
	}
	if criteria.IsEmpty() {
		return fmt.Errorf("remove requires at least one of --id, --domain, --url, --since, --until")
	}

	removed, err := store.Remove(ctx, criteria)
	if err != nil {
		return fmt.Errorf("remove failed after deleting %d records: %w", removed, err)
	}

	if c.jsonOutput() {
		return printJSON(map[string]interface{}{"removed": removed})
	}
	fmt.Printf("Removed %d records.\n", removed)
	return nil
}
