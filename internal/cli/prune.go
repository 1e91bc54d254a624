package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/storage"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	return c.withStore(c.executeWithStore)
}

func (c *PruneCommand) executeWithStore(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) error {
	retention, err := c.retention(cfg)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-retention)

	if c.DryRun {
		n, err := store.CountBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("counting prunable records: %w", err)
		}
		if c.jsonOutput() {
			return printJSON(map[string]interface{}{
				"dry_run":     true,
				"would_prune": n,
				"cutoff":      cutoff.Format(time.RFC3339),
			})
		}
		fmt.Printf("Would prune %s records older than %s.\n", formatNumber(n), formatDurationHuman(retention))
		return nil
	}

	n, err := store.PruneBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}
	if c.jsonOutput() {
		return printJSON(map[string]interface{}{
			"pruned": n,
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}
	fmt.Printf("Pruned %s records older than %s.\n", formatNumber(n), formatDurationHuman(retention))
	return nil
}

// retention resolves --older-than, falling back to retention.days.
func (c *PruneCommand) retention(cfg *config.Config) (time.Duration, error) {
	if c.OlderThan != "" {
		return parseDuration(c.OlderThan)
	}
	if cfg.Retention.Days < 1 {
		return 0, fmt.Errorf("retention is disabled (retention.days = %d); pass --older-than", cfg.Retention.Days)
	}
	return time.Duration(cfg.Retention.Days) * 24 * time.Hour, nil
}
