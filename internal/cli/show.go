package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/storage"
)

// Execute implements the go-flags Commander interface for ShowCommand.
func (c *ShowCommand) Execute(args []string) error {
	if c.ID <= 0 {
		return fmt.Errorf("--id is required for show command")
	}
	return c.withStore(c.executeWithStore)
}

func (c *ShowCommand) executeWithStore(ctx context.Context, _ *config.Config, store *storage.SQLiteStore) error {
	r, err := store.Get(ctx, c.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("record not found: %d", c.ID)
	}
	if err != nil {
		return err
	}

	if c.jsonOutput() {
		return printJSON(r)
	}

	fmt.Printf("ID:        %d\n", r.ID)
	fmt.Printf("URL:       %s\n", r.URL)
	fmt.Printf("Domain:    %s\n", r.Domain)
	if r.Favicon != "" {
		fmt.Printf("Favicon:   %s\n", r.Favicon)
	}
	fmt.Printf("Start:     %s\n", formatTimeMillis(r.StartTime))
	fmt.Printf("End:       %s\n", formatTimeMillis(r.EndTime))
	fmt.Printf("Visible:   %s\n", formatMillis(r.Duration))
	if r.Finalized() && r.EndTime > r.StartTime {
		fmt.Printf("Span:      %s (%.0f%% visible)\n",
			formatMillis(r.EndTime-r.StartTime),
			float64(r.Duration)/float64(r.EndTime-r.StartTime)*100)
	}
	return nil
}
