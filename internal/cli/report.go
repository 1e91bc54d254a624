package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/storage"
)

type urlTotal struct {
	URL      string
	Duration int64
}

// Execute implements the go-flags Commander interface for ReportCommand.
func (c *ReportCommand) Execute(args []string) error {
	return c.withStore(c.executeWithStore)
}

func (c *ReportCommand) executeWithStore(ctx context.Context, _ *config.Config, store *storage.SQLiteStore) error {
	if c.ImportLegacy {
		res, err := store.ImportLegacyTabTimes(ctx, time.Local)
		if err != nil {
			return fmt.Errorf("importing legacy totals: %w", err)
		}
		if !c.jsonOutput() && (res.Imported > 0 || len(res.Skipped) > 0) {
			fmt.Printf("Imported %d legacy totals (%d days skipped).\n\n", res.Imported, len(res.Skipped))
		}
	}

	criteria := storage.Criteria{Domain: c.Domain}
	if c.Since != "" {
		d, err := parseDuration(c.Since)
		if err != nil {
			return err
		}
		criteria.StartTime = storage.Millis(time.Now().Add(-d).UnixMilli())
	}

	totals, err := store.DailyTotals(ctx, criteria, time.Local)
	if err != nil {
		return fmt.Errorf("report failed: %w", err)
	}

	if c.jsonOutput() {
		return printJSON(totals)
	}

	days := totals.Days()
	if len(days) == 0 {
		fmt.Println("No visible time recorded.")
		return nil
	}

	for i := len(days) - 1; i >= 0; i-- {
		day := days[i]
		ranked, sum := rankURLs(totals[day])
		fmt.Printf("%s  %s\n", day, formatMillis(sum))

		shown := ranked
		if c.Top > 0 && len(shown) > c.Top {
			shown = shown[:c.Top]
		}
		for _, u := range shown {
			fmt.Printf("  %12s  %s\n", formatMillis(u.Duration), truncate(u.URL, 70))
		}
		if len(shown) < len(ranked) {
			fmt.Printf("  ... and %d more\n", len(ranked)-len(shown))
		}
	}
	return nil
}

// rankURLs orders a day's URLs by visible time, longest first.
func rankURLs(day map[string]int64) ([]urlTotal, int64) {
	var sum int64
	ranked := make([]urlTotal, 0, len(day))
	for u, ms := range day {
		ranked = append(ranked, urlTotal{URL: u, Duration: ms})
		sum += ms
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Duration != ranked[j].Duration {
			return ranked[i].Duration > ranked[j].Duration
		}
		return ranked[i].URL < ranked[j].URL
	})
	return ranked, sum
}
