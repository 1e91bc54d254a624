package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/storage"
)

// loadConfig returns the injected config, the file named by --config, or
// the default config file (created if missing).
func (b *cmdBase) loadConfig() (*config.Config, error) {
	if b.cfg != nil {
		return b.cfg, nil
	}
	var (
		cfg *config.Config
		err error
	)
	switch {
	case b.globals != nil && b.globals.Config != "":
		cfg, err = config.Load(b.globals.Config)
	case b.store != nil:
		cfg = config.DefaultConfig()
	default:
		cfg, err = config.LoadOrCreate()
	}
	if err != nil {
		return nil, err
	}
	b.cfg = cfg
	return cfg, nil
}

// dbPath resolves the database path, honoring --db-path.
func (b *cmdBase) dbPath(cfg *config.Config) (string, error) {
	if b.globals != nil && b.globals.DBPath != "" {
		return config.ExpandPath(b.globals.DBPath)
	}
	return cfg.DBPath()
}

// withStore runs fn against the injected store or a freshly opened one.
func (b *cmdBase) withStore(fn func(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) error) error {
	cfg, err := b.loadConfig()
	if err != nil {
		return err
	}

	store := b.store
	if store == nil {
		path, err := b.dbPath(cfg)
		if err != nil {
			return err
		}
		store, err = storage.Open(path, cfg.Storage.SchemaVersion)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	return fn(context.Background(), cfg, store)
}

func (b *cmdBase) jsonOutput() bool {
	return b.globals != nil && b.globals.JSON
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// criteria converts the flags into store criteria relative to now.
func (f criteriaFlags) criteria(now time.Time) (storage.Criteria, error) {
	c := storage.Criteria{ID: f.ID, Domain: f.Domain, URL: f.URL}
	if f.Since != "" {
		d, err := parseDuration(f.Since)
		if err != nil {
			return c, err
		}
		c.StartTime = storage.Millis(now.Add(-d).UnixMilli())
	}
	if f.Until != "" {
		d, err := parseDuration(f.Until)
		if err != nil {
			return c, err
		}
		c.EndTime = storage.Millis(now.Add(-d).UnixMilli())
	}
	return c, nil
}

// parseDuration parses a human-friendly duration string like "30d", "7d",
// "24h", "2w", "15m" or "90s".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 's':
		return time.Duration(n) * time.Second, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, m, or s suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

// formatMillis renders a visible-time total like "1h 02m 05s".
func formatMillis(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int64(d / time.Hour)
	m := int64(d % time.Hour / time.Minute)
	s := int64(d % time.Minute / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// formatTimeMillis renders an epoch-millisecond timestamp in local time.
func formatTimeMillis(ms int64) string {
	if ms == storage.OpenEndTime {
		return "open"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// truncate shortens s to n runes with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
