package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string               `json:"version"`
	DatabasePath      string               `json:"database_path"`
	DatabaseSizeBytes int64                `json:"database_size_bytes"`
	TotalRecords      int64                `json:"total_records"`
	OpenRecords       int64                `json:"open_records"`
	TotalDurationMs   int64                `json:"total_duration_ms"`
	OldestRecord      string               `json:"oldest_record,omitempty"`
	NewestRecord      string               `json:"newest_record,omitempty"`
	RetentionDays     int                  `json:"retention_days"`
	BlacklistPatterns int                  `json:"blacklist_patterns"`
	TopDomains        []domainDurationJSON `json:"top_domains"`
	DaemonAddr        string               `json:"daemon_addr"`
	DaemonRunning     bool                 `json:"daemon_running"`
}

type domainDurationJSON struct {
	Domain     string `json:"domain"`
	DurationMs int64  `json:"duration_ms"`
	Visits     int64  `json:"visits"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	return c.withStore(c.executeWithStore)
}

// executeWithStore runs status against a provided store (for testing).
func (c *StatusCommand) executeWithStore(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	patterns, err := store.Blacklist(ctx)
	if err != nil {
		return fmt.Errorf("get blacklist: %w", err)
	}

	dbPath, err := c.dbPath(cfg)
	if err != nil {
		return err
	}
	if c.store != nil && c.globals.DBPath == "" {
		dbPath = "(injected)"
	}

	daemonRunning := checkDaemon(cfg.Daemon.BaseURL())

	if c.jsonOutput() {
		return c.printStatusJSON(stats, cfg, dbPath, len(patterns), daemonRunning)
	}
	return c.printStatusHuman(stats, cfg, dbPath, len(patterns), daemonRunning)
}

func (c *StatusCommand) printStatusHuman(stats *storage.Stats, cfg *config.Config, dbPath string, patterns int, daemonRunning bool) error {
	fmt.Println("pagetime Status")
	fmt.Println("===============")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", dbPath, formatBytes(stats.DatabaseSizeBytes))
	fmt.Printf("Records:       %s (%s open)\n", formatNumber(stats.TotalRecords), formatNumber(stats.OpenRecords))
	fmt.Printf("Visible time:  %s\n", formatMillis(stats.TotalDuration))

	if stats.TotalRecords > 0 {
		fmt.Printf("Oldest:        %s\n", stats.OldestStart.Local().Format("2006-01-02"))
		fmt.Printf("Newest:        %s\n", stats.NewestStart.Local().Format("2006-01-02"))
	}

	fmt.Printf("Retention:     %d days\n", cfg.Retention.Days)
	fmt.Printf("Blacklist:     %d patterns\n", patterns)

	if len(stats.TopDomains) > 0 {
		fmt.Println()
		fmt.Println("Top Domains:")
		for _, d := range stats.TopDomains {
			fmt.Printf("  %-30s %12s  %s visits\n", truncate(d.Domain, 30), formatMillis(d.Duration), formatNumber(d.Visits))
		}
	}

	fmt.Println()
	if daemonRunning {
		fmt.Printf("Daemon:        running (%s)\n", cfg.Daemon.Addr())
	} else {
		fmt.Println("Daemon:        not running")
	}

	return nil
}

func (c *StatusCommand) printStatusJSON(stats *storage.Stats, cfg *config.Config, dbPath string, patterns int, daemonRunning bool) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: stats.DatabaseSizeBytes,
		TotalRecords:      stats.TotalRecords,
		OpenRecords:       stats.OpenRecords,
		TotalDurationMs:   stats.TotalDuration,
		RetentionDays:     cfg.Retention.Days,
		BlacklistPatterns: patterns,
		TopDomains:        make([]domainDurationJSON, len(stats.TopDomains)),
		DaemonAddr:        cfg.Daemon.Addr(),
		DaemonRunning:     daemonRunning,
	}

	if stats.TotalRecords > 0 {
		out.OldestRecord = stats.OldestStart.UTC().Format(time.RFC3339)
		out.NewestRecord = stats.NewestStart.UTC().Format(time.RFC3339)
	}

	for i, d := range stats.TopDomains {
		out.TopDomains[i] = domainDurationJSON{Domain: d.Domain, DurationMs: d.Duration, Visits: d.Visits}
	}

	return printJSON(out)
}

// checkDaemon attempts an HTTP GET to the daemon's status endpoint.
// Returns true if the daemon responds within 1 second.
func checkDaemon(baseURL string) bool {
	client := &http.Client{Timeout: 1 * time.Second}
	resp, err := client.Get(baseURL + "/status")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
