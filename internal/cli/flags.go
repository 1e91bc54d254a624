package cli

import (
	"io"

	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/storage"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	DBPath  string `long:"db-path" description:"Override the database file path"`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// cmdBase carries what every subcommand shares. cfg and store are
// injectable for testing; nil means load the config and open the database.
type cmdBase struct {
	globals *GlobalFlags
	version string
	cfg     *config.Config
	store   *storage.SQLiteStore
}

// criteriaFlags select records the way the store's Query and Remove do.
type criteriaFlags struct {
	ID     int64  `long:"id" description:"Record id"`
	Domain string `long:"domain" description:"Exact domain"`
	URL    string `long:"url" description:"Exact URL"`
	Since  string `long:"since" description:"Only records started within duration (e.g., 7d, 24h, 2w)"`
	Until  string `long:"until" description:"Only records ended more than duration ago"`
}

// ServeCommand: run the tracking daemon (loopback HTTP bridge).
type ServeCommand struct {
	Port     int    `long:"port" description:"Override daemon port"`
	LogLevel string `long:"log-level" description:"Override log level"`

	cmdBase
}

// StatusCommand: show store statistics and daemon health.
type StatusCommand struct {
	cmdBase
}

// QueryCommand: list recorded visits matching criteria.
type QueryCommand struct {
	criteriaFlags

	Limit int `long:"limit" description:"Maximum results (0 for all)" default:"20"`

	cmdBase
}

// ShowCommand: print one record.
type ShowCommand struct {
	ID int64 `long:"id" description:"Record id (required)"`

	cmdBase
}

// AddCommand: manually record a visit.
type AddCommand struct {
	URL      string `long:"url" description:"URL to record (required)"`
	Duration string `long:"duration" description:"Visible time, e.g. 90s, 15m, 1h (required)"`
	Start    string `long:"start" description:"Start time, RFC 3339 (default: now minus duration)"`
	Favicon  string `long:"favicon" description:"Favicon URL"`

	cmdBase
}

// RemoveCommand: delete records matching any of the supplied criteria.
type RemoveCommand struct {
	criteriaFlags

	cmdBase
}

// PruneCommand: apply retention pruning to finished records.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override retention period (e.g., 30d)"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without deleting"`

	cmdBase
}

// PurgeCommand: delete ALL recorded visits with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	cmdBase
	stdin io.Reader // injectable for testing; nil means os.Stdin
}

// ReportCommand: per-day visible time by URL.
type ReportCommand struct {
	Since        string `long:"since" description:"Only days within duration" default:"7d"`
	Domain       string `long:"domain" description:"Exact domain"`
	Top          int    `long:"top" description:"URLs shown per day" default:"5"`
	ImportLegacy bool   `long:"import-legacy" description:"Import legacy per-day totals into the store first"`

	cmdBase
}

// BlacklistCommand: manage blacklist patterns and the fallback page.
type BlacklistCommand struct {
	List     BlacklistListCommand     `command:"list" description:"List blacklist patterns"`
	Add      BlacklistAddCommand      `command:"add" description:"Add a blacklist pattern"`
	Remove   BlacklistRemoveCommand   `command:"remove" description:"Remove a blacklist pattern"`
	Fallback BlacklistFallbackCommand `command:"fallback" description:"Show or set the fallback URL"`
}

type BlacklistListCommand struct {
	cmdBase
}

type patternArg struct {
	Pattern string `positional-arg-name:"pattern" required:"yes"`
}

type BlacklistAddCommand struct {
	Args patternArg `positional-args:"yes"`

	cmdBase
}

type BlacklistRemoveCommand struct {
	Args patternArg `positional-args:"yes"`

	cmdBase
}

type BlacklistFallbackCommand struct {
	Clear bool `long:"clear" description:"Use the built-in fallback page"`
	Args  struct {
		URL string `positional-arg-name:"url"`
	} `positional-args:"yes"`

	cmdBase
}
