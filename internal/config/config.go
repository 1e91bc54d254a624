package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/pagetime/config.yaml"

// Config holds all pagetime configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Guard     GuardConfig     `yaml:"guard"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type StorageConfig struct {
	Path          string `yaml:"path"`
	SQLiteFile    string `yaml:"sqlite_file"`
	SchemaVersion int    `yaml:"schema_version"`
}

type TrackingConfig struct {
	ReportIntervalSeconds int      `yaml:"report_interval_seconds"`
	IgnorePrefixes        []string `yaml:"ignore_prefixes"`
	TombstoneTTLMinutes   int      `yaml:"tombstone_ttl_minutes"`
}

// GuardConfig seeds the blacklist and fallback settings on first start.
// After that the settings store is authoritative.
type GuardConfig struct {
	Blacklist   []string `yaml:"blacklist"`
	FallbackURL string   `yaml:"fallback_url"`
}

type DaemonConfig struct {
	Host              string  `yaml:"host"`
	Port              int     `yaml:"port"`
	MaxRequestSize    int64   `yaml:"max_request_size"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	MessageBurst      int     `yaml:"message_burst"`
	OutboxSize        int     `yaml:"outbox_size"`

	// EchoLogs mirrors tab lifecycle events into the tab's console.
	EchoLogs bool `yaml:"echo_logs"`
}

type RetentionConfig struct {
	Days               int `yaml:"days"`
	PruneIntervalHours int `yaml:"prune_interval_hours"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	File   string `yaml:"file"`
}

// ReportInterval is how often content scripts report duration deltas.
func (c TrackingConfig) ReportInterval() time.Duration {
	return time.Duration(c.ReportIntervalSeconds) * time.Second
}

// TombstoneTTL is how long closed sessions are remembered for late messages.
func (c TrackingConfig) TombstoneTTL() time.Duration {
	return time.Duration(c.TombstoneTTLMinutes) * time.Minute
}

// Addr is the host:port the daemon listens on.
func (c DaemonConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL is the daemon's own origin.
func (c DaemonConfig) BaseURL() string {
	return "http://" + c.Addr()
}

// DBPath resolves the SQLite database file path, expanding a leading ~.
func (c *Config) DBPath() (string, error) {
	dir, err := ExpandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	if c.Storage.SQLiteFile == "" {
		return fmt.Errorf("storage.sqlite_file is required")
	}
	if c.Storage.SchemaVersion < 1 {
		return fmt.Errorf("storage.schema_version must be >= 1")
	}
	if c.Tracking.ReportIntervalSeconds < 1 {
		return fmt.Errorf("tracking.report_interval_seconds must be >= 1")
	}
	if c.Daemon.Port < 1 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port must be between 1 and 65535")
	}
	if c.Daemon.OutboxSize < 1 {
		return fmt.Errorf("daemon.outbox_size must be >= 1")
	}
	if c.Daemon.MessagesPerSecond <= 0 || c.Daemon.MessageBurst < 1 {
		return fmt.Errorf("daemon message rate and burst must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read, contains invalid YAML, or
// fails validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := ExpandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
