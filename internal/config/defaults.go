package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:          "~/.config/pagetime",
			SQLiteFile:    "pagetime.db",
			SchemaVersion: 1,
		},
		Tracking: TrackingConfig{
			ReportIntervalSeconds: 30,
			IgnorePrefixes:        DefaultIgnorePrefixes(),
			TombstoneTTLMinutes:   10,
		},
		Guard: GuardConfig{
			Blacklist:   []string{},
			FallbackURL: "",
		},
		Daemon: DaemonConfig{
			Host:              "127.0.0.1",
			Port:              8731,
			MaxRequestSize:    1 << 20,
			MessagesPerSecond: 5,
			MessageBurst:      20,
			OutboxSize:        64,
		},
		Retention: RetentionConfig{
			Days:               180,
			PruneIntervalHours: 24,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}
