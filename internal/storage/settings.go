package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Setting keys shared with the browser extension's storage layout.
const (
	SettingBlacklist   = "blacklist"
	SettingFallbackURL = "fallbackUrl"
	SettingTabTimes    = "tabTimes"
)

// GetSetting decodes the JSON value stored under key into dst. It reports
// false when the key is absent.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string, dst interface{}) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%w: read setting %s: %w", ErrQuery, key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("%w: decode setting %s: %w", ErrQuery, key, err)
	}
	return true, nil
}

// SetSetting stores value as JSON under key, replacing any previous value.
func (s *SQLiteStore) SetSetting(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: encode setting %s: %w", ErrWrite, key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("%w: write setting %s: %w", ErrWrite, key, err)
	}
	return nil
}

// DeleteSetting removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("%w: delete setting %s: %w", ErrDelete, key, err)
	}
	return nil
}

// Blacklist returns the stored blacklist patterns in order.
func (s *SQLiteStore) Blacklist(ctx context.Context) ([]string, error) {
	patterns := []string{}
	if _, err := s.GetSetting(ctx, SettingBlacklist, &patterns); err != nil {
		return nil, err
	}
	return patterns, nil
}

// SetBlacklist replaces the stored blacklist.
func (s *SQLiteStore) SetBlacklist(ctx context.Context, patterns []string) error {
	if patterns == nil {
		patterns = []string{}
	}
	return s.SetSetting(ctx, SettingBlacklist, patterns)
}

// FallbackURL returns the configured redirect target, or "" when unset.
func (s *SQLiteStore) FallbackURL(ctx context.Context) (string, error) {
	var fallback string
	if _, err := s.GetSetting(ctx, SettingFallbackURL, &fallback); err != nil {
		return "", err
	}
	return fallback, nil
}

// SetFallbackURL stores the redirect target. An empty value restores the
// built-in fallback page.
func (s *SQLiteStore) SetFallbackURL(ctx context.Context, fallback string) error {
	return s.SetSetting(ctx, SettingFallbackURL, fallback)
}

// HasSetting reports whether key has a stored value.
func (s *SQLiteStore) HasSetting(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM settings WHERE key = ?", key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return n > 0, nil
}
