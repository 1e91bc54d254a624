package storage

import "database/sql"

// migrateV001 creates the pages store with its four lookup indexes and the
// settings key-value table. Every statement uses IF NOT EXISTS.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			domain     TEXT NOT NULL DEFAULT '',
			url        TEXT NOT NULL,
			favicon    TEXT NOT NULL DEFAULT '',
			duration   INTEGER NOT NULL DEFAULT 0 CHECK (duration >= 0),
			start_time INTEGER NOT NULL,
			end_time   INTEGER NOT NULL DEFAULT -1
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_pages_domain     ON pages(domain)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_url        ON pages(url)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_start_time ON pages(start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_end_time   ON pages(end_time)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
