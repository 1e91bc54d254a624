package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store defines the page-visit record operations.
type Store interface {
	Query(ctx context.Context, c Criteria) ([]PageVisitRecord, error)
	Insert(ctx context.Context, records ...PageVisitRecord) ([]int64, error)
	Remove(ctx context.Context, c Criteria) (int64, error)
	Update(ctx context.Context, id int64, patch RecordPatch) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeAll(ctx context.Context) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

const pageColumns = `id, domain, url, favicon, duration, start_time, end_time`

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool

	// Prepared statements
	insertPage       *sql.Stmt
	insertPageWithID *sql.Stmt
	getPage          *sql.Stmt
	updatePage       *sql.Stmt
	deletePage       *sql.Stmt
}

// Open opens (creating if needed) the database at path, applies migrations
// up to schemaVersion and returns a store that owns the connection. Any
// failure is reported as ErrStorageUnavailable.
func Open(path string, schemaVersion int) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %w", ErrStorageUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", ErrStorageUnavailable, err)
	}
	// A single connection keeps :memory: databases coherent and serializes
	// writers the way the daemon expects.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect: %w", ErrStorageUnavailable, err)
	}

	if err := NewMigrationRunner(db).RunTo(schemaVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: run migrations: %w", ErrStorageUnavailable, err)
	}

	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	s.ownsDB = true
	return s, nil
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertPage, err = s.db.Prepare(`
		INSERT INTO pages (domain, url, favicon, duration, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.insertPageWithID, err = s.db.Prepare(`
		INSERT INTO pages (id, domain, url, favicon, duration, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.getPage, err = s.db.Prepare(`SELECT ` + pageColumns + ` FROM pages WHERE id = ?`)
	if err != nil {
		return err
	}

	s.updatePage, err = s.db.Prepare(`
		UPDATE pages
		SET domain = ?, url = ?, favicon = ?, duration = ?, start_time = ?, end_time = ?
		WHERE id = ?
	`)
	if err != nil {
		return err
	}

	s.deletePage, err = s.db.Prepare(`DELETE FROM pages WHERE id = ?`)
	if err != nil {
		return err
	}

	return nil
}

// ExtractDomain pulls the hostname from a URL string.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// validate enforces the record invariants before a write.
func validate(r PageVisitRecord) error {
	if r.URL == "" {
		return errors.New("url is required")
	}
	if r.Duration < 0 {
		return fmt.Errorf("negative duration %d", r.Duration)
	}
	if r.Finalized() && r.EndTime < r.StartTime {
		return fmt.Errorf("endTime %d before startTime %d", r.EndTime, r.StartTime)
	}
	return nil
}

// Query returns the records selected by c. One criterion family drives the
// scan (id, then domain, then url, then the time range, then everything) and
// the rows are then filtered so every supplied field matches. Range scans come
// back ascending by the scanned index.
func (s *SQLiteStore) Query(ctx context.Context, c Criteria) ([]PageVisitRecord, error) {
	query := `SELECT ` + pageColumns + ` FROM pages`
	var args []interface{}

	switch {
	case c.ID != 0:
		query += ` WHERE id = ?`
		args = append(args, c.ID)
	case c.Domain != "":
		query += ` WHERE domain = ? ORDER BY id`
		args = append(args, c.Domain)
	case c.URL != "":
		query += ` WHERE url = ? ORDER BY id`
		args = append(args, c.URL)
	case c.StartTime != nil:
		query += ` WHERE start_time >= ? ORDER BY start_time, id`
		args = append(args, *c.StartTime)
	case c.EndTime != nil:
		query += ` WHERE end_time <= ? ORDER BY end_time, id`
		args = append(args, *c.EndTime)
	default:
		query += ` ORDER BY id`
	}

	scanned, err := s.scanPages(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}

	records := make([]PageVisitRecord, 0, len(scanned))
	for _, r := range scanned {
		if c.matches(r) {
			records = append(records, r)
		}
	}
	return records, nil
}

// scanPages executes a query and scans results into a record slice.
func (s *SQLiteStore) scanPages(ctx context.Context, query string, args ...interface{}) ([]PageVisitRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	var records []PageVisitRecord
	for rows.Next() {
		var r PageVisitRecord
		if err := rows.Scan(
			&r.ID, &r.Domain, &r.URL, &r.Favicon, &r.Duration, &r.StartTime, &r.EndTime,
		); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice rather than nil
	if records == nil {
		records = []PageVisitRecord{}
	}

	return records, nil
}

// Insert stores each record in a single transaction and returns the ids in
// input order. Records without an ID get one assigned; a missing Domain is
// derived from the URL.
func (s *SQLiteStore) Insert(ctx context.Context, records ...PageVisitRecord) ([]int64, error) {
	ids := make([]int64, 0, len(records))
	if len(records) == 0 {
		return ids, nil
	}

	for i := range records {
		if records[i].Domain == "" {
			records[i].Domain = ExtractDomain(records[i].URL)
		}
		if err := validate(records[i]); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrWrite, i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %w", ErrWrite, err)
	}
	defer tx.Rollback() //nolint:errcheck

	insert := tx.StmtContext(ctx, s.insertPage)
	insertWithID := tx.StmtContext(ctx, s.insertPageWithID)

	for _, r := range records {
		if r.ID != 0 {
			if _, err := insertWithID.ExecContext(ctx,
				r.ID, r.Domain, r.URL, r.Favicon, r.Duration, r.StartTime, r.EndTime,
			); err != nil {
				return nil, fmt.Errorf("%w: insert page %d: %w", ErrWrite, r.ID, err)
			}
			ids = append(ids, r.ID)
			continue
		}

		res, err := insert.ExecContext(ctx,
			r.Domain, r.URL, r.Favicon, r.Duration, r.StartTime, r.EndTime,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: insert page: %w", ErrWrite, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("%w: read assigned id: %w", ErrWrite, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", ErrWrite, err)
	}
	return ids, nil
}

// Remove deletes records by every supplied criterion. Each family (id,
// domain, url, time range) is its own sweep, so the union of matches is
// removed. Rows are deleted one by one; on failure the deletes already done
// stay applied and the error wraps ErrDelete. Returns the number removed.
func (s *SQLiteStore) Remove(ctx context.Context, c Criteria) (int64, error) {
	var passes []Criteria
	if c.ID != 0 {
		passes = append(passes, Criteria{ID: c.ID})
	}
	if c.Domain != "" {
		passes = append(passes, Criteria{Domain: c.Domain})
	}
	if c.URL != "" {
		passes = append(passes, Criteria{URL: c.URL})
	}
	if c.hasRange() {
		passes = append(passes, Criteria{StartTime: c.StartTime, EndTime: c.EndTime})
	}

	var removed int64
	for _, pass := range passes {
		matches, err := s.Query(ctx, pass)
		if err != nil {
			return removed, fmt.Errorf("%w: select matches: %w", ErrDelete, err)
		}
		for _, r := range matches {
			res, err := s.deletePage.ExecContext(ctx, r.ID)
			if err != nil {
				return removed, fmt.Errorf("%w: record %d: %w", ErrDelete, r.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return removed, fmt.Errorf("%w: record %d: %w", ErrDelete, r.ID, err)
			}
			removed += n
		}
	}

	return removed, nil
}

// Update merges patch onto the record with the given id.
func (s *SQLiteStore) Update(ctx context.Context, id int64, patch RecordPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", ErrWrite, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var r PageVisitRecord
	err = tx.StmtContext(ctx, s.getPage).QueryRowContext(ctx, id).Scan(
		&r.ID, &r.Domain, &r.URL, &r.Favicon, &r.Duration, &r.StartTime, &r.EndTime,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return fmt.Errorf("%w: load page %d: %w", ErrWrite, id, err)
	}

	patch.apply(&r)
	if err := validate(r); err != nil {
		return fmt.Errorf("%w: page %d: %w", ErrWrite, id, err)
	}

	if _, err := tx.StmtContext(ctx, s.updatePage).ExecContext(ctx,
		r.Domain, r.URL, r.Favicon, r.Duration, r.StartTime, r.EndTime, id,
	); err != nil {
		return fmt.Errorf("%w: update page %d: %w", ErrWrite, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrWrite, err)
	}
	return nil
}

// Get retrieves a single record by id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*PageVisitRecord, error) {
	var r PageVisitRecord
	err := s.getPage.QueryRowContext(ctx, id).Scan(
		&r.ID, &r.Domain, &r.URL, &r.Favicon, &r.Duration, &r.StartTime, &r.EndTime,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return &r, nil
}

// PruneBefore deletes finalized records that ended before cutoff. Records
// whose session is still open are kept.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM pages WHERE end_time <> ? AND end_time < ?",
		OpenEndTime, cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: prune pages: %w", ErrDelete, err)
	}
	return res.RowsAffected()
}

// CountBefore reports how many finalized records ended before cutoff.
func (s *SQLiteStore) CountBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pages WHERE end_time <> ? AND end_time < ?",
		OpenEndTime, cutoff.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count pages: %w", ErrQuery, err)
	}
	return n, nil
}

// PurgeAll deletes every record and resets id assignment.
func (s *SQLiteStore) PurgeAll(ctx context.Context) error {
	stmts := []string{
		"DELETE FROM pages",
		"DELETE FROM sqlite_sequence WHERE name = 'pages'",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: purge (%s): %w", ErrDelete, stmt, err)
		}
	}
	return nil
}

// GetStats returns aggregate statistics about the store.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(duration), 0), COALESCE(SUM(end_time = -1), 0) FROM pages",
	).Scan(&stats.TotalRecords, &stats.TotalDuration, &stats.OpenRecords)
	if err != nil {
		return nil, fmt.Errorf("%w: count pages: %w", ErrQuery, err)
	}

	if stats.TotalRecords > 0 {
		var oldest, newest int64
		err = s.db.QueryRowContext(ctx, "SELECT MIN(start_time), MAX(start_time) FROM pages").Scan(&oldest, &newest)
		if err != nil {
			return nil, fmt.Errorf("%w: start time range: %w", ErrQuery, err)
		}
		stats.OldestStart = time.UnixMilli(oldest)
		stats.NewestStart = time.UnixMilli(newest)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			stats.DatabaseSizeBytes = pageCount * pageSize
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, SUM(duration) AS total, COUNT(*)
		FROM pages
		GROUP BY domain
		ORDER BY total DESC, domain
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: top domains: %w", ErrQuery, err)
	}
	defer rows.Close()

	for rows.Next() {
		var dd DomainDuration
		if err := rows.Scan(&dd.Domain, &dd.Duration, &dd.Visits); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQuery, err)
		}
		stats.TopDomains = append(stats.TopDomains, dd)
	}

	return stats, rows.Err()
}

// Close releases all prepared statements, and the database itself when the
// store was created by Open.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.insertPage, s.insertPageWithID, s.getPage,
		s.updatePage, s.deletePage,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
