package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gaki-eu/ffp/internal/db"
	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
    id TEXT PRIMARY KEY,
    root TEXT NOT NULL,
    source_uri TEXT NOT NULL,
    status TEXT NOT NULL,
    checksum TEXT NOT NULL DEFAULT '',
    checksum_pending INTEGER NOT NULL DEFAULT 0,
    stable_since TEXT, -- RFC3339Nano, NULL while changing
    file_count INTEGER NOT NULL DEFAULT 0,
    total_size INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE (root, source_uri)
);

CREATE INDEX IF NOT EXISTS idx_entries_source_uri ON entries(source_uri);
CREATE INDEX IF NOT EXISTS idx_entries_status ON entries(status);
`

const selectColumns = `SELECT id, root, source_uri, status, checksum, checksum_pending, stable_since,
	file_count, total_size, created_at, updated_at FROM entries`

const upsertQuery = `INSERT OR REPLACE INTO entries
	(id, root, source_uri, status, checksum, checksum_pending, stable_since, file_count, total_size, created_at, updated_at)
	VALUES (:id, :root, :source_uri, :status, :checksum, :checksum_pending, :stable_since, :file_count, :total_size, :created_at, :updated_at)`

var (
	ErrNotOpen     = errors.New("catalog not open")
	ErrAlreadyOpen = errors.New("catalog already open")
	ErrDuplicate   = errors.New("entry already tracked")
)

// dbEntry is the row shape, times are stored as TEXT
type dbEntry struct {
	ID              string         `db:"id"`
	Root            string         `db:"root"`
	SourceURI       string         `db:"source_uri"`
	Status          string         `db:"status"`
	Checksum        string         `db:"checksum"`
	ChecksumPending bool           `db:"checksum_pending"`
	StableSince     sql.NullString `db:"stable_since"`
	FileCount       int64          `db:"file_count"`
	TotalSize       int64          `db:"total_size"`
	CreatedAt       string         `db:"created_at"`
	UpdatedAt       string         `db:"updated_at"`
}

func toRow(e *Entry) dbEntry {
	row := dbEntry{
		ID:              e.ID,
		Root:            e.Root,
		SourceURI:       e.SourceURI,
		Status:          string(e.Status),
		Checksum:        e.Checksum,
		ChecksumPending: e.ChecksumPending,
		FileCount:       e.FileCount,
		TotalSize:       e.TotalSize,
		CreatedAt:       e.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.StableSince != nil {
		row.StableSince = sql.NullString{String: e.StableSince.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	return row
}

func (r *dbEntry) toEntry() (Entry, error) {
	e := Entry{
		ID:              r.ID,
		Root:            r.Root,
		SourceURI:       r.SourceURI,
		Status:          Status(r.Status),
		Checksum:        r.Checksum,
		ChecksumPending: r.ChecksumPending,
		FileCount:       r.FileCount,
		TotalSize:       r.TotalSize,
	}

	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, r.CreatedAt); err != nil {
		return Entry{}, fmt.Errorf("parse created_at of %s: %w", r.SourceURI, err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, r.UpdatedAt); err != nil {
		return Entry{}, fmt.Errorf("parse updated_at of %s: %w", r.SourceURI, err)
	}
	if r.StableSince.Valid {
		t, err := time.Parse(time.RFC3339Nano, r.StableSince.String)
		if err != nil {
			return Entry{}, fmt.Errorf("parse stable_since of %s: %w", r.SourceURI, err)
		}
		e.StableSince = &t
	}
	return e, nil
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Root     string
	Statuses []Status
}

// Catalog is the SQLite backed store of tracked entries.
// It assumes a single writer per watched root.
type Catalog struct {
	db     *sqlx.DB
	dbPath string
}

// New returns a closed catalog for the database at dbPath (db.MemoryPath for tests)
func New(dbPath string) *Catalog {
	return &Catalog{dbPath: dbPath}
}

// Open the catalog and create the schema if needed
func (c *Catalog) Open() error {
	if c.db != nil {
		return ErrAlreadyOpen
	}

	conn, err := db.NewSqliteDB(db.WithPath(c.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return fmt.Errorf("init catalog schema: %w", err)
	}

	c.db = conn
	slog.Debug("catalog open", "path", c.dbPath)
	return nil
}

func (c *Catalog) Close() error {
	if c.db == nil {
		return ErrNotOpen
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return fmt.Errorf("close catalog: %w", err)
	}
	return nil
}

// FindBySourceURI returns every entry recorded for uri, across roots
func (c *Catalog) FindBySourceURI(ctx context.Context, uri string) ([]Entry, error) {
	if c.db == nil {
		return nil, ErrNotOpen
	}

	var rows []dbEntry
	if err := c.db.SelectContext(ctx, &rows, selectColumns+" WHERE source_uri = ? ORDER BY created_at", uri); err != nil {
		return nil, fmt.Errorf("find %s: %w", uri, err)
	}
	return toEntries(rows)
}

// Add inserts a new entry. Tracking the same source twice under one root is an error.
func (c *Catalog) Add(ctx context.Context, e Entry) error {
	if c.db == nil {
		return ErrNotOpen
	}

	var exists int
	err := c.db.GetContext(ctx, &exists, "SELECT COUNT(*) FROM entries WHERE root = ? AND source_uri = ?", e.Root, e.SourceURI)
	if err != nil {
		return fmt.Errorf("add %s: %w", e.SourceURI, err)
	}
	if exists > 0 {
		return fmt.Errorf("add %s: %w", e.SourceURI, ErrDuplicate)
	}

	if _, err := c.db.NamedExecContext(ctx, upsertQuery, toRow(&e)); err != nil {
		return fmt.Errorf("add %s: %w", e.SourceURI, err)
	}
	slog.Debug("catalog add", "uri", e.SourceURI, "id", e.ID)
	return nil
}

// Save writes all entries in one transaction
func (c *Catalog) Save(ctx context.Context, entries []Entry) error {
	if c.db == nil {
		return ErrNotOpen
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range entries {
		if _, err := tx.NamedExecContext(ctx, upsertQuery, toRow(&entries[i])); err != nil {
			return fmt.Errorf("save %s: %w", entries[i].SourceURI, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	slog.Debug("catalog save", "entries", len(entries))
	return nil
}

// List returns entries matching filter ordered by creation time
func (c *Catalog) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	if c.db == nil {
		return nil, ErrNotOpen
	}

	query := selectColumns + " WHERE 1=1"
	var args []any
	if filter.Root != "" {
		query += " AND root = ?"
		args = append(args, filter.Root)
	}
	if len(filter.Statuses) > 0 {
		query += " AND status IN (?)"
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
	}
	query += " ORDER BY created_at"

	if len(filter.Statuses) > 0 {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		query = c.db.Rebind(query)
	}

	var rows []dbEntry
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return toEntries(rows)
}

// Count returns the number of tracked entries
func (c *Catalog) Count(ctx context.Context) (int, error) {
	if c.db == nil {
		return 0, ErrNotOpen
	}
	var n int
	if err := c.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM entries"); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func toEntries(rows []dbEntry) ([]Entry, error) {
	entries := make([]Entry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
