package querygrid

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// CatalogConfig configures the catalog store.
type CatalogConfig struct {
	// Path to the SQLite database file. ":memory:" keeps the catalog
	// in-process only.
	Path string `yaml:"path"`

	// BusyTimeout is the timeout for acquiring locks in milliseconds.
	// Default: 5000.
	BusyTimeout int `yaml:"busy_timeout"`

	// HistoryLimit caps the number of retained history rows.
	// Default: 10,000. 0 disables trimming.
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultCatalogConfig returns default configuration.
func DefaultCatalogConfig(path string) CatalogConfig {
	return CatalogConfig{
		Path:         path,
		BusyTimeout:  5000,
		HistoryLimit: 10_000,
	}
}

// TableInfo is one catalog entry: a table name plus its last known schema.
type TableInfo struct {
	Name        string    `json:"name"`
	Columns     []string  `json:"columns"`
	Types       []TypeTag `json:"types"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// HistoryEntry records one executed query. History is an execution log, not a
// saved-query store: query text is recorded as run, never as a named snippet.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	Query      string    `json:"query"`
	RowCount   int       `json:"row_count"`
	Duration   int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Catalog caches table metadata from the database and logs query executions,
// backed by SQLite so the schema browser stays responsive across restarts.
type Catalog struct {
	db     *sql.DB
	config CatalogConfig

	mu     sync.Mutex
	closed bool
}

// OpenCatalog opens (creating if needed) the catalog store at the configured
// path.
func OpenCatalog(config CatalogConfig) (*Catalog, error) {
	if config.Path == "" {
		config.Path = "querygrid.db"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", config.Path, config.BusyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", config.Path, err)
	}

	c := &Catalog{db: db, config: config}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS catalog_tables (
			name TEXT PRIMARY KEY,
			columns TEXT NOT NULL,
			types TEXT NOT NULL,
			refreshed_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS query_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			query TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			executed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_executed ON query_history(executed_at)`,
	}
	for _, s := range stmts {
		if _, err := c.db.Exec(s); err != nil {
			return fmt.Errorf("catalog: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying store.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func (c *Catalog) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCatalogClosed
	}
	return nil
}

// Refresh re-reads the table list and each table's schema from the database
// and replaces the cached catalog. Schema fetch failures for individual
// tables are skipped so one broken table does not empty the browser.
func (c *Catalog) Refresh(ctx context.Context, conn *Conn) ([]TableInfo, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	names, err := conn.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: list tables: %w", err)
	}

	infos := make([]TableInfo, 0, len(names))
	for _, name := range names {
		info := TableInfo{Name: name, RefreshedAt: time.Now()}
		if schema, serr := conn.TableSchema(ctx, name); serr == nil {
			info.Columns = schemaColumnNames(schema)
			info.Types = schemaColumnTypes(schema)
		}
		infos = append(infos, info)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: begin refresh: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_tables`); err != nil {
		return nil, fmt.Errorf("catalog: clear tables: %w", err)
	}
	for _, info := range infos {
		cols, _ := json.Marshal(info.Columns)
		typs, _ := json.Marshal(info.Types)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_tables(name, columns, types, refreshed_at) VALUES(?, ?, ?, ?)`,
			info.Name, string(cols), string(typs), info.RefreshedAt.UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("catalog: store table %q: %w", info.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("catalog: commit refresh: %w", err)
	}
	return infos, nil
}

// Tables returns the cached catalog, ordered by name.
func (c *Catalog) Tables(ctx context.Context) ([]TableInfo, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, columns, types, refreshed_at FROM catalog_tables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: read tables: %w", err)
	}
	defer rows.Close()

	var infos []TableInfo
	for rows.Next() {
		var info TableInfo
		var cols, typs string
		var refreshed int64
		if err := rows.Scan(&info.Name, &cols, &typs, &refreshed); err != nil {
			return nil, fmt.Errorf("catalog: scan table: %w", err)
		}
		json.Unmarshal([]byte(cols), &info.Columns)
		json.Unmarshal([]byte(typs), &info.Types)
		info.RefreshedAt = time.UnixMilli(refreshed)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Table returns one cached catalog entry, or nil if unknown.
func (c *Catalog) Table(ctx context.Context, name string) (*TableInfo, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	row := c.db.QueryRowContext(ctx,
		`SELECT name, columns, types, refreshed_at FROM catalog_tables WHERE name = ?`, name)

	var info TableInfo
	var cols, typs string
	var refreshed int64
	switch err := row.Scan(&info.Name, &cols, &typs, &refreshed); err {
	case nil:
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, fmt.Errorf("catalog: read table %q: %w", name, err)
	}
	json.Unmarshal([]byte(cols), &info.Columns)
	json.Unmarshal([]byte(typs), &info.Types)
	info.RefreshedAt = time.UnixMilli(refreshed)
	return &info, nil
}

// RecordExecution appends one query execution to the history log and trims
// the log to the configured limit.
func (c *Catalog) RecordExecution(ctx context.Context, entry HistoryEntry) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO query_history(query, row_count, duration_ms, error, executed_at) VALUES(?, ?, ?, ?, ?)`,
		entry.Query, entry.RowCount, entry.Duration, entry.Error, entry.ExecutedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("catalog: record execution: %w", err)
	}
	if c.config.HistoryLimit > 0 {
		_, err = c.db.ExecContext(ctx,
			`DELETE FROM query_history WHERE id NOT IN (
				SELECT id FROM query_history ORDER BY id DESC LIMIT ?)`,
			c.config.HistoryLimit)
		if err != nil {
			return fmt.Errorf("catalog: trim history: %w", err)
		}
	}
	return nil
}

// History returns the most recent executions, newest first.
func (c *Catalog) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, query, row_count, duration_ms, error, executed_at
		 FROM query_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: read history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var executed int64
		if err := rows.Scan(&e.ID, &e.Query, &e.RowCount, &e.Duration, &e.Error, &executed); err != nil {
			return nil, fmt.Errorf("catalog: scan history: %w", err)
		}
		e.ExecutedAt = time.UnixMilli(executed)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// schemaColumnNames reads column names out of a schema query result. The
// database's schema results arrive as a table with a "c" (column name)
// column; when absent, the result's own columns are used.
func schemaColumnNames(schema NormalizedTable) []string {
	ci := schema.ColumnIndex("c")
	if ci < 0 {
		return schema.Columns
	}
	names := make([]string, 0, len(schema.Rows))
	for _, row := range schema.Rows {
		if s, ok := row[ci].(string); ok {
			names = append(names, s)
		}
	}
	return names
}

// schemaColumnTypes mirrors schemaColumnNames for the "t" (type code)
// column, mapping single-character type codes to TypeTags.
func schemaColumnTypes(schema NormalizedTable) []TypeTag {
	ti := schema.ColumnIndex("t")
	if ti < 0 {
		return schema.Types
	}
	types := make([]TypeTag, 0, len(schema.Rows))
	for _, row := range schema.Rows {
		code, _ := row[ti].(string)
		types = append(types, typeTagForCode(code))
	}
	return types
}

// typeTagForCode maps the database's one-letter column type codes onto
// TypeTags for display in the schema browser.
func typeTagForCode(code string) TypeTag {
	switch code {
	case "f", "i", "j", "h", "e", "b":
		return TypeNumber
	case "s":
		return TypeSymbol
	case "c", "C":
		return TypeString
	case "t":
		return TypeTimeMillis
	case "v":
		return TypeTimeSecond
	case "u":
		return TypeTimeMinute
	case "d":
		return TypeDate
	case "p", "z":
		return TypeDateTime
	default:
		return TypeMixed
	}
}
