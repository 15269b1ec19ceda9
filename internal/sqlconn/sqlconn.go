// Package sqlconn wraps database/sql with the minimal driver surface the
// engine consumes: execute, rawInsert/Update/Delete, rawQuery, and schema
// introspection. It is grounded directly on the host process's own
// Engine wrapper (WAL pragmas, busy_timeout, foreign_keys on) adapted from
// an interactive-assistant database to this engine's driver boundary.
package sqlconn

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Row is an ordered string-keyed map, matching the external driver
// interface's rawQuery contract.
type Row map[string]any

// Conn is the SQL driver connection the engine operates over. It never
// exposes a user-facing transaction — see ddbengine's UnsupportedOperation
// policy — but groups its own writes into the smallest driver-native unit
// available via WithTx.
type Conn struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path with the
// pragma set the engine always requires: WAL journaling, NORMAL sync,
// foreign keys on, and a 5s busy timeout.
func Open(path string) (*Conn, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlconn: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlconn: ping %s: %w", path, err)
	}
	return &Conn{db: db}, nil
}

// OpenMemory opens a private, non-shared in-memory database. Useful for
// tests.
func OpenMemory() (*Conn, error) {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("sqlconn: open in-memory db: %w", err)
	}
	db.SetMaxOpenConns(1) // a private in-memory db only exists on one connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlconn: ping in-memory db: %w", err)
	}
	return &Conn{db: db}, nil
}

// Close releases the underlying driver, checkpointing the WAL first.
func (c *Conn) Close() error {
	_, _ = c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return c.db.Close()
}

// DB returns the underlying *sql.DB for callers (migrator, fileset) that
// need lower-level access than the Conn surface exposes.
func (c *Conn) DB() *sql.DB { return c.db }

// Execute runs a DDL statement.
func (c *Conn) Execute(sqlText string) error {
	_, err := c.db.Exec(sqlText)
	if err != nil {
		return fmt.Errorf("sqlconn: execute: %w", err)
	}
	return nil
}

// RawInsert executes an INSERT and returns the number of rows affected
// (the engine tracks identity via system_id, not the driver's rowid, so
// LastInsertId is not surfaced).
func (c *Conn) RawInsert(sqlText string, args ...any) (int64, error) {
	res, err := c.db.Exec(sqlText, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlconn: raw insert: %w", err)
	}
	return res.RowsAffected()
}

// RawUpdate executes an UPDATE and returns rows affected.
func (c *Conn) RawUpdate(sqlText string, args ...any) (int64, error) {
	res, err := c.db.Exec(sqlText, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlconn: raw update: %w", err)
	}
	return res.RowsAffected()
}

// RawDelete executes a DELETE and returns rows affected.
func (c *Conn) RawDelete(sqlText string, args ...any) (int64, error) {
	res, err := c.db.Exec(sqlText, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlconn: raw delete: %w", err)
	}
	return res.RowsAffected()
}

// RawQuery executes a SELECT and returns the matched rows as ordered
// string-keyed maps, in column order.
func (c *Conn) RawQuery(sqlText string, args ...any) ([]Row, error) {
	rows, err := c.db.Query(sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlconn: raw query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlconn: raw query columns: %w", err)
	}

	var result []Row
	for rows.Next() {
		scanTargets := make([]any, len(cols))
		values := make([]any, len(cols))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("sqlconn: raw query scan: %w", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeScanValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlconn: raw query iteration: %w", err)
	}
	return result, nil
}

// normalizeScanValue converts driver-returned []byte (SQLite frequently
// returns TEXT as []byte) into string so callers don't need type switches
// that differ by driver.
func normalizeScanValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// WithTx groups fn's writes into the smallest driver-native atomic unit.
// The engine uses this internally for multi-statement writes (bulk loads
// and migration execution); it is never exposed to callers directly —
// see ddbengine's nested-transaction policy.
func (c *Conn) WithTx(fn func(tx *sql.Tx) error) (err error) {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlconn: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlconn: commit: %w", err)
	}
	return nil
}

// TableNames enumerates user tables (sqlite_ prefixed system tables are
// excluded).
func (c *Conn) TableNames() ([]string, error) {
	rows, err := c.RawQuery(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r["name"].(string))
	}
	return names, nil
}

// ViewDefs enumerates declared views as (name, sql) pairs.
func (c *Conn) ViewDefs() (map[string]string, error) {
	rows, err := c.RawQuery(`SELECT name, sql FROM sqlite_master WHERE type = 'view'`)
	if err != nil {
		return nil, err
	}
	defs := make(map[string]string, len(rows))
	for _, r := range rows {
		sqlText, _ := r["sql"].(string)
		defs[r["name"].(string)] = sqlText
	}
	return defs, nil
}

// ColumnInfo mirrors one row of PRAGMA table_info.
type ColumnInfo struct {
	Name         string
	Affinity     string
	NotNull      bool
	DefaultValue sql.NullString
	PrimaryKey   bool
}

// TableColumns enumerates a table's live columns via PRAGMA table_info.
func (c *Conn) TableColumns(table string) ([]ColumnInfo, error) {
	rows, err := c.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("sqlconn: table_info(%s): %w", table, err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("sqlconn: scan table_info(%s): %w", table, err)
		}
		cols = append(cols, ColumnInfo{
			Name: name, Affinity: ctype, NotNull: notnull != 0,
			DefaultValue: dflt, PrimaryKey: pk != 0,
		})
	}
	return cols, rows.Err()
}

// IndexInfo mirrors one row of PRAGMA index_list plus its covered columns.
type IndexInfo struct {
	Name    string
	Unique  bool
	Origin  string // "c" (CREATE INDEX), "u" (UNIQUE constraint), "pk" (PRIMARY KEY)
	Columns []string
}

// TableIndices enumerates a table's live indices via PRAGMA index_list /
// PRAGMA index_info.
func (c *Conn) TableIndices(table string) ([]IndexInfo, error) {
	rows, err := c.db.Query(fmt.Sprintf("PRAGMA index_list(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("sqlconn: index_list(%s): %w", table, err)
	}
	defer rows.Close()

	var infos []IndexInfo
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, fmt.Errorf("sqlconn: scan index_list(%s): %w", table, err)
		}
		infos = append(infos, IndexInfo{Name: name, Unique: unique != 0, Origin: origin})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range infos {
		cols, err := c.indexColumns(infos[i].Name)
		if err != nil {
			return nil, err
		}
		infos[i].Columns = cols
	}
	return infos, nil
}

func (c *Conn) indexColumns(index string) ([]string, error) {
	rows, err := c.db.Query(fmt.Sprintf("PRAGMA index_info(%s)", quoteIdent(index)))
	if err != nil {
		return nil, fmt.Errorf("sqlconn: index_info(%s): %w", index, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("sqlconn: scan index_info(%s): %w", index, err)
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
