// Package ddbengine is the core data engine: it owns the SQL connection,
// enforces system-column and LWW policy on every write, appends dirty-row
// log entries, and fans out affected-table notifications to whatever
// streaming layer has registered interest.
package ddbengine

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/graknol/declarative-sqlite-go/internal/ddberr"
	"github.com/graknol/declarative-sqlite-go/internal/ddbschema"
	"github.com/graknol/declarative-sqlite-go/internal/depanalysis"
	"github.com/graknol/declarative-sqlite-go/internal/dirtyrow"
	"github.com/graknol/declarative-sqlite-go/internal/hlc"
	"github.com/graknol/declarative-sqlite-go/internal/migrate"
	"github.com/graknol/declarative-sqlite-go/internal/query"
	"github.com/graknol/declarative-sqlite-go/internal/sqlconn"
)

// ChangeNotifier receives the set of tables a write may have affected. The
// streaming engine is the only shipped implementation; it registers itself
// with AddNotifier rather than the engine importing it directly, keeping
// the dependency edge the direction the design requires (stream depends on
// engine, never the reverse).
type ChangeNotifier interface {
	NotifyTablesChanged(tables []string)
}

// Engine is the core data engine. A value is
// safe for concurrent use; writers serialize through mu only for the
// notifier list, not for the underlying SQL connection (the driver and
// WithTx already provide the necessary atomicity).
type Engine struct {
	conn     *sqlconn.Conn
	schema   *ddbschema.Schema
	dirty    *dirtyrow.Store
	Analyzer *depanalysis.Analyzer

	mu        sync.RWMutex
	notifiers []ChangeNotifier
}

// Options configures Open.
type Options struct {
	// Name identifies this engine instance; it names the per-engine fileset
	// metadata table and has no other runtime effect.
	Name string
	// DepCacheSize bounds the dependency analyzer's memoized query shapes.
	// Zero uses the analyzer's own default.
	DepCacheSize int
}

// Open opens (creating if necessary) the SQLite database at path, runs the
// schema-diff migrator against schema, and returns a ready Engine.
func Open(path string, schema *ddbschema.Schema, opts Options) (*Engine, error) {
	conn, err := sqlconn.Open(path)
	if err != nil {
		return nil, err
	}
	return newEngine(conn, schema, opts)
}

// OpenMemory is Open's in-memory counterpart, used by tests and ephemeral
// sessions.
func OpenMemory(schema *ddbschema.Schema, opts Options) (*Engine, error) {
	conn, err := sqlconn.OpenMemory()
	if err != nil {
		return nil, err
	}
	return newEngine(conn, schema, opts)
}

func newEngine(conn *sqlconn.Conn, schema *ddbschema.Schema, opts Options) (*Engine, error) {
	name := opts.Name
	if name == "" {
		name = "default"
	}

	if _, err := migrate.Run(conn, schema, name); err != nil {
		conn.Close()
		return nil, err
	}

	analyzer, err := depanalysis.NewAnalyzer(schema, opts.DepCacheSize)
	if err != nil {
		conn.Close()
		return nil, ddberr.New(ddberr.Internal, "ddbengine.Open", err)
	}

	return &Engine{
		conn:     conn,
		schema:   schema,
		dirty:    dirtyrow.New(conn),
		Analyzer: analyzer,
	}, nil
}

// Close releases the underlying connection.
func (e *Engine) Close() error {
	return e.conn.Close()
}

// Conn exposes the underlying connection for the record and fileset
// layers, which sit above the engine but below the public surface.
func (e *Engine) Conn() *sqlconn.Conn { return e.conn }

// Schema returns the declarative schema the engine was opened with.
func (e *Engine) Schema() *ddbschema.Schema { return e.schema }

// Dirty exposes the dirty-row store as an Exporter for the transport layer.
func (e *Engine) Dirty() dirtyrow.Exporter { return e.dirty }

// AddNotifier registers n to receive affected-table notifications from
// every write the engine performs (insert/update/delete/bulkLoad/raw
// mutations with an identifiable table).
func (e *Engine) AddNotifier(n ChangeNotifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, n)
}

func (e *Engine) notify(tables ...string) {
	e.mu.RLock()
	ns := append([]ChangeNotifier(nil), e.notifiers...)
	e.mu.RUnlock()
	for _, n := range ns {
		n.NotifyTablesChanged(tables)
	}
}

// Insert validates values against table's schema, fills system columns and
// LWW companion HLCs, writes a single parameterized INSERT, and appends a
// full-row DirtyRow.
func (e *Engine) Insert(table string, values map[string]any) (string, error) {
	t, ok := e.schema.Table(table)
	if !ok {
		return "", ddberr.New(ddberr.SchemaValidation, "Insert", fmt.Errorf("unknown table %q", table))
	}

	now := hlc.Now()
	row := map[string]any{}
	for k, v := range values {
		row[k] = v
	}

	var rowID string
	if t.SystemColumns {
		rowID = uuid.New().String()
		row[ddbschema.SystemID] = rowID
		row[ddbschema.SystemCreatedAt] = now.String()
		row[ddbschema.SystemVersion] = now.String()
	} else if pk := t.PrimaryKeyColumns(); len(pk) == 1 {
		if v, ok := row[pk[0]]; ok {
			rowID = fmt.Sprint(v)
		}
	}

	for _, c := range t.Columns {
		if _, present := row[c.Name]; !present {
			if c.Default != nil {
				row[c.Name] = c.Default.Resolve()
			}
		}
		if c.LWW {
			row[c.HLCColumn()] = now.String()
		}
	}

	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = row[c]
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), quotedList(cols), joinPlaceholders(placeholders))

	if _, err := e.conn.RawInsert(stmt, args...); err != nil {
		return "", ddberr.New(ddberr.ConstraintViolation, "Insert", err)
	}

	if err := e.dirty.Upsert(table, rowID, now, true, row); err != nil {
		return "", ddberr.New(ddberr.Internal, "Insert", err)
	}

	e.notify(table)
	return rowID, nil
}

// Update recomputes system_version, applies LWW staleness checks per
// column against the row(s) matched by where, writes every supplied column
// that is not stale, and appends one DirtyRow per affected row carrying
// just those columns. Supplied values are not compared with the stored
// ones: a column set to its current value is still written and still
// appears in the DirtyRow.
func (e *Engine) Update(table string, values map[string]any, where string, whereArgs ...any) (int64, error) {
	t, ok := e.schema.Table(table)
	if !ok {
		return 0, ddberr.New(ddberr.SchemaValidation, "Update", fmt.Errorf("unknown table %q", table))
	}

	now := hlc.Now()
	matched, err := e.selectMatchedRows(t, where, whereArgs)
	if err != nil {
		return 0, ddberr.New(ddberr.Internal, "Update", err)
	}

	// hlcColumns collects every LWW companion column name so the loop below
	// can recognize (and skip treating as an ordinary payload column) a
	// caller-supplied explicit HLC for its paired column: current now()
	// is used unless the caller explicitly supplies one.
	hlcColumns := map[string]bool{}
	for _, c := range t.Columns {
		if c.LWW {
			hlcColumns[c.HLCColumn()] = true
		}
	}

	var affected int64
	for _, existing := range matched {
		changed := map[string]any{}
		for col, newVal := range values {
			if hlcColumns[col] {
				continue // consumed below, alongside its paired column
			}
			c, known := t.Column(col)
			if known && c.LWW {
				incoming := now
				if explicit, ok := values[c.HLCColumn()]; ok {
					if parsed, perr := hlc.Parse(fmt.Sprint(explicit)); perr == nil {
						incoming = parsed
					}
				}
				storedHLC, _ := hlc.Parse(fmt.Sprint(existing[c.HLCColumn()]))
				if incoming.Compare(storedHLC) < 0 {
					continue // stale write: a strictly newer HLC already stored
				}
				changed[c.HLCColumn()] = incoming.String()
			}
			changed[col] = newVal
		}
		if len(changed) == 0 {
			continue
		}
		changed[ddbschema.SystemVersion] = now.String()

		rowID := fmt.Sprint(existing[ddbschema.SystemID])
		n, err := e.applyColumnUpdate(table, rowID, changed)
		if err != nil {
			return affected, ddberr.New(ddberr.Internal, "Update", err)
		}
		affected += n

		dirtyPayload := map[string]any{}
		for col, v := range values {
			if hlcColumns[col] {
				continue // internal bookkeeping, not caller-visible data
			}
			if _, stillChanged := changed[col]; stillChanged {
				dirtyPayload[col] = v
			}
		}
		if err := e.dirty.Upsert(table, rowID, now, false, dirtyPayload); err != nil {
			return affected, ddberr.New(ddberr.Internal, "Update", err)
		}
	}

	if affected > 0 {
		e.notify(table)
	}
	return affected, nil
}

// Delete executes a DELETE matching where and appends a nil-data DirtyRow
// per affected row.
func (e *Engine) Delete(table string, where string, whereArgs ...any) (int64, error) {
	t, ok := e.schema.Table(table)
	if !ok {
		return 0, ddberr.New(ddberr.SchemaValidation, "Delete", fmt.Errorf("unknown table %q", table))
	}

	matched, err := e.selectMatchedRows(t, where, whereArgs)
	if err != nil {
		return 0, ddberr.New(ddberr.Internal, "Delete", err)
	}

	stmt := fmt.Sprintf("DELETE FROM %s", quoteIdent(table))
	if where != "" {
		stmt += " WHERE " + where
	}
	affected, err := e.conn.RawDelete(stmt, whereArgs...)
	if err != nil {
		return 0, ddberr.New(ddberr.Internal, "Delete", err)
	}

	now := hlc.Now()
	for _, row := range matched {
		rowID := fmt.Sprint(row[ddbschema.SystemID])
		if err := e.dirty.Upsert(table, rowID, now, false, nil); err != nil {
			return affected, ddberr.New(ddberr.Internal, "Delete", err)
		}
	}

	if affected > 0 {
		e.notify(table)
	}
	return affected, nil
}

// BulkLoad imports rows directly, filling system columns and LWW HLCs but
// never touching the dirty-row log — the initial-hydration path. Affected
// tables are still posted so live streams refresh.
func (e *Engine) BulkLoad(table string, rows []map[string]any) error {
	t, ok := e.schema.Table(table)
	if !ok {
		return ddberr.New(ddberr.SchemaValidation, "BulkLoad", fmt.Errorf("unknown table %q", table))
	}

	err := e.conn.WithTx(func(tx *sql.Tx) error {
		for _, values := range rows {
			now := hlc.Now()
			row := map[string]any{}
			for k, v := range values {
				row[k] = v
			}
			if t.SystemColumns {
				if _, ok := row[ddbschema.SystemID]; !ok {
					row[ddbschema.SystemID] = uuid.New().String()
				}
				row[ddbschema.SystemCreatedAt] = now.String()
				row[ddbschema.SystemVersion] = now.String()
			}
			for _, c := range t.Columns {
				if c.LWW {
					row[c.HLCColumn()] = now.String()
				}
			}

			cols := make([]string, 0, len(row))
			for c := range row {
				cols = append(cols, c)
			}
			placeholders := make([]string, len(cols))
			args := make([]any, len(cols))
			for i, c := range cols {
				placeholders[i] = "?"
				args[i] = row[c]
			}
			stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				quoteIdent(table), quotedList(cols), joinPlaceholders(placeholders))
			if _, err := tx.Exec(stmt, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ddberr.New(ddberr.Internal, "BulkLoad", err)
	}

	if len(rows) > 0 {
		e.notify(table)
	}
	return nil
}

// ApplyServerUpdate is the inverse of outbound sync: LWW columns are
// merged against the supplied hlc (stale values silently dropped),
// non-LWW columns are written unconditionally since the transport is
// their authority. No DirtyRow is produced.
func (e *Engine) ApplyServerUpdate(table, rowID string, values map[string]any, ts hlc.Timestamp) error {
	t, ok := e.schema.Table(table)
	if !ok {
		return ddberr.New(ddberr.SchemaValidation, "ApplyServerUpdate", fmt.Errorf("unknown table %q", table))
	}

	existing, err := e.selectByID(table, rowID)
	if err != nil {
		return ddberr.New(ddberr.Internal, "ApplyServerUpdate", err)
	}
	if existing == nil {
		return ddberr.New(ddberr.NotFound, "ApplyServerUpdate", fmt.Errorf("row %s/%s not found", table, rowID))
	}

	changed := map[string]any{}
	for col, v := range values {
		c, known := t.Column(col)
		if known && c.LWW {
			storedHLC, _ := hlc.Parse(fmt.Sprint(existing[c.HLCColumn()]))
			if ts.Compare(storedHLC) < 0 {
				continue
			}
			changed[c.HLCColumn()] = ts.String()
		}
		changed[col] = v
	}
	if len(changed) == 0 {
		return nil
	}
	changed[ddbschema.SystemVersion] = ts.String()

	hlc.Update(ts)
	if _, err := e.applyColumnUpdate(table, rowID, changed); err != nil {
		return ddberr.New(ddberr.Internal, "ApplyServerUpdate", err)
	}

	e.notify(table)
	return nil
}

// RawInsert/RawUpdate/RawDelete/RawQuery pass directly through to the
// driver. Raw mutations notify the affected table by name since the
// caller supplies it directly; this is less precise than the typed
// surfaces (no dependency on actual columns touched), but false positive
// notifications here are harmless.
func (e *Engine) RawInsert(table, sqlText string, args ...any) (int64, error) {
	n, err := e.conn.RawInsert(sqlText, args...)
	if err == nil && n > 0 {
		e.notify(table)
	}
	return n, err
}

func (e *Engine) RawUpdate(table, sqlText string, args ...any) (int64, error) {
	n, err := e.conn.RawUpdate(sqlText, args...)
	if err == nil && n > 0 {
		e.notify(table)
	}
	return n, err
}

func (e *Engine) RawDelete(table, sqlText string, args ...any) (int64, error) {
	n, err := e.conn.RawDelete(sqlText, args...)
	if err == nil && n > 0 {
		e.notify(table)
	}
	return n, err
}

func (e *Engine) RawQuery(sqlText string, args ...any) ([]sqlconn.Row, error) {
	return e.conn.RawQuery(sqlText, args...)
}

// QueryMaps renders q and returns its matched rows as plain maps.
func (e *Engine) QueryMaps(q *query.Query) ([]sqlconn.Row, error) {
	sqlText, args, err := q.Render(nil)
	if err != nil {
		return nil, ddberr.New(ddberr.Internal, "QueryMaps", err)
	}
	return e.conn.RawQuery(sqlText, args...)
}

// QueryTable builds and runs an unfiltered `SELECT * FROM table` and
// returns its rows as plain maps; the typed record layer
// builds on this to produce DbRecords with isNew=false.
func (e *Engine) QueryTable(table string) ([]sqlconn.Row, error) {
	q := query.From(table).SelectWildcard("").Build()
	return e.QueryMaps(q)
}

// ReferencedFilesetIDs scans every fileset-typed column of every user table
// and returns the distinct fileset ids still referenced by a live row. It
// matches fileset.ReferencedFilesetIDs's signature and is the production
// provider fileset.GC is driven by — without it, a fileset is never
// reachable from a live row and GC would have nothing to call.
func (e *Engine) ReferencedFilesetIDs() (map[string]struct{}, error) {
	live := map[string]struct{}{}
	for _, t := range e.schema.Tables {
		for _, c := range t.Columns {
			if c.Type != ddbschema.Fileset {
				continue
			}
			stmt := fmt.Sprintf("SELECT DISTINCT %s AS v FROM %s WHERE %s IS NOT NULL AND %s <> ''",
				quoteIdent(c.Name), quoteIdent(t.Name), quoteIdent(c.Name), quoteIdent(c.Name))
			rows, err := e.conn.RawQuery(stmt)
			if err != nil {
				return nil, ddberr.New(ddberr.Internal, "ReferencedFilesetIDs", err)
			}
			for _, row := range rows {
				if v, ok := row["v"].(string); ok && v != "" {
					live[v] = struct{}{}
				}
			}
		}
	}
	return live, nil
}

// UnsupportedOperation reports the engine's blanket refusal of
// caller-scoped transactions.
func (e *Engine) UnsupportedOperation(op string) error {
	return ddberr.New(ddberr.UnsupportedOperation, op,
		fmt.Errorf("caller-scoped transactions are not supported; the engine groups its own writes internally"))
}

func (e *Engine) selectMatchedRows(t ddbschema.Table, where string, whereArgs []any) ([]sqlconn.Row, error) {
	stmt := fmt.Sprintf("SELECT * FROM %s", quoteIdent(t.Name))
	if where != "" {
		stmt += " WHERE " + where
	}
	return e.conn.RawQuery(stmt, whereArgs...)
}

func (e *Engine) selectByID(table, rowID string) (sqlconn.Row, error) {
	rows, err := e.conn.RawQuery(
		fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", quoteIdent(table), quoteIdent(ddbschema.SystemID)), rowID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (e *Engine) applyColumnUpdate(table, rowID string, changed map[string]any) (int64, error) {
	sets := make([]string, 0, len(changed))
	args := make([]any, 0, len(changed)+1)
	for col, v := range changed {
		sets = append(sets, quoteIdent(col)+" = ?")
		args = append(args, v)
	}
	args = append(args, rowID)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		quoteIdent(table), joinPlaceholders(sets), quoteIdent(ddbschema.SystemID))
	return e.conn.RawUpdate(stmt, args...)
}

func quoteIdent(name string) string { return `"` + name + `"` }

func quotedList(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return joinPlaceholders(out)
}

func joinPlaceholders(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
