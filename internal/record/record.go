// Package record implements the typed-row wrapper layer (DbRecord): a
// dirty-field-tracking view over one row, built from a query result or
// constructed fresh for insertion.
package record

import (
	"fmt"
	"time"

	"github.com/graknol/declarative-sqlite-go/internal/ddberr"
	"github.com/graknol/declarative-sqlite-go/internal/ddbengine"
	"github.com/graknol/declarative-sqlite-go/internal/ddbschema"
	"github.com/graknol/declarative-sqlite-go/internal/fileset"
	"github.com/graknol/declarative-sqlite-go/internal/hlc"
	"github.com/graknol/declarative-sqlite-go/internal/sqlconn"
)

// Record is one row viewed through its declared schema: a current-values
// map, a dirty-field set tracking what save() must write, and an isNew
// flag distinguishing an unsaved record from one loaded from a query.
type Record struct {
	engine *ddbengine.Engine
	table  ddbschema.Table
	repo   fileset.Repository

	values map[string]any
	dirty  map[string]struct{}
	isNew  bool
}

// New constructs an unsaved record for table, ready for setters and save().
func New(engine *ddbengine.Engine, table ddbschema.Table, repo fileset.Repository) *Record {
	return &Record{
		engine: engine,
		table:  table,
		repo:   repo,
		values: map[string]any{},
		dirty:  map[string]struct{}{},
		isNew:  true,
	}
}

// FromRow wraps an existing query result row. A row missing system_id is
// treated as new.
func FromRow(engine *ddbengine.Engine, table ddbschema.Table, repo fileset.Repository, row sqlconn.Row) *Record {
	values := make(map[string]any, len(row))
	for k, v := range row {
		values[k] = v
	}
	_, hasID := values[ddbschema.SystemID]
	return &Record{
		engine: engine,
		table:  table,
		repo:   repo,
		values: values,
		dirty:  map[string]struct{}{},
		isNew:  !hasID,
	}
}

// IsNew reports whether this record has never been saved.
func (r *Record) IsNew() bool { return r.isNew }

// SystemID returns the row's system_id, or "" if unset (new, unsaved).
func (r *Record) SystemID() string {
	v, _ := r.values[ddbschema.SystemID].(string)
	return v
}

func (r *Record) markDirty(col string) { r.dirty[col] = struct{}{} }

func (r *Record) stampLWW(col string) {
	c, ok := r.table.Column(col)
	if !ok || !c.LWW {
		return
	}
	hlcCol := c.HLCColumn()
	r.values[hlcCol] = hlc.Now().String()
	r.markDirty(hlcCol)
}

// --- Typed getters ---

func (r *Record) GetText(col string) (string, bool) {
	v, ok := r.values[col]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (r *Record) GetTextOrDefault(col, def string) string {
	if s, ok := r.GetText(col); ok {
		return s
	}
	return def
}

func (r *Record) GetInteger(col string) (int64, bool) {
	v, ok := r.values[col]
	if !ok || v == nil {
		return 0, false
	}
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func (r *Record) GetReal(col string) (float64, bool) {
	v, ok := r.values[col]
	if !ok || v == nil {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

// GetDateTime lazily parses an ISO-8601 string column into a time.Time.
func (r *Record) GetDateTime(col string) (time.Time, bool) {
	s, ok := r.GetText(col)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// GetFilesetField lazily wraps the column's opaque fileset identifier in a
// fileset.Field bound to this record's repository.
func (r *Record) GetFilesetField(col string) (*fileset.Field, error) {
	if r.repo == nil {
		return nil, ddberr.New(ddberr.FilesetError, "Record.GetFilesetField",
			fmt.Errorf("record was constructed without a file repository"))
	}
	id, _ := r.GetText(col)
	return fileset.NewField(id, r.repo), nil
}

// --- Typed setters ---

func (r *Record) SetText(col, v string) {
	r.values[col] = v
	r.markDirty(col)
	r.stampLWW(col)
}

func (r *Record) SetInteger(col string, v int64) {
	r.values[col] = v
	r.markDirty(col)
	r.stampLWW(col)
}

func (r *Record) SetReal(col string, v float64) {
	r.values[col] = v
	r.markDirty(col)
	r.stampLWW(col)
}

func (r *Record) SetDateTime(col string, v time.Time) {
	r.values[col] = v.UTC().Format(time.RFC3339Nano)
	r.markDirty(col)
	r.stampLWW(col)
}

// SetFilesetID assigns a fileset column's underlying identifier directly.
// The *fileset.Field returned by GetFilesetField mints an id on its first
// AddFile but does not write it back to the record; storing it takes a
// SetFilesetID call with the Field's FilesetID.
func (r *Record) SetFilesetID(col, filesetID string) {
	r.values[col] = filesetID
	r.markDirty(col)
}

// --- Lifecycle ---

// Save inserts (if isNew) or writes the dirty subset (otherwise), clearing
// the dirty set on success. Saving an existing record with nothing dirty
// is a no-op.
func (r *Record) Save() error {
	if r.isNew {
		rowID, err := r.engine.Insert(r.table.Name, r.values)
		if err != nil {
			return err
		}
		r.values[ddbschema.SystemID] = rowID
		r.isNew = false
		r.dirty = map[string]struct{}{}
		return nil
	}

	if len(r.dirty) == 0 {
		return nil
	}

	subset := make(map[string]any, len(r.dirty))
	for col := range r.dirty {
		subset[col] = r.values[col]
	}

	id := r.SystemID()
	n, err := r.engine.Update(r.table.Name, subset, fmt.Sprintf("%s = ?", ddbschema.SystemID), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ddberr.New(ddberr.ConcurrencyConflict, "Record.Save",
			fmt.Errorf("no row matched system_id %s", id))
	}
	r.dirty = map[string]struct{}{}
	return nil
}

// Reload re-fetches the row by system_id, replacing the current-values map
// and clearing the dirty set. isNew remains false.
func (r *Record) Reload() error {
	id := r.SystemID()
	if id == "" {
		return ddberr.New(ddberr.NotFound, "Record.Reload", fmt.Errorf("record has no system_id to reload"))
	}
	rows, err := r.engine.RawQuery(
		fmt.Sprintf(`SELECT * FROM %s WHERE %s = ?`, quoteIdent(r.table.Name), quoteIdent(ddbschema.SystemID)), id)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ddberr.New(ddberr.NotFound, "Record.Reload", fmt.Errorf("row %s not found", id))
	}
	values := make(map[string]any, len(rows[0]))
	for k, v := range rows[0] {
		values[k] = v
	}
	r.values = values
	r.dirty = map[string]struct{}{}
	return nil
}

// Delete removes the row by system_id.
func (r *Record) Delete() error {
	id := r.SystemID()
	if id == "" {
		return ddberr.New(ddberr.NotFound, "Record.Delete", fmt.Errorf("record has no system_id to delete"))
	}
	_, err := r.engine.Delete(r.table.Name, fmt.Sprintf("%s = ?", ddbschema.SystemID), id)
	return err
}

func quoteIdent(name string) string { return `"` + name + `"` }
