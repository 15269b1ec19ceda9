// Package ddbschema holds the in-memory declarative schema model: tables,
// columns, keys, and views. It has no dependency on the SQL driver — the
// migrator and data engine translate it into DDL/DML.
package ddbschema

import (
	"fmt"

	"github.com/graknol/declarative-sqlite-go/internal/query"
)

// LogicalType is the column's application-level type. It maps onto a
// SQLite storage affinity but carries more meaning than the affinity alone
// (e.g. guid and text are both TEXT on disk).
type LogicalType int

const (
	Text LogicalType = iota
	Integer
	Real
	Date
	GUID
	Blob
	Fileset
)

func (t LogicalType) String() string {
	switch t {
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Real:
		return "real"
	case Date:
		return "date"
	case GUID:
		return "guid"
	case Blob:
		return "blob"
	case Fileset:
		return "fileset"
	default:
		return "unknown"
	}
}

// Affinity returns the SQLite column type affinity used when generating
// DDL for this logical type.
func (t LogicalType) Affinity() string {
	switch t {
	case Integer:
		return "INTEGER"
	case Real:
		return "REAL"
	case Blob:
		return "BLOB"
	default:
		// text, date, guid, and fileset (an opaque identifier) are all
		// stored as TEXT.
		return "TEXT"
	}
}

// DefaultValue is either a literal value or a callback invoked per row at
// write time (e.g. a timestamp or random value). Exactly one of Literal or
// Callback should be set.
type DefaultValue struct {
	Literal  any
	Callback func() any
}

// Resolve returns the concrete value to write for a missing column.
func (d *DefaultValue) Resolve() any {
	if d == nil {
		return nil
	}
	if d.Callback != nil {
		return d.Callback()
	}
	return d.Literal
}

// Column describes one column of a user table.
type Column struct {
	Name    string
	Type    LogicalType
	NotNull bool
	Default *DefaultValue
	LWW     bool
}

// HLCColumn returns the name of this column's companion HLC column. Every
// LWW column c implicitly reserves c__hlc.
func (c Column) HLCColumn() string {
	return c.Name + "__hlc"
}

// KeyKind classifies a Key.
type KeyKind int

const (
	PrimaryKey KeyKind = iota
	UniqueKey
	IndexedKey
)

func (k KeyKind) String() string {
	switch k {
	case PrimaryKey:
		return "primary"
	case UniqueKey:
		return "unique"
	default:
		return "indexed"
	}
}

// Key describes a primary, unique, or plain indexed key over a column list.
type Key struct {
	Columns []string
	Kind    KeyKind
	// Name is the index name for indexed/unique keys generated as a
	// separate CREATE INDEX statement. Ignored for PrimaryKey (which is
	// always part of the CREATE TABLE).
	Name string
}

// SameShape reports whether two keys cover the same column set (order
// sensitive, since SQLite composite index order matters).
func (k Key) SameShape(other Key) bool {
	if len(k.Columns) != len(other.Columns) {
		return false
	}
	for i := range k.Columns {
		if k.Columns[i] != other.Columns[i] {
			return false
		}
	}
	return true
}

// System column names reserved on every user table that opts in.
const (
	SystemID        = "system_id"
	SystemCreatedAt = "system_created_at"
	SystemVersion   = "system_version"
)

// Table describes one user table.
type Table struct {
	Name    string
	Columns []Column
	Keys    []Key
	// SystemColumns, when true (the default for tables meant to
	// participate in sync), causes the engine to add system_id,
	// system_created_at, and system_version automatically.
	SystemColumns bool
}

// Column looks up a declared column by name (system columns and LWW
// companion columns are not included; AllColumnNames lists them).
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// AllColumnNames returns every column name, including system columns and
// LWW companion __hlc columns, in declaration order.
func (t Table) AllColumnNames() []string {
	var names []string
	if t.SystemColumns {
		names = append(names, SystemID, SystemCreatedAt, SystemVersion)
	}
	for _, c := range t.Columns {
		names = append(names, c.Name)
		if c.LWW {
			names = append(names, c.HLCColumn())
		}
	}
	return names
}

// PrimaryKeyColumns returns the effective primary key: system_id when
// SystemColumns is set, otherwise the declared primary key's columns.
func (t Table) PrimaryKeyColumns() []string {
	if t.SystemColumns {
		return []string{SystemID}
	}
	for _, k := range t.Keys {
		if k.Kind == PrimaryKey {
			return k.Columns
		}
	}
	return nil
}

// View is a read-only named query. Exactly one of Query or RawSQL should
// be set; Query is preferred since it feeds the dependency analyzer.
type View struct {
	Name   string
	Query  *query.Query // set if the view is defined via Query IR
	RawSQL string       // set if the view is defined via raw SQL
}

// Schema is an ordered set of tables and views.
type Schema struct {
	Tables []Table
	Views  []View
}

// Table looks up a declared table by name.
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// View looks up a declared view by name.
func (s Schema) View(name string) (View, bool) {
	for _, v := range s.Views {
		if v.Name == name {
			return v, true
		}
	}
	return View{}, false
}

// IsView reports whether name refers to a declared view rather than a
// table.
func (s Schema) IsView(name string) bool {
	_, ok := s.View(name)
	return ok
}

// Validate checks the static invariants the migrator relies on:
// - no NOT NULL column lacking both a default literal and default callback
// - no LWW column declared on a blob or fileset logical type
// - no two keys with incompatible shapes on the same column set
func (s Schema) Validate() error {
	for _, t := range s.Tables {
		seen := map[string]Key{}
		for _, c := range t.Columns {
			if c.NotNull && c.Default == nil {
				return fmt.Errorf("table %s: column %s is NOT NULL with no default", t.Name, c.Name)
			}
			if c.LWW && (c.Type == Blob || c.Type == Fileset) {
				return fmt.Errorf("table %s: column %s cannot be LWW with type %s", t.Name, c.Name, c.Type)
			}
		}
		for _, k := range t.Keys {
			shapeKey := fmt.Sprint(k.Columns)
			if prior, ok := seen[shapeKey]; ok && prior.Kind != k.Kind {
				return fmt.Errorf("table %s: incompatible key kinds declared on columns %v (%s vs %s)", t.Name, k.Columns, prior.Kind, k.Kind)
			}
			seen[shapeKey] = k
		}
	}
	return nil
}
