// Package dirtyrow implements the persistent per-row log of pending
// outbound mutations the sync layer drains via the dirty-row export
// contract.
package dirtyrow

import (
	"encoding/json"
	"fmt"

	"github.com/graknol/declarative-sqlite-go/internal/hlc"
	"github.com/graknol/declarative-sqlite-go/internal/sqlconn"
)

const tableName = "__dirty_rows"

// DirtyRow is one pending mutation awaiting export.
type DirtyRow struct {
	Table      string
	RowID      string
	HLC        hlc.Timestamp
	IsFullRow  bool
	Data       map[string]any // nil for deletes
}

// Store persists DirtyRows keyed by (table, row_id); a later mutation on
// the same row replaces the prior entry, carrying the latest HLC — this is
// a deliberate dedupe (see design note "Dirty-row dedupe").
type Store struct {
	conn *sqlconn.Conn
}

// New wraps conn's __dirty_rows table.
func New(conn *sqlconn.Conn) *Store {
	return &Store{conn: conn}
}

// Upsert records a mutation, replacing any prior entry for the same
// (table, row_id).
func (s *Store) Upsert(table, rowID string, ts hlc.Timestamp, isFullRow bool, data map[string]any) error {
	var dataJSON []byte
	var err error
	if data != nil {
		dataJSON, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("dirtyrow: marshal payload for %s/%s: %w", table, rowID, err)
		}
	}

	var dataArg any
	if dataJSON != nil {
		dataArg = string(dataJSON)
	}

	_, err = s.conn.RawInsert(fmt.Sprintf(`
		INSERT INTO %s (table_name, row_id, hlc, is_full_row, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(table_name, row_id) DO UPDATE SET
			hlc = excluded.hlc,
			is_full_row = excluded.is_full_row,
			data = excluded.data
	`, quoteIdent(tableName)), table, rowID, ts.String(), boolToInt(isFullRow), dataArg)
	if err != nil {
		return fmt.Errorf("dirtyrow: upsert %s/%s: %w", table, rowID, err)
	}
	return nil
}

// Export returns every pending DirtyRow ordered by HLC ascending, per the
// dirty-row export contract.
func (s *Store) Export() ([]DirtyRow, error) {
	rows, err := s.conn.RawQuery(fmt.Sprintf(
		`SELECT table_name, row_id, hlc, is_full_row, data FROM %s ORDER BY hlc ASC`,
		quoteIdent(tableName)))
	if err != nil {
		return nil, fmt.Errorf("dirtyrow: export: %w", err)
	}

	out := make([]DirtyRow, 0, len(rows))
	for _, r := range rows {
		ts, err := hlc.Parse(r["hlc"].(string))
		if err != nil {
			return nil, fmt.Errorf("dirtyrow: export: %w", err)
		}
		dr := DirtyRow{
			Table:     r["table_name"].(string),
			RowID:     r["row_id"].(string),
			HLC:       ts,
			IsFullRow: toBool(r["is_full_row"]),
		}
		if dataStr, ok := r["data"].(string); ok && dataStr != "" {
			var payload map[string]any
			if err := json.Unmarshal([]byte(dataStr), &payload); err != nil {
				return nil, fmt.Errorf("dirtyrow: decode payload for %s/%s: %w", dr.Table, dr.RowID, err)
			}
			dr.Data = payload
		}
		out = append(out, dr)
	}
	return out, nil
}

// Ack removes the entry for (table, rowID) only if its stored HLC matches
// the supplied one — an idempotent acknowledgement; a later mutation that
// raced ahead of the sync layer's ack is never incorrectly dropped.
func (s *Store) Ack(table, rowID string, ts hlc.Timestamp) error {
	_, err := s.conn.RawDelete(fmt.Sprintf(
		`DELETE FROM %s WHERE table_name = ? AND row_id = ? AND hlc = ?`,
		quoteIdent(tableName)), table, rowID, ts.String())
	if err != nil {
		return fmt.Errorf("dirtyrow: ack %s/%s: %w", table, rowID, err)
	}
	return nil
}

// Exporter is the narrow interface the (out-of-scope) transport layer
// depends on to implement the dirty-row export contract.
type Exporter interface {
	Export() ([]DirtyRow, error)
	Ack(table, rowID string, ts hlc.Timestamp) error
}

var _ Exporter = (*Store)(nil)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toBool(v any) bool {
	switch x := v.(type) {
	case int64:
		return x != 0
	case int:
		return x != 0
	case bool:
		return x
	default:
		return false
	}
}

func quoteIdent(name string) string { return `"` + name + `"` }
