package dirtyrow

import (
	"testing"

	"github.com/graknol/declarative-sqlite-go/internal/hlc"
	"github.com/graknol/declarative-sqlite-go/internal/sqlconn"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	conn, err := sqlconn.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.Execute(`CREATE TABLE "__dirty_rows" (
		table_name TEXT NOT NULL, row_id TEXT NOT NULL, hlc TEXT NOT NULL,
		is_full_row INTEGER NOT NULL, data TEXT, PRIMARY KEY (table_name, row_id))`); err != nil {
		t.Fatal(err)
	}
	return New(conn)
}

func TestUpsertAndExport(t *testing.T) {
	s := newStore(t)
	ts := hlc.Now()

	if err := s.Upsert("users", "row-1", ts, true, map[string]any{"name": "alice"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	rows, err := s.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 dirty row, got %d", len(rows))
	}
	if rows[0].Data["name"] != "alice" {
		t.Errorf("unexpected payload: %+v", rows[0].Data)
	}
}

func TestUpsertReplacesPriorEntry(t *testing.T) {
	s := newStore(t)
	ts1 := hlc.Now()
	ts2 := hlc.Now()

	if err := s.Upsert("users", "row-1", ts1, false, map[string]any{"age": 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert("users", "row-1", ts2, false, map[string]any{"age": 2}); err != nil {
		t.Fatal(err)
	}

	rows, err := s.Export()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 entry (dedup by table/row_id), got %d", len(rows))
	}
	if rows[0].HLC.Compare(ts2) != 0 {
		t.Error("expected the entry's HLC to carry the latest mutation's HLC")
	}
}

func TestAckIsIdempotentAndHLCGuarded(t *testing.T) {
	s := newStore(t)
	ts := hlc.Now()
	if err := s.Upsert("users", "row-1", ts, true, nil); err != nil {
		t.Fatal(err)
	}

	stale := hlc.Now()
	if err := s.Ack("users", "row-1", stale); err != nil {
		t.Fatal(err)
	}
	rows, _ := s.Export()
	if len(rows) != 1 {
		t.Fatal("expected ack with mismatched HLC to be a no-op")
	}

	if err := s.Ack("users", "row-1", ts); err != nil {
		t.Fatal(err)
	}
	rows, _ = s.Export()
	if len(rows) != 0 {
		t.Error("expected ack with matching HLC to remove the entry")
	}

	// Ack is idempotent: acking again is not an error.
	if err := s.Ack("users", "row-1", ts); err != nil {
		t.Errorf("expected repeat ack to be a no-op, got %v", err)
	}
}

func TestExportOrdersByHLCAscending(t *testing.T) {
	s := newStore(t)
	ts1 := hlc.Now()
	ts2 := hlc.Now()
	ts3 := hlc.Now()

	_ = s.Upsert("users", "c", ts3, true, nil)
	_ = s.Upsert("users", "a", ts1, true, nil)
	_ = s.Upsert("users", "b", ts2, true, nil)

	rows, err := s.Export()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i-1].HLC.Compare(rows[i].HLC) > 0 {
			t.Errorf("expected ascending HLC order, got %s before %s", rows[i-1].HLC, rows[i].HLC)
		}
	}
}
