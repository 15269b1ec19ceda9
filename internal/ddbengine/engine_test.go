package ddbengine

import (
	"strings"
	"testing"

	"github.com/graknol/declarative-sqlite-go/internal/ddbschema"
	"github.com/graknol/declarative-sqlite-go/internal/hlc"
)

func testSchema() *ddbschema.Schema {
	return &ddbschema.Schema{Tables: []ddbschema.Table{{
		Name:          "todos",
		SystemColumns: true,
		Columns: []ddbschema.Column{
			{Name: "title", Type: ddbschema.Text, NotNull: true, Default: &ddbschema.DefaultValue{Literal: ""}, LWW: true},
			{Name: "done", Type: ddbschema.Integer, NotNull: true, Default: &ddbschema.DefaultValue{Literal: int64(0)}, LWW: true},
		},
	}}}
}

func openEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := OpenMemory(testSchema(), Options{Name: "test"})
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestInsertFillsSystemColumnsAndDirtyRow(t *testing.T) {
	e := openEngine(t)

	rowID, err := e.Insert("todos", map[string]any{"title": "buy milk"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if rowID == "" {
		t.Fatal("expected a generated system_id")
	}

	rows, err := e.QueryTable("todos")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["title"] != "buy milk" {
		t.Errorf("unexpected title: %v", rows[0]["title"])
	}
	if rows[0]["system_id"] != rowID {
		t.Errorf("expected system_id %s, got %v", rowID, rows[0]["system_id"])
	}

	dirty, err := e.Dirty().Export()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 1 {
		t.Fatalf("expected 1 dirty row after insert, got %d", len(dirty))
	}
	if dirty[0].Data["title"] != "buy milk" {
		t.Errorf("expected dirty row payload to carry inserted title, got %+v", dirty[0].Data)
	}
}

func TestUpdateWritesChangedColumnsOnly(t *testing.T) {
	e := openEngine(t)
	rowID, err := e.Insert("todos", map[string]any{"title": "buy milk"})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Dirty().Ack("todos", rowID, mustLastHLC(t, e, rowID)); err != nil {
		t.Fatal(err)
	}

	n, err := e.Update("todos", map[string]any{"done": int64(1)}, "system_id = ?", rowID)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row affected, got %d", n)
	}

	rows, err := e.QueryTable("todos")
	if err != nil {
		t.Fatal(err)
	}
	if rows[0]["done"] != int64(1) {
		t.Errorf("expected done=1, got %v", rows[0]["done"])
	}
	if rows[0]["title"] != "buy milk" {
		t.Errorf("expected title unchanged, got %v", rows[0]["title"])
	}

	dirty, err := e.Dirty().Export()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 1 {
		t.Fatalf("expected 1 dirty row after update, got %d", len(dirty))
	}
	if _, hasTitle := dirty[0].Data["title"]; hasTitle {
		t.Error("expected update's dirty payload to carry only the changed column")
	}
	if dirty[0].Data["done"] != int64(1) {
		t.Errorf("expected dirty payload done=1, got %+v", dirty[0].Data)
	}
}

func TestApplyServerUpdateRejectsStaleHLC(t *testing.T) {
	e := openEngine(t)
	rowID, err := e.Insert("todos", map[string]any{"title": "original"})
	if err != nil {
		t.Fatal(err)
	}

	future := hlc.Now()
	if err := e.ApplyServerUpdate("todos", rowID, map[string]any{"title": "from server"}, future); err != nil {
		t.Fatalf("ApplyServerUpdate failed: %v", err)
	}

	if err := e.ApplyServerUpdate("todos", rowID, map[string]any{"title": "stale write"}, mustEarlierHLC()); err != nil {
		t.Fatalf("ApplyServerUpdate (stale) failed: %v", err)
	}

	rows, err := e.QueryTable("todos")
	if err != nil {
		t.Fatal(err)
	}
	if rows[0]["title"] != "from server" {
		t.Errorf("expected stale write to be rejected, title=%v", rows[0]["title"])
	}
}

// TestApplyServerUpdateTieBreakFavorsNewArrival exercises the LWW tie
// boundary: equal HLCs resolve in favor of the newly-arriving write.
func TestApplyServerUpdateTieBreakFavorsNewArrival(t *testing.T) {
	e := openEngine(t)
	rowID, err := e.Insert("todos", map[string]any{"title": "original"})
	if err != nil {
		t.Fatal(err)
	}

	tied := hlc.Now()
	if err := e.ApplyServerUpdate("todos", rowID, map[string]any{"title": "first"}, tied); err != nil {
		t.Fatalf("ApplyServerUpdate (first) failed: %v", err)
	}
	if err := e.ApplyServerUpdate("todos", rowID, map[string]any{"title": "second, same hlc"}, tied); err != nil {
		t.Fatalf("ApplyServerUpdate (tied) failed: %v", err)
	}

	rows, err := e.QueryTable("todos")
	if err != nil {
		t.Fatal(err)
	}
	if rows[0]["title"] != "second, same hlc" {
		t.Errorf("expected the newly-arriving tied write to win, title=%v", rows[0]["title"])
	}
}

func TestApplyServerUpdateProducesNoDirtyRow(t *testing.T) {
	e := openEngine(t)
	rowID, err := e.Insert("todos", map[string]any{"title": "original"})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Dirty().Ack("todos", rowID, mustLastHLC(t, e, rowID)); err != nil {
		t.Fatal(err)
	}

	if err := e.ApplyServerUpdate("todos", rowID, map[string]any{"title": "from server"}, hlc.Now()); err != nil {
		t.Fatal(err)
	}

	dirty, err := e.Dirty().Export()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 0 {
		t.Errorf("expected applyServerUpdate to produce no dirty row, got %d", len(dirty))
	}
}

func TestDeleteAppendsNilDataDirtyRow(t *testing.T) {
	e := openEngine(t)
	rowID, err := e.Insert("todos", map[string]any{"title": "to delete"})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Dirty().Ack("todos", rowID, mustLastHLC(t, e, rowID)); err != nil {
		t.Fatal(err)
	}

	n, err := e.Delete("todos", "system_id = ?", rowID)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row deleted, got %d", n)
	}

	dirty, err := e.Dirty().Export()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 1 {
		t.Fatalf("expected 1 dirty row after delete, got %d", len(dirty))
	}
	if dirty[0].Data != nil {
		t.Errorf("expected delete dirty row to carry nil data, got %+v", dirty[0].Data)
	}
}

func TestBulkLoadSkipsDirtyRowLog(t *testing.T) {
	e := openEngine(t)

	if err := e.BulkLoad("todos", []map[string]any{
		{"title": "a"}, {"title": "b"},
	}); err != nil {
		t.Fatalf("BulkLoad failed: %v", err)
	}

	rows, err := e.QueryTable("todos")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	dirty, err := e.Dirty().Export()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 0 {
		t.Errorf("expected BulkLoad to skip the dirty-row log, got %d entries", len(dirty))
	}
}

func TestReferencedFilesetIDsScansFilesetColumns(t *testing.T) {
	schema := &ddbschema.Schema{Tables: []ddbschema.Table{{
		Name:          "attachments",
		SystemColumns: true,
		Columns: []ddbschema.Column{
			{Name: "label", Type: ddbschema.Text, NotNull: true, Default: &ddbschema.DefaultValue{Literal: ""}},
			{Name: "files", Type: ddbschema.Fileset},
		},
	}}}
	e, err := OpenMemory(schema, Options{Name: "test"})
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	if _, err := e.Insert("attachments", map[string]any{"label": "with files", "files": "fs-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Insert("attachments", map[string]any{"label": "no files yet", "files": nil}); err != nil {
		t.Fatal(err)
	}

	live, err := e.ReferencedFilesetIDs()
	if err != nil {
		t.Fatalf("ReferencedFilesetIDs failed: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("expected 1 referenced fileset id, got %d (%v)", len(live), live)
	}
	if _, ok := live["fs-1"]; !ok {
		t.Errorf("expected fs-1 to be referenced, got %v", live)
	}
}

func mustLastHLC(t *testing.T, e *Engine, rowID string) hlc.Timestamp {
	t.Helper()
	dirty, err := e.Dirty().Export()
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range dirty {
		if d.RowID == rowID {
			return d.HLC
		}
	}
	t.Fatalf("no dirty row found for %s", rowID)
	return hlc.Timestamp{}
}

// mustEarlierHLC returns the HLC zero value, which parses successfully and
// sorts before any timestamp hlc.Now() can produce in this process's
// lifetime — a convenient stand-in for "a definitely earlier HLC" without
// reaching into the hlc package's unexported Clock internals.
func mustEarlierHLC() hlc.Timestamp {
	ts, _ := hlc.Parse(strings.Repeat("0", 30))
	return ts
}
