package migrate

import (
	"testing"

	"github.com/graknol/declarative-sqlite-go/internal/ddbschema"
	"github.com/graknol/declarative-sqlite-go/internal/sqlconn"
)

func openConn(t *testing.T) *sqlconn.Conn {
	t.Helper()
	c, err := sqlconn.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRunCreatesTablesAndHiddenSchema(t *testing.T) {
	conn := openConn(t)
	schema := &ddbschema.Schema{Tables: []ddbschema.Table{{
		Name:          "t",
		SystemColumns: true,
		Columns: []ddbschema.Column{
			{Name: "a", Type: ddbschema.Text, NotNull: true, Default: &ddbschema.DefaultValue{Literal: ""}},
		},
	}}}

	if _, err := Run(conn, schema, "test"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	names, err := conn.TableNames()
	if err != nil {
		t.Fatal(err)
	}
	hasTable := map[string]bool{}
	for _, n := range names {
		hasTable[n] = true
	}
	for _, want := range []string{"t", dirtyRowsTable} {
		if !hasTable[want] {
			t.Errorf("expected table %s to exist, got %v", want, names)
		}
	}
}

func TestRunRejectsInvalidSchema(t *testing.T) {
	conn := openConn(t)
	schema := &ddbschema.Schema{Tables: []ddbschema.Table{{
		Name:    "t",
		Columns: []ddbschema.Column{{Name: "a", Type: ddbschema.Text, NotNull: true}},
	}}}

	_, err := Run(conn, schema, "test")
	if err == nil {
		t.Fatal("expected SchemaValidation error")
	}
}

func TestMigrationRecreatesOnNotNullAdd(t *testing.T) {
	conn := openConn(t)
	// Initial schema: t(a text)
	schema1 := &ddbschema.Schema{Tables: []ddbschema.Table{{
		Name:    "t",
		Columns: []ddbschema.Column{{Name: "a", Type: ddbschema.Text}},
	}}}
	if _, err := Run(conn, schema1, "test"); err != nil {
		t.Fatalf("initial Run failed: %v", err)
	}

	if _, err := conn.RawInsert(`INSERT INTO t (a) VALUES (?)`, "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.RawInsert(`INSERT INTO t (a) VALUES (NULL)`); err != nil {
		t.Fatal(err)
	}

	// Updated schema: a becomes NOT NULL with default 'x'
	schema2 := &ddbschema.Schema{Tables: []ddbschema.Table{{
		Name: "t",
		Columns: []ddbschema.Column{
			{Name: "a", Type: ddbschema.Text, NotNull: true, Default: &ddbschema.DefaultValue{Literal: "x"}},
		},
	}}}
	plan, err := Run(conn, schema2, "test")
	if err != nil {
		t.Fatalf("migration Run failed: %v", err)
	}

	foundRecreate := false
	for _, s := range plan.Steps {
		if s.Kind == RecreateTable {
			foundRecreate = true
			if s.RowsCopied != 2 {
				t.Errorf("expected 2 rows copied, got %d", s.RowsCopied)
			}
		}
	}
	if !foundRecreate {
		t.Fatal("expected a RecreateTable step for the NOT NULL column addition")
	}

	rows, err := conn.RawQuery(`SELECT a FROM t ORDER BY a`)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows preserved, got %d", len(rows))
	}
	values := map[string]bool{}
	for _, r := range rows {
		values[r["a"].(string)] = true
	}
	if !values["hello"] || !values["x"] {
		t.Errorf("expected values {hello, x}, got %v", values)
	}
}

func TestMigrationAddsNullableColumnInPlace(t *testing.T) {
	conn := openConn(t)
	schema1 := &ddbschema.Schema{Tables: []ddbschema.Table{{
		Name:    "t",
		Columns: []ddbschema.Column{{Name: "a", Type: ddbschema.Text}},
	}}}
	if _, err := Run(conn, schema1, "test"); err != nil {
		t.Fatal(err)
	}

	schema2 := &ddbschema.Schema{Tables: []ddbschema.Table{{
		Name: "t",
		Columns: []ddbschema.Column{
			{Name: "a", Type: ddbschema.Text},
			{Name: "b", Type: ddbschema.Integer},
		},
	}}}
	plan, err := Run(conn, schema2, "test")
	if err != nil {
		t.Fatalf("migration Run failed: %v", err)
	}

	for _, s := range plan.Steps {
		if s.Kind == RecreateTable {
			t.Fatal("expected in-place AddColumn, not a table recreation, for a nullable column")
		}
	}
}

func TestMigrationCreatesAndDropsIndexes(t *testing.T) {
	conn := openConn(t)
	schema1 := &ddbschema.Schema{Tables: []ddbschema.Table{{
		Name:    "t",
		Columns: []ddbschema.Column{{Name: "a", Type: ddbschema.Text}},
		Keys:    []ddbschema.Key{{Columns: []string{"a"}, Kind: ddbschema.IndexedKey, Name: "idx_t_a"}},
	}}}
	if _, err := Run(conn, schema1, "test"); err != nil {
		t.Fatal(err)
	}

	idxs, err := conn.TableIndices("t")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, idx := range idxs {
		if idx.Name == "idx_t_a" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected idx_t_a to be created")
	}

	schema2 := &ddbschema.Schema{Tables: []ddbschema.Table{{
		Name:    "t",
		Columns: []ddbschema.Column{{Name: "a", Type: ddbschema.Text}},
	}}}
	if _, err := Run(conn, schema2, "test"); err != nil {
		t.Fatal(err)
	}

	idxs, err = conn.TableIndices("t")
	if err != nil {
		t.Fatal(err)
	}
	for _, idx := range idxs {
		if idx.Name == "idx_t_a" {
			t.Fatal("expected idx_t_a to be dropped after key removed from schema")
		}
	}
}
