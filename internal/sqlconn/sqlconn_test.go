package sqlconn

import (
	"database/sql"
	"testing"
)

func openTestConn(t *testing.T) *Conn {
	t.Helper()
	c, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestExecuteAndRawQuery(t *testing.T) {
	c := openTestConn(t)

	if err := c.Execute(`CREATE TABLE t (id TEXT PRIMARY KEY, name TEXT NOT NULL)`); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	affected, err := c.RawInsert(`INSERT INTO t (id, name) VALUES (?, ?)`, "1", "alice")
	if err != nil {
		t.Fatalf("RawInsert failed: %v", err)
	}
	if affected != 1 {
		t.Errorf("expected 1 row affected, got %d", affected)
	}

	rows, err := c.RawQuery(`SELECT id, name FROM t`)
	if err != nil {
		t.Fatalf("RawQuery failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "alice" {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestTableColumnsAndIndices(t *testing.T) {
	c := openTestConn(t)
	if err := c.Execute(`CREATE TABLE t (id TEXT PRIMARY KEY, name TEXT NOT NULL, age INTEGER)`); err != nil {
		t.Fatal(err)
	}
	if err := c.Execute(`CREATE UNIQUE INDEX idx_name ON t(name)`); err != nil {
		t.Fatal(err)
	}

	cols, err := c.TableColumns("t")
	if err != nil {
		t.Fatalf("TableColumns failed: %v", err)
	}
	if len(cols) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(cols))
	}
	if !cols[1].NotNull {
		t.Error("expected name column to be NOT NULL")
	}

	idxs, err := c.TableIndices("t")
	if err != nil {
		t.Fatalf("TableIndices failed: %v", err)
	}
	found := false
	for _, idx := range idxs {
		if idx.Name == "idx_name" {
			found = true
			if !idx.Unique {
				t.Error("expected idx_name to be unique")
			}
			if len(idx.Columns) != 1 || idx.Columns[0] != "name" {
				t.Errorf("expected idx_name to cover [name], got %v", idx.Columns)
			}
		}
	}
	if !found {
		t.Error("expected to find idx_name among table indices")
	}
}

func TestTableNames(t *testing.T) {
	c := openTestConn(t)
	if err := c.Execute(`CREATE TABLE a (id TEXT)`); err != nil {
		t.Fatal(err)
	}
	if err := c.Execute(`CREATE TABLE b (id TEXT)`); err != nil {
		t.Fatal(err)
	}

	names, err := c.TableNames()
	if err != nil {
		t.Fatalf("TableNames failed: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 tables, got %v", names)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	c := openTestConn(t)
	if err := c.Execute(`CREATE TABLE t (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatal(err)
	}

	wantErr := errTest{}
	err := c.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (id) VALUES (?)`, "1"); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected WithTx to surface the callback error, got %v", err)
	}

	rows, err := c.RawQuery(`SELECT id FROM t`)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("expected rollback to discard the insert, got %d rows", len(rows))
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
