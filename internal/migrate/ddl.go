package migrate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/graknol/declarative-sqlite-go/internal/ddbschema"
)

const dirtyRowsTable = "__dirty_rows"

// filesetMetaTablePrefix names the per-engine fileset metadata tables
// (one per engine instance).
const filesetMetaTablePrefix = "__fileset_files_"

func isFilesetMetaTable(name string) bool {
	return strings.HasPrefix(name, filesetMetaTablePrefix)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// createTableDDL renders a CREATE TABLE statement for t's full target
// shape (system columns, LWW companions, primary/unique keys inline).
func createTableDDL(t ddbschema.Table) string {
	var cols []string
	for _, ec := range expectedColumnsFor(t) {
		cols = append(cols, columnDDL(ec))
	}

	var pk []string
	if t.SystemColumns {
		pk = []string{ddbschema.SystemID}
	}
	var tableConstraints []string
	for _, k := range t.Keys {
		switch k.Kind {
		case ddbschema.PrimaryKey:
			if len(pk) == 0 {
				pk = k.Columns
			}
		case ddbschema.UniqueKey:
			tableConstraints = append(tableConstraints,
				fmt.Sprintf("UNIQUE (%s)", quotedList(k.Columns)))
		}
	}
	if len(pk) > 0 {
		tableConstraints = append([]string{fmt.Sprintf("PRIMARY KEY (%s)", quotedList(pk))}, tableConstraints...)
	}

	all := append(cols, tableConstraints...)
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quoteIdent(t.Name), strings.Join(all, ",\n  "))
}

func quotedList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quoteIdent(c)
	}
	return strings.Join(out, ", ")
}

func columnDDL(ec expectedColumn) string {
	parts := []string{quoteIdent(ec.name), ec.affinity}
	if ec.notNull {
		parts = append(parts, "NOT NULL")
	}
	if ec.def != nil && ec.def.Literal != nil {
		parts = append(parts, "DEFAULT "+sqlLiteral(ec.def.Literal))
	}
	return strings.Join(parts, " ")
}

func sqlLiteral(v any) string {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("'%v'", x)
	}
}

func createIndexDDL(table string, k ddbschema.Key) string {
	verb := "CREATE INDEX"
	if k.Kind == ddbschema.UniqueKey {
		verb = "CREATE UNIQUE INDEX"
	}
	return fmt.Sprintf("%s %s ON %s (%s)", verb, quoteIdent(k.Name), quoteIdent(table), quotedList(k.Columns))
}

func dropIndexDDL(k ddbschema.Key) string {
	return fmt.Sprintf("DROP INDEX %s", quoteIdent(k.Name))
}

func dropTableDDL(table string) string {
	return fmt.Sprintf("DROP TABLE %s", quoteIdent(table))
}

func createViewDDL(v ddbschema.View) (string, error) {
	if v.RawSQL != "" {
		return fmt.Sprintf("CREATE VIEW %s AS %s", quoteIdent(v.Name), v.RawSQL), nil
	}
	if v.Query != nil {
		sqlText, args, err := v.Query.Render(nil)
		if err != nil {
			return "", fmt.Errorf("migrate: render view %s: %w", v.Name, err)
		}
		if len(args) > 0 {
			return "", fmt.Errorf("migrate: view %s must not reference bound parameters", v.Name)
		}
		return fmt.Sprintf("CREATE VIEW %s AS %s", quoteIdent(v.Name), sqlText), nil
	}
	return "", fmt.Errorf("migrate: view %s has neither Query nor RawSQL", v.Name)
}

func dropViewDDL(name string) string {
	return fmt.Sprintf("DROP VIEW %s", quoteIdent(name))
}

// dirtyRowsTableDDL creates the engine's hidden dirty-row log.
func dirtyRowsTableDDL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  table_name TEXT NOT NULL,
  row_id TEXT NOT NULL,
  hlc TEXT NOT NULL,
  is_full_row INTEGER NOT NULL,
  data TEXT,
  PRIMARY KEY (table_name, row_id)
)`, quoteIdent(dirtyRowsTable))
}

// filesetMetaTableName returns the per-engine fileset metadata table name.
func filesetMetaTableName(engineName string) string {
	return filesetMetaTablePrefix + engineName
}

// FilesetMetaTableName exposes the per-engine fileset metadata table name
// so the fileset package's LocalRepository can read and write the same
// table migrate.Run creates.
func FilesetMetaTableName(engineName string) string {
	return filesetMetaTableName(engineName)
}

func filesetMetaTableDDL(engineName string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  file_id TEXT PRIMARY KEY,
  fileset_id TEXT NOT NULL,
  name TEXT NOT NULL,
  size INTEGER NOT NULL,
  mime TEXT,
  created_at TEXT NOT NULL
)`, quoteIdent(filesetMetaTableName(engineName)))
}

// recreateSequence renders the rename/create/copy/drop sequence for
// recreating table t. copyColumnExpr maps each target column to the SQL
// expression used to populate it from the renamed original: a column the
// source has is copied, IFNULL-wrapped when it is NOT NULL with a default
// literal; a column the source lacks gets its default literal, or NULL.
func recreateSequence(t ddbschema.Table, liveColumnNames map[string]bool) []string {
	oldName := "old_" + t.Name
	var stmts []string
	stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(t.Name), quoteIdent(oldName)))
	stmts = append(stmts, createTableDDL(t))

	expected := expectedColumnsFor(t)
	destCols := make([]string, 0, len(expected))
	srcExprs := make([]string, 0, len(expected))
	for _, ec := range expected {
		destCols = append(destCols, quoteIdent(ec.name))
		if liveColumnNames[ec.name] {
			srcExprs = append(srcExprs, copySourceExpr(ec, oldName))
		} else if ec.def != nil && ec.def.Literal != nil {
			srcExprs = append(srcExprs, sqlLiteral(ec.def.Literal))
		} else {
			srcExprs = append(srcExprs, "NULL")
		}
	}
	insertSelect := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		quoteIdent(t.Name), strings.Join(destCols, ", "), strings.Join(srcExprs, ", "), quoteIdent(oldName))
	stmts = append(stmts, insertSelect)
	stmts = append(stmts, dropTableDDL(oldName))
	return stmts
}

func copySourceExpr(ec expectedColumn, oldName string) string {
	col := quoteIdent(oldName) + "." + quoteIdent(ec.name)
	if ec.notNull && ec.def != nil && ec.def.Literal != nil {
		return fmt.Sprintf("IFNULL(%s, %s)", col, sqlLiteral(ec.def.Literal))
	}
	return col
}
