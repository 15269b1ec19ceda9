package migrate

import (
	"database/sql"
	"fmt"

	"github.com/graknol/declarative-sqlite-go/internal/ddberr"
	"github.com/graknol/declarative-sqlite-go/internal/ddbschema"
	"github.com/graknol/declarative-sqlite-go/internal/sqlconn"
)

// Run validates schema, diffs it against the live database, executes the
// resulting plan, and ensures the engine's own hidden tables exist. It is
// the entry point called from ddbengine.Open.
func Run(conn *sqlconn.Conn, schema *ddbschema.Schema, engineName string) (*Plan, error) {
	if err := schema.Validate(); err != nil {
		return nil, ddberr.New(ddberr.SchemaValidation, "migrate.Run", err)
	}

	plan, err := Diff(conn, schema)
	if err != nil {
		return nil, ddberr.New(ddberr.MigrationFailure, "migrate.Run", err)
	}

	if err := Execute(conn, schema, plan); err != nil {
		return nil, err
	}

	if err := ensureHiddenSchema(conn, engineName); err != nil {
		return nil, ddberr.New(ddberr.MigrationFailure, "migrate.Run", err)
	}

	return plan, nil
}

func ensureHiddenSchema(conn *sqlconn.Conn, engineName string) error {
	if err := conn.Execute(dirtyRowsTableDDL()); err != nil {
		return fmt.Errorf("ensure %s: %w", dirtyRowsTable, err)
	}
	if err := conn.Execute(filesetMetaTableDDL(engineName)); err != nil {
		return fmt.Errorf("ensure fileset metadata table: %w", err)
	}
	return nil
}

// Execute runs every step of plan as a single grouped unit: if any step
// fails, the whole group is rolled back and the database is left in its
// pre-migration state.
func Execute(conn *sqlconn.Conn, schema *ddbschema.Schema, plan *Plan) error {
	err := conn.WithTx(func(tx *sql.Tx) error {
		for i := range plan.Steps {
			if err := executeStep(tx, conn, schema, &plan.Steps[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ddberr.New(ddberr.MigrationFailure, "migrate.Execute", err)
	}
	return nil
}

func executeStep(tx *sql.Tx, conn *sqlconn.Conn, schema *ddbschema.Schema, step *Step) error {
	switch step.Kind {
	case CreateTable:
		t, ok := schema.Table(step.Table)
		if !ok {
			return fmt.Errorf("migrate: CreateTable step references unknown table %s", step.Table)
		}
		if _, err := tx.Exec(createTableDDL(t)); err != nil {
			return fmt.Errorf("create table %s: %w", step.Table, err)
		}
		return nil

	case DropTable:
		if _, err := tx.Exec(dropTableDDL(step.Table)); err != nil {
			return fmt.Errorf("drop table %s: %w", step.Table, err)
		}
		return nil

	case AddColumn:
		affinity := step.Affinity
		if affinity == "" {
			affinity = "TEXT"
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(step.Table), columnDDL(expectedColumn{
			name: step.Column.Name, affinity: affinity, notNull: step.Column.NotNull, def: step.Column.Default,
		}))
		if _, err := tx.Exec(ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", step.Table, step.Column.Name, err)
		}
		return nil

	case RecreateTable:
		t, ok := schema.Table(step.Table)
		if !ok {
			return fmt.Errorf("migrate: RecreateTable step references unknown table %s", step.Table)
		}
		liveCols, err := conn.TableColumns(step.Table)
		if err != nil {
			return fmt.Errorf("introspect %s before recreation: %w", step.Table, err)
		}
		liveNames := map[string]bool{}
		for _, c := range liveCols {
			liveNames[c.Name] = true
		}
		for _, stmt := range recreateSequence(t, liveNames) {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("recreate table %s: %w", step.Table, err)
			}
		}
		var count int64
		if err := tx.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(step.Table))).Scan(&count); err == nil {
			step.RowsCopied = count
		}
		return nil

	case CreateIndex:
		if _, err := tx.Exec(createIndexDDL(step.Table, step.Key)); err != nil {
			return fmt.Errorf("create index on %s: %w", step.Table, err)
		}
		return nil

	case DropIndex:
		if _, err := tx.Exec(dropIndexDDL(step.Key)); err != nil {
			return fmt.Errorf("drop index %s: %w", step.Key.Name, err)
		}
		return nil

	case CreateView, AlterView:
		if step.Kind == AlterView {
			// drop + recreate, tolerating a missing prior view
			_, _ = tx.Exec(dropViewDDL(step.View.Name))
		}
		ddl, err := createViewDDL(step.View)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ddl); err != nil {
			return fmt.Errorf("create view %s: %w", step.View.Name, err)
		}
		return nil

	case DropView:
		if _, err := tx.Exec(dropViewDDL(step.View.Name)); err != nil {
			return fmt.Errorf("drop view %s: %w", step.View.Name, err)
		}
		return nil

	default:
		return fmt.Errorf("migrate: unknown step kind %v", step.Kind)
	}
}
