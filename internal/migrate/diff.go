package migrate

import (
	"github.com/graknol/declarative-sqlite-go/internal/ddbschema"
	"github.com/graknol/declarative-sqlite-go/internal/sqlconn"
)

// liveColumn captures what the Diff needs to know about an introspected
// column.
type liveColumn struct {
	name     string
	affinity string
	notNull  bool
}

// expectedColumn captures the declarative shape of a column, after
// expanding system columns and LWW companion __hlc columns.
type expectedColumn struct {
	name     string
	affinity string
	notNull  bool
	def      *ddbschema.DefaultValue
}

func expectedColumnsFor(t ddbschema.Table) []expectedColumn {
	var out []expectedColumn
	if t.SystemColumns {
		out = append(out,
			expectedColumn{name: ddbschema.SystemID, affinity: "TEXT", notNull: true},
			expectedColumn{name: ddbschema.SystemCreatedAt, affinity: "TEXT", notNull: true},
			expectedColumn{name: ddbschema.SystemVersion, affinity: "TEXT", notNull: true},
		)
	}
	for _, c := range t.Columns {
		out = append(out, expectedColumn{
			name: c.Name, affinity: c.Type.Affinity(), notNull: c.NotNull, def: c.Default,
		})
		if c.LWW {
			out = append(out, expectedColumn{name: c.HLCColumn(), affinity: "TEXT"})
		}
	}
	return out
}

// Diff introspects conn and produces a Plan reconciling it with schema.
// The declarative schema must already have passed schema.Validate().
func Diff(conn *sqlconn.Conn, schema *ddbschema.Schema) (*Plan, error) {
	liveTableNames, err := conn.TableNames()
	if err != nil {
		return nil, err
	}
	liveTables := map[string]bool{}
	for _, n := range liveTableNames {
		if n == dirtyRowsTable || isFilesetMetaTable(n) {
			continue
		}
		liveTables[n] = true
	}

	liveViews, err := conn.ViewDefs()
	if err != nil {
		return nil, err
	}

	plan := &Plan{}

	for _, t := range schema.Tables {
		if !liveTables[t.Name] {
			plan.Steps = append(plan.Steps, Step{Kind: CreateTable, Table: t.Name})
			// CREATE TABLE carries primary/unique keys inline; plain indexed
			// keys need their own CREATE INDEX.
			for _, k := range t.Keys {
				if k.Kind != ddbschema.IndexedKey {
					continue
				}
				if k.Name == "" {
					k.Name = "idx_" + t.Name + "_" + joinCols(k.Columns)
				}
				plan.Steps = append(plan.Steps, Step{Kind: CreateIndex, Table: t.Name, Key: k})
			}
			continue
		}
		delete(liveTables, t.Name)

		tableSteps, err := diffExistingTable(conn, t)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, tableSteps...)
	}

	// Remaining liveTables are not declared: drop them.
	for name := range liveTables {
		plan.Steps = append(plan.Steps, Step{Kind: DropTable, Table: name})
	}

	for _, v := range schema.Views {
		_, exists := liveViews[v.Name]
		if !exists {
			plan.Steps = append(plan.Steps, Step{Kind: CreateView, View: v})
			continue
		}
		delete(liveViews, v.Name)
		// A declared view always wins over a live one with the same name;
		// views are cheap to drop+recreate so no attempt is made to diff
		// their SQL text.
		plan.Steps = append(plan.Steps, Step{Kind: AlterView, View: v})
	}
	for name := range liveViews {
		plan.Steps = append(plan.Steps, Step{Kind: DropView, View: ddbschema.View{Name: name}})
	}

	return plan, nil
}

func diffExistingTable(conn *sqlconn.Conn, t ddbschema.Table) ([]Step, error) {
	liveCols, err := conn.TableColumns(t.Name)
	if err != nil {
		return nil, err
	}
	liveByName := map[string]liveColumn{}
	for _, c := range liveCols {
		liveByName[c.Name] = liveColumn{name: c.Name, affinity: c.Affinity, notNull: c.NotNull}
	}

	expected := expectedColumnsFor(t)
	expectedByName := map[string]expectedColumn{}
	for _, e := range expected {
		expectedByName[e.name] = e
	}

	needsRecreate := false
	var steps []Step

	for _, e := range expected {
		live, ok := liveByName[e.name]
		if !ok {
			// New column: addable in place iff nullable or defaulted,
			// which schema.Validate() already guarantees for NOT NULL
			// columns.
			steps = append(steps, Step{Kind: AddColumn, Table: t.Name, Affinity: e.affinity, Column: ddbschema.Column{
				Name: e.name, NotNull: e.notNull, Default: e.def,
			}})
			continue
		}
		if live.notNull != e.notNull || !affinityCompatible(live.affinity, e.affinity) {
			needsRecreate = true
		}
	}
	for name := range liveByName {
		if _, ok := expectedByName[name]; !ok {
			needsRecreate = true // DropColumn forces recreation
		}
	}

	keySteps, keyRecreate, err := diffKeys(conn, t)
	if err != nil {
		return nil, err
	}
	needsRecreate = needsRecreate || keyRecreate
	steps = append(steps, keySteps...)

	if needsRecreate {
		// A single RecreateTable step supersedes any AddColumn/index steps
		// already queued for this table — the recreation copies the full
		// target schema in one shot.
		return []Step{{Kind: RecreateTable, Table: t.Name}}, nil
	}
	return steps, nil
}

// affinityCompatible treats TEXT-family logical types (text/date/guid/
// fileset) as interchangeable since they share SQLite's TEXT affinity;
// only a genuine affinity class change (e.g. TEXT -> INTEGER) is
// considered a schema change.
func affinityCompatible(live, expected string) bool {
	return normalizeAffinity(live) == normalizeAffinity(expected)
}

func normalizeAffinity(a string) string {
	switch a {
	case "INTEGER", "INT":
		return "INTEGER"
	case "REAL", "FLOAT", "DOUBLE":
		return "REAL"
	case "BLOB":
		return "BLOB"
	default:
		return "TEXT"
	}
}

func diffKeys(conn *sqlconn.Conn, t ddbschema.Table) (steps []Step, needsRecreate bool, err error) {
	liveIdx, err := conn.TableIndices(t.Name)
	if err != nil {
		return nil, false, err
	}

	// Plain indexed keys only. Primary/unique keys are written inline by
	// CREATE TABLE and are not compared with the live table here, so a
	// change to a primary or unique key is not detected and never forces a
	// recreation.
	declaredIndexed := map[string]ddbschema.Key{}
	for _, k := range t.Keys {
		switch k.Kind {
		case ddbschema.PrimaryKey, ddbschema.UniqueKey:
			// not diffed; see above
		case ddbschema.IndexedKey:
			name := k.Name
			if name == "" {
				name = "idx_" + t.Name + "_" + joinCols(k.Columns)
			}
			declaredIndexed[name] = k
		}
	}

	liveIndexed := map[string]bool{}
	for _, idx := range liveIdx {
		if idx.Origin != "c" {
			// "u" (UNIQUE constraint) and "pk" indices are part of the
			// table definition itself; only "c" (explicit CREATE INDEX)
			// entries are plain indexed keys we manage independently.
			continue
		}
		liveIndexed[idx.Name] = true
		if _, declared := declaredIndexed[idx.Name]; !declared {
			steps = append(steps, Step{Kind: DropIndex, Table: t.Name, Key: ddbschema.Key{Name: idx.Name}})
		}
	}
	for name, k := range declaredIndexed {
		if !liveIndexed[name] {
			kk := k
			kk.Name = name
			steps = append(steps, Step{Kind: CreateIndex, Table: t.Name, Key: kk})
		}
	}

	return steps, false, nil
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += "_"
		}
		out += c
	}
	return out
}
