package depanalysis

import (
	"testing"

	"github.com/graknol/declarative-sqlite-go/internal/ddbschema"
	"github.com/graknol/declarative-sqlite-go/internal/query"
)

func baseSchema() *ddbschema.Schema {
	return &ddbschema.Schema{
		Tables: []ddbschema.Table{
			{Name: "users", SystemColumns: true, Columns: []ddbschema.Column{
				{Name: "name", Type: ddbschema.Text},
			}},
			{Name: "orders", SystemColumns: true, Columns: []ddbschema.Column{
				{Name: "user_id", Type: ddbschema.GUID},
				{Name: "status", Type: ddbschema.Text},
			}},
		},
	}
}

func TestAnalyzeQualifiedColumn(t *testing.T) {
	schema := baseSchema()
	az, err := NewAnalyzer(schema, 16)
	if err != nil {
		t.Fatal(err)
	}
	q := query.From("users", "u").SelectExpr(query.Column{Table: "u", Name: "name"}, "").Build()

	deps, err := az.Analyze(q)
	if err != nil {
		t.Fatal(err)
	}
	if !deps.AffectedByTable("users") {
		t.Error("expected users to be a dependency")
	}
	if !deps.AffectedByColumn("users", "name") {
		t.Error("expected users.name to be a dependency")
	}
	if deps.AffectedByTable("orders") {
		t.Error("did not expect orders to be a dependency")
	}
}

func TestAnalyzeWildcard(t *testing.T) {
	schema := baseSchema()
	az, _ := NewAnalyzer(schema, 16)
	q := query.From("users").SelectWildcard("").Build()

	deps, err := az.Analyze(q)
	if err != nil {
		t.Fatal(err)
	}
	if !deps.UsesWildcard {
		t.Error("expected UsesWildcard to be true")
	}
	if !deps.AffectedByColumn("users", "anything") {
		t.Error("expected wildcard dependency to cover any column of users")
	}
}

func TestAnalyzeJoinAndUnqualifiedColumn(t *testing.T) {
	schema := baseSchema()
	az, _ := NewAnalyzer(schema, 16)
	q := query.From("orders", "o").
		Join(query.InnerJoin, "users", "u", query.Compare{
			Left: query.Column{Table: "o", Name: "user_id"}, Op: query.Eq, Right: query.Column{Table: "u", Name: "system_id"},
		}).
		SelectExpr(query.Column{Name: "status"}, "").
		Build()

	deps, err := az.Analyze(q)
	if err != nil {
		t.Fatal(err)
	}
	if !deps.AffectedByTable("users") || !deps.AffectedByTable("orders") {
		t.Errorf("expected both joined tables as dependencies, got %v", deps.Tables)
	}
	if !deps.AffectedByColumn("orders", "status") {
		t.Error("expected unqualified column to resolve against FROM table")
	}
}

func TestAnalyzeRecursesThroughView(t *testing.T) {
	schema := baseSchema()
	viewQuery := query.From("orders").SelectExpr(query.Column{Name: "status"}, "").Build()
	schema.Views = append(schema.Views, ddbschema.View{Name: "order_statuses", Query: viewQuery})

	az, _ := NewAnalyzer(schema, 16)
	q := query.From("order_statuses").SelectWildcard("").Build()

	deps, err := az.Analyze(q)
	if err != nil {
		t.Fatal(err)
	}
	if !deps.AffectedByTable("orders") {
		t.Error("expected dependency analysis to recurse into the view and find orders")
	}
}

func TestAnalyzeDetectsViewCycle(t *testing.T) {
	schema := baseSchema()
	// view_a selects from view_b and vice versa.
	viewA := query.From("view_b").SelectWildcard("").Build()
	viewB := query.From("view_a").SelectWildcard("").Build()
	schema.Views = append(schema.Views,
		ddbschema.View{Name: "view_a", Query: viewA},
		ddbschema.View{Name: "view_b", Query: viewB},
	)

	az, _ := NewAnalyzer(schema, 16)
	q := query.From("view_a").SelectWildcard("").Build()
	if _, err := az.Analyze(q); err == nil {
		t.Error("expected cyclic view definition to be detected")
	}
}

func TestAnalyzeCachesByQueryKey(t *testing.T) {
	schema := baseSchema()
	az, _ := NewAnalyzer(schema, 16)
	q1 := query.From("users").SelectWildcard("").Build()
	q2 := query.From("users").SelectWildcard("").Build()

	d1, err := az.Analyze(q1)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := az.Analyze(q2)
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Error("expected structurally identical queries to share a cached Dependencies pointer")
	}
}
