// Package migrate introspects the live database, diffs it against the
// declarative schema, and executes a recreation-aware migration plan.
package migrate

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/graknol/declarative-sqlite-go/internal/ddbschema"
)

// StepKind enumerates the kinds of change the differ can emit.
type StepKind int

const (
	CreateTable StepKind = iota
	DropTable
	AddColumn
	RecreateTable // covers DropColumn / AlterColumnConstraint (changed type affinity or NOT NULL)
	CreateIndex
	DropIndex
	CreateView
	DropView
	AlterView
)

func (k StepKind) String() string {
	switch k {
	case CreateTable:
		return "CreateTable"
	case DropTable:
		return "DropTable"
	case AddColumn:
		return "AddColumn"
	case RecreateTable:
		return "RecreateTable"
	case CreateIndex:
		return "CreateIndex"
	case DropIndex:
		return "DropIndex"
	case CreateView:
		return "CreateView"
	case DropView:
		return "DropView"
	case AlterView:
		return "AlterView"
	default:
		return "Unknown"
	}
}

// Step is one unit of the migration plan.
type Step struct {
	Kind     StepKind
	Table    string
	Column   ddbschema.Column // set for AddColumn
	Affinity string           // set for AddColumn: the new column's SQLite affinity
	Key      ddbschema.Key    // set for CreateIndex/DropIndex
	View     ddbschema.View   // set for CreateView/DropView/AlterView

	// RowsCopied is populated after Execute runs a RecreateTable step, for
	// reporting in migration plan summaries.
	RowsCopied int64
}

// Plan is an ordered list of migration steps.
type Plan struct {
	Steps []Step
}

// Summary renders a human-readable description of the plan, using
// humanize for row counts once Execute has populated RowsCopied.
func (p *Plan) Summary() string {
	if len(p.Steps) == 0 {
		return "no changes"
	}
	var b strings.Builder
	for _, s := range p.Steps {
		switch s.Kind {
		case RecreateTable:
			if s.RowsCopied > 0 {
				fmt.Fprintf(&b, "recreated table %s (%s rows copied)\n", s.Table, humanize.Comma(s.RowsCopied))
			} else {
				fmt.Fprintf(&b, "recreate table %s\n", s.Table)
			}
		case AddColumn:
			fmt.Fprintf(&b, "add column %s.%s\n", s.Table, s.Column.Name)
		case CreateTable:
			fmt.Fprintf(&b, "create table %s\n", s.Table)
		case DropTable:
			fmt.Fprintf(&b, "drop table %s\n", s.Table)
		case CreateIndex:
			fmt.Fprintf(&b, "create index on %s%v\n", s.Table, s.Key.Columns)
		case DropIndex:
			fmt.Fprintf(&b, "drop index %s on %s\n", s.Key.Name, s.Table)
		case CreateView:
			fmt.Fprintf(&b, "create view %s\n", s.View.Name)
		case DropView:
			fmt.Fprintf(&b, "drop view %s\n", s.View.Name)
		case AlterView:
			fmt.Fprintf(&b, "alter view %s\n", s.View.Name)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
