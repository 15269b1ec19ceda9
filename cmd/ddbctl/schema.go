package main

import (
	"github.com/graknol/declarative-sqlite-go/internal/ddbengine"
	"github.com/graknol/declarative-sqlite-go/internal/ddbschema"
)

// demoSchema is the inspector's own fixed schema. ddbctl has no SQL or
// schema-file parser (per the engine's explicit non-goal), so it can only
// browse a database it itself knows how to declare.
func demoSchema() *ddbschema.Schema {
	return &ddbschema.Schema{
		Tables: []ddbschema.Table{
			{
				Name:          "todos",
				SystemColumns: true,
				Columns: []ddbschema.Column{
					{Name: "title", Type: ddbschema.Text, NotNull: true, Default: &ddbschema.DefaultValue{Literal: ""}, LWW: true},
					{Name: "done", Type: ddbschema.Integer, NotNull: true, Default: &ddbschema.DefaultValue{Literal: int64(0)}, LWW: true},
				},
			},
			{
				Name:          "notes",
				SystemColumns: true,
				Columns: []ddbschema.Column{
					{Name: "body", Type: ddbschema.Text, NotNull: true, Default: &ddbschema.DefaultValue{Literal: ""}, LWW: true},
				},
			},
		},
	}
}

func seedDemoData(e *ddbengine.Engine) error {
	seeds := []struct {
		table  string
		values map[string]any
	}{
		{"todos", map[string]any{"title": "write the inspector", "done": int64(0)}},
		{"todos", map[string]any{"title": "wire the streaming demo", "done": int64(1)}},
		{"notes", map[string]any{"body": "seeded by ddbctl --seed"}},
	}
	for _, s := range seeds {
		if _, err := e.Insert(s.table, s.values); err != nil {
			return err
		}
	}
	return nil
}
