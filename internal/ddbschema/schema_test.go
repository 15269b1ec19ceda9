package ddbschema

import "testing"

func usersTable() Table {
	return Table{
		Name:          "users",
		SystemColumns: true,
		Columns: []Column{
			{Name: "name", Type: Text, NotNull: true, Default: &DefaultValue{Literal: ""}},
			{Name: "age", Type: Integer, NotNull: true, Default: &DefaultValue{Literal: 0}},
			{Name: "email", Type: Text, LWW: true},
		},
	}
}

func TestAllColumnNamesIncludesSystemAndHLC(t *testing.T) {
	names := usersTable().AllColumnNames()
	want := []string{"system_id", "system_created_at", "system_version", "name", "age", "email", "email__hlc"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, names[i], want[i])
		}
	}
}

func TestValidateRejectsNotNullWithoutDefault(t *testing.T) {
	s := Schema{Tables: []Table{{
		Name:    "t",
		Columns: []Column{{Name: "a", Type: Text, NotNull: true}},
	}}}
	if err := s.Validate(); err == nil {
		t.Error("expected validation error for NOT NULL column without default")
	}
}

func TestValidateRejectsLWWOnBlob(t *testing.T) {
	s := Schema{Tables: []Table{{
		Name:    "t",
		Columns: []Column{{Name: "a", Type: Blob, LWW: true}},
	}}}
	if err := s.Validate(); err == nil {
		t.Error("expected validation error for LWW blob column")
	}
}

func TestValidateRejectsIncompatibleKeyShapes(t *testing.T) {
	s := Schema{Tables: []Table{{
		Name: "t",
		Keys: []Key{
			{Columns: []string{"a"}, Kind: PrimaryKey},
			{Columns: []string{"a"}, Kind: UniqueKey},
		},
	}}}
	if err := s.Validate(); err == nil {
		t.Error("expected validation error for incompatible key shapes on same column set")
	}
}

func TestValidateAcceptsWellFormedSchema(t *testing.T) {
	s := Schema{Tables: []Table{usersTable()}}
	if err := s.Validate(); err != nil {
		t.Errorf("expected valid schema, got %v", err)
	}
}

func TestPrimaryKeyColumnsSystem(t *testing.T) {
	got := usersTable().PrimaryKeyColumns()
	if len(got) != 1 || got[0] != SystemID {
		t.Errorf("got %v, want [system_id]", got)
	}
}
