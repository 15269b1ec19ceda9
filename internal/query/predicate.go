package query

import "strings"

// Predicate is a node in the WHERE/ON predicate tree.
type Predicate interface {
	key() string
}

// And is a conjunction of predicates.
type And struct{ Terms []Predicate }

func (a And) key() string { return "(" + joinKeys(a.Terms, " AND ") + ")" }

// Or is a disjunction of predicates.
type Or struct{ Terms []Predicate }

func (o Or) key() string { return "(" + joinKeys(o.Terms, " OR ") + ")" }

func joinKeys(ps []Predicate, sep string) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.key()
	}
	return strings.Join(parts, sep)
}

// Not negates a predicate.
type Not struct{ Term Predicate }

func (n Not) key() string { return "NOT(" + n.Term.key() + ")" }

// CompareOp enumerates the comparison operators the IR can express.
type CompareOp int

const (
	Eq CompareOp = iota
	NotEq
	Lt
	LtEq
	Gt
	GtEq
	Like
)

func (c CompareOp) String() string {
	switch c {
	case NotEq:
		return "!="
	case Lt:
		return "<"
	case LtEq:
		return "<="
	case Gt:
		return ">"
	case GtEq:
		return ">="
	case Like:
		return "LIKE"
	default:
		return "="
	}
}

// Compare is a binary comparison between two expressions. A bound
// parameter is represented as a Param expression; literals embedded
// directly in the IR use Literal.
type Compare struct {
	Left  Expr
	Op    CompareOp
	Right Expr
}

func (c Compare) key() string {
	return c.Left.key() + " " + c.Op.String() + " " + c.Right.key()
}

// Param is a placeholder bound at execution time from the args map passed
// to Render, distinct
// from Literal (which is baked into the IR itself and participates in
// structural equality by value).
type Param struct {
	Name string // logical name for readability; not required to be unique
}

func (p Param) key() string { return "?" + p.Name }

// IsNull tests an expression for SQL NULL.
type IsNull struct {
	Expr Expr
	Not  bool
}

func (i IsNull) key() string {
	if i.Not {
		return i.Expr.key() + " IS NOT NULL"
	}
	return i.Expr.key() + " IS NULL"
}

// InSubquery tests membership of an expression in a subquery's result.
type InSubquery struct {
	Expr  Expr
	Query *Query
	Not   bool
}

func (i InSubquery) key() string {
	verb := "IN"
	if i.Not {
		verb = "NOT IN"
	}
	return i.Expr.key() + " " + verb + " (" + i.Query.Key() + ")"
}

// Raw embeds a fragment of SQL the IR does not model, tagged with the
// tables/columns it references so the dependency analyzer does not miss
// them; false negatives here are never acceptable.
type Raw struct {
	SQL          string
	RefTables    []string
	RefColumns   [][2]string // (table, column) pairs
	UsesWildcard bool
}

func (r Raw) key() string { return "raw:" + r.SQL }
