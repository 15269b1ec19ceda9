// Package query implements the engine's own value-typed, structurally
// comparable SELECT query IR. It is never parsed from SQL; callers build a
// Query programmatically, and the engine both renders it to SQL and feeds
// it to the dependency analyzer.
package query

import (
	"fmt"
	"strings"
)

// Expr is any expression usable in a projection, predicate, GROUP BY, or
// ORDER BY position. All concrete Expr types are value types so that two
// Querys built the same way compare equal.
type Expr interface {
	// key renders a canonical, order-preserving string form used both for
	// Query.Key() (cache/map keys) and for Equal comparisons.
	key() string
}

// Column references a (possibly qualified) column: t.c, or bare c.
type Column struct {
	Table string // empty if unqualified
	Name  string
}

func (c Column) key() string {
	if c.Table == "" {
		return "col:" + c.Name
	}
	return "col:" + c.Table + "." + c.Name
}

// Wildcard represents `*` or `t.*`.
type Wildcard struct {
	Table string // empty for a bare *
}

func (w Wildcard) key() string {
	if w.Table == "" {
		return "wild:*"
	}
	return "wild:" + w.Table + ".*"
}

// Literal is a constant value embedded in the query (e.g. for computed
// projections or comparisons); Render binds it positionally. Caller-supplied
// values go through Param and the args map passed to Render.
type Literal struct {
	Value any
}

func (l Literal) key() string { return fmt.Sprintf("lit:%v", l.Value) }

// Func is a scalar function call, e.g. COUNT(*), LOWER(t.name).
type Func struct {
	Name string
	Args []Expr
}

func (f Func) key() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = a.key()
	}
	return "func:" + f.Name + "(" + strings.Join(parts, ",") + ")"
}

// Subquery embeds a nested Query as an expression (scalar subquery in a
// projection, or the right-hand side of IN).
type Subquery struct {
	Query *Query
}

func (s Subquery) key() string { return "subq:(" + s.Query.Key() + ")" }

// Aliased pairs a projected expression with its optional output alias.
type Aliased struct {
	Expr  Expr
	Alias string
}

func (a Aliased) key() string {
	if a.Alias == "" {
		return a.Expr.key()
	}
	return a.Expr.key() + " AS " + a.Alias
}

// JoinKind enumerates supported join types.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
	CrossJoin
)

func (k JoinKind) String() string {
	switch k {
	case LeftJoin:
		return "LEFT JOIN"
	case CrossJoin:
		return "CROSS JOIN"
	default:
		return "JOIN"
	}
}

// Join describes one joined table.
type Join struct {
	Kind  JoinKind
	Table string
	Alias string
	On    Predicate
}

func (j Join) key() string {
	on := ""
	if j.On != nil {
		on = j.On.key()
	}
	return fmt.Sprintf("join:%s:%s:%s:on(%s)", j.Kind, j.Table, j.Alias, on)
}

// Dir is an ORDER BY direction.
type Dir int

const (
	Asc Dir = iota
	Desc
)

func (d Dir) String() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

// OrderTerm is one ORDER BY entry.
type OrderTerm struct {
	Expr Expr
	Dir  Dir
}

func (o OrderTerm) key() string { return o.Expr.key() + " " + o.Dir.String() }

// TableRef names the FROM target and its optional alias.
type TableRef struct {
	Table string
	Alias string
}

func (t TableRef) resolvedAlias() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Table
}

// Query is the engine's value-typed representation of a SELECT statement.
// Two Querys compare equal iff every component compares equal — see Equal.
type Query struct {
	From         TableRef
	Joins        []Join
	Select       []Aliased
	Where        Predicate
	GroupBy      []Expr
	OrderBy      []OrderTerm
	Limit        *int
	ForUpdateTbl string // set by ForUpdate(table); empty means no row locking requested
}

// FromTable returns the FROM table name.
func (q *Query) FromTable() string { return q.From.Table }

// ForUpdate marks the query as requiring row-level locking semantics on
// the named table once issued against a driver that supports it. The core
// engine treats this as a hint; SQLite itself has no row locks, so Render
// ignores it and it only takes part in Key and Equal.
func (q *Query) ForUpdate(table string) *Query {
	q.ForUpdateTbl = table
	return q
}

// Key renders a canonical string form of the query. Equal queries always
// render identical keys and vice versa; it is suitable as a map key for
// caches and as the basis of the streaming engine's hot-swap check.
func (q *Query) Key() string {
	if q == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s AS %s", q.From.Table, q.From.resolvedAlias())
	for _, j := range q.Joins {
		b.WriteByte('|')
		b.WriteString(j.key())
	}
	b.WriteString("|SELECT")
	for _, s := range q.Select {
		b.WriteByte(',')
		b.WriteString(s.key())
	}
	if q.Where != nil {
		b.WriteString("|WHERE ")
		b.WriteString(q.Where.key())
	}
	if len(q.GroupBy) > 0 {
		b.WriteString("|GROUP BY")
		for _, g := range q.GroupBy {
			b.WriteByte(',')
			b.WriteString(g.key())
		}
	}
	if len(q.OrderBy) > 0 {
		b.WriteString("|ORDER BY")
		for _, o := range q.OrderBy {
			b.WriteByte(',')
			b.WriteString(o.key())
		}
	}
	if q.Limit != nil {
		fmt.Fprintf(&b, "|LIMIT %d", *q.Limit)
	}
	if q.ForUpdateTbl != "" {
		fmt.Fprintf(&b, "|FOR UPDATE %s", q.ForUpdateTbl)
	}
	return b.String()
}

// Equal reports whether q and other are structurally identical. Query
// equality drives the streaming engine's hot-swap no-op check — a
// structurally equal replacement query is a no-op.
func (q *Query) Equal(other *Query) bool {
	if q == nil || other == nil {
		return q == other
	}
	return q.Key() == other.Key()
}

// Builder provides a fluent construction API over Query. It exists purely
// for ergonomics — every method returns the same *Builder, and Build
// returns the *Query, so that ddbengine and hand-written records can
// compose queries readably.
type Builder struct {
	q *Query
}

// From starts a new query against the given table, optionally aliased.
func From(table string, alias ...string) *Builder {
	a := ""
	if len(alias) > 0 {
		a = alias[0]
	}
	return &Builder{q: &Query{From: TableRef{Table: table, Alias: a}}}
}

func (b *Builder) Join(kind JoinKind, table, alias string, on Predicate) *Builder {
	b.q.Joins = append(b.q.Joins, Join{Kind: kind, Table: table, Alias: alias, On: on})
	return b
}

func (b *Builder) SelectExpr(e Expr, alias string) *Builder {
	b.q.Select = append(b.q.Select, Aliased{Expr: e, Alias: alias})
	return b
}

// SelectWildcard projects every column of the given table (or of the FROM
// table when table is empty).
func (b *Builder) SelectWildcard(table string) *Builder {
	return b.SelectExpr(Wildcard{Table: table}, "")
}

func (b *Builder) Where(p Predicate) *Builder {
	b.q.Where = p
	return b
}

func (b *Builder) GroupBy(exprs ...Expr) *Builder {
	b.q.GroupBy = append(b.q.GroupBy, exprs...)
	return b
}

func (b *Builder) OrderBy(e Expr, dir Dir) *Builder {
	b.q.OrderBy = append(b.q.OrderBy, OrderTerm{Expr: e, Dir: dir})
	return b
}

func (b *Builder) Limit(n int) *Builder {
	b.q.Limit = &n
	return b
}

func (b *Builder) ForUpdate(table string) *Builder {
	b.q.ForUpdate(table)
	return b
}

// Build returns the constructed Query.
func (b *Builder) Build() *Query { return b.q }
