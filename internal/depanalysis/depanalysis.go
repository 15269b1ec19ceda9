// Package depanalysis turns a query IR into a QueryDependencies set by
// walking the IR against the declarative schema, recursing through views.
// It is the schema-aware approach adopted as authoritative, in preference
// to a SQL-regex fallback (see DESIGN.md for the reasoning).
package depanalysis

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/graknol/declarative-sqlite-go/internal/ddbschema"
	"github.com/graknol/declarative-sqlite-go/internal/query"
)

// ColumnRef identifies one (table, column) pair.
type ColumnRef struct {
	Table  string
	Column string
}

// Dependencies is the QueryDependencies set derived from a Query.
type Dependencies struct {
	Tables       map[string]struct{}
	Columns      map[ColumnRef]struct{}
	UsesWildcard bool
}

func newDependencies() *Dependencies {
	return &Dependencies{
		Tables:  map[string]struct{}{},
		Columns: map[ColumnRef]struct{}{},
	}
}

func (d *Dependencies) addTable(t string) {
	if t != "" {
		d.Tables[t] = struct{}{}
	}
}

func (d *Dependencies) addColumn(t, c string) {
	d.addTable(t)
	d.Columns[ColumnRef{Table: t, Column: c}] = struct{}{}
}

func (d *Dependencies) union(other *Dependencies) {
	if other == nil {
		return
	}
	for t := range other.Tables {
		d.Tables[t] = struct{}{}
	}
	for c := range other.Columns {
		d.Columns[c] = struct{}{}
	}
	d.UsesWildcard = d.UsesWildcard || other.UsesWildcard
}

// AffectedByTable reports whether a write to table T could affect a query
// with these dependencies. False positives are acceptable (cause an
// unnecessary refresh); false negatives are not.
func (d *Dependencies) AffectedByTable(table string) bool {
	_, ok := d.Tables[table]
	return ok
}

// AffectedByColumn reports whether a write to table.column could affect a
// query with these dependencies.
func (d *Dependencies) AffectedByColumn(table, column string) bool {
	if _, ok := d.Columns[ColumnRef{Table: table, Column: column}]; ok {
		return true
	}
	return d.UsesWildcard && d.AffectedByTable(table)
}

// Analyzer computes and memoizes QueryDependencies for a Schema. It holds
// a bounded LRU cache keyed by the query's canonical Key() so that a host
// process issuing many distinct ad-hoc queries over the engine's lifetime
// does not pin dependency sets in memory forever.
type Analyzer struct {
	schema *ddbschema.Schema
	cache  *lru.Cache[string, *Dependencies]
}

// NewAnalyzer builds an Analyzer over the given schema with a cache
// holding up to cacheSize distinct query shapes.
func NewAnalyzer(schema *ddbschema.Schema, cacheSize int) (*Analyzer, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, err := lru.New[string, *Dependencies](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("depanalysis: create cache: %w", err)
	}
	return &Analyzer{schema: schema, cache: c}, nil
}

// Analyze derives the QueryDependencies for q, consulting (and populating)
// the memoization cache.
func (a *Analyzer) Analyze(q *query.Query) (*Dependencies, error) {
	key := q.Key()
	if cached, ok := a.cache.Get(key); ok {
		return cached, nil
	}
	deps, err := a.analyze(q, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	a.cache.Add(key, deps)
	return deps, nil
}

// aliasResolver maps an alias (or bare table name) in scope to its
// underlying table name, for the base FROM table and every join.
type aliasResolver map[string]string

func (a *Analyzer) buildAliasResolver(q *query.Query) aliasResolver {
	resolver := aliasResolver{}
	base := q.From
	resolver[base.Alias] = base.Table
	resolver[base.Table] = base.Table
	resolver[""] = base.Table // unqualified columns resolve against FROM
	for _, j := range q.Joins {
		alias := j.Alias
		if alias == "" {
			alias = j.Table
		}
		resolver[alias] = j.Table
	}
	return resolver
}

func (r aliasResolver) resolve(name string) string {
	if t, ok := r[name]; ok {
		return t
	}
	return name
}

func (a *Analyzer) analyze(q *query.Query, visitingViews map[string]struct{}) (*Dependencies, error) {
	deps := newDependencies()
	resolver := a.buildAliasResolver(q)

	if err := a.addBaseOrView(deps, q.From.Table, visitingViews); err != nil {
		return nil, err
	}
	for _, j := range q.Joins {
		if err := a.addBaseOrView(deps, j.Table, visitingViews); err != nil {
			return nil, err
		}
		if err := a.walkPredicate(deps, j.On, resolver, visitingViews); err != nil {
			return nil, err
		}
	}

	for _, s := range q.Select {
		if err := a.walkExpr(deps, s.Expr, resolver, visitingViews); err != nil {
			return nil, err
		}
	}

	if q.Where != nil {
		if err := a.walkPredicate(deps, q.Where, resolver, visitingViews); err != nil {
			return nil, err
		}
	}

	for _, g := range q.GroupBy {
		if err := a.walkExpr(deps, g, resolver, visitingViews); err != nil {
			return nil, err
		}
	}
	for _, o := range q.OrderBy {
		if err := a.walkExpr(deps, o.Expr, resolver, visitingViews); err != nil {
			return nil, err
		}
	}

	return deps, nil
}

// addBaseOrView registers table as a dependency; if it in fact resolves to
// a declared view, recurses into the view's definition and unions in its
// dependencies, guarding against view-definition cycles.
func (a *Analyzer) addBaseOrView(deps *Dependencies, table string, visitingViews map[string]struct{}) error {
	view, isView := a.schema.View(table)
	if !isView {
		deps.addTable(table)
		return nil
	}
	if _, cycling := visitingViews[table]; cycling {
		return fmt.Errorf("depanalysis: cyclic view definition detected at %q", table)
	}
	visitingViews[table] = struct{}{}
	defer delete(visitingViews, table)

	if view.Query != nil {
		sub, err := a.analyze(view.Query, visitingViews)
		if err != nil {
			return err
		}
		deps.union(sub)
		return nil
	}
	if view.RawSQL != "" {
		// Raw-SQL views are a last resort: the analyzer has no IR to walk,
		// so it treats the view as depending on every declared table (and
		// every column of them). This can only produce false positives,
		// never a missed refresh for writes issued through the data engine.
		deps.addTable(table)
		for _, t := range a.schema.Tables {
			deps.addTable(t.Name)
		}
		deps.UsesWildcard = true
	}
	return nil
}

func (a *Analyzer) walkExpr(deps *Dependencies, e query.Expr, resolver aliasResolver, visitingViews map[string]struct{}) error {
	switch v := e.(type) {
	case query.Wildcard:
		deps.UsesWildcard = true
		if v.Table != "" {
			deps.addTable(resolver.resolve(v.Table))
		}
	case query.Column:
		if v.Table != "" {
			deps.addColumn(resolver.resolve(v.Table), v.Name)
		} else {
			// Unqualified column resolves against the FROM table.
			deps.addColumn(resolver.resolve(""), v.Name)
		}
	case query.Literal:
		// no dependency
	case query.Func:
		for _, arg := range v.Args {
			if err := a.walkExpr(deps, arg, resolver, visitingViews); err != nil {
				return err
			}
		}
	case query.Subquery:
		sub, err := a.analyze(v.Query, visitingViews)
		if err != nil {
			return err
		}
		deps.union(sub)
	default:
		return fmt.Errorf("depanalysis: unsupported expression %T", e)
	}
	return nil
}

func (a *Analyzer) walkPredicate(deps *Dependencies, p query.Predicate, resolver aliasResolver, visitingViews map[string]struct{}) error {
	switch v := p.(type) {
	case query.And:
		return a.walkPredicates(deps, v.Terms, resolver, visitingViews)
	case query.Or:
		return a.walkPredicates(deps, v.Terms, resolver, visitingViews)
	case query.Not:
		return a.walkPredicate(deps, v.Term, resolver, visitingViews)
	case query.Compare:
		if err := a.walkExpr(deps, v.Left, resolver, visitingViews); err != nil {
			return err
		}
		return a.walkExpr(deps, v.Right, resolver, visitingViews)
	case query.IsNull:
		return a.walkExpr(deps, v.Expr, resolver, visitingViews)
	case query.InSubquery:
		if err := a.walkExpr(deps, v.Expr, resolver, visitingViews); err != nil {
			return err
		}
		sub, err := a.analyze(v.Query, visitingViews)
		if err != nil {
			return err
		}
		deps.union(sub)
		return nil
	case query.Param:
		return nil
	case query.Raw:
		for _, t := range v.RefTables {
			deps.addTable(resolver.resolve(t))
		}
		for _, c := range v.RefColumns {
			deps.addColumn(resolver.resolve(c[0]), c[1])
		}
		deps.UsesWildcard = deps.UsesWildcard || v.UsesWildcard
		return nil
	default:
		return fmt.Errorf("depanalysis: unsupported predicate %T", p)
	}
}

func (a *Analyzer) walkPredicates(deps *Dependencies, ps []query.Predicate, resolver aliasResolver, visitingViews map[string]struct{}) error {
	for _, p := range ps {
		if err := a.walkPredicate(deps, p, resolver, visitingViews); err != nil {
			return err
		}
	}
	return nil
}
