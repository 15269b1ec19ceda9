package query

import (
	"fmt"
	"strings"
)

// Render compiles the Query IR into a SQLite SQL string plus the ordered
// list of bound arguments for the driver's rawQuery. Named Param
// placeholders are resolved from args; Literal values embedded in the IR
// are bound positionally alongside them so that no value — literal or
// caller-supplied — is ever string-interpolated into the SQL text.
func (q *Query) Render(args map[string]any) (string, []any, error) {
	var b strings.Builder
	var bound []any

	b.WriteString("SELECT ")
	if len(q.Select) == 0 {
		b.WriteString("*")
	} else {
		for i, s := range q.Select {
			if i > 0 {
				b.WriteString(", ")
			}
			frag, vals, err := renderExpr(s.Expr, args)
			if err != nil {
				return "", nil, err
			}
			b.WriteString(frag)
			bound = append(bound, vals...)
			if s.Alias != "" {
				fmt.Fprintf(&b, " AS %s", quoteIdent(s.Alias))
			}
		}
	}

	fmt.Fprintf(&b, " FROM %s", quoteIdent(q.From.Table))
	if q.From.Alias != "" {
		fmt.Fprintf(&b, " AS %s", quoteIdent(q.From.Alias))
	}

	for _, j := range q.Joins {
		fmt.Fprintf(&b, " %s %s", j.Kind, quoteIdent(j.Table))
		if j.Alias != "" {
			fmt.Fprintf(&b, " AS %s", quoteIdent(j.Alias))
		}
		if j.On != nil {
			frag, vals, err := renderPredicate(j.On, args)
			if err != nil {
				return "", nil, err
			}
			fmt.Fprintf(&b, " ON %s", frag)
			bound = append(bound, vals...)
		}
	}

	if q.Where != nil {
		frag, vals, err := renderPredicate(q.Where, args)
		if err != nil {
			return "", nil, err
		}
		fmt.Fprintf(&b, " WHERE %s", frag)
		bound = append(bound, vals...)
	}

	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, g := range q.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			frag, vals, err := renderExpr(g, args)
			if err != nil {
				return "", nil, err
			}
			b.WriteString(frag)
			bound = append(bound, vals...)
		}
	}

	if len(q.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range q.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			frag, vals, err := renderExpr(o.Expr, args)
			if err != nil {
				return "", nil, err
			}
			fmt.Fprintf(&b, "%s %s", frag, o.Dir)
			bound = append(bound, vals...)
		}
	}

	if q.Limit != nil {
		fmt.Fprintf(&b, " LIMIT %d", *q.Limit)
	}

	return b.String(), bound, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func renderExpr(e Expr, args map[string]any) (string, []any, error) {
	switch v := e.(type) {
	case Column:
		if v.Table == "" {
			return quoteIdent(v.Name), nil, nil
		}
		return quoteIdent(v.Table) + "." + quoteIdent(v.Name), nil, nil
	case Wildcard:
		if v.Table == "" {
			return "*", nil, nil
		}
		return quoteIdent(v.Table) + ".*", nil, nil
	case Literal:
		return "?", []any{v.Value}, nil
	case Param:
		val, ok := args[v.Name]
		if !ok {
			return "", nil, fmt.Errorf("query: missing bound argument for param %q", v.Name)
		}
		return "?", []any{val}, nil
	case Func:
		parts := make([]string, len(v.Args))
		var bound []any
		for i, a := range v.Args {
			frag, vals, err := renderExpr(a, args)
			if err != nil {
				return "", nil, err
			}
			parts[i] = frag
			bound = append(bound, vals...)
		}
		return v.Name + "(" + strings.Join(parts, ", ") + ")", bound, nil
	case Subquery:
		sub, vals, err := v.Query.Render(args)
		if err != nil {
			return "", nil, err
		}
		return "(" + sub + ")", vals, nil
	default:
		return "", nil, fmt.Errorf("query: unsupported expression %T", e)
	}
}

func renderPredicate(p Predicate, args map[string]any) (string, []any, error) {
	switch v := p.(type) {
	case And:
		return renderBoolChain(v.Terms, "AND", args)
	case Or:
		return renderBoolChain(v.Terms, "OR", args)
	case Not:
		frag, vals, err := renderPredicate(v.Term, args)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + frag + ")", vals, nil
	case Compare:
		lf, lv, err := renderExpr(v.Left, args)
		if err != nil {
			return "", nil, err
		}
		rf, rv, err := renderExpr(v.Right, args)
		if err != nil {
			return "", nil, err
		}
		return lf + " " + v.Op.String() + " " + rf, append(lv, rv...), nil
	case IsNull:
		frag, vals, err := renderExpr(v.Expr, args)
		if err != nil {
			return "", nil, err
		}
		if v.Not {
			return frag + " IS NOT NULL", vals, nil
		}
		return frag + " IS NULL", vals, nil
	case InSubquery:
		lf, lv, err := renderExpr(v.Expr, args)
		if err != nil {
			return "", nil, err
		}
		sub, sv, err := v.Query.Render(args)
		if err != nil {
			return "", nil, err
		}
		verb := "IN"
		if v.Not {
			verb = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", lf, verb, sub), append(lv, sv...), nil
	case Raw:
		return v.SQL, nil, nil
	default:
		return "", nil, fmt.Errorf("query: unsupported predicate %T", p)
	}
}

func renderBoolChain(terms []Predicate, op string, args map[string]any) (string, []any, error) {
	parts := make([]string, len(terms))
	var bound []any
	for i, t := range terms {
		frag, vals, err := renderPredicate(t, args)
		if err != nil {
			return "", nil, err
		}
		parts[i] = frag
		bound = append(bound, vals...)
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")", bound, nil
}
