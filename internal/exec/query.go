package exec

import (
	"fmt"
	"strings"

	"github.com/example/basalt/internal/sql/expr"
	"github.com/example/basalt/internal/txn"
)

// Source names a table in a query, optionally under an alias. Self joins use
// the same table twice under different aliases.
type Source struct {
	Table string
	Alias string
}

// From names a table source.
func From(table string) Source { return Source{Table: table} }

// As returns the source under an alias.
func (s Source) As(alias string) Source {
	s.Alias = alias
	return s
}

func (s Source) qualifier() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Table
}

// JoinClause joins another source onto everything to its left.
type JoinClause struct {
	Kind   JoinKind
	Source Source
	On     expr.Expr
}

// Projection is one output column. Alias defaults to the column name for
// plain references and to the expression text otherwise.
type Projection struct {
	Expr  expr.Expr
	Alias string
}

// Query is an already-parsed SELECT. Where and join conditions resolve
// against the joined sources. When GroupBy or Aggregates are present, Having,
// OrderBy and Select resolve against the group columns followed by the
// aggregate outputs; otherwise against the joined sources. OrderBy may also
// name a Select alias.
type Query struct {
	From       Source
	Joins      []JoinClause
	Where      expr.Expr
	GroupBy    []expr.Expr
	Aggregates []AggregateSpec
	Having     expr.Expr
	OrderBy    []SortKey
	Limit      *Limit
	Select     []Projection
}

func (q *Query) grouped() bool {
	return len(q.GroupBy) > 0 || len(q.Aggregates) > 0
}

// Select evaluates q inside tx; a nil tx reads the last committed state.
// Every table is snapshotted when its scan is opened.
func (e *Executor) Select(tx *txn.Transaction, q *Query) (*Result, error) {
	it, scope, err := e.open(tx, q.From)
	if err != nil {
		return nil, err
	}
	for _, jc := range q.Joins {
		right, rightScope, err := e.open(tx, jc.Source)
		if err != nil {
			return nil, err
		}
		scope = scope.Merge(rightScope)
		on, err := expr.Bind(jc.On, scope)
		if err != nil {
			return nil, err
		}
		it = Join(jc.Kind, it, right, on)
	}
	where, err := expr.Bind(q.Where, scope)
	if err != nil {
		return nil, err
	}
	it = Filter(it, where)

	if q.grouped() {
		if it, scope, err = e.group(it, scope, q); err != nil {
			return nil, err
		}
	}
	rows, err := Collect(it)
	if err != nil {
		return nil, err
	}

	keys := make([]SortKey, len(q.OrderBy))
	for i, key := range q.OrderBy {
		target := key.Expr
		if ref, ok := key.Expr.(*expr.ColumnRef); ok {
			for _, p := range q.Select {
				if p.Alias != "" && strings.EqualFold(p.Alias, ref.Name) {
					target = p.Expr
				}
			}
		}
		bound, err := expr.Bind(target, scope)
		if err != nil {
			return nil, err
		}
		keys[i] = SortKey{Expr: bound, Desc: key.Desc}
	}
	if err := SortRows(rows, keys); err != nil {
		return nil, err
	}
	rows = ApplyLimit(rows, q.Limit)

	columns, out, err := project(rows, scope, q.Select)
	if err != nil {
		return nil, err
	}
	return &Result{Columns: columns, Rows: out, RowsAffected: len(out), Message: fmt.Sprintf("%d row(s)", len(out))}, nil
}

func (e *Executor) open(tx *txn.Transaction, src Source) (RowIterator, *expr.Scope, error) {
	table, err := e.catalog.Lookup(src.Table)
	if err != nil {
		return nil, nil, err
	}
	rows, err := e.scan(tx, table)
	if err != nil {
		return nil, nil, err
	}
	scope := expr.NewScope()
	scope.Add(src.qualifier(), table.Schema.Names())
	return newScanIterator(rows, len(table.Schema.Columns)), scope, nil
}

// group aggregates it and returns the grouped rows filtered by HAVING along
// with the scope describing them.
func (e *Executor) group(it RowIterator, scope *expr.Scope, q *Query) (RowIterator, *expr.Scope, error) {
	bindings := scope.Bindings()
	out := expr.NewScope()
	groupBy := make([]expr.Expr, len(q.GroupBy))
	for i, g := range q.GroupBy {
		bound, err := expr.Bind(g, scope)
		if err != nil {
			return nil, nil, err
		}
		groupBy[i] = bound
		if ref, ok := bound.(*expr.ColumnRef); ok {
			b := bindings[ref.Index]
			out.Add(b.Qualifier, []string{b.Name})
		} else {
			out.Add("", []string{bound.String()})
		}
	}
	specs := make([]AggregateSpec, len(q.Aggregates))
	for i, spec := range q.Aggregates {
		if spec.Func != AggCountStar {
			arg, err := expr.Bind(spec.Arg, scope)
			if err != nil {
				return nil, nil, err
			}
			spec.Arg = arg
		}
		specs[i] = spec
		out.Add("", []string{spec.OutputName()})
	}
	grouped, err := Aggregate(it, groupBy, specs)
	if err != nil {
		return nil, nil, err
	}
	having, err := expr.Bind(q.Having, out)
	if err != nil {
		return nil, nil, err
	}
	return Filter(grouped, having), out, nil
}

func project(rows [][]interface{}, scope *expr.Scope, sel []Projection) ([]string, [][]interface{}, error) {
	if len(sel) == 0 {
		bindings := scope.Bindings()
		columns := make([]string, len(bindings))
		for i, b := range bindings {
			columns[i] = b.Name
		}
		return columns, rows, nil
	}
	exprs := make([]expr.Expr, len(sel))
	columns := make([]string, len(sel))
	for i, p := range sel {
		bound, err := expr.Bind(p.Expr, scope)
		if err != nil {
			return nil, nil, err
		}
		exprs[i] = bound
		switch {
		case p.Alias != "":
			columns[i] = p.Alias
		case isRef(p.Expr):
			name := p.Expr.String()
			if dot := strings.LastIndex(name, "."); dot >= 0 {
				name = name[dot+1:]
			}
			columns[i] = name
		default:
			columns[i] = p.Expr.String()
		}
	}
	out := make([][]interface{}, len(rows))
	for r, row := range rows {
		vals := make([]interface{}, len(exprs))
		for i, e := range exprs {
			v, err := expr.Value(e, row)
			if err != nil {
				return nil, nil, err
			}
			vals[i] = v
		}
		out[r] = vals
	}
	return columns, out, nil
}

func isRef(e expr.Expr) bool {
	_, ok := e.(*expr.ColumnRef)
	return ok
}

// Columns is a convenience for projecting plain column references.
func Columns(names ...string) []Projection {
	out := make([]Projection, len(names))
	for i, name := range names {
		out[i] = Projection{Expr: expr.Col(name)}
	}
	return out
}
