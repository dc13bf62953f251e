package exec

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/example/basalt/internal/sql/expr"
)

// AggFunc enumerates the aggregate functions.
type AggFunc int

const (
	AggCountStar AggFunc = iota
	AggCount
	AggSum
	AggAvg
	AggMin
	AggMax
)

func (f AggFunc) String() string {
	switch f {
	case AggCountStar, AggCount:
		return "COUNT"
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	default:
		return "UNKNOWN"
	}
}

// AggregateSpec is one aggregate output column. Arg is ignored for
// COUNT(*); Name defaults to the lower-cased function name.
type AggregateSpec struct {
	Func AggFunc
	Arg  expr.Expr
	Name string
}

// CountStar builds COUNT(*).
func CountStar(name string) AggregateSpec { return AggregateSpec{Func: AggCountStar, Name: name} }

// Count builds COUNT(arg), which skips NULLs.
func Count(arg expr.Expr, name string) AggregateSpec {
	return AggregateSpec{Func: AggCount, Arg: arg, Name: name}
}

// Sum builds SUM(arg).
func Sum(arg expr.Expr, name string) AggregateSpec {
	return AggregateSpec{Func: AggSum, Arg: arg, Name: name}
}

// Avg builds AVG(arg).
func Avg(arg expr.Expr, name string) AggregateSpec {
	return AggregateSpec{Func: AggAvg, Arg: arg, Name: name}
}

// Min builds MIN(arg).
func Min(arg expr.Expr, name string) AggregateSpec {
	return AggregateSpec{Func: AggMin, Arg: arg, Name: name}
}

// Max builds MAX(arg).
func Max(arg expr.Expr, name string) AggregateSpec {
	return AggregateSpec{Func: AggMax, Arg: arg, Name: name}
}

// OutputName is the column name the aggregate produces.
func (s AggregateSpec) OutputName() string {
	if s.Name != "" {
		return s.Name
	}
	return strings.ToLower(s.Func.String())
}

func (s AggregateSpec) String() string {
	if s.Func == AggCountStar {
		return "COUNT(*)"
	}
	return fmt.Sprintf("%s(%s)", s.Func, expr.Format(s.Arg))
}

type accumulator struct {
	spec  AggregateSpec
	rows  int64
	count int64
	dec   decimal.Decimal
	best  interface{}
}

func (a *accumulator) add(row []interface{}) error {
	a.rows++
	if a.spec.Func == AggCountStar {
		return nil
	}
	v, err := expr.Value(a.spec.Arg, row)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	switch a.spec.Func {
	case AggCount:
	case AggSum, AggAvg:
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("exec: %s over %s: %w", a.spec.Func, expr.TypeName(v), ErrTypeMismatch)
		}
		a.dec = a.dec.Add(decimal.NewFromInt(n))
	case AggMin, AggMax:
		if a.best == nil {
			a.best = v
			break
		}
		cmp, err := expr.CompareValues(v, a.best)
		if err != nil {
			return err
		}
		if (a.spec.Func == AggMin && cmp < 0) || (a.spec.Func == AggMax && cmp > 0) {
			a.best = v
		}
	}
	a.count++
	return nil
}

var (
	minInteger = decimal.NewFromInt(math.MinInt64)
	maxInteger = decimal.NewFromInt(math.MaxInt64)
)

func (a *accumulator) result() (interface{}, error) {
	switch a.spec.Func {
	case AggCountStar:
		return a.rows, nil
	case AggCount:
		return a.count, nil
	case AggSum:
		if a.count == 0 {
			return nil, nil
		}
		if a.dec.LessThan(minInteger) || a.dec.GreaterThan(maxInteger) {
			return nil, fmt.Errorf("exec: %s = %s: %w", a.spec, a.dec, ErrNumericOverflow)
		}
		return a.dec.IntPart(), nil
	case AggAvg:
		if a.count == 0 {
			return nil, nil
		}
		return a.dec.Div(decimal.NewFromInt(a.count)), nil
	default:
		return a.best, nil
	}
}

type group struct {
	key  []interface{}
	accs []*accumulator
}

// Aggregate consumes rows and produces one row per distinct combination of
// groupBy values: the group values followed by one column per spec, in order
// of each group's first appearance. NULL group values form a group of their
// own. Without groupBy exactly one row is produced, even for empty input.
func Aggregate(rows RowIterator, groupBy []expr.Expr, specs []AggregateSpec) (RowIterator, error) {
	var order []*group
	groups := make(map[string]*group)
	newGroup := func(key []interface{}) *group {
		g := &group{key: key, accs: make([]*accumulator, len(specs))}
		for i, spec := range specs {
			g.accs[i] = &accumulator{spec: spec}
		}
		order = append(order, g)
		return g
	}
	if len(groupBy) == 0 {
		newGroup(nil)
	}

	rows.Reset()
	for rows.Next() {
		row := rows.Row()
		var g *group
		if len(groupBy) == 0 {
			g = order[0]
		} else {
			key := make([]interface{}, len(groupBy))
			var b strings.Builder
			for i, e := range groupBy {
				v, err := expr.Value(e, row)
				if err != nil {
					return nil, err
				}
				key[i] = v
				b.WriteString(expr.GroupKey(v))
				b.WriteByte(0)
			}
			var ok bool
			if g, ok = groups[b.String()]; !ok {
				g = newGroup(key)
				groups[b.String()] = g
			}
		}
		for _, acc := range g.accs {
			if err := acc.add(row); err != nil {
				return nil, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	width := len(groupBy) + len(specs)
	out := make([][]interface{}, len(order))
	for i, g := range order {
		row := make([]interface{}, 0, width)
		row = append(row, g.key...)
		for _, acc := range g.accs {
			v, err := acc.result()
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		out[i] = row
	}
	return NewSliceIterator(out, width), nil
}
