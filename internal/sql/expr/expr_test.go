package expr_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/basalt/internal/sql/expr"
)

func TestTruthTables(t *testing.T) {
	values := []expr.Truth{expr.True, expr.False, expr.Unknown}
	for _, l := range values {
		for _, r := range values {
			and := expr.And(l, r)
			or := expr.Or(l, r)
			switch {
			case l == expr.False || r == expr.False:
				assert.Equal(t, expr.False, and, "%v AND %v", l, r)
			case l == expr.True && r == expr.True:
				assert.Equal(t, expr.True, and, "%v AND %v", l, r)
			default:
				assert.Equal(t, expr.Unknown, and, "%v AND %v", l, r)
			}
			switch {
			case l == expr.True || r == expr.True:
				assert.Equal(t, expr.True, or, "%v OR %v", l, r)
			case l == expr.False && r == expr.False:
				assert.Equal(t, expr.False, or, "%v OR %v", l, r)
			default:
				assert.Equal(t, expr.Unknown, or, "%v OR %v", l, r)
			}
		}
	}
	assert.Equal(t, expr.Unknown, expr.Not(expr.Unknown))
	assert.Equal(t, expr.False, expr.Not(expr.True))
}

func TestEvaluateNullComparisons(t *testing.T) {
	row := []interface{}{int64(1), nil, nil}

	cases := []struct {
		name string
		pred expr.Expr
		want expr.Truth
	}{
		{"null equals literal", expr.Eq(expr.ColAt(1), expr.Lit(1)), expr.Unknown},
		{"null equals null", expr.Eq(expr.ColAt(1), expr.ColAt(2)), expr.Unknown},
		{"null not equal", expr.Ne(expr.ColAt(1), expr.Lit(1)), expr.Unknown},
		{"is null", expr.IsNull(expr.ColAt(1)), expr.True},
		{"is not null", expr.IsNotNull(expr.ColAt(0)), expr.True},
		{"unknown and false", expr.AndOf(expr.Eq(expr.ColAt(1), expr.Lit(1)), expr.Eq(expr.ColAt(0), expr.Lit(2))), expr.False},
		{"unknown or true", expr.OrOf(expr.Eq(expr.ColAt(1), expr.Lit(1)), expr.Eq(expr.ColAt(0), expr.Lit(1))), expr.True},
		{"not unknown", expr.NotOf(expr.Eq(expr.ColAt(1), expr.Lit(1))), expr.Unknown},
		{"nil predicate", nil, expr.True},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := expr.Evaluate(tc.pred, row)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateTypeMismatch(t *testing.T) {
	_, err := expr.Evaluate(expr.Eq(expr.ColAt(0), expr.Lit("one")), []interface{}{int64(1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, expr.ErrTypeMismatch))
}

func TestCompareValues(t *testing.T) {
	d1 := time.Date(2024, 1, 2, 15, 4, 0, 0, time.UTC)
	d2 := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	cmp, err := expr.CompareValues(d1, d2)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = expr.CompareValues(int32(5), int64(5))
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)

	cmp, err = expr.CompareValues(false, true)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)
}

func TestScopeResolveAliases(t *testing.T) {
	scope := expr.NewScope()
	scope.Add("e", []string{"emp_id", "first_name", "manager_id"})
	scope.Add("m", []string{"emp_id", "first_name", "manager_id"})

	idx, err := scope.Resolve("m.emp_id")
	require.NoError(t, err)
	assert.Equal(t, 3, idx)

	idx, err = scope.Resolve("E.Manager_ID")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	_, err = scope.Resolve("emp_id")
	assert.True(t, errors.Is(err, expr.ErrAmbiguousColumn))

	_, err = scope.Resolve("x.emp_id")
	assert.True(t, errors.Is(err, expr.ErrUnknownColumn))

	bound, err := expr.Bind(expr.Eq(expr.Col("e.manager_id"), expr.Col("m.emp_id")), scope)
	require.NoError(t, err)
	lo, hi, ok := expr.ColumnSpan(bound)
	require.True(t, ok)
	assert.Equal(t, 2, lo)
	assert.Equal(t, 3, hi)
}

func TestGroupKeyDistinguishesNull(t *testing.T) {
	assert.NotEqual(t, expr.GroupKey(nil), expr.GroupKey("n"))
	assert.NotEqual(t, expr.GroupKey(int64(1)), expr.GroupKey("1"))
	assert.Equal(t, expr.GroupKey(int32(7)), expr.GroupKey(int64(7)))
}
