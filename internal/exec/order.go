package exec

import (
	"fmt"
	"sort"

	"github.com/example/basalt/internal/sql/expr"
)

// SortKey orders rows by one expression. NULLs sort last in ascending order
// and first in descending order.
type SortKey struct {
	Expr expr.Expr
	Desc bool
}

// Asc orders by e ascending.
func Asc(e expr.Expr) SortKey { return SortKey{Expr: e} }

// Desc orders by e descending.
func Desc(e expr.Expr) SortKey { return SortKey{Expr: e, Desc: true} }

func (k SortKey) String() string {
	if k.Desc {
		return expr.Format(k.Expr) + " DESC"
	}
	return expr.Format(k.Expr) + " ASC"
}

// Limit truncates a result: Offset rows are skipped, then at most Count rows
// are kept.
type Limit struct {
	Count  int
	Offset int
}

// SortRows stably sorts rows in place by keys bound against the row layout.
func SortRows(rows [][]interface{}, keys []SortKey) error {
	if len(keys) == 0 || len(rows) < 2 {
		return nil
	}
	type keyed struct {
		row  []interface{}
		vals []interface{}
	}
	items := make([]keyed, len(rows))
	for i, row := range rows {
		vals := make([]interface{}, len(keys))
		for k, key := range keys {
			v, err := expr.Value(key.Expr, row)
			if err != nil {
				return err
			}
			vals[k] = v
		}
		items[i] = keyed{row: row, vals: vals}
	}

	var cmpErr error
	sort.SliceStable(items, func(i, j int) bool {
		for k, key := range keys {
			cmp, err := compareNullsLast(items[i].vals[k], items[j].vals[k])
			if err != nil {
				if cmpErr == nil {
					cmpErr = fmt.Errorf("exec: ORDER BY %s: %w", key, err)
				}
				return false
			}
			if cmp == 0 {
				continue
			}
			if key.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	if cmpErr != nil {
		return cmpErr
	}
	for i := range items {
		rows[i] = items[i].row
	}
	return nil
}

// compareNullsLast treats NULL as greater than every value, which puts NULLs
// last ascending and first descending.
func compareNullsLast(left, right interface{}) (int, error) {
	switch {
	case left == nil && right == nil:
		return 0, nil
	case left == nil:
		return 1, nil
	case right == nil:
		return -1, nil
	}
	return expr.CompareValues(left, right)
}

// ApplyLimit returns the window of rows selected by lim; nil keeps all rows.
func ApplyLimit(rows [][]interface{}, lim *Limit) [][]interface{} {
	if lim == nil {
		return rows
	}
	offset := lim.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return [][]interface{}{}
	}
	rows = rows[offset:]
	if lim.Count >= 0 && lim.Count < len(rows) {
		rows = rows[:lim.Count]
	}
	return rows
}
