package exec

import (
	"github.com/example/basalt/internal/sql/expr"
	"github.com/example/basalt/internal/storage"
)

// RowIterator is a lazy, finite, restartable sequence of rows. Usage mirrors
// bufio.Scanner: call Next until it returns false, then check Err. Reset
// rewinds to the first row.
type RowIterator interface {
	Next() bool
	Row() []interface{}
	Err() error
	Reset()
	Width() int
}

// sliceIterator walks materialized rows.
type sliceIterator struct {
	rows  [][]interface{}
	width int
	pos   int
}

// NewSliceIterator wraps already materialized rows of the given width.
func NewSliceIterator(rows [][]interface{}, width int) RowIterator {
	return &sliceIterator{rows: rows, width: width}
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.rows) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Row() []interface{} { return it.rows[it.pos-1] }
func (it *sliceIterator) Err() error         { return nil }
func (it *sliceIterator) Reset()             { it.pos = 0 }
func (it *sliceIterator) Width() int         { return it.width }

// scanIterator yields copies of the values of a point-in-time table
// snapshot, padded or cut to the schema width the scan was opened with.
type scanIterator struct {
	rows  *storage.Iterator
	width int
	cur   []interface{}
}

func newScanIterator(rows *storage.Iterator, width int) *scanIterator {
	return &scanIterator{rows: rows, width: width}
}

func (it *scanIterator) Next() bool {
	row, ok := it.rows.Next()
	if !ok {
		it.cur = nil
		return false
	}
	it.cur = fit(row.Values, it.width)
	return true
}

func (it *scanIterator) Row() []interface{} { return it.cur }
func (it *scanIterator) Err() error         { return nil }
func (it *scanIterator) Reset()             { it.rows.Rewind() }
func (it *scanIterator) Width() int         { return it.width }

// fit copies values into a fresh row of the given width; stored rows are
// never handed to callers.
func fit(values []interface{}, width int) []interface{} {
	out := make([]interface{}, width)
	copy(out, values)
	return out
}

// filterIterator passes through rows for which the predicate is TRUE.
type filterIterator struct {
	src  RowIterator
	pred expr.Expr
	err  error
}

// Filter wraps src, keeping rows whose bound predicate evaluates to TRUE.
// FALSE and UNKNOWN both exclude the row.
func Filter(src RowIterator, pred expr.Expr) RowIterator {
	if pred == nil {
		return src
	}
	return &filterIterator{src: src, pred: pred}
}

func (it *filterIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.src.Next() {
		truth, err := expr.Evaluate(it.pred, it.src.Row())
		if err != nil {
			it.err = err
			return false
		}
		if truth == expr.True {
			return true
		}
	}
	return false
}

func (it *filterIterator) Row() []interface{} { return it.src.Row() }

func (it *filterIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.src.Err()
}

func (it *filterIterator) Reset() {
	it.err = nil
	it.src.Reset()
}

func (it *filterIterator) Width() int { return it.src.Width() }

// Collect drains it into a slice.
func Collect(it RowIterator) ([][]interface{}, error) {
	var rows [][]interface{}
	for it.Next() {
		rows = append(rows, it.Row())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
