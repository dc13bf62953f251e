package exec

import (
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/shopspring/decimal"

	"github.com/example/basalt/internal/sql/expr"
)

// JoinKind enumerates the supported join variants. A self join is any of
// these over the same table under two aliases.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

func (k JoinKind) String() string {
	switch k {
	case JoinInner:
		return "INNER"
	case JoinLeft:
		return "LEFT"
	case JoinRight:
		return "RIGHT"
	case JoinFull:
		return "FULL"
	case JoinCross:
		return "CROSS"
	default:
		return "UNKNOWN"
	}
}

func (k JoinKind) keepsLeft() bool  { return k == JoinLeft || k == JoinFull }
func (k JoinKind) keepsRight() bool { return k == JoinRight || k == JoinFull }

// equiKey pairs a left column with a right column (relative to the right
// row) that the ON clause requires to be equal.
type equiKey struct {
	left  int
	right int
}

// Join combines left and right into merged rows, left columns first. on must
// be bound against the merged layout; CROSS ignores it. When on contains
// column equalities across the two sides the right input is hashed on them;
// the full predicate is still evaluated on every candidate pair, and once per
// pair of row type signatures, so the output and errors are the ones a nested
// loop produces.
func Join(kind JoinKind, left, right RowIterator, on expr.Expr) RowIterator {
	var keys []equiKey
	if kind != JoinCross {
		keys = equiKeys(on, left.Width(), right.Width())
	}
	return newJoin(kind, left, right, on, keys)
}

func nestedLoopJoin(kind JoinKind, left, right RowIterator, on expr.Expr) RowIterator {
	return newJoin(kind, left, right, on, nil)
}

func equiKeys(on expr.Expr, leftWidth, rightWidth int) []equiKey {
	var keys []equiKey
	for _, c := range expr.Conjuncts(on) {
		cmp, ok := c.(*expr.CompareExpr)
		if !ok || cmp.Op != expr.OpEqual {
			continue
		}
		l, lok := cmp.Left.(*expr.ColumnRef)
		r, rok := cmp.Right.(*expr.ColumnRef)
		if !lok || !rok || l.Index < 0 || r.Index < 0 {
			continue
		}
		if l.Index > r.Index {
			l, r = r, l
		}
		if l.Index < leftWidth && r.Index >= leftWidth && r.Index < leftWidth+rightWidth {
			keys = append(keys, equiKey{left: l.Index, right: r.Index - leftWidth})
		}
	}
	return keys
}

type joinPhase int

const (
	phaseProbe joinPhase = iota
	phaseUnmatchedRight
	phaseDone
)

type joinIterator struct {
	kind  JoinKind
	left  RowIterator
	right RowIterator
	on    expr.Expr
	keys  []equiKey

	built     bool
	rightRows [][]interface{}
	buckets   map[string][]int
	filter    *bloom.BloomFilter
	shapes    []int
	checked   map[string]bool
	matched   []bool

	phase    joinPhase
	rightPos int
	pending  [][]interface{}
	cur      []interface{}
	err      error
}

func newJoin(kind JoinKind, left, right RowIterator, on expr.Expr, keys []equiKey) *joinIterator {
	return &joinIterator{kind: kind, left: left, right: right, on: on, keys: keys}
}

func (j *joinIterator) Width() int { return j.left.Width() + j.right.Width() }

func (j *joinIterator) Row() []interface{} { return j.cur }

func (j *joinIterator) Err() error { return j.err }

// Reset rewinds the left input; the materialized right side is reused.
func (j *joinIterator) Reset() {
	j.left.Reset()
	j.phase = phaseProbe
	j.rightPos = 0
	j.pending = nil
	j.cur = nil
	j.err = nil
	for i := range j.matched {
		j.matched[i] = false
	}
}

func (j *joinIterator) build() error {
	j.right.Reset()
	rows, err := Collect(j.right)
	if err != nil {
		return err
	}
	j.rightRows = rows
	j.matched = make([]bool, len(rows))
	if len(j.keys) > 0 {
		j.buckets = make(map[string][]int, len(rows))
		j.filter = bloom.NewWithEstimates(uint(len(rows)+1), 0.01)
		j.checked = make(map[string]bool)
		seen := make(map[string]bool)
		for i, row := range rows {
			if sig := typeSignature(row); !seen[sig] {
				seen[sig] = true
				j.shapes = append(j.shapes, i)
			}
			key, ok := j.hashKey(row, false)
			if !ok {
				continue
			}
			j.buckets[key] = append(j.buckets[key], i)
			j.filter.Add([]byte(key))
		}
	}
	j.built = true
	return nil
}

// hashKey encodes the join columns of a row; ok is false when any of them is
// NULL, since NULL never equals anything.
func (j *joinIterator) hashKey(row []interface{}, fromLeft bool) (string, bool) {
	var b strings.Builder
	for _, k := range j.keys {
		idx := k.right
		if fromLeft {
			idx = k.left
		}
		v := row[idx]
		if v == nil {
			return "", false
		}
		b.WriteString(joinKey(v))
		b.WriteByte(0)
	}
	return b.String(), true
}

// joinKey is GroupKey except that integral decimals hash like integers, since
// the two compare equal.
func joinKey(v interface{}) string {
	if d, ok := v.(decimal.Decimal); ok && d.IsInteger() {
		return "i" + d.String()
	}
	return expr.GroupKey(v)
}

// typeSignature renders the dynamic type of every column of a row. Whether
// evaluating the ON clause fails depends only on these types.
func typeSignature(row []interface{}) string {
	var b strings.Builder
	for _, v := range row {
		b.WriteString(expr.TypeName(expr.Normalize(v)))
		b.WriteByte(0)
	}
	return b.String()
}

// checkTypes evaluates the ON clause of leftRow against one right row of each
// type signature, so a comparison the hash lookup would skip still fails the
// way the nested loop fails.
func (j *joinIterator) checkTypes(leftRow []interface{}) error {
	sig := typeSignature(leftRow)
	if j.checked[sig] {
		return nil
	}
	for _, i := range j.shapes {
		if _, err := expr.Evaluate(j.on, merge(leftRow, j.rightRows[i])); err != nil {
			return err
		}
	}
	j.checked[sig] = true
	return nil
}

func (j *joinIterator) candidates(leftRow []interface{}) []int {
	if j.buckets == nil {
		all := make([]int, len(j.rightRows))
		for i := range all {
			all[i] = i
		}
		return all
	}
	key, ok := j.hashKey(leftRow, true)
	if !ok || !j.filter.Test([]byte(key)) {
		return nil
	}
	return j.buckets[key]
}

func (j *joinIterator) Next() bool {
	if j.err != nil {
		return false
	}
	if !j.built {
		if err := j.build(); err != nil {
			j.err = err
			return false
		}
	}
	for {
		if len(j.pending) > 0 {
			j.cur = j.pending[0]
			j.pending = j.pending[1:]
			return true
		}
		switch j.phase {
		case phaseProbe:
			if !j.left.Next() {
				if err := j.left.Err(); err != nil {
					j.err = err
					return false
				}
				j.phase = phaseUnmatchedRight
				continue
			}
			if err := j.probe(j.left.Row()); err != nil {
				j.err = err
				return false
			}
		case phaseUnmatchedRight:
			if !j.kind.keepsRight() {
				j.phase = phaseDone
				continue
			}
			for j.rightPos < len(j.rightRows) {
				i := j.rightPos
				j.rightPos++
				if !j.matched[i] {
					j.cur = merge(make([]interface{}, j.left.Width()), j.rightRows[i])
					return true
				}
			}
			j.phase = phaseDone
		default:
			j.cur = nil
			return false
		}
	}
}

func (j *joinIterator) probe(leftRow []interface{}) error {
	if j.buckets != nil {
		if err := j.checkTypes(leftRow); err != nil {
			return err
		}
	}
	found := false
	for _, i := range j.candidates(leftRow) {
		merged := merge(leftRow, j.rightRows[i])
		if j.kind != JoinCross {
			truth, err := expr.Evaluate(j.on, merged)
			if err != nil {
				return err
			}
			if truth != expr.True {
				continue
			}
		}
		found = true
		j.matched[i] = true
		j.pending = append(j.pending, merged)
	}
	if !found && j.kind.keepsLeft() {
		j.pending = append(j.pending, merge(leftRow, make([]interface{}, j.right.Width())))
	}
	return nil
}

func merge(left, right []interface{}) []interface{} {
	out := make([]interface{}, 0, len(left)+len(right))
	out = append(out, left...)
	return append(out, right...)
}
