package expr

import (
	"fmt"
	"strings"
	"time"
)

// Expr is a node of an already-parsed predicate or value expression.
type Expr interface {
	String() string
}

// ColumnRef references a column of the row being evaluated. Name is the
// reference as written (optionally alias-qualified); Index is its position
// once bound against a Scope, or -1 while unbound.
type ColumnRef struct {
	Name  string
	Index int
}

// Col constructs an unbound column reference such as "e.dept_id".
func Col(name string) *ColumnRef {
	return &ColumnRef{Name: name, Index: -1}
}

// ColAt constructs a column reference bound to a fixed position.
func ColAt(index int) *ColumnRef {
	return &ColumnRef{Name: fmt.Sprintf("$%d", index), Index: index}
}

func (c *ColumnRef) String() string {
	return c.Name
}

// Literal is a constant value; a nil Value is NULL.
type Literal struct {
	Value interface{}
}

// Lit constructs a literal expression.
func Lit(value interface{}) *Literal {
	return &Literal{Value: Normalize(value)}
}

// Null returns the NULL literal.
func Null() *Literal {
	return &Literal{}
}

func (l *Literal) String() string {
	if s, ok := l.Value.(string); ok {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
	return FormatValue(l.Value)
}

// CompareOp enumerates comparison operators.
type CompareOp int

const (
	OpEqual CompareOp = iota
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
)

func (op CompareOp) String() string {
	switch op {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "<>"
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	default:
		return "?"
	}
}

// CompareExpr compares two value expressions.
type CompareExpr struct {
	Op    CompareOp
	Left  Expr
	Right Expr
}

func (c *CompareExpr) String() string {
	return fmt.Sprintf("%s %s %s", c.Left, c.Op, c.Right)
}

// Eq builds left = right.
func Eq(left, right Expr) *CompareExpr { return &CompareExpr{Op: OpEqual, Left: left, Right: right} }

// Ne builds left <> right.
func Ne(left, right Expr) *CompareExpr { return &CompareExpr{Op: OpNotEqual, Left: left, Right: right} }

// Lt builds left < right.
func Lt(left, right Expr) *CompareExpr { return &CompareExpr{Op: OpLess, Left: left, Right: right} }

// Le builds left <= right.
func Le(left, right Expr) *CompareExpr { return &CompareExpr{Op: OpLessEqual, Left: left, Right: right} }

// Gt builds left > right.
func Gt(left, right Expr) *CompareExpr { return &CompareExpr{Op: OpGreater, Left: left, Right: right} }

// Ge builds left >= right.
func Ge(left, right Expr) *CompareExpr {
	return &CompareExpr{Op: OpGreaterEqual, Left: left, Right: right}
}

// LogicalOp enumerates the binary boolean connectives.
type LogicalOp int

const (
	OpAnd LogicalOp = iota
	OpOr
)

// LogicalExpr joins two predicates with AND or OR.
type LogicalExpr struct {
	Op    LogicalOp
	Left  Expr
	Right Expr
}

func (l *LogicalExpr) String() string {
	op := "AND"
	if l.Op == OpOr {
		op = "OR"
	}
	return fmt.Sprintf("(%s %s %s)", l.Left, op, l.Right)
}

// AndOf folds predicates into a left-deep conjunction. With no arguments it
// returns nil, which evaluates as TRUE.
func AndOf(preds ...Expr) Expr {
	var out Expr
	for _, p := range preds {
		if p == nil {
			continue
		}
		if out == nil {
			out = p
			continue
		}
		out = &LogicalExpr{Op: OpAnd, Left: out, Right: p}
	}
	return out
}

// OrOf folds predicates into a left-deep disjunction.
func OrOf(preds ...Expr) Expr {
	var out Expr
	for _, p := range preds {
		if p == nil {
			continue
		}
		if out == nil {
			out = p
			continue
		}
		out = &LogicalExpr{Op: OpOr, Left: out, Right: p}
	}
	return out
}

// NotExpr negates a predicate.
type NotExpr struct {
	Expr Expr
}

// NotOf builds NOT e.
func NotOf(e Expr) *NotExpr { return &NotExpr{Expr: e} }

func (n *NotExpr) String() string {
	return fmt.Sprintf("NOT %s", n.Expr)
}

// IsNullExpr tests whether the operand yields NULL. It never yields Unknown.
type IsNullExpr struct {
	Expr    Expr
	Negated bool
}

// IsNull builds e IS NULL.
func IsNull(e Expr) *IsNullExpr { return &IsNullExpr{Expr: e} }

// IsNotNull builds e IS NOT NULL.
func IsNotNull(e Expr) *IsNullExpr { return &IsNullExpr{Expr: e, Negated: true} }

func (i *IsNullExpr) String() string {
	if i.Negated {
		return fmt.Sprintf("%s IS NOT NULL", i.Expr)
	}
	return fmt.Sprintf("%s IS NULL", i.Expr)
}

// Format renders an expression for diagnostics; nil renders as TRUE.
func Format(e Expr) string {
	if e == nil {
		return "TRUE"
	}
	return e.String()
}

// FormatValue renders a runtime value for result output.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return val.Format(DateLayout)
	case fmt.Stringer:
		return val.String()
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}
