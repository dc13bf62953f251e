package expr

import "fmt"

// Evaluate computes the truth value of a predicate against a row. A nil
// predicate is TRUE. Every operand is evaluated; there is no short-circuit,
// so evaluation errors surface regardless of NULLs elsewhere in the tree.
func Evaluate(pred Expr, row []interface{}) (Truth, error) {
	if pred == nil {
		return True, nil
	}
	switch e := pred.(type) {
	case *LogicalExpr:
		left, err := Evaluate(e.Left, row)
		if err != nil {
			return Unknown, err
		}
		right, err := Evaluate(e.Right, row)
		if err != nil {
			return Unknown, err
		}
		if e.Op == OpOr {
			return Or(left, right), nil
		}
		return And(left, right), nil
	case *NotExpr:
		inner, err := Evaluate(e.Expr, row)
		if err != nil {
			return Unknown, err
		}
		return Not(inner), nil
	case *CompareExpr:
		return evalComparison(e, row)
	case *IsNullExpr:
		value, err := Value(e.Expr, row)
		if err != nil {
			return Unknown, err
		}
		return TruthOf((value == nil) != e.Negated), nil
	default:
		value, err := Value(pred, row)
		if err != nil {
			return Unknown, err
		}
		switch v := value.(type) {
		case nil:
			return Unknown, nil
		case bool:
			return TruthOf(v), nil
		default:
			return Unknown, fmt.Errorf("expr: %s does not yield a boolean: %w", pred, ErrTypeMismatch)
		}
	}
}

// Value computes the scalar value of an expression against a row; NULL is nil.
func Value(e Expr, row []interface{}) (interface{}, error) {
	switch n := e.(type) {
	case *ColumnRef:
		if n.Index < 0 {
			return nil, fmt.Errorf("expr: column %s is not bound", n.Name)
		}
		if n.Index >= len(row) {
			return nil, fmt.Errorf("expr: column %s out of range", n.Name)
		}
		return row[n.Index], nil
	case *Literal:
		return n.Value, nil
	case *CompareExpr, *LogicalExpr, *NotExpr, *IsNullExpr:
		truth, err := Evaluate(e, row)
		if err != nil {
			return nil, err
		}
		switch truth {
		case True:
			return true, nil
		case False:
			return false, nil
		default:
			return nil, nil
		}
	case nil:
		return nil, fmt.Errorf("expr: missing expression")
	default:
		return nil, fmt.Errorf("expr: unsupported expression %T", e)
	}
}

func evalComparison(cmp *CompareExpr, row []interface{}) (Truth, error) {
	left, err := Value(cmp.Left, row)
	if err != nil {
		return Unknown, err
	}
	right, err := Value(cmp.Right, row)
	if err != nil {
		return Unknown, err
	}
	if left == nil || right == nil {
		return Unknown, nil
	}
	order, err := CompareValues(left, right)
	if err != nil {
		return Unknown, err
	}
	switch cmp.Op {
	case OpEqual:
		return TruthOf(order == 0), nil
	case OpNotEqual:
		return TruthOf(order != 0), nil
	case OpLess:
		return TruthOf(order < 0), nil
	case OpLessEqual:
		return TruthOf(order <= 0), nil
	case OpGreater:
		return TruthOf(order > 0), nil
	case OpGreaterEqual:
		return TruthOf(order >= 0), nil
	default:
		return Unknown, fmt.Errorf("expr: unknown comparison operator %v", cmp.Op)
	}
}
