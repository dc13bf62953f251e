package expr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownColumn reports a reference that matches no column in scope.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrAmbiguousColumn reports an unqualified reference matching columns
	// of more than one source.
	ErrAmbiguousColumn = errors.New("ambiguous column")
)

// Binding is a column visible to expressions, qualified by the alias of the
// source it came from.
type Binding struct {
	Qualifier string
	Name      string
}

// Scope maps column references onto positions of a (possibly merged) row.
// The same table may appear twice under different qualifiers, which is all a
// self join needs.
type Scope struct {
	bindings []Binding
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{}
}

// Add appends the columns of a source under the given qualifier.
func (s *Scope) Add(qualifier string, columns []string) {
	for _, name := range columns {
		s.bindings = append(s.bindings, Binding{Qualifier: qualifier, Name: name})
	}
}

// Merge returns a new scope holding s's columns followed by other's.
func (s *Scope) Merge(other *Scope) *Scope {
	out := &Scope{bindings: make([]Binding, 0, len(s.bindings)+len(other.bindings))}
	out.bindings = append(out.bindings, s.bindings...)
	out.bindings = append(out.bindings, other.bindings...)
	return out
}

// Len reports the number of columns in scope.
func (s *Scope) Len() int {
	return len(s.bindings)
}

// Bindings returns a copy of the bindings in positional order.
func (s *Scope) Bindings() []Binding {
	out := make([]Binding, len(s.bindings))
	copy(out, s.bindings)
	return out
}

// Resolve finds the position of a reference written as "column" or
// "alias.column". Names compare case-insensitively.
func (s *Scope) Resolve(ref string) (int, error) {
	qualifier, name := "", ref
	if dot := strings.LastIndex(ref, "."); dot >= 0 {
		qualifier, name = ref[:dot], ref[dot+1:]
	}
	found := -1
	for i, b := range s.bindings {
		if !strings.EqualFold(b.Name, name) {
			continue
		}
		if qualifier != "" && !strings.EqualFold(b.Qualifier, qualifier) {
			continue
		}
		if found >= 0 {
			return -1, fmt.Errorf("expr: %w: %s", ErrAmbiguousColumn, ref)
		}
		found = i
	}
	if found < 0 {
		return -1, fmt.Errorf("expr: %w: %s", ErrUnknownColumn, ref)
	}
	return found, nil
}

// Bind returns a copy of e whose column references carry positions resolved
// against the scope. Already-bound references are kept as they are.
func Bind(e Expr, scope *Scope) (Expr, error) {
	switch n := e.(type) {
	case nil:
		return nil, nil
	case *ColumnRef:
		if n.Index >= 0 {
			return n, nil
		}
		idx, err := scope.Resolve(n.Name)
		if err != nil {
			return nil, err
		}
		return &ColumnRef{Name: n.Name, Index: idx}, nil
	case *Literal:
		return n, nil
	case *CompareExpr:
		left, err := Bind(n.Left, scope)
		if err != nil {
			return nil, err
		}
		right, err := Bind(n.Right, scope)
		if err != nil {
			return nil, err
		}
		return &CompareExpr{Op: n.Op, Left: left, Right: right}, nil
	case *LogicalExpr:
		left, err := Bind(n.Left, scope)
		if err != nil {
			return nil, err
		}
		right, err := Bind(n.Right, scope)
		if err != nil {
			return nil, err
		}
		return &LogicalExpr{Op: n.Op, Left: left, Right: right}, nil
	case *NotExpr:
		inner, err := Bind(n.Expr, scope)
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	case *IsNullExpr:
		inner, err := Bind(n.Expr, scope)
		if err != nil {
			return nil, err
		}
		return &IsNullExpr{Expr: inner, Negated: n.Negated}, nil
	default:
		return nil, fmt.Errorf("expr: unsupported expression %T", e)
	}
}

// Conjuncts flattens a tree of ANDs into its operands.
func Conjuncts(e Expr) []Expr {
	if e == nil {
		return nil
	}
	if l, ok := e.(*LogicalExpr); ok && l.Op == OpAnd {
		return append(Conjuncts(l.Left), Conjuncts(l.Right)...)
	}
	return []Expr{e}
}

// ColumnSpan reports the lowest and highest bound column positions
// referenced by e, or ok=false when e references no columns.
func ColumnSpan(e Expr) (lo, hi int, ok bool) {
	lo, hi = -1, -1
	var walk func(Expr)
	walk = func(node Expr) {
		switch n := node.(type) {
		case *ColumnRef:
			if lo < 0 || n.Index < lo {
				lo = n.Index
			}
			if n.Index > hi {
				hi = n.Index
			}
		case *CompareExpr:
			walk(n.Left)
			walk(n.Right)
		case *LogicalExpr:
			walk(n.Left)
			walk(n.Right)
		case *NotExpr:
			walk(n.Expr)
		case *IsNullExpr:
			walk(n.Expr)
		}
	}
	walk(e)
	return lo, hi, lo >= 0
}
