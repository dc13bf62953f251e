package exec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/basalt/internal/catalog"
	"github.com/example/basalt/internal/sql/expr"
	"github.com/example/basalt/internal/txn"
)

var (
	// ErrTypeMismatch is returned when a value does not fit its column or two
	// values cannot be compared. It is the same sentinel the expression
	// evaluator wraps.
	ErrTypeMismatch = expr.ErrTypeMismatch
	// ErrNumericOverflow reports an INTEGER result outside the 64-bit range.
	ErrNumericOverflow = errors.New("exec: integer out of range")
	// ErrConstraintViolation is wrapped by every *ConstraintError.
	ErrConstraintViolation = errors.New("exec: constraint violation")
)

// ConstraintError describes a rejected row image. Kind distinguishes primary
// key, unique, foreign key and not-null violations.
type ConstraintError struct {
	Kind       catalog.ConstraintKind
	Table      string
	Constraint string
	Columns    []string
	Values     []interface{}
}

func (e *ConstraintError) Error() string {
	vals := make([]string, len(e.Values))
	for i, v := range e.Values {
		vals[i] = expr.FormatValue(v)
	}
	return fmt.Sprintf("exec: %s violation on %s: constraint %s (%s)=(%s)",
		e.Kind, e.Table, e.Constraint, strings.Join(e.Columns, ", "), strings.Join(vals, ", "))
}

func (e *ConstraintError) Unwrap() error {
	return ErrConstraintViolation
}

// IsViolation reports whether err is a constraint violation of the given kind.
func IsViolation(err error, kind catalog.ConstraintKind) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Kind == kind
}

func violation(table *catalog.Table, con catalog.Constraint, values []interface{}) *ConstraintError {
	return &ConstraintError{
		Kind:       con.Kind,
		Table:      table.Name,
		Constraint: con.Name,
		Columns:    append([]string(nil), con.Columns...),
		Values:     values,
	}
}

// aborts reports whether err ends the issuing transaction.
func aborts(err error) bool {
	return errors.Is(err, ErrConstraintViolation) || errors.Is(err, ErrTypeMismatch) || errors.Is(err, txn.ErrLockOrder)
}
