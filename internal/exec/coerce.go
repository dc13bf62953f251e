package exec

import (
	"fmt"
	"time"

	"github.com/example/basalt/internal/catalog"
	"github.com/example/basalt/internal/sql/expr"
)

// coerce converts a caller-supplied value to the column's storage type.
// Dates may be given as time.Time or as a YYYY-MM-DD string.
func coerce(col catalog.Column, value interface{}) (interface{}, error) {
	value = expr.Normalize(value)
	if value == nil {
		return nil, nil
	}
	switch col.Type {
	case catalog.ColumnTypeInteger:
		if v, ok := value.(int64); ok {
			return v, nil
		}
	case catalog.ColumnTypeText:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case catalog.ColumnTypeBoolean:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case catalog.ColumnTypeDate:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			parsed, err := time.Parse(expr.DateLayout, v)
			if err != nil {
				return nil, fmt.Errorf("exec: invalid DATE literal %q for column %s: %w", v, col.Name, ErrTypeMismatch)
			}
			return parsed, nil
		}
	}
	return nil, fmt.Errorf("exec: column %s is %s, got %s: %w", col.Name, col.Type, expr.TypeName(value), ErrTypeMismatch)
}
