package expr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical textual form of DATE values.
const DateLayout = "2006-01-02"

// ErrTypeMismatch reports values of incompatible types meeting in a
// comparison, an assignment or an insert.
var ErrTypeMismatch = errors.New("type mismatch")

// Normalize maps Go scalar kinds onto the engine's value domain: every
// integer width becomes int64 and dates are truncated to UTC midnight.
func Normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case time.Time:
		return TruncateDate(val)
	default:
		return v
	}
}

// TruncateDate drops the time-of-day component of t.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TypeName names the dynamic type of a runtime value for error messages.
func TypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "NULL"
	case int64:
		return "INTEGER"
	case string:
		return "TEXT"
	case bool:
		return "BOOLEAN"
	case time.Time:
		return "DATE"
	case decimal.Decimal:
		return "NUMERIC"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// CompareValues orders two non-NULL values of the same type. Integers and
// decimals compare numerically with each other.
func CompareValues(left, right interface{}) (int, error) {
	left, right = Normalize(left), Normalize(right)
	switch l := left.(type) {
	case int64:
		switch r := right.(type) {
		case int64:
			return compareInt64(l, r), nil
		case decimal.Decimal:
			return decimal.NewFromInt(l).Cmp(r), nil
		}
	case decimal.Decimal:
		switch r := right.(type) {
		case int64:
			return l.Cmp(decimal.NewFromInt(r)), nil
		case decimal.Decimal:
			return l.Cmp(r), nil
		}
	case string:
		if r, ok := right.(string); ok {
			return strings.Compare(l, r), nil
		}
	case bool:
		if r, ok := right.(bool); ok {
			switch {
			case l == r:
				return 0, nil
			case !l:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case time.Time:
		if r, ok := right.(time.Time); ok {
			switch {
			case l.Before(r):
				return -1, nil
			case l.After(r):
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	return 0, fmt.Errorf("expr: cannot compare %s with %s: %w", TypeName(left), TypeName(right), ErrTypeMismatch)
}

// ValuesEqual reports SQL equality of two values: NULL is never equal to
// anything, including another NULL.
func ValuesEqual(left, right interface{}) (Truth, error) {
	if left == nil || right == nil {
		return Unknown, nil
	}
	cmp, err := CompareValues(left, right)
	if err != nil {
		return Unknown, err
	}
	return TruthOf(cmp == 0), nil
}

// GroupKey renders a value as a map key in which NULL is a distinct
// member equal only to itself. Distinct types never collide.
func GroupKey(v interface{}) string {
	switch val := Normalize(v).(type) {
	case nil:
		return "n"
	case int64:
		return fmt.Sprintf("i%d", val)
	case decimal.Decimal:
		return "d" + val.String()
	case string:
		return fmt.Sprintf("s%d:%s", len(val), val)
	case bool:
		if val {
			return "b1"
		}
		return "b0"
	case time.Time:
		return "t" + val.Format(DateLayout)
	default:
		return fmt.Sprintf("x%v", val)
	}
}

func compareInt64(l, r int64) int {
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	default:
		return 0
	}
}
