package catalog

import (
	"fmt"
	"strings"
)

// ConstraintKind tags the variants of Constraint.
type ConstraintKind uint8

const (
	ConstraintPrimaryKey ConstraintKind = iota
	ConstraintUnique
	ConstraintForeignKey
	ConstraintNotNull
)

func (k ConstraintKind) String() string {
	switch k {
	case ConstraintPrimaryKey:
		return "PRIMARY KEY"
	case ConstraintUnique:
		return "UNIQUE"
	case ConstraintForeignKey:
		return "FOREIGN KEY"
	case ConstraintNotNull:
		return "NOT NULL"
	default:
		return "UNKNOWN"
	}
}

// Constraint is a table-level integrity rule. RefTable, RefColumns and
// Deferrable only apply to foreign keys.
type Constraint struct {
	Kind       ConstraintKind
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
	Deferrable bool
}

// PrimaryKey declares the primary key over the given columns.
func PrimaryKey(columns ...string) Constraint {
	return Constraint{Kind: ConstraintPrimaryKey, Columns: columns}
}

// Unique declares a uniqueness constraint over the given columns.
func Unique(columns ...string) Constraint {
	return Constraint{Kind: ConstraintUnique, Columns: columns}
}

// ForeignKey declares that columns reference refColumns of refTable.
func ForeignKey(columns []string, refTable string, refColumns []string) Constraint {
	return Constraint{Kind: ConstraintForeignKey, Columns: columns, RefTable: refTable, RefColumns: refColumns}
}

// NotNull declares that column never holds NULL.
func NotNull(column string) Constraint {
	return Constraint{Kind: ConstraintNotNull, Columns: []string{column}}
}

// DeferrableForeignKey declares a foreign key whose existence check runs at
// COMMIT rather than at each write.
func DeferrableForeignKey(columns []string, refTable string, refColumns []string) Constraint {
	fk := ForeignKey(columns, refTable, refColumns)
	fk.Deferrable = true
	return fk
}

// IsKey reports whether the constraint enforces uniqueness.
func (c Constraint) IsKey() bool {
	return c.Kind == ConstraintPrimaryKey || c.Kind == ConstraintUnique
}

func (c Constraint) clone() Constraint {
	out := c
	out.Columns = append([]string(nil), c.Columns...)
	out.RefColumns = append([]string(nil), c.RefColumns...)
	return out
}

func (c Constraint) String() string {
	cols := strings.Join(c.Columns, ", ")
	if c.Kind == ConstraintForeignKey {
		return fmt.Sprintf("%s (%s) REFERENCES %s (%s)", c.Kind, cols, c.RefTable, strings.Join(c.RefColumns, ", "))
	}
	return fmt.Sprintf("%s (%s)", c.Kind, cols)
}

// defaultName follows PostgreSQL's constraint naming scheme.
func defaultName(table string, c Constraint) string {
	cols := strings.ToLower(strings.Join(c.Columns, "_"))
	switch c.Kind {
	case ConstraintPrimaryKey:
		return table + "_pkey"
	case ConstraintUnique:
		return table + "_" + cols + "_key"
	case ConstraintForeignKey:
		return table + "_" + cols + "_fkey"
	default:
		return table + "_" + cols + "_not_null"
	}
}
