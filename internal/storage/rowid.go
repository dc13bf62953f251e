package storage

// TableID identifies a heap. The catalog hands them out in registration
// order and never reuses one.
type TableID uint64

// RowID uniquely identifies a row within its table. Identifiers are assigned
// at insertion time from a per-table counter and are never reused, even after
// the row is deleted, so references held by foreign keys and self joins stay
// unambiguous.
type RowID uint64

// Row is a committed or pending tuple: a stable identifier plus values
// positionally aligned to the table's schema. A nil value is NULL.
type Row struct {
	ID     RowID
	Values []interface{}
}

// Clone returns a deep copy of the row's value slice.
func (r Row) Clone() Row {
	values := make([]interface{}, len(r.Values))
	copy(values, r.Values)
	return Row{ID: r.ID, Values: values}
}

// CloneRows copies a row slice so callers can mutate it without disturbing
// published versions.
func CloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	return out
}
