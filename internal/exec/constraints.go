package exec

import (
	"strings"

	"github.com/example/basalt/internal/catalog"
	"github.com/example/basalt/internal/sql/expr"
	"github.com/example/basalt/internal/storage"
	"github.com/example/basalt/internal/txn"
)

// tuple extracts the values at idxs and their hashable encoding. hasNull
// reports whether any of them is NULL.
func tuple(values []interface{}, idxs []int) (vals []interface{}, key string, hasNull bool) {
	vals = make([]interface{}, len(idxs))
	var b strings.Builder
	for i, idx := range idxs {
		var v interface{}
		if idx < len(values) {
			v = values[idx]
		}
		vals[i] = v
		if v == nil {
			hasNull = true
		}
		b.WriteString(expr.GroupKey(v))
		b.WriteByte(0)
	}
	return vals, b.String(), hasNull
}

func checkNotNull(table *catalog.Table, values []interface{}) error {
	for i, col := range table.Schema.Columns {
		if col.NotNull && values[i] == nil {
			con := catalog.Constraint{Kind: catalog.ConstraintNotNull, Columns: []string{col.Name}}
			for _, nn := range table.ConstraintsOf(catalog.ConstraintNotNull) {
				if strings.EqualFold(nn.Columns[0], col.Name) {
					con = nn
				}
			}
			return violation(table, con, []interface{}{nil})
		}
	}
	return nil
}

// checkKeys verifies every primary key and unique constraint over the full
// row image of a table. Tuples containing NULL never collide.
func checkKeys(table *catalog.Table, image []storage.Row) error {
	for _, con := range table.Keys() {
		idxs, err := table.ColumnIndexes(con.Columns)
		if err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(image))
		for _, row := range image {
			vals, key, hasNull := tuple(row.Values, idxs)
			if hasNull {
				continue
			}
			if _, dup := seen[key]; dup {
				return violation(table, con, vals)
			}
			seen[key] = struct{}{}
		}
	}
	return nil
}

// orphan reports the first child row whose foreign key tuple has no match in
// the parent rows. Tuples with a NULL component are not checked.
func orphan(child *catalog.Table, fk catalog.Constraint, childRows []storage.Row, parent *catalog.Table, parentRows []storage.Row) error {
	childIdxs, err := child.ColumnIndexes(fk.Columns)
	if err != nil {
		return err
	}
	parentIdxs, err := parent.ColumnIndexes(fk.RefColumns)
	if err != nil {
		return err
	}
	var keys map[string]struct{}
	for _, row := range childRows {
		vals, key, hasNull := tuple(row.Values, childIdxs)
		if hasNull {
			continue
		}
		if keys == nil {
			keys = make(map[string]struct{}, len(parentRows))
			for _, p := range parentRows {
				if _, pk, null := tuple(p.Values, parentIdxs); !null {
					keys[pk] = struct{}{}
				}
			}
		}
		if _, ok := keys[key]; !ok {
			return violation(child, fk, vals)
		}
	}
	return nil
}

// view returns the rows of table id as constraint checks see them: image for
// the table being modified, else tx's working copy or the last committed rows.
func view(tx *txn.Transaction, id storage.TableID, self *catalog.Table, image []storage.Row) ([]storage.Row, error) {
	if id == self.ID {
		return image, nil
	}
	return tx.ReadLatest(id)
}

func deferred(tx *txn.Transaction, fk catalog.Constraint) bool {
	return fk.Deferrable || tx.Deferred()
}

// checkOutgoing verifies that changed rows of table reference existing
// parents. image is the table's full post-statement row image.
func (e *Executor) checkOutgoing(tx *txn.Transaction, table *catalog.Table, changed, image []storage.Row, all bool) error {
	for _, fk := range table.ConstraintsOf(catalog.ConstraintForeignKey) {
		if !all && deferred(tx, fk) {
			continue
		}
		parent, err := e.catalog.Lookup(fk.RefTable)
		if err != nil {
			return err
		}
		parentRows, err := view(tx, parent.ID, table, image)
		if err != nil {
			return err
		}
		if err := orphan(table, fk, changed, parent, parentRows); err != nil {
			return err
		}
	}
	return nil
}

// checkIncoming verifies that no foreign key pointing at table is left
// dangling by its post-statement image (RESTRICT on delete and update).
func (e *Executor) checkIncoming(tx *txn.Transaction, table *catalog.Table, image []storage.Row, all bool) error {
	for _, ref := range e.catalog.Referencing(table.Name) {
		if !all && deferred(tx, ref.Constraint) {
			continue
		}
		child, err := e.catalog.Lookup(ref.Table)
		if err != nil {
			return err
		}
		childRows, err := view(tx, child.ID, table, image)
		if err != nil {
			return err
		}
		if err := orphan(child, ref.Constraint, childRows, table, image); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCommit re-checks every foreign key touching a table the
// transaction wrote, against its working copies and the last committed
// state. It covers deferred constraints and writers racing on different
// tables of one relationship.
func (e *Executor) ValidateCommit(tx *txn.Transaction) error {
	for _, id := range tx.Written() {
		table, err := e.catalog.LookupID(id)
		if err != nil {
			continue
		}
		image, err := tx.ReadLatest(id)
		if err != nil {
			return err
		}
		if err := e.checkOutgoing(tx, table, image, image, true); err != nil {
			return err
		}
		if err := e.checkIncoming(tx, table, image, true); err != nil {
			return err
		}
	}
	return nil
}
