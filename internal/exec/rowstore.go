package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/basalt/internal/catalog"
	"github.com/example/basalt/internal/sql/expr"
	"github.com/example/basalt/internal/storage"
	"github.com/example/basalt/internal/txn"
)

// Assignment sets a column to the value of an expression evaluated against
// the row's current values.
type Assignment struct {
	Column string
	Value  expr.Expr
}

// Set builds an assignment of a constant.
func Set(column string, value interface{}) Assignment {
	return Assignment{Column: column, Value: expr.Lit(value)}
}

func tableScope(table *catalog.Table) *expr.Scope {
	scope := expr.NewScope()
	scope.Add(table.Name, table.Schema.Names())
	return scope
}

// Insert adds a row given positionally in schema order.
func (e *Executor) Insert(ctx context.Context, tx *txn.Transaction, name string, values []interface{}) (storage.RowID, error) {
	table, err := e.catalog.Lookup(name)
	if err != nil {
		return 0, err
	}
	if len(values) != len(table.Schema.Columns) {
		return 0, e.fail(tx, fmt.Errorf("exec: table %s has %d columns but %d values were supplied: %w",
			table.Name, len(table.Schema.Columns), len(values), ErrTypeMismatch))
	}
	return e.insert(ctx, tx, table, values)
}

// InsertNamed adds a row given as column name to value; omitted columns are
// NULL.
func (e *Executor) InsertNamed(ctx context.Context, tx *txn.Transaction, name string, values map[string]interface{}) (storage.RowID, error) {
	table, err := e.catalog.Lookup(name)
	if err != nil {
		return 0, err
	}
	row := make([]interface{}, len(table.Schema.Columns))
	for col, v := range values {
		idx, ok := table.Schema.Index(col)
		if !ok {
			return 0, fmt.Errorf("exec: %w: %s.%s", expr.ErrUnknownColumn, table.Name, col)
		}
		row[idx] = v
	}
	return e.insert(ctx, tx, table, row)
}

func (e *Executor) insert(ctx context.Context, tx *txn.Transaction, table *catalog.Table, raw []interface{}) (storage.RowID, error) {
	if tx == nil {
		return 0, fmt.Errorf("exec: insert into %s requires a transaction", table.Name)
	}
	values := make([]interface{}, len(raw))
	for i, col := range table.Schema.Columns {
		v, err := coerce(col, raw[i])
		if err != nil {
			return 0, e.fail(tx, err)
		}
		values[i] = v
	}
	if err := checkNotNull(table, values); err != nil {
		return 0, e.fail(tx, err)
	}
	ws, err := tx.Write(ctx, resource(table))
	if err != nil {
		return 0, e.fail(tx, err)
	}
	row := storage.Row{Values: values}
	image := append(ws.Rows(), row)
	if err := checkKeys(table, image); err != nil {
		return 0, e.fail(tx, err)
	}
	if err := e.checkOutgoing(tx, table, []storage.Row{row}, image, false); err != nil {
		return 0, e.fail(tx, err)
	}
	return ws.Insert(values)
}

// Update applies assignments to every row for which where is TRUE and
// returns the number of rows changed. All new row images are computed and
// checked before any of them becomes visible.
func (e *Executor) Update(ctx context.Context, tx *txn.Transaction, name string, where expr.Expr, set []Assignment) (int, error) {
	table, err := e.catalog.Lookup(name)
	if err != nil {
		return 0, err
	}
	if tx == nil {
		return 0, fmt.Errorf("exec: update of %s requires a transaction", table.Name)
	}
	scope := tableScope(table)
	pred, err := expr.Bind(where, scope)
	if err != nil {
		return 0, err
	}
	targets := make([]int, len(set))
	values := make([]expr.Expr, len(set))
	for i, a := range set {
		column := a.Column
		if dot := strings.LastIndex(column, "."); dot >= 0 {
			column = column[dot+1:]
		}
		idx, ok := table.Schema.Index(column)
		if !ok {
			return 0, fmt.Errorf("exec: %w: %s.%s", expr.ErrUnknownColumn, table.Name, a.Column)
		}
		targets[i] = idx
		if values[i], err = expr.Bind(a.Value, scope); err != nil {
			return 0, err
		}
	}

	ws, err := tx.Write(ctx, resource(table))
	if err != nil {
		return 0, e.fail(tx, err)
	}
	image := ws.Rows()
	var changed []storage.Row
	var positions []int
	for pos, row := range image {
		truth, err := expr.Evaluate(pred, row.Values)
		if err != nil {
			return 0, e.fail(tx, err)
		}
		if truth != expr.True {
			continue
		}
		next := make([]interface{}, len(row.Values))
		copy(next, row.Values)
		for i, idx := range targets {
			v, err := expr.Value(values[i], row.Values)
			if err != nil {
				return 0, e.fail(tx, err)
			}
			if next[idx], err = coerce(table.Schema.Columns[idx], v); err != nil {
				return 0, e.fail(tx, err)
			}
		}
		if err := checkNotNull(table, next); err != nil {
			return 0, e.fail(tx, err)
		}
		changed = append(changed, storage.Row{ID: row.ID, Values: next})
		positions = append(positions, pos)
	}
	if len(changed) == 0 {
		return 0, nil
	}
	for i, pos := range positions {
		image[pos] = changed[i]
	}
	if err := e.checkImage(tx, table, changed, image); err != nil {
		return 0, e.fail(tx, err)
	}
	for _, row := range changed {
		if err := ws.Update(row.ID, row.Values); err != nil {
			return 0, err
		}
	}
	return len(changed), nil
}

func (e *Executor) checkImage(tx *txn.Transaction, table *catalog.Table, changed, image []storage.Row) error {
	if err := checkKeys(table, image); err != nil {
		return err
	}
	if err := e.checkOutgoing(tx, table, changed, image, false); err != nil {
		return err
	}
	return e.checkIncoming(tx, table, image, false)
}

// Delete removes every row for which where is TRUE and returns the count.
// Rows still referenced by a foreign key are protected (RESTRICT).
func (e *Executor) Delete(ctx context.Context, tx *txn.Transaction, name string, where expr.Expr) (int, error) {
	table, err := e.catalog.Lookup(name)
	if err != nil {
		return 0, err
	}
	if tx == nil {
		return 0, fmt.Errorf("exec: delete from %s requires a transaction", table.Name)
	}
	pred, err := expr.Bind(where, tableScope(table))
	if err != nil {
		return 0, err
	}
	ws, err := tx.Write(ctx, resource(table))
	if err != nil {
		return 0, e.fail(tx, err)
	}
	var doomed []storage.RowID
	var image []storage.Row
	for _, row := range ws.Rows() {
		truth, err := expr.Evaluate(pred, row.Values)
		if err != nil {
			return 0, e.fail(tx, err)
		}
		if truth == expr.True {
			doomed = append(doomed, row.ID)
			continue
		}
		image = append(image, row)
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if err := e.checkIncoming(tx, table, image, false); err != nil {
		return 0, e.fail(tx, err)
	}
	for _, id := range doomed {
		if err := ws.Delete(id); err != nil {
			return 0, err
		}
	}
	return len(doomed), nil
}

// Scan opens a lazy iterator over the rows of a table as tx sees them. The
// snapshot is taken when Scan is called; a nil tx reads the last committed
// state.
func (e *Executor) Scan(tx *txn.Transaction, name string) (RowIterator, error) {
	table, err := e.catalog.Lookup(name)
	if err != nil {
		return nil, err
	}
	rows, err := e.scan(tx, table)
	if err != nil {
		return nil, err
	}
	return newScanIterator(rows, len(table.Schema.Columns)), nil
}
