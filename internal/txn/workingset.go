package txn

import (
	"fmt"

	"github.com/example/basalt/internal/storage"
)

// WorkingSet is a transaction-private copy of a table's rows. It is created
// once the transaction holds the table's write intent, so no other writer
// can change the rows it was seeded from.
type WorkingSet struct {
	tx    *Transaction
	table Resource
	rows  []storage.Row
	pos   map[storage.RowID]int
	dirty bool
}

func newWorkingSet(tx *Transaction, table Resource, committed []storage.Row) *WorkingSet {
	ws := &WorkingSet{tx: tx, table: table, rows: committed}
	ws.reindex()
	return ws
}

func (ws *WorkingSet) reindex() {
	ws.pos = make(map[storage.RowID]int, len(ws.rows))
	for i, row := range ws.rows {
		ws.pos[row.ID] = i
	}
}

// Table returns the resource the working set belongs to.
func (ws *WorkingSet) Table() Resource {
	return ws.table
}

// Rows returns the current rows. The slice is a copy; row values must not be
// modified in place.
func (ws *WorkingSet) Rows() []storage.Row {
	ws.tx.mu.Lock()
	defer ws.tx.mu.Unlock()
	return ws.snapshot()
}

func (ws *WorkingSet) snapshot() []storage.Row {
	out := make([]storage.Row, len(ws.rows))
	copy(out, ws.rows)
	return out
}

// Get returns the row with the given identifier.
func (ws *WorkingSet) Get(id storage.RowID) (storage.Row, bool) {
	ws.tx.mu.Lock()
	defer ws.tx.mu.Unlock()
	i, ok := ws.pos[id]
	if !ok {
		return storage.Row{}, false
	}
	return ws.rows[i], true
}

// Insert appends a row and returns its newly allocated identifier.
func (ws *WorkingSet) Insert(values []interface{}) (storage.RowID, error) {
	ws.tx.mu.Lock()
	defer ws.tx.mu.Unlock()
	if err := ws.tx.checkActive(); err != nil {
		return 0, err
	}
	id, err := ws.tx.mgr.store.AllocateRowID(ws.table.ID)
	if err != nil {
		return 0, err
	}
	ws.ensureOwned()
	ws.pos[id] = len(ws.rows)
	ws.rows = append(ws.rows, storage.Row{ID: id, Values: values})
	ws.tx.changes = append(ws.tx.changes, Change{Kind: ChangeInsert, Table: ws.table.ID, Row: id})
	return id, nil
}

// Update replaces the values of an existing row.
func (ws *WorkingSet) Update(id storage.RowID, values []interface{}) error {
	ws.tx.mu.Lock()
	defer ws.tx.mu.Unlock()
	if err := ws.tx.checkActive(); err != nil {
		return err
	}
	i, ok := ws.pos[id]
	if !ok {
		return fmt.Errorf("txn: row %d not found in %s", id, ws.table)
	}
	ws.ensureOwned()
	ws.rows[i] = storage.Row{ID: id, Values: values}
	ws.tx.changes = append(ws.tx.changes, Change{Kind: ChangeUpdate, Table: ws.table.ID, Row: id})
	return nil
}

// Delete removes a row.
func (ws *WorkingSet) Delete(id storage.RowID) error {
	ws.tx.mu.Lock()
	defer ws.tx.mu.Unlock()
	if err := ws.tx.checkActive(); err != nil {
		return err
	}
	i, ok := ws.pos[id]
	if !ok {
		return fmt.Errorf("txn: row %d not found in %s", id, ws.table)
	}
	rows := make([]storage.Row, 0, len(ws.rows)-1)
	rows = append(rows, ws.rows[:i]...)
	rows = append(rows, ws.rows[i+1:]...)
	ws.rows = rows
	ws.dirty = true
	ws.reindex()
	ws.tx.changes = append(ws.tx.changes, Change{Kind: ChangeDelete, Table: ws.table.ID, Row: id})
	return nil
}

// ensureOwned copies the rows slice on first mutation; until then it is
// shared with the committed version it was seeded from.
func (ws *WorkingSet) ensureOwned() {
	if ws.dirty {
		return
	}
	rows := make([]storage.Row, len(ws.rows), len(ws.rows)+1)
	copy(rows, ws.rows)
	ws.rows = rows
	ws.dirty = true
}

// AddColumn pads every row of the transaction's working copy of table with a
// trailing NULL, keeping it aligned with a widened schema.
func (tx *Transaction) AddColumn(table storage.TableID) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	ws, ok := tx.working[table]
	if !ok {
		return
	}
	rows := make([]storage.Row, len(ws.rows))
	for i, row := range ws.rows {
		values := make([]interface{}, len(row.Values)+1)
		copy(values, row.Values)
		rows[i] = storage.Row{ID: row.ID, Values: values}
	}
	ws.rows = rows
	ws.dirty = true
}

// Forget drops the working copy of a table that no longer exists.
func (tx *Transaction) Forget(table storage.TableID) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	delete(tx.working, table)
}
