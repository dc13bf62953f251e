package storage

import "math"

// Latest selects the most recent committed version in Snapshot.
const Latest = math.MaxUint64

// Snapshot is an immutable point-in-time view of a table's rows.
type Snapshot struct {
	table TableID
	epoch uint64
	width int
	rows  []Row
}

// Table returns the heap the snapshot was taken from.
func (s *Snapshot) Table() TableID { return s.table }

// Epoch returns the commit epoch of the captured version.
func (s *Snapshot) Epoch() uint64 { return s.epoch }

// Width returns the number of columns per row.
func (s *Snapshot) Width() int { return s.width }

// Len returns the number of rows captured.
func (s *Snapshot) Len() int { return len(s.rows) }

// Rows returns a private copy of the captured rows.
func (s *Snapshot) Rows() []Row {
	return CloneRows(s.rows)
}

// Iterator returns a lazy, restartable cursor over the snapshot.
func (s *Snapshot) Iterator() *Iterator {
	return NewIterator(s.rows)
}

// Iterator walks a fixed row slice. It is finite and can be rewound any
// number of times; rows it yields must not be modified.
type Iterator struct {
	rows []Row
	pos  int
}

// NewIterator wraps rows in an iterator.
func NewIterator(rows []Row) *Iterator {
	return &Iterator{rows: rows}
}

// Next returns the next row, or ok=false when exhausted.
func (it *Iterator) Next() (Row, bool) {
	if it.pos >= len(it.rows) {
		return Row{}, false
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true
}

// Rewind restarts iteration from the first row.
func (it *Iterator) Rewind() {
	it.pos = 0
}
