package storage

// version is an immutable image of a table's rows as of a commit epoch.
// Published slices are never written again; writers build a fresh slice.
type version struct {
	epoch uint64
	rows  []Row
}

// Heap holds the committed versions of one table, oldest first.
type Heap struct {
	id       TableID
	width    int
	versions []version
	nextRow  RowID
}

func newHeap(id TableID, width int) *Heap {
	return &Heap{
		id:       id,
		width:    width,
		versions: []version{{epoch: 0, rows: nil}},
		nextRow:  1,
	}
}

// latest returns the newest committed version.
func (h *Heap) latest() version {
	return h.versions[len(h.versions)-1]
}

// at returns the newest version visible at the given epoch.
func (h *Heap) at(epoch uint64) version {
	for i := len(h.versions) - 1; i >= 0; i-- {
		if h.versions[i].epoch <= epoch {
			return h.versions[i]
		}
	}
	return h.versions[0]
}

func (h *Heap) publish(epoch uint64, rows []Row) {
	h.versions = append(h.versions, version{epoch: epoch, rows: rows})
}

// prune discards versions no reader at or after minEpoch can observe.
func (h *Heap) prune(minEpoch uint64) int {
	keep := len(h.versions) - 1
	for i := len(h.versions) - 1; i >= 0; i-- {
		if h.versions[i].epoch <= minEpoch {
			keep = i
			break
		}
	}
	if keep <= 0 {
		return 0
	}
	h.versions = append([]version(nil), h.versions[keep:]...)
	return keep
}

// widen appends a NULL column to every row of every retained version.
func (h *Heap) widen() {
	for i, v := range h.versions {
		rows := make([]Row, len(v.rows))
		for j, row := range v.rows {
			values := make([]interface{}, len(row.Values)+1)
			copy(values, row.Values)
			rows[j] = Row{ID: row.ID, Values: values}
		}
		h.versions[i] = version{epoch: v.epoch, rows: rows}
	}
	h.width++
}
