package storage

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrUnknownHeap is returned for operations on a table with no heap.
	ErrUnknownHeap = errors.New("storage: unknown heap")
	// ErrHeapExists is returned when a heap is created twice.
	ErrHeapExists = errors.New("storage: heap already exists")
)

// NoActiveReaders tells Prune that no transaction holds an old snapshot.
const NoActiveReaders = math.MaxUint64

// Manager owns every table's committed row versions. Readers take
// point-in-time snapshots under a shared lock; Publish installs the pending
// images of a committing transaction under the exclusive lock, so a scan
// never observes a partially applied commit.
type Manager struct {
	mu    sync.RWMutex
	heaps map[TableID]*Heap
	epoch uint64
}

// NewManager constructs an empty in-memory store.
func NewManager() *Manager {
	return &Manager{heaps: make(map[TableID]*Heap)}
}

// CreateHeap allocates an empty heap for a newly registered table.
func (m *Manager) CreateHeap(id TableID, width int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.heaps[id]; ok {
		return fmt.Errorf("%w: %d", ErrHeapExists, id)
	}
	m.heaps[id] = newHeap(id, width)
	return nil
}

// DropHeap releases a table's rows.
func (m *Manager) DropHeap(id TableID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.heaps[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHeap, id)
	}
	delete(m.heaps, id)
	return nil
}

// AddColumn extends every stored row of the table with a trailing NULL.
func (m *Manager) AddColumn(id TableID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	heap, ok := m.heaps[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHeap, id)
	}
	heap.widen()
	return nil
}

// Epoch returns the epoch of the most recent commit.
func (m *Manager) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// Snapshot captures the rows of a table visible at epoch. Pass Latest to
// observe the last committed state.
func (m *Manager) Snapshot(id TableID, epoch uint64) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	heap, ok := m.heaps[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHeap, id)
	}
	v := heap.latest()
	if epoch != Latest {
		v = heap.at(epoch)
	}
	return &Snapshot{table: id, epoch: v.epoch, width: heap.width, rows: v.rows}, nil
}

// AllocateRowID reserves the next row identifier of a table.
func (m *Manager) AllocateRowID(id TableID) (RowID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	heap, ok := m.heaps[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownHeap, id)
	}
	rid := heap.nextRow
	heap.nextRow++
	return rid, nil
}

// Publish atomically installs new row images for the given tables as one
// commit and returns the new epoch. Either every table is updated or none.
func (m *Manager) Publish(images map[TableID][]Row) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range images {
		if _, ok := m.heaps[id]; !ok {
			return 0, fmt.Errorf("%w: %d", ErrUnknownHeap, id)
		}
	}
	if len(images) == 0 {
		return m.epoch, nil
	}
	m.epoch++
	for id, rows := range images {
		m.heaps[id].publish(m.epoch, rows)
	}
	return m.epoch, nil
}

// Prune drops versions older than the newest one visible at minEpoch and
// reports how many were released.
func (m *Manager) Prune(minEpoch uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	released := 0
	for _, heap := range m.heaps {
		released += heap.prune(minEpoch)
	}
	return released
}

// RowCount reports the number of committed rows in a table.
func (m *Manager) RowCount(id TableID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	heap, ok := m.heaps[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownHeap, id)
	}
	return len(heap.latest().rows), nil
}
