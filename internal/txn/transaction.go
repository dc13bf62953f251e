package txn

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/basalt/internal/storage"
)

// ID uniquely identifies a transaction.
type ID uint64

// State represents the lifecycle state of a transaction.
type State int

const (
	// StateActive indicates the transaction is currently running.
	StateActive State = iota
	// StateCommitted indicates the transaction has been committed.
	StateCommitted
	// StateAborted indicates the transaction was rolled back, explicitly or
	// because one of its statements failed.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Options adjust a transaction at BEGIN.
type Options struct {
	// Deferred postpones every foreign key existence check to COMMIT.
	Deferred bool
	// Autocommit marks a transaction wrapping a single statement.
	Autocommit bool
}

// ChangeKind classifies an entry of the pending mutation log.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "INSERT"
	case ChangeUpdate:
		return "UPDATE"
	case ChangeDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Change is one row mutation recorded in the pending log.
type Change struct {
	Kind  ChangeKind
	Table storage.TableID
	Row   storage.RowID
}

// Transaction represents a unit of work executed against the database. Its
// mutations land in per-table working copies that only it can see until
// COMMIT publishes them.
type Transaction struct {
	mu        sync.Mutex
	id        ID
	state     State
	opts      Options
	epoch     uint64
	startTime time.Time
	mgr       *Manager
	locks     []Resource
	working   map[storage.TableID]*WorkingSet
	changes   []Change
}

func newTransaction(id ID, epoch uint64, opts Options, mgr *Manager) *Transaction {
	return &Transaction{
		id:        id,
		state:     StateActive,
		opts:      opts,
		epoch:     epoch,
		startTime: time.Now(),
		mgr:       mgr,
		working:   make(map[storage.TableID]*WorkingSet),
	}
}

// ID returns the identifier of the transaction.
func (tx *Transaction) ID() ID {
	return tx.id
}

// State returns the current lifecycle state of the transaction.
func (tx *Transaction) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

func (tx *Transaction) setState(state State) {
	tx.mu.Lock()
	tx.state = state
	tx.mu.Unlock()
}

// Epoch is the commit epoch the transaction's snapshot was taken at.
func (tx *Transaction) Epoch() uint64 {
	return tx.epoch
}

// Options returns the options the transaction was begun with.
func (tx *Transaction) Options() Options {
	return tx.opts
}

// Deferred reports whether foreign key checks wait until COMMIT.
func (tx *Transaction) Deferred() bool {
	return tx.opts.Deferred
}

// Autocommit reports whether the transaction wraps a single statement.
func (tx *Transaction) Autocommit() bool {
	return tx.opts.Autocommit
}

// StartTime returns the timestamp when the transaction began.
func (tx *Transaction) StartTime() time.Time {
	return tx.startTime
}

func (tx *Transaction) checkActive() error {
	if tx.state != StateActive {
		return fmt.Errorf("%w: transaction %d is %s", ErrInvalidTransactionState, tx.id, tx.state)
	}
	return nil
}

func (tx *Transaction) recordLock(res Resource) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for _, held := range tx.locks {
		if held.ID == res.ID {
			return
		}
	}
	tx.locks = append(tx.locks, res)
}

// Locks returns the write intents held by the transaction.
func (tx *Transaction) Locks() []Resource {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if len(tx.locks) == 0 {
		return nil
	}
	out := make([]Resource, len(tx.locks))
	copy(out, tx.locks)
	return out
}

// Read returns the rows of a table as this transaction sees them: its own
// working copy when it has written the table, otherwise the committed state
// at BEGIN.
func (tx *Transaction) Read(table storage.TableID) ([]storage.Row, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	if ws, ok := tx.working[table]; ok {
		return storage.CloneRows(ws.snapshot()), nil
	}
	snap, err := tx.mgr.store.Snapshot(table, tx.epoch)
	if err != nil {
		return nil, err
	}
	return snap.Rows(), nil
}

// Scan returns a restartable cursor over the rows Read would return without
// copying them. The rows are shared with storage and must not be modified.
func (tx *Transaction) Scan(table storage.TableID) (*storage.Iterator, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	if ws, ok := tx.working[table]; ok {
		return storage.NewIterator(ws.snapshot()), nil
	}
	snap, err := tx.mgr.store.Snapshot(table, tx.epoch)
	if err != nil {
		return nil, err
	}
	return snap.Iterator(), nil
}

// ReadLatest returns the transaction's working copy of a table or, if it has
// not written the table, the last committed rows. Constraint checks read
// through this view; row values are shared and must not be modified.
func (tx *Transaction) ReadLatest(table storage.TableID) ([]storage.Row, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	if ws, ok := tx.working[table]; ok {
		return ws.snapshot(), nil
	}
	snap, err := tx.mgr.store.Snapshot(table, storage.Latest)
	if err != nil {
		return nil, err
	}
	return snap.Rows(), nil
}

// Write acquires the table's write intent and returns the transaction's
// working copy of it, seeded from the last committed rows on first use.
func (tx *Transaction) Write(ctx context.Context, res Resource) (*WorkingSet, error) {
	if err := tx.Lock(ctx, res); err != nil {
		return nil, err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	if ws, ok := tx.working[res.ID]; ok {
		return ws, nil
	}
	snap, err := tx.mgr.store.Snapshot(res.ID, storage.Latest)
	if err != nil {
		return nil, err
	}
	ws := newWorkingSet(tx, res, snap.Rows())
	tx.working[res.ID] = ws
	return ws, nil
}

// Lock acquires write intents for the given tables in registration order
// without touching their rows.
func (tx *Transaction) Lock(ctx context.Context, resources ...Resource) error {
	if err := func() error {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		return tx.checkActive()
	}(); err != nil {
		return err
	}
	return tx.mgr.locks.AcquireAll(ctx, tx, resources...)
}

// Written lists the tables the transaction holds working copies of, in
// registration order.
func (tx *Transaction) Written() []storage.TableID {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	ids := make([]storage.TableID, 0, len(tx.working))
	for id := range tx.working {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Changes returns a copy of the pending mutation log.
func (tx *Transaction) Changes() []Change {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if len(tx.changes) == 0 {
		return nil
	}
	out := make([]Change, len(tx.changes))
	copy(out, tx.changes)
	return out
}

func (tx *Transaction) images() map[storage.TableID][]storage.Row {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	out := make(map[storage.TableID][]storage.Row, len(tx.working))
	for id, ws := range tx.working {
		if ws.dirty {
			out[id] = ws.rows
		}
	}
	return out
}

func (tx *Transaction) discard() {
	tx.mu.Lock()
	tx.working = make(map[storage.TableID]*WorkingSet)
	tx.changes = nil
	tx.locks = nil
	tx.mu.Unlock()
}
