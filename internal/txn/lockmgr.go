package txn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/basalt/internal/storage"
)

// Resource identifies a table write intent. ID orders intents by catalog
// registration; Name is kept for diagnostics.
type Resource struct {
	ID   storage.TableID
	Name string
}

// TableResource constructs a table write intent resource.
func TableResource(id storage.TableID, name string) Resource {
	return Resource{ID: id, Name: name}
}

func (r Resource) String() string {
	return fmt.Sprintf("table %s", r.Name)
}

// LockTimeoutError indicates a write intent request timed out.
type LockTimeoutError struct {
	Resource Resource
	Holder   ID
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("txn: lock timeout on %s held by transaction %d", e.Resource, e.Holder)
}

// ErrLockOrder is wrapped by every *LockOrderError.
var ErrLockOrder = errors.New("txn: write intent out of registration order")

// LockOrderError reports a request for a busy intent on a table registered
// before one the transaction already holds. Waiting could close a cycle, so
// the request fails at once.
type LockOrderError struct {
	Resource Resource
	Holder   ID
	Held     Resource
}

func (e *LockOrderError) Error() string {
	return fmt.Sprintf("txn: %s held by transaction %d precedes held %s", e.Resource, e.Holder, e.Held)
}

func (e *LockOrderError) Unwrap() error {
	return ErrLockOrder
}

// ErrTxnRequired indicates Acquire was invoked without a transaction context.
var ErrTxnRequired = errors.New("txn: lock requires active transaction")

// LockManager hands out exclusive table write intents. A second writer on the
// same table waits until the holder commits or rolls back.
type LockManager struct {
	mu      sync.Mutex
	owners  map[storage.TableID]ID
	held    map[ID]map[storage.TableID]Resource
	timeout time.Duration
}

// NewLockManager creates a lock manager. A zero timeout waits until the
// holder finishes or the caller's context is done.
func NewLockManager(timeout time.Duration) *LockManager {
	if timeout < 0 {
		timeout = 0
	}
	return &LockManager{
		owners:  make(map[storage.TableID]ID),
		held:    make(map[ID]map[storage.TableID]Resource),
		timeout: timeout,
	}
}

// Acquire requests the write intent for the transaction, blocking until it is
// granted, the timeout expires or ctx is done. Re-acquiring a held intent is
// a no-op. A transaction only waits for intents registered after every intent
// it holds; a busy intent out of that order fails with *LockOrderError.
func (lm *LockManager) Acquire(ctx context.Context, tx *Transaction, res Resource) error {
	if tx == nil {
		return ErrTxnRequired
	}
	var deadline time.Time
	if lm.timeout > 0 {
		deadline = time.Now().Add(lm.timeout)
	}
	for {
		holder, ok, later := lm.tryAcquire(tx.id, res)
		if ok {
			tx.recordLock(res)
			return nil
		}
		if later != nil {
			return &LockOrderError{Resource: res, Holder: holder, Held: *later}
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return &LockTimeoutError{Resource: res, Holder: holder}
		}
		timer := time.NewTimer(lm.backoff(deadline))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("txn: waiting for %s: %w", res, ctx.Err())
		case <-timer.C:
		}
	}
}

// AcquireAll takes every intent in catalog registration order so that
// multi-table writers cannot wait on each other in a cycle.
func (lm *LockManager) AcquireAll(ctx context.Context, tx *Transaction, resources ...Resource) error {
	ordered := make([]Resource, len(resources))
	copy(ordered, resources)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	for _, res := range ordered {
		if err := lm.Acquire(ctx, tx, res); err != nil {
			return err
		}
	}
	return nil
}

// tryAcquire grants res when it is free. Otherwise it returns the owner and,
// when id already holds an intent registered after res, that intent.
func (lm *LockManager) tryAcquire(id ID, res Resource) (ID, bool, *Resource) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if owner, taken := lm.owners[res.ID]; taken {
		if owner == id {
			return owner, true, nil
		}
		var later *Resource
		for table, held := range lm.held[id] {
			if table > res.ID && (later == nil || table > later.ID) {
				held := held
				later = &held
			}
		}
		return owner, false, later
	}
	lm.owners[res.ID] = id
	resources, ok := lm.held[id]
	if !ok {
		resources = make(map[storage.TableID]Resource)
		lm.held[id] = resources
	}
	resources[res.ID] = res
	return id, true, nil
}

// Holder reports which transaction owns the table's intent, if any.
func (lm *LockManager) Holder(table storage.TableID) (ID, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	id, ok := lm.owners[table]
	return id, ok
}

func (lm *LockManager) backoff(deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return 20 * time.Millisecond
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0
	}
	slice := remaining / 10
	if slice < 5*time.Millisecond {
		return 5 * time.Millisecond
	}
	if slice > 50*time.Millisecond {
		return 50 * time.Millisecond
	}
	return slice
}

// ReleaseAll frees all intents held by the specified transaction.
func (lm *LockManager) ReleaseAll(id ID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for table := range lm.held[id] {
		if lm.owners[table] == id {
			delete(lm.owners, table)
		}
	}
	delete(lm.held, id)
}
