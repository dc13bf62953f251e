package txn

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/basalt/internal/logging"
	"github.com/example/basalt/internal/storage"
)

var (
	// ErrInvalidTransactionState indicates an operation on a transaction that
	// is no longer active.
	ErrInvalidTransactionState = errors.New("txn: invalid transaction state")
	// ErrTransactionAlreadyActive indicates BEGIN was issued while the
	// session already had an active transaction.
	ErrTransactionAlreadyActive = errors.New("txn: transaction already active")
)

// Validator re-checks integrity constraints of a committing transaction
// against its working copies and the last committed state. It runs while the
// commit mutex is held, so the committed state cannot move underneath it.
type Validator interface {
	ValidateCommit(tx *Transaction) error
}

// Manager coordinates transaction lifecycles.
type Manager struct {
	mu        sync.Mutex
	commitMu  sync.Mutex
	nextID    ID
	active    map[ID]*Transaction
	store     *storage.Manager
	locks     *LockManager
	validator Validator
	log       *slog.Logger
}

// NewManager constructs a Manager publishing into store and serializing
// writers through locks.
func NewManager(store *storage.Manager, locks *LockManager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Manager{
		nextID: 1,
		active: make(map[ID]*Transaction),
		store:  store,
		locks:  locks,
		log:    logger.With("component", "txn"),
	}
}

// SetValidator installs the commit-time constraint validator.
func (m *Manager) SetValidator(v Validator) {
	m.mu.Lock()
	m.validator = v
	m.mu.Unlock()
}

// Locks returns the lock manager handing out write intents.
func (m *Manager) Locks() *LockManager {
	return m.locks
}

// Begin starts a new transaction whose snapshot is the last committed epoch.
func (m *Manager) Begin(opts Options) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	tx := newTransaction(id, m.store.Epoch(), opts, m)
	m.active[id] = tx
	logging.WithTxn(m.log, uint64(id)).Debug("txn begin", "epoch", tx.epoch, "deferred", opts.Deferred, "autocommit", opts.Autocommit)
	return tx
}

// Commit validates the transaction's constraints and atomically publishes
// its working copies. A validation failure aborts the transaction and is
// returned to the caller.
func (m *Manager) Commit(id ID) error {
	tx, err := m.lookupActive(id)
	if err != nil {
		return err
	}
	m.commitMu.Lock()
	epoch, err := m.publish(tx)
	m.commitMu.Unlock()
	if err != nil {
		m.finish(tx, StateAborted)
		logging.WithTxn(m.log, uint64(id)).Warn("txn aborted at commit", "error", err)
		return err
	}
	m.finish(tx, StateCommitted)
	logging.WithTxn(m.log, uint64(id)).Debug("txn commit", "epoch", epoch)
	return nil
}

func (m *Manager) publish(tx *Transaction) (uint64, error) {
	m.mu.Lock()
	validator := m.validator
	m.mu.Unlock()
	if validator != nil {
		if err := validator.ValidateCommit(tx); err != nil {
			return 0, err
		}
	}
	epoch, err := m.store.Publish(tx.images())
	if err != nil {
		return 0, fmt.Errorf("txn: publish transaction %d: %w", tx.id, err)
	}
	return epoch, nil
}

// Rollback discards the transaction's pending changes.
func (m *Manager) Rollback(id ID) error {
	tx, err := m.lookupActive(id)
	if err != nil {
		return err
	}
	discarded := len(tx.Changes())
	m.finish(tx, StateAborted)
	logging.WithTxn(m.log, uint64(id)).Debug("txn rollback", "discarded", discarded)
	return nil
}

// Abort ends an active transaction because one of its statements failed.
// The cause is logged; the committed state is untouched.
func (m *Manager) Abort(id ID, cause error) {
	tx, err := m.lookupActive(id)
	if err != nil {
		return
	}
	m.finish(tx, StateAborted)
	logging.WithTxn(m.log, uint64(id)).Warn("txn aborted", "error", cause)
}

// Lookup returns the active transaction for the given identifier.
func (m *Manager) Lookup(id ID) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.active[id]
	return tx, ok
}

// Active reports how many transactions are running.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) lookupActive(id ID) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.active[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %d is not active", ErrInvalidTransactionState, id)
	}
	return tx, nil
}

// finish retires the transaction, releases its intents and lets storage drop
// versions no remaining transaction can read.
func (m *Manager) finish(tx *Transaction, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[tx.id]; !ok {
		return
	}
	delete(m.active, tx.id)
	tx.setState(state)
	tx.discard()
	m.locks.ReleaseAll(tx.id)

	oldest := uint64(storage.NoActiveReaders)
	for _, other := range m.active {
		if other.epoch < oldest {
			oldest = other.epoch
		}
	}
	if released := m.store.Prune(oldest); released > 0 {
		m.log.Debug("pruned row versions", "released", released, "oldest_epoch", oldest)
	}
}
