package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/example/basalt/internal/catalog"
	"github.com/example/basalt/internal/config"
	"github.com/example/basalt/internal/exec"
	"github.com/example/basalt/internal/logging"
	"github.com/example/basalt/internal/sql/expr"
	"github.com/example/basalt/internal/storage"
	"github.com/example/basalt/internal/txn"
)

// ErrClosed is returned by every operation on a closed database or session.
var ErrClosed = errors.New("api: database closed")

// Database provides a public façade over the Basalt engine. It owns the row
// store, catalog and transaction machinery and hands out sessions.
type Database struct {
	cfg      *config.Config
	storage  *storage.Manager
	catalog  *catalog.Catalog
	executor *exec.Executor
	locks    *txn.LockManager
	txns     *txn.Manager
	log      *slog.Logger

	mu       sync.Mutex
	closed   bool
	sessions map[uuid.UUID]*Session
}

// Open creates an empty in-memory database. A nil cfg uses the defaults and
// a nil logger uses the process logger.
func Open(cfg *config.Config, logger *slog.Logger) (*Database, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if cfg.LockTimeout < 0 {
		return nil, fmt.Errorf("api: negative lock timeout %s", cfg.Timeout())
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	mgr := storage.NewManager()
	cat := catalog.New(mgr, logger)
	locks := txn.NewLockManager(cfg.Timeout())
	txns := txn.NewManager(mgr, locks, logger)
	db := &Database{
		cfg:      cfg,
		storage:  mgr,
		catalog:  cat,
		executor: exec.New(cat, mgr, txns, logger),
		locks:    locks,
		txns:     txns,
		log:      logger.With("component", "api"),
		sessions: make(map[uuid.UUID]*Session),
	}
	db.log.Info("database opened", "lock_timeout", cfg.Timeout(), "deferred_constraints", cfg.DeferredConstraints)
	return db, nil
}

// Close rolls back every open session transaction and rejects further use.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	sessions := make([]*Session, 0, len(db.sessions))
	for _, s := range db.sessions {
		sessions = append(sessions, s)
	}
	db.sessions = make(map[uuid.UUID]*Session)
	db.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.abandon(); err != nil {
			errs = append(errs, err)
		}
	}
	db.log.Info("database closed", "sessions", len(sessions))
	return errors.Join(errs...)
}

func (db *Database) check() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return nil
}

// Session opens a new session. Each session runs at most one explicit
// transaction at a time; statements outside one autocommit.
func (db *Database) Session() (*Session, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	s := &Session{id: uuid.New(), db: db}
	db.sessions[s.id] = s
	db.log.Debug("session opened", "session_id", s.id.String())
	return s, nil
}

// Sessions reports how many sessions are open.
func (db *Database) Sessions() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.sessions)
}

// Tables returns copies of table metadata for inspection.
func (db *Database) Tables() ([]*catalog.Table, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	return db.catalog.ListTables(), nil
}

// Config returns the configuration the database was opened with.
func (db *Database) Config() *config.Config {
	return db.cfg
}

// Session is one client's connection to the database.
type Session struct {
	id uuid.UUID
	db *Database

	mu     sync.Mutex
	tx     *txn.Transaction
	closed bool
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// InTransaction reports whether an explicit transaction is open, including
// one that was aborted by a failed statement and awaits ROLLBACK.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// Transaction returns the session's explicit transaction, if any.
func (s *Session) Transaction() *txn.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx
}

func (s *Session) checkOpen() error {
	if s.closed {
		return ErrClosed
	}
	return s.db.check()
}

func (s *Session) options(opts txn.Options) txn.Options {
	opts.Deferred = opts.Deferred || s.db.cfg.DeferredConstraints
	return opts
}

// Begin starts an explicit transaction.
func (s *Session) Begin(opts txn.Options) (*exec.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.tx != nil {
		return nil, fmt.Errorf("%w: transaction %d", txn.ErrTransactionAlreadyActive, s.tx.ID())
	}
	opts.Autocommit = false
	s.tx = s.db.txns.Begin(s.options(opts))
	return &exec.Result{Message: "Transaction started"}, nil
}

// Commit validates and publishes the explicit transaction. The session
// leaves transaction mode whether or not the commit succeeds.
func (s *Session) Commit() (*exec.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.tx == nil {
		return nil, fmt.Errorf("%w: no transaction in progress", txn.ErrInvalidTransactionState)
	}
	tx := s.tx
	s.tx = nil
	if err := s.db.txns.Commit(tx.ID()); err != nil {
		return nil, err
	}
	return &exec.Result{Message: "Transaction committed"}, nil
}

// Rollback discards the explicit transaction. Rolling back a transaction a
// failed statement already aborted reports ErrInvalidTransactionState and
// still leaves transaction mode.
func (s *Session) Rollback() (*exec.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.tx == nil {
		return nil, fmt.Errorf("%w: no transaction in progress", txn.ErrInvalidTransactionState)
	}
	tx := s.tx
	s.tx = nil
	if err := s.db.txns.Rollback(tx.ID()); err != nil {
		return nil, err
	}
	return &exec.Result{Message: "Transaction rolled back"}, nil
}

// Close rolls back any open transaction and detaches the session.
func (s *Session) Close() error {
	s.db.mu.Lock()
	delete(s.db.sessions, s.id)
	s.db.mu.Unlock()
	return s.abandon()
}

func (s *Session) abandon() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	tx := s.tx
	s.tx = nil
	if tx == nil || tx.State() != txn.StateActive {
		return nil
	}
	return s.db.txns.Rollback(tx.ID())
}

// write runs fn inside the explicit transaction or, outside one, inside a
// single-statement transaction that commits on success.
func (s *Session) write(fn func(tx *txn.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.tx != nil {
		return fn(s.tx)
	}
	tx := s.db.txns.Begin(s.options(txn.Options{Autocommit: true}))
	if err := fn(tx); err != nil {
		if tx.State() == txn.StateActive {
			if rbErr := s.db.txns.Rollback(tx.ID()); rbErr != nil {
				return fmt.Errorf("api: rollback failed after error: %v (original: %w)", rbErr, err)
			}
		}
		return err
	}
	return s.db.txns.Commit(tx.ID())
}

// ddl runs fn with the explicit transaction, or nil outside one.
func (s *Session) ddl(fn func(tx *txn.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return fn(s.tx)
}

// CreateTable registers a table.
func (s *Session) CreateTable(name string, columns []catalog.Column, constraints ...catalog.Constraint) (*exec.Result, error) {
	var res *exec.Result
	err := s.ddl(func(*txn.Transaction) error {
		var err error
		res, err = s.db.executor.CreateTable(name, columns, constraints)
		return err
	})
	return res, err
}

// DropTable removes a table that no other table references.
func (s *Session) DropTable(ctx context.Context, name string) (*exec.Result, error) {
	var res *exec.Result
	err := s.ddl(func(tx *txn.Transaction) error {
		var err error
		res, err = s.db.executor.DropTable(ctx, tx, name)
		return err
	})
	return res, err
}

// AlterAddColumn appends a column to a table.
func (s *Session) AlterAddColumn(ctx context.Context, name string, column catalog.Column) (*exec.Result, error) {
	var res *exec.Result
	err := s.ddl(func(tx *txn.Transaction) error {
		var err error
		res, err = s.db.executor.AlterAddColumn(ctx, tx, name, column)
		return err
	})
	return res, err
}

// Insert adds one row given in schema order.
func (s *Session) Insert(ctx context.Context, table string, values ...interface{}) (*exec.Result, error) {
	err := s.write(func(tx *txn.Transaction) error {
		_, err := s.db.executor.Insert(ctx, tx, table, values)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &exec.Result{RowsAffected: 1, Message: "1 row(s) inserted"}, nil
}

// InsertNamed adds one row given by column name; omitted columns are NULL.
func (s *Session) InsertNamed(ctx context.Context, table string, values map[string]interface{}) (*exec.Result, error) {
	err := s.write(func(tx *txn.Transaction) error {
		_, err := s.db.executor.InsertNamed(ctx, tx, table, values)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &exec.Result{RowsAffected: 1, Message: "1 row(s) inserted"}, nil
}

// Update applies assignments to the matching rows.
func (s *Session) Update(ctx context.Context, table string, where expr.Expr, set ...exec.Assignment) (*exec.Result, error) {
	var n int
	err := s.write(func(tx *txn.Transaction) error {
		var err error
		n, err = s.db.executor.Update(ctx, tx, table, where, set)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &exec.Result{RowsAffected: n, Message: fmt.Sprintf("%d row(s) updated", n)}, nil
}

// Delete removes the matching rows.
func (s *Session) Delete(ctx context.Context, table string, where expr.Expr) (*exec.Result, error) {
	var n int
	err := s.write(func(tx *txn.Transaction) error {
		var err error
		n, err = s.db.executor.Delete(ctx, tx, table, where)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &exec.Result{RowsAffected: n, Message: fmt.Sprintf("%d row(s) deleted", n)}, nil
}

// Select evaluates q inside the explicit transaction or, outside one,
// against the last committed state.
func (s *Session) Select(q *exec.Query) (*exec.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.db.executor.Select(s.tx, q)
}
