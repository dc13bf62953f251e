package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/basalt/internal/catalog"
	"github.com/example/basalt/internal/logging"
	"github.com/example/basalt/internal/sql/expr"
	"github.com/example/basalt/internal/storage"
	"github.com/example/basalt/internal/txn"
)

// Result describes the outcome of executing an operation.
type Result struct {
	Columns      []string
	Rows         [][]interface{}
	RowsAffected int
	Message      string
}

// Strings renders every value of the result for display.
func (r *Result) Strings() [][]string {
	out := make([][]string, len(r.Rows))
	for i, row := range r.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = expr.FormatValue(v)
		}
		out[i] = cells
	}
	return out
}

// Executor evaluates operation descriptors against the catalog and the
// transaction-scoped views of the row store.
type Executor struct {
	catalog *catalog.Catalog
	storage *storage.Manager
	txns    *txn.Manager
	log     *slog.Logger
}

// New creates an executor and installs it as the transaction manager's
// commit-time constraint validator.
func New(cat *catalog.Catalog, mgr *storage.Manager, txns *txn.Manager, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.GetLogger()
	}
	e := &Executor{catalog: cat, storage: mgr, txns: txns, log: logger.With("component", "exec")}
	txns.SetValidator(e)
	return e
}

// Catalog returns the catalog the executor resolves tables against.
func (e *Executor) Catalog() *catalog.Catalog {
	return e.catalog
}

func resource(table *catalog.Table) txn.Resource {
	return txn.TableResource(table.ID, table.Name)
}

// fail aborts tx when err is a constraint violation, a type mismatch or an
// out-of-order intent request and returns err unchanged.
func (e *Executor) fail(tx *txn.Transaction, err error) error {
	if err != nil && tx != nil && aborts(err) {
		e.txns.Abort(tx.ID(), err)
	}
	return err
}

// withIntent runs fn while tx holds the table's write intent. A nil tx runs
// fn in a transaction of its own.
func (e *Executor) withIntent(ctx context.Context, tx *txn.Transaction, table *catalog.Table, fn func(*txn.Transaction) error) error {
	own := tx == nil
	if own {
		tx = e.txns.Begin(txn.Options{Autocommit: true})
	}
	err := e.fail(tx, tx.Lock(ctx, resource(table)))
	if err == nil {
		err = fn(tx)
	}
	if !own {
		return err
	}
	if err != nil {
		if rbErr := e.txns.Rollback(tx.ID()); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return e.txns.Commit(tx.ID())
}

// CreateTable registers a table.
func (e *Executor) CreateTable(name string, columns []catalog.Column, constraints []catalog.Constraint) (*Result, error) {
	table, err := e.catalog.CreateTable(name, columns, constraints)
	if err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("Table %s created", table.Name)}, nil
}

// DropTable removes a table once no writer holds its intent. Inside a
// transaction the intent is taken by tx and any pending rows for the table
// are discarded along with it.
func (e *Executor) DropTable(ctx context.Context, tx *txn.Transaction, name string) (*Result, error) {
	table, err := e.catalog.Lookup(name)
	if err != nil {
		return nil, err
	}
	err = e.withIntent(ctx, tx, table, func(t *txn.Transaction) error {
		if err := e.catalog.DropTable(table.Name); err != nil {
			return err
		}
		t.Forget(table.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("Table %s dropped", table.Name)}, nil
}

// AlterAddColumn appends a column; existing rows read NULL for it.
func (e *Executor) AlterAddColumn(ctx context.Context, tx *txn.Transaction, name string, column catalog.Column) (*Result, error) {
	table, err := e.catalog.Lookup(name)
	if err != nil {
		return nil, err
	}
	err = e.withIntent(ctx, tx, table, func(t *txn.Transaction) error {
		if column.NotNull {
			pending, err := t.ReadLatest(table.ID)
			if err != nil {
				return err
			}
			if len(pending) > 0 {
				return fmt.Errorf("%w: column %s cannot be NOT NULL on non-empty table %s", catalog.ErrInvalidDefinition, column.Name, table.Name)
			}
		}
		if _, err := e.catalog.AlterAddColumn(table.Name, column); err != nil {
			return err
		}
		t.AddColumn(table.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("Table %s altered", table.Name)}, nil
}

// scan opens a cursor over the rows of a table visible to tx, or the last
// committed rows when tx is nil.
func (e *Executor) scan(tx *txn.Transaction, table *catalog.Table) (*storage.Iterator, error) {
	var (
		rows *storage.Iterator
		err  error
	)
	if tx == nil {
		var snap *storage.Snapshot
		snap, err = e.storage.Snapshot(table.ID, storage.Latest)
		if err == nil {
			rows = snap.Iterator()
		}
	} else {
		rows, err = tx.Scan(table.ID)
	}
	if errors.Is(err, storage.ErrUnknownHeap) {
		return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownTable, table.Name)
	}
	return rows, err
}
