package exec_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/basalt/internal/catalog"
	"github.com/example/basalt/internal/exec"
	"github.com/example/basalt/internal/logging"
	"github.com/example/basalt/internal/storage"
	"github.com/example/basalt/internal/txn"
)

type fixture struct {
	store *storage.Manager
	cat   *catalog.Catalog
	txns  *txn.Manager
	exec  *exec.Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.Discard()
	store := storage.NewManager()
	cat := catalog.New(store, log)
	txns := txn.NewManager(store, txn.NewLockManager(0), log)
	return &fixture{store: store, cat: cat, txns: txns, exec: exec.New(cat, store, txns, log)}
}

// autocommit runs fn in its own transaction and commits it.
func (f *fixture) autocommit(t *testing.T, fn func(tx *txn.Transaction) error) error {
	t.Helper()
	tx := f.txns.Begin(txn.Options{Autocommit: true})
	if err := fn(tx); err != nil {
		if tx.State() == txn.StateActive {
			require.NoError(t, f.txns.Rollback(tx.ID()))
		}
		return err
	}
	return f.txns.Commit(tx.ID())
}

func (f *fixture) mustInsert(t *testing.T, table string, values ...interface{}) {
	t.Helper()
	err := f.autocommit(t, func(tx *txn.Transaction) error {
		_, err := f.exec.Insert(context.Background(), tx, table, values)
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	tbl, err := f.cat.Lookup(table)
	require.NoError(t, err)
	n, err := f.store.RowCount(tbl.ID)
	require.NoError(t, err)
	return n
}

// seedCompany builds the departments/employees schema used throughout the
// tests: HR and IT staffed, Finance empty, David without a department.
func seedCompany(t *testing.T, f *fixture) {
	t.Helper()
	_, err := f.exec.CreateTable("departments", []catalog.Column{
		{Name: "dept_id", Type: catalog.ColumnTypeInteger},
		{Name: "dept_name", Type: catalog.ColumnTypeText, NotNull: true},
	}, []catalog.Constraint{catalog.PrimaryKey("dept_id"), catalog.Unique("dept_name")})
	require.NoError(t, err)
	_, err = f.exec.CreateTable("employees", []catalog.Column{
		{Name: "emp_id", Type: catalog.ColumnTypeInteger},
		{Name: "first_name", Type: catalog.ColumnTypeText},
		{Name: "last_name", Type: catalog.ColumnTypeText},
		{Name: "dept_id", Type: catalog.ColumnTypeInteger},
		{Name: "manager_id", Type: catalog.ColumnTypeInteger},
	}, []catalog.Constraint{
		catalog.PrimaryKey("emp_id"),
		catalog.ForeignKey([]string{"dept_id"}, "departments", []string{"dept_id"}),
		catalog.ForeignKey([]string{"manager_id"}, "employees", []string{"emp_id"}),
	})
	require.NoError(t, err)

	f.mustInsert(t, "departments", 1, "HR")
	f.mustInsert(t, "departments", 2, "IT")
	f.mustInsert(t, "departments", 3, "Finance")
	f.mustInsert(t, "employees", 1, "John", "Doe", 1, nil)
	f.mustInsert(t, "employees", 2, "Jane", "Smith", 2, 1)
	f.mustInsert(t, "employees", 3, "David", "Wilson", nil, 1)
}
