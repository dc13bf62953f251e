package exec_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/basalt/internal/catalog"
	"github.com/example/basalt/internal/exec"
	"github.com/example/basalt/internal/sql/expr"
	"github.com/example/basalt/internal/txn"
)

func TestInsertViolationsAbortTransaction(t *testing.T) {
	cases := []struct {
		name   string
		table  string
		values []interface{}
		kind   catalog.ConstraintKind
	}{
		{"duplicate primary key", "departments", []interface{}{1, "Legal"}, catalog.ConstraintPrimaryKey},
		{"duplicate unique", "departments", []interface{}{4, "HR"}, catalog.ConstraintUnique},
		{"null primary key", "departments", []interface{}{nil, "Legal"}, catalog.ConstraintNotNull},
		{"null not null column", "departments", []interface{}{4, nil}, catalog.ConstraintNotNull},
		{"missing parent", "employees", []interface{}{9, "Eve", "Adams", 42, nil}, catalog.ConstraintForeignKey},
		{"missing self parent", "employees", []interface{}{9, "Eve", "Adams", 1, 77}, catalog.ConstraintForeignKey},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			seedCompany(t, f)
			before := f.count(t, tc.table)

			tx := f.txns.Begin(txn.Options{})
			_, err := f.exec.Insert(context.Background(), tx, "departments", []interface{}{10, "Ops"})
			require.NoError(t, err)
			_, err = f.exec.Insert(context.Background(), tx, tc.table, tc.values)
			require.Error(t, err)
			assert.ErrorIs(t, err, exec.ErrConstraintViolation)
			assert.True(t, exec.IsViolation(err, tc.kind), "got %v", err)

			assert.Equal(t, txn.StateAborted, tx.State())
			assert.ErrorIs(t, f.txns.Commit(tx.ID()), txn.ErrInvalidTransactionState)
			assert.Equal(t, before, f.count(t, tc.table))
			assert.Equal(t, 3, f.count(t, "departments"))
		})
	}
}

func TestNotNullViolationReportsExplicitName(t *testing.T) {
	f := newFixture(t)
	required := catalog.NotNull("title")
	required.Name = "projects_title_required"
	_, err := f.exec.CreateTable("projects", []catalog.Column{
		{Name: "id", Type: catalog.ColumnTypeInteger},
		{Name: "title", Type: catalog.ColumnTypeText},
	}, []catalog.Constraint{catalog.PrimaryKey("id"), required})
	require.NoError(t, err)

	err = f.autocommit(t, func(tx *txn.Transaction) error {
		_, err := f.exec.Insert(context.Background(), tx, "projects", []interface{}{1, nil})
		return err
	})
	var ce *exec.ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, catalog.ConstraintNotNull, ce.Kind)
	assert.Equal(t, "projects_title_required", ce.Constraint)
}

func TestInsertTypeMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.CreateTable("events", []catalog.Column{
		{Name: "id", Type: catalog.ColumnTypeInteger},
		{Name: "happened", Type: catalog.ColumnTypeDate},
		{Name: "public", Type: catalog.ColumnTypeBoolean},
	}, []catalog.Constraint{catalog.PrimaryKey("id")})
	require.NoError(t, err)

	f.mustInsert(t, "events", 1, "2024-03-01", true)
	f.mustInsert(t, "events", 2, time.Date(2024, 3, 2, 15, 4, 5, 0, time.UTC), nil)

	res, err := f.exec.Select(nil, &exec.Query{
		From:    exec.From("events"),
		Where:   expr.Lt(expr.Col("happened"), expr.Lit(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))),
		Select:  exec.Columns("id", "happened"),
		OrderBy: []exec.SortKey{exec.Asc(expr.Col("id"))},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(1), res.Rows[0][0])
	assert.Equal(t, [][]string{{"1", "2024-03-01"}}, res.Strings())

	bad := [][]interface{}{
		{"three", "2024-03-03", false},
		{3, "03/03/2024", false},
		{3, "2024-03-03", "yes"},
		{3, "2024-03-03"},
	}
	for _, values := range bad {
		tx := f.txns.Begin(txn.Options{})
		_, err := f.exec.Insert(context.Background(), tx, "events", values)
		assert.ErrorIs(t, err, exec.ErrTypeMismatch, "values %v", values)
		assert.Equal(t, txn.StateAborted, tx.State())
	}
	assert.Equal(t, 2, f.count(t, "events"))
}

func TestUnknownNamesDoNotAbort(t *testing.T) {
	f := newFixture(t)
	seedCompany(t, f)

	tx := f.txns.Begin(txn.Options{})
	_, err := f.exec.Insert(context.Background(), tx, "nowhere", []interface{}{1})
	assert.ErrorIs(t, err, catalog.ErrUnknownTable)
	_, err = f.exec.InsertNamed(context.Background(), tx, "departments", map[string]interface{}{"budget": 1})
	assert.ErrorIs(t, err, expr.ErrUnknownColumn)
	_, err = f.exec.Update(context.Background(), tx, "departments", expr.Eq(expr.Col("budget"), expr.Lit(1)), nil)
	assert.ErrorIs(t, err, expr.ErrUnknownColumn)

	assert.Equal(t, txn.StateActive, tx.State())
	_, err = f.exec.InsertNamed(context.Background(), tx, "departments", map[string]interface{}{"dept_id": 4, "dept_name": "Legal"})
	require.NoError(t, err)
	require.NoError(t, f.txns.Commit(tx.ID()))
	assert.Equal(t, 4, f.count(t, "departments"))
}

func TestUpdateChecksAllImagesFirst(t *testing.T) {
	f := newFixture(t)
	seedCompany(t, f)
	ctx := context.Background()

	var n int
	err := f.autocommit(t, func(tx *txn.Transaction) error {
		var err error
		n, err = f.exec.Update(ctx, tx, "employees",
			expr.IsNull(expr.Col("dept_id")),
			[]exec.Assignment{exec.Set("employees.dept_id", 3)})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Every row collides on dept_name, so no row may change.
	tx := f.txns.Begin(txn.Options{})
	_, err = f.exec.Update(ctx, tx, "departments", nil,
		[]exec.Assignment{{Column: "dept_name", Value: expr.Lit("Same")}})
	assert.True(t, exec.IsViolation(err, catalog.ConstraintUnique), "got %v", err)
	assert.Equal(t, txn.StateAborted, tx.State())

	res, err := f.exec.Select(nil, &exec.Query{
		From:    exec.From("departments"),
		Select:  exec.Columns("dept_name"),
		OrderBy: []exec.SortKey{exec.Asc(expr.Col("dept_id"))},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{"HR"}, {"IT"}, {"Finance"}}, res.Rows)

	// Changing a referenced key is restricted.
	tx = f.txns.Begin(txn.Options{})
	_, err = f.exec.Update(ctx, tx, "departments", expr.Eq(expr.Col("dept_id"), expr.Lit(1)),
		[]exec.Assignment{exec.Set("dept_id", 100)})
	assert.True(t, exec.IsViolation(err, catalog.ConstraintForeignKey), "got %v", err)
	assert.Equal(t, txn.StateAborted, tx.State())

	// An unreferenced key may change.
	err = f.autocommit(t, func(tx *txn.Transaction) error {
		_, err := f.exec.Update(ctx, tx, "departments", expr.Eq(expr.Col("dept_name"), expr.Lit("IT")),
			[]exec.Assignment{exec.Set("dept_name", "Engineering")})
		return err
	})
	require.NoError(t, err)
}

func TestDeleteRestrict(t *testing.T) {
	f := newFixture(t)
	seedCompany(t, f)
	ctx := context.Background()

	tx := f.txns.Begin(txn.Options{})
	_, err := f.exec.Delete(ctx, tx, "departments", expr.Eq(expr.Col("dept_id"), expr.Lit(1)))
	assert.True(t, exec.IsViolation(err, catalog.ConstraintForeignKey), "got %v", err)
	assert.Equal(t, txn.StateAborted, tx.State())
	assert.Equal(t, 3, f.count(t, "departments"))

	var n int
	err = f.autocommit(t, func(tx *txn.Transaction) error {
		var err error
		n, err = f.exec.Delete(ctx, tx, "departments", expr.Eq(expr.Col("dept_name"), expr.Lit("Finance")))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.count(t, "departments"))

	// John manages Jane and David; removing all three at once leaves no orphan.
	err = f.autocommit(t, func(tx *txn.Transaction) error {
		_, err := f.exec.Delete(ctx, tx, "employees", expr.Eq(expr.Col("emp_id"), expr.Lit(1)))
		return err
	})
	assert.True(t, exec.IsViolation(err, catalog.ConstraintForeignKey), "got %v", err)
	err = f.autocommit(t, func(tx *txn.Transaction) error {
		n, err = f.exec.Delete(ctx, tx, "employees", nil)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, f.count(t, "employees"))
}

func TestDeferredForeignKey(t *testing.T) {
	f := newFixture(t)
	seedCompany(t, f)
	ctx := context.Background()

	tx := f.txns.Begin(txn.Options{Deferred: true})
	_, err := f.exec.Insert(ctx, tx, "employees", []interface{}{4, "Ann", "Lee", 4, nil})
	require.NoError(t, err)
	_, err = f.exec.Insert(ctx, tx, "departments", []interface{}{4, "Legal"})
	require.NoError(t, err)
	require.NoError(t, f.txns.Commit(tx.ID()))
	assert.Equal(t, 4, f.count(t, "employees"))

	tx = f.txns.Begin(txn.Options{Deferred: true})
	_, err = f.exec.Insert(ctx, tx, "employees", []interface{}{5, "Bob", "Ray", 5, nil})
	require.NoError(t, err)
	err = f.txns.Commit(tx.ID())
	assert.True(t, exec.IsViolation(err, catalog.ConstraintForeignKey), "got %v", err)
	assert.Equal(t, txn.StateAborted, tx.State())
	assert.Equal(t, 4, f.count(t, "employees"))

	// Parent-side checks wait for COMMIT too.
	tx = f.txns.Begin(txn.Options{Deferred: true})
	_, err = f.exec.Delete(ctx, tx, "departments", expr.Eq(expr.Col("dept_id"), expr.Lit(4)))
	require.NoError(t, err)
	_, err = f.exec.Update(ctx, tx, "employees", expr.Eq(expr.Col("dept_id"), expr.Lit(4)),
		[]exec.Assignment{exec.Set("dept_id", nil)})
	require.NoError(t, err)
	require.NoError(t, f.txns.Commit(tx.ID()))
	assert.Equal(t, 3, f.count(t, "departments"))
}

func TestDeferrableConstraint(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.CreateTable("nodes", []catalog.Column{
		{Name: "id", Type: catalog.ColumnTypeInteger},
		{Name: "next_id", Type: catalog.ColumnTypeInteger},
	}, []catalog.Constraint{
		catalog.PrimaryKey("id"),
		catalog.DeferrableForeignKey([]string{"next_id"}, "nodes", []string{"id"}),
	})
	require.NoError(t, err)

	// A cycle can only be built when the check waits for COMMIT.
	err = f.autocommit(t, func(tx *txn.Transaction) error {
		if _, err := f.exec.Insert(context.Background(), tx, "nodes", []interface{}{1, 2}); err != nil {
			return err
		}
		_, err := f.exec.Insert(context.Background(), tx, "nodes", []interface{}{2, 1})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(t, "nodes"))
}

func TestRollbackRestoresState(t *testing.T) {
	f := newFixture(t)
	seedCompany(t, f)
	ctx := context.Background()

	tx := f.txns.Begin(txn.Options{})
	_, err := f.exec.Insert(ctx, tx, "departments", []interface{}{4, "Legal"})
	require.NoError(t, err)
	_, err = f.exec.Delete(ctx, tx, "employees", expr.Eq(expr.Col("emp_id"), expr.Lit(3)))
	require.NoError(t, err)

	inside, err := f.exec.Select(tx, &exec.Query{From: exec.From("departments")})
	require.NoError(t, err)
	assert.Len(t, inside.Rows, 4)
	outside, err := f.exec.Select(nil, &exec.Query{From: exec.From("departments")})
	require.NoError(t, err)
	assert.Len(t, outside.Rows, 3)

	require.NoError(t, f.txns.Rollback(tx.ID()))
	assert.ErrorIs(t, f.txns.Rollback(tx.ID()), txn.ErrInvalidTransactionState)
	assert.Equal(t, 3, f.count(t, "departments"))
	assert.Equal(t, 3, f.count(t, "employees"))
}

func TestSnapshotIsolationAcrossTransactions(t *testing.T) {
	f := newFixture(t)
	seedCompany(t, f)
	ctx := context.Background()

	reader := f.txns.Begin(txn.Options{})
	f.mustInsert(t, "departments", 4, "Legal")

	res, err := f.exec.Select(reader, &exec.Query{From: exec.From("departments")})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 3)
	require.NoError(t, f.txns.Commit(reader.ID()))

	// A second writer on the same table waits for the intent holder.
	holder := f.txns.Begin(txn.Options{})
	_, err = f.exec.Insert(ctx, holder, "departments", []interface{}{5, "Sales"})
	require.NoError(t, err)

	waiter := f.txns.Begin(txn.Options{})
	cctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = f.exec.Insert(cctx, waiter, "departments", []interface{}{6, "Support"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Equal(t, txn.StateActive, waiter.State())

	require.NoError(t, f.txns.Commit(holder.ID()))
	_, err = f.exec.Insert(ctx, waiter, "departments", []interface{}{6, "Support"})
	require.NoError(t, err)
	require.NoError(t, f.txns.Commit(waiter.ID()))
	assert.Equal(t, 6, f.count(t, "departments"))
}

func TestWriteIntentOrderInversionAborts(t *testing.T) {
	f := newFixture(t)
	seedCompany(t, f)
	ctx := context.Background()
	rename := func(tx *txn.Transaction, table, key string, id int, col, value string) error {
		_, err := f.exec.Update(ctx, tx, table, expr.Eq(expr.Col(key), expr.Lit(id)),
			[]exec.Assignment{{Column: col, Value: expr.Lit(value)}})
		return err
	}

	a := f.txns.Begin(txn.Options{})
	b := f.txns.Begin(txn.Options{})
	require.NoError(t, rename(a, "employees", "emp_id", 3, "last_name", "Brown"))
	require.NoError(t, rename(b, "departments", "dept_id", 3, "dept_name", "Accounts"))

	done := make(chan error, 1)
	go func() {
		done <- rename(b, "employees", "emp_id", 2, "first_name", "Janet")
	}()

	// departments was registered before employees, which a already holds.
	err := rename(a, "departments", "dept_id", 1, "dept_name", "People")
	var order *txn.LockOrderError
	require.ErrorAs(t, err, &order)
	assert.Equal(t, txn.StateAborted, a.State())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("writer waiting in registration order never proceeded")
	}
	require.NoError(t, f.txns.Commit(b.ID()))

	res, err := f.exec.Select(nil, &exec.Query{
		From:   exec.From("employees"),
		Where:  expr.Eq(expr.Col("emp_id"), expr.Lit(3)),
		Select: exec.Columns("last_name"),
	})
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{"Wilson"}}, res.Rows)
}

func TestResultRowsAreDetachedFromStorage(t *testing.T) {
	f := newFixture(t)
	seedCompany(t, f)
	ctx := context.Background()
	all := &exec.Query{From: exec.From("departments")}

	tx := f.txns.Begin(txn.Options{})
	_, err := f.exec.Insert(ctx, tx, "departments", []interface{}{4, "Legal"})
	require.NoError(t, err)
	res, err := f.exec.Select(tx, all)
	require.NoError(t, err)
	for _, row := range res.Rows {
		row[1] = "CORRUPTED"
	}
	require.NoError(t, f.txns.Commit(tx.ID()))

	committed, err := f.exec.Select(nil, all)
	require.NoError(t, err)
	require.Len(t, committed.Rows, 4)
	for _, row := range committed.Rows {
		row[1] = "CORRUPTED AGAIN"
	}
	again, err := f.exec.Select(nil, all)
	require.NoError(t, err)
	names := make([]interface{}, 0, len(again.Rows))
	for _, row := range again.Rows {
		names = append(names, row[1])
	}
	assert.ElementsMatch(t, []interface{}{"HR", "IT", "Finance", "Legal"}, names)
}

func TestScanIsRestartable(t *testing.T) {
	f := newFixture(t)
	seedCompany(t, f)

	it, err := f.exec.Scan(nil, "employees")
	require.NoError(t, err)
	assert.Equal(t, 5, it.Width())
	first, err := exec.Collect(it)
	require.NoError(t, err)
	f.mustInsert(t, "employees", 4, "Ann", "Lee", nil, nil)
	assert.False(t, it.Next())
	it.Reset()
	second, err := exec.Collect(it)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, second, 3)
}

func TestDDLInsideTransaction(t *testing.T) {
	f := newFixture(t)
	seedCompany(t, f)
	ctx := context.Background()

	_, err := f.exec.AlterAddColumn(ctx, nil, "departments", catalog.Column{Name: "budget", Type: catalog.ColumnTypeInteger})
	require.NoError(t, err)
	res, err := f.exec.Select(nil, &exec.Query{From: exec.From("departments"), Select: exec.Columns("budget")})
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{nil}, {nil}, {nil}}, res.Rows)

	_, err = f.exec.AlterAddColumn(ctx, nil, "departments", catalog.Column{Name: "code", Type: catalog.ColumnTypeText, NotNull: true})
	assert.ErrorIs(t, err, catalog.ErrInvalidDefinition)

	tx := f.txns.Begin(txn.Options{})
	_, err = f.exec.Insert(ctx, tx, "departments", []interface{}{4, "Legal", 500})
	require.NoError(t, err)
	_, err = f.exec.DropTable(ctx, tx, "employees")
	require.NoError(t, err)
	require.NoError(t, f.txns.Commit(tx.ID()))

	_, err = f.cat.Lookup("employees")
	assert.ErrorIs(t, err, catalog.ErrUnknownTable)
	assert.Equal(t, 4, f.count(t, "departments"))

	_, err = f.exec.DropTable(ctx, nil, "employees")
	assert.ErrorIs(t, err, catalog.ErrUnknownTable)
}
