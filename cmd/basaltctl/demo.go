package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/basalt/internal/api"
	"github.com/example/basalt/internal/catalog"
	"github.com/example/basalt/internal/config"
	"github.com/example/basalt/internal/exec"
	"github.com/example/basalt/internal/logging"
	"github.com/example/basalt/internal/sql/expr"
	"github.com/example/basalt/internal/txn"
)

const staffPerSession = 3

func newDemoCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the departments/employees tutorial",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency < 0 {
				return fmt.Errorf("--concurrency must not be negative")
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), configFrom(cmd.Context()), concurrency)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "sessions loading extra staff concurrently")
	return cmd
}

// openTutorial opens a database holding the tutorial schema: three
// departments, Finance without staff, and David without a department.
func openTutorial(ctx context.Context, cfg *config.Config) (*api.Database, *api.Session, error) {
	db, err := api.Open(cfg, logging.GetLogger())
	if err != nil {
		return nil, nil, err
	}
	s, err := db.Session()
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := seedTutorial(ctx, s); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, s, nil
}

func seedTutorial(ctx context.Context, s *api.Session) error {
	if _, err := s.CreateTable("departments", []catalog.Column{
		{Name: "dept_id", Type: catalog.ColumnTypeInteger},
		{Name: "dept_name", Type: catalog.ColumnTypeText, NotNull: true},
	}, catalog.PrimaryKey("dept_id"), catalog.Unique("dept_name")); err != nil {
		return err
	}
	if _, err := s.CreateTable("employees", []catalog.Column{
		{Name: "emp_id", Type: catalog.ColumnTypeInteger},
		{Name: "first_name", Type: catalog.ColumnTypeText},
		{Name: "last_name", Type: catalog.ColumnTypeText},
		{Name: "dept_id", Type: catalog.ColumnTypeInteger},
		{Name: "manager_id", Type: catalog.ColumnTypeInteger},
		{Name: "hired", Type: catalog.ColumnTypeDate},
	},
		catalog.PrimaryKey("emp_id"),
		catalog.ForeignKey([]string{"dept_id"}, "departments", []string{"dept_id"}),
		catalog.ForeignKey([]string{"manager_id"}, "employees", []string{"emp_id"}),
	); err != nil {
		return err
	}

	if _, err := s.Begin(txn.Options{}); err != nil {
		return err
	}
	rows := []struct {
		table  string
		values []interface{}
	}{
		{"departments", []interface{}{1, "HR"}},
		{"departments", []interface{}{2, "IT"}},
		{"departments", []interface{}{3, "Finance"}},
		{"employees", []interface{}{1, "John", "Doe", 1, nil, "2019-04-01"}},
		{"employees", []interface{}{2, "Jane", "Smith", 2, 1, "2020-09-14"}},
		{"employees", []interface{}{3, "David", "Wilson", nil, 1, "2022-01-10"}},
	}
	for _, r := range rows {
		if _, err := s.Insert(ctx, r.table, r.values...); err != nil {
			// The failed statement already aborted the transaction.
			_, _ = s.Rollback()
			return err
		}
	}
	_, err := s.Commit()
	return err
}

// loadStaff inserts staff from concurrent sessions, each in its own
// transaction.
func loadStaff(ctx context.Context, db *api.Database, sessions int) error {
	g, ctx := errgroup.WithContext(ctx)
	for n := 0; n < sessions; n++ {
		n := n
		g.Go(func() error {
			s, err := db.Session()
			if err != nil {
				return err
			}
			defer s.Close()
			if _, err := s.Begin(txn.Options{}); err != nil {
				return err
			}
			for i := 0; i < staffPerSession; i++ {
				id := 100 + n*staffPerSession + i
				if _, err := s.Insert(ctx, "employees", id, fmt.Sprintf("Staff%d", id), "Pool", 2, 2, nil); err != nil {
					return err
				}
			}
			_, err = s.Commit()
			return err
		})
	}
	return g.Wait()
}

func employeeJoin(kind exec.JoinKind) *exec.Query {
	return &exec.Query{
		From: exec.From("employees").As("e"),
		Joins: []exec.JoinClause{{
			Kind:   kind,
			Source: exec.From("departments").As("d"),
			On:     expr.Eq(expr.Col("e.dept_id"), expr.Col("d.dept_id")),
		}},
		Where:   expr.OrOf(expr.Lt(expr.Col("e.emp_id"), expr.Lit(100)), expr.IsNull(expr.Col("e.emp_id"))),
		Select:  exec.Columns("e.emp_id", "e.first_name", "d.dept_name"),
		OrderBy: []exec.SortKey{exec.Asc(expr.Col("e.emp_id")), exec.Asc(expr.Col("d.dept_name"))},
	}
}

func runDemo(ctx context.Context, w io.Writer, cfg *config.Config, concurrency int) error {
	db, s, err := openTutorial(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if concurrency > 0 {
		if err := loadStaff(ctx, db, concurrency); err != nil {
			return err
		}
		fmt.Fprintf(w, "Loaded %d staff from %d concurrent sessions\n\n", concurrency*staffPerSession, concurrency)
	}

	for _, kind := range []exec.JoinKind{exec.JoinInner, exec.JoinLeft, exec.JoinRight, exec.JoinFull} {
		if err := show(w, s, kind.String()+" JOIN", employeeJoin(kind)); err != nil {
			return err
		}
	}

	steps := []struct {
		title string
		query *exec.Query
	}{
		{"CROSS JOIN", &exec.Query{
			From:       exec.From("departments"),
			Joins:      []exec.JoinClause{{Kind: exec.JoinCross, Source: exec.From("departments").As("other")}},
			Aggregates: []exec.AggregateSpec{exec.CountStar("pairs")},
		}},
		{"SELF JOIN (managers)", &exec.Query{
			From: exec.From("employees").As("e"),
			Joins: []exec.JoinClause{{
				Kind:   exec.JoinLeft,
				Source: exec.From("employees").As("m"),
				On:     expr.Eq(expr.Col("e.manager_id"), expr.Col("m.emp_id")),
			}},
			Where: expr.Lt(expr.Col("e.emp_id"), expr.Lit(100)),
			Select: []exec.Projection{
				{Expr: expr.Col("e.first_name"), Alias: "employee"},
				{Expr: expr.Col("m.first_name"), Alias: "manager"},
			},
			OrderBy: []exec.SortKey{exec.Asc(expr.Col("employee"))},
		}},
		{"HEADCOUNT BY DEPARTMENT", &exec.Query{
			From: exec.From("departments").As("d"),
			Joins: []exec.JoinClause{{
				Kind:   exec.JoinLeft,
				Source: exec.From("employees").As("e"),
				On:     expr.Eq(expr.Col("e.dept_id"), expr.Col("d.dept_id")),
			}},
			GroupBy: []expr.Expr{expr.Col("d.dept_name")},
			Aggregates: []exec.AggregateSpec{
				exec.Count(expr.Col("e.emp_id"), "headcount"),
				exec.Min(expr.Col("e.hired"), "first_hire"),
			},
			OrderBy: []exec.SortKey{exec.Desc(expr.Col("headcount")), exec.Asc(expr.Col("dept_name"))},
		}},
		{"EMPLOYEES BY DEPT_ID", &exec.Query{
			From:       exec.From("employees"),
			GroupBy:    []expr.Expr{expr.Col("dept_id")},
			Aggregates: []exec.AggregateSpec{exec.CountStar(""), exec.Avg(expr.Col("emp_id"), "avg_id")},
			Having:     expr.Ge(expr.Col("count"), expr.Lit(1)),
			OrderBy:    []exec.SortKey{exec.Asc(expr.Col("dept_id"))},
		}},
	}
	for _, step := range steps {
		if err := show(w, s, step.title, step.query); err != nil {
			return err
		}
	}
	return demoRollback(ctx, w, s)
}

// demoRollback shows a failed insert aborting a transaction and an explicit
// rollback leaving the committed rows untouched.
func demoRollback(ctx context.Context, w io.Writer, s *api.Session) error {
	renderTitle(w, "ROLLBACK")
	count := &exec.Query{From: exec.From("employees"), Aggregates: []exec.AggregateSpec{exec.CountStar("employees")}}

	if _, err := s.Begin(txn.Options{}); err != nil {
		return err
	}
	if _, err := s.Insert(ctx, "employees", 9, "Eve", "Adams", 42, nil, nil); err != nil {
		fmt.Fprintf(w, "insert rejected: %v\n", err)
	}
	if _, err := s.Rollback(); err != nil {
		fmt.Fprintf(w, "rollback: %v\n", err)
	}

	if _, err := s.Begin(txn.Options{}); err != nil {
		return err
	}
	if _, err := s.Delete(ctx, "employees", nil); err != nil {
		return err
	}
	inside, err := s.Select(count)
	if err != nil {
		return err
	}
	renderResult(w, inside)
	if _, err := s.Rollback(); err != nil {
		return err
	}
	after, err := s.Select(count)
	if err != nil {
		return err
	}
	renderResult(w, after)
	return nil
}

func show(w io.Writer, s *api.Session, title string, q *exec.Query) error {
	res, err := s.Select(q)
	if err != nil {
		return fmt.Errorf("%s: %w", title, err)
	}
	renderTitle(w, title)
	renderResult(w, res)
	fmt.Fprintln(w)
	return nil
}
