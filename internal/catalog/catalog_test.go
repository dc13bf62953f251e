package catalog_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/example/basalt/internal/catalog"
	"github.com/example/basalt/internal/storage"
)

func newCatalog(t *testing.T) (*catalog.Catalog, *storage.Manager) {
	t.Helper()
	mgr := storage.NewManager()
	return catalog.New(mgr, slog.New(slog.NewTextHandler(io.Discard, nil))), mgr
}

func createDepartments(t *testing.T, cat *catalog.Catalog) *catalog.Table {
	t.Helper()
	cols := []catalog.Column{
		{Name: "dept_id", Type: catalog.ColumnTypeInteger},
		{Name: "name", Type: catalog.ColumnTypeText},
	}
	table, err := cat.CreateTable("departments", cols, []catalog.Constraint{
		catalog.PrimaryKey("dept_id"),
		catalog.NotNull("name"),
	})
	if err != nil {
		t.Fatalf("create departments: %v", err)
	}
	return table
}

func TestCatalogCreateAndListTables(t *testing.T) {
	cat, mgr := newCatalog(t)
	table := createDepartments(t, cat)
	if table.ID == 0 {
		t.Fatalf("expected table id allocated")
	}
	if _, err := mgr.RowCount(table.ID); err != nil {
		t.Fatalf("expected heap for table: %v", err)
	}
	if !table.Schema.Columns[0].NotNull {
		t.Fatalf("primary key column should be NOT NULL")
	}
	if !table.Schema.Columns[1].NotNull {
		t.Fatalf("name should be NOT NULL")
	}
	if table.Schema.Version != 1 {
		t.Fatalf("expected schema version 1, got %d", table.Schema.Version)
	}

	tables := cat.ListTables()
	if len(tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(tables))
	}
	if tables[0].Name != "departments" {
		t.Fatalf("expected table name departments, got %s", tables[0].Name)
	}
	pk := tables[0].ConstraintsOf(catalog.ConstraintPrimaryKey)
	if len(pk) != 1 || pk[0].Name != "departments_pkey" {
		t.Fatalf("unexpected primary key %+v", pk)
	}
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	cat, _ := newCatalog(t)
	createDepartments(t, cat)

	_, err := cat.CreateTable("Departments", []catalog.Column{{Name: "x", Type: catalog.ColumnTypeInteger}}, nil)
	if !errors.Is(err, catalog.ErrDuplicateTable) {
		t.Fatalf("expected duplicate table, got %v", err)
	}

	_, err = cat.CreateTable("t", []catalog.Column{
		{Name: "a", Type: catalog.ColumnTypeInteger},
		{Name: "A", Type: catalog.ColumnTypeText},
	}, nil)
	if !errors.Is(err, catalog.ErrDuplicateColumn) {
		t.Fatalf("expected duplicate column, got %v", err)
	}
	if _, err := cat.Lookup("t"); !errors.Is(err, catalog.ErrUnknownTable) {
		t.Fatalf("failed create must not register table, got %v", err)
	}
}

func TestCatalogForeignKeyValidation(t *testing.T) {
	cat, _ := newCatalog(t)
	createDepartments(t, cat)

	cases := []struct {
		name string
		fk   catalog.Constraint
		want error
	}{
		{"unknown table", catalog.ForeignKey([]string{"dept_id"}, "nowhere", []string{"id"}), catalog.ErrUnknownTable},
		{"not a key", catalog.ForeignKey([]string{"dept_name"}, "departments", []string{"name"}), catalog.ErrInvalidDefinition},
		{"type mismatch", catalog.ForeignKey([]string{"dept_name"}, "departments", []string{"dept_id"}), catalog.ErrInvalidDefinition},
		{"arity", catalog.ForeignKey([]string{"dept_id", "dept_name"}, "departments", []string{"dept_id"}), catalog.ErrInvalidDefinition},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := cat.CreateTable("employees_"+tc.name, []catalog.Column{
				{Name: "emp_id", Type: catalog.ColumnTypeInteger},
				{Name: "dept_id", Type: catalog.ColumnTypeInteger},
				{Name: "dept_name", Type: catalog.ColumnTypeText},
			}, []catalog.Constraint{catalog.PrimaryKey("emp_id"), tc.fk})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCatalogSelfReferenceAndDrop(t *testing.T) {
	cat, _ := newCatalog(t)
	createDepartments(t, cat)
	_, err := cat.CreateTable("employees", []catalog.Column{
		{Name: "emp_id", Type: catalog.ColumnTypeInteger},
		{Name: "manager_id", Type: catalog.ColumnTypeInteger},
		{Name: "dept_id", Type: catalog.ColumnTypeInteger},
	}, []catalog.Constraint{
		catalog.ForeignKey([]string{"manager_id"}, "employees", []string{"emp_id"}),
		catalog.ForeignKey([]string{"dept_id"}, "departments", []string{"dept_id"}),
		catalog.PrimaryKey("emp_id"),
	})
	if err != nil {
		t.Fatalf("create employees: %v", err)
	}

	refs := cat.Referencing("employees")
	if len(refs) != 1 || refs[0].Constraint.Name != "employees_manager_id_fkey" {
		t.Fatalf("unexpected references %+v", refs)
	}

	if err := cat.DropTable("departments"); !errors.Is(err, catalog.ErrForeignKeyReferenced) {
		t.Fatalf("expected foreign key referenced, got %v", err)
	}
	if _, err := cat.Lookup("departments"); err != nil {
		t.Fatalf("rejected drop must leave table: %v", err)
	}
	if err := cat.DropTable("employees"); err != nil {
		t.Fatalf("self reference must not block drop: %v", err)
	}
	if err := cat.DropTable("departments"); err != nil {
		t.Fatalf("drop departments: %v", err)
	}
	if err := cat.DropTable("departments"); !errors.Is(err, catalog.ErrUnknownTable) {
		t.Fatalf("expected unknown table, got %v", err)
	}
}

func TestCatalogAlterAddColumn(t *testing.T) {
	cat, mgr := newCatalog(t)
	table := createDepartments(t, cat)

	altered, err := cat.AlterAddColumn("departments", catalog.Column{Name: "budget", Type: catalog.ColumnTypeInteger, NotNull: true})
	if err != nil {
		t.Fatalf("add NOT NULL column to empty table: %v", err)
	}
	if altered.Schema.Version != 2 || len(altered.Schema.Columns) != 3 {
		t.Fatalf("unexpected schema %+v", altered.Schema)
	}
	if _, err := cat.AlterAddColumn("departments", catalog.Column{Name: "BUDGET", Type: catalog.ColumnTypeText}); !errors.Is(err, catalog.ErrDuplicateColumn) {
		t.Fatalf("expected duplicate column, got %v", err)
	}

	id, err := mgr.AllocateRowID(table.ID)
	if err != nil {
		t.Fatalf("allocate row id: %v", err)
	}
	if _, err := mgr.Publish(map[storage.TableID][]storage.Row{
		table.ID: {{ID: id, Values: []interface{}{int64(1), "Eng", int64(10)}}},
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := cat.AlterAddColumn("departments", catalog.Column{Name: "code", Type: catalog.ColumnTypeText, NotNull: true}); !errors.Is(err, catalog.ErrInvalidDefinition) {
		t.Fatalf("expected NOT NULL rejection on populated table, got %v", err)
	}
	if _, err := cat.AlterAddColumn("departments", catalog.Column{Name: "code", Type: catalog.ColumnTypeText}); err != nil {
		t.Fatalf("add nullable column: %v", err)
	}
	snap, err := mgr.Snapshot(table.ID, storage.Latest)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	row := snap.Rows()[0]
	if len(row.Values) != 4 || row.Values[3] != nil {
		t.Fatalf("existing row should read NULL for new column, got %v", row.Values)
	}
}

func TestCatalogKeepsExplicitNotNullName(t *testing.T) {
	cat, _ := newCatalog(t)
	named := catalog.NotNull("NAME")
	named.Name = "dept_name_required"
	table, err := cat.CreateTable("departments", []catalog.Column{
		{Name: "dept_id", Type: catalog.ColumnTypeInteger},
		{Name: "name", Type: catalog.ColumnTypeText},
	}, []catalog.Constraint{catalog.PrimaryKey("dept_id"), named})
	if err != nil {
		t.Fatalf("create departments: %v", err)
	}
	names := map[string]string{}
	for _, nn := range table.ConstraintsOf(catalog.ConstraintNotNull) {
		names[nn.Columns[0]] = nn.Name
	}
	if names["name"] != "dept_name_required" {
		t.Fatalf("explicit NOT NULL name lost, got %v", names)
	}
	if names["dept_id"] != "departments_dept_id_not_null" {
		t.Fatalf("expected default name for primary key column, got %v", names)
	}
}
