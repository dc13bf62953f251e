package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/example/basalt/internal/logging"
	"github.com/example/basalt/internal/storage"
)

var (
	// ErrDuplicateTable is returned when creating a table whose name is taken.
	ErrDuplicateTable = errors.New("catalog: duplicate table")
	// ErrUnknownTable is returned when a named table does not exist.
	ErrUnknownTable = errors.New("catalog: unknown table")
	// ErrDuplicateColumn is returned when a column name repeats within a table.
	ErrDuplicateColumn = errors.New("catalog: duplicate column")
	// ErrForeignKeyReferenced is returned when dropping a table that another
	// table's foreign key still points at.
	ErrForeignKeyReferenced = errors.New("catalog: table is referenced by a foreign key")
	// ErrInvalidDefinition covers malformed column or constraint definitions.
	ErrInvalidDefinition = errors.New("catalog: invalid definition")
)

// ColumnType enumerates supported column kinds.
type ColumnType uint8

const (
	ColumnTypeInteger ColumnType = iota
	ColumnTypeText
	ColumnTypeDate
	ColumnTypeBoolean
)

func (t ColumnType) String() string {
	switch t {
	case ColumnTypeInteger:
		return "INTEGER"
	case ColumnTypeText:
		return "TEXT"
	case ColumnTypeDate:
		return "DATE"
	case ColumnTypeBoolean:
		return "BOOLEAN"
	default:
		return "UNKNOWN"
	}
}

// Column describes a table column.
type Column struct {
	Name    string
	Type    ColumnType
	NotNull bool
}

// Schema is the ordered column list of a table. Version starts at 1 and is
// bumped by every ALTER.
type Schema struct {
	Version int
	Columns []Column
}

// Index returns the position of the named column.
func (s Schema) Index(name string) (int, bool) {
	for i, col := range s.Columns {
		if strings.EqualFold(col.Name, name) {
			return i, true
		}
	}
	return -1, false
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// Table captures metadata for a user table. Tables handed out by the catalog
// are copies; mutate the catalog through its methods only.
type Table struct {
	ID          storage.TableID
	Name        string
	Schema      Schema
	Constraints []Constraint
}

// ColumnIndexes resolves names to positions within the table's schema.
func (t *Table) ColumnIndexes(names []string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		idx, ok := t.Schema.Index(name)
		if !ok {
			return nil, fmt.Errorf("%w: column %s not found in table %s", ErrInvalidDefinition, name, t.Name)
		}
		out[i] = idx
	}
	return out, nil
}

// ConstraintsOf returns the table's constraints of the given kind.
func (t *Table) ConstraintsOf(kind ConstraintKind) []Constraint {
	var out []Constraint
	for _, c := range t.Constraints {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Keys returns the primary key and unique constraints.
func (t *Table) Keys() []Constraint {
	var out []Constraint
	for _, c := range t.Constraints {
		if c.IsKey() {
			out = append(out, c)
		}
	}
	return out
}

func (t *Table) clone() *Table {
	cols := make([]Column, len(t.Schema.Columns))
	copy(cols, t.Schema.Columns)
	cons := make([]Constraint, len(t.Constraints))
	for i, c := range t.Constraints {
		cons[i] = c.clone()
	}
	return &Table{
		ID:          t.ID,
		Name:        t.Name,
		Schema:      Schema{Version: t.Schema.Version, Columns: cols},
		Constraints: cons,
	}
}

// Reference is a foreign key on Table pointing at some other table.
type Reference struct {
	Table      string
	Constraint Constraint
}

// Catalog holds definitions of all tables within the database. A single
// read-write mutex serializes structural changes against readers.
type Catalog struct {
	mu      sync.RWMutex
	storage *storage.Manager
	tables  map[string]*Table
	nextID  storage.TableID
	log     *slog.Logger
}

// New constructs an empty catalog whose tables keep their rows in mgr.
func New(mgr *storage.Manager, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Catalog{
		storage: mgr,
		tables:  make(map[string]*Table),
		nextID:  1,
		log:     logger.With("component", "catalog"),
	}
}

// CreateTable registers a new table and allocates its heap. Columns flagged
// NotNull and explicit NOT NULL constraints are reconciled; primary key
// columns are implicitly NOT NULL.
func (c *Catalog) CreateTable(name string, columns []Column, constraints []Constraint) (*Table, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: table name required", ErrInvalidDefinition)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: table %s needs at least one column", ErrInvalidDefinition, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	lower := strings.ToLower(name)
	if _, ok := c.tables[lower]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTable, name)
	}
	table := &Table{
		ID:     c.nextID,
		Name:   name,
		Schema: Schema{Version: 1, Columns: make([]Column, len(columns))},
	}
	seen := make(map[string]struct{}, len(columns))
	for i, col := range columns {
		if col.Name == "" {
			return nil, fmt.Errorf("%w: column %d of %s has no name", ErrInvalidDefinition, i, name)
		}
		key := strings.ToLower(col.Name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateColumn, name, col.Name)
		}
		seen[key] = struct{}{}
		table.Schema.Columns[i] = col
	}
	if err := c.resolveConstraints(table, constraints); err != nil {
		return nil, err
	}
	if err := c.storage.CreateHeap(table.ID, len(table.Schema.Columns)); err != nil {
		return nil, err
	}
	c.nextID++
	c.tables[lower] = table
	logging.WithTable(c.log, table.Name).Info("table created", "id", table.ID, "columns", len(table.Schema.Columns))
	return table.clone(), nil
}

func (c *Catalog) resolveConstraints(table *Table, constraints []Constraint) error {
	var resolved []Constraint
	notNullNames := make(map[string]string)
	hasPK := false
	for _, raw := range constraints {
		con := raw.clone()
		if len(con.Columns) == 0 {
			return fmt.Errorf("%w: %s constraint on %s lists no columns", ErrInvalidDefinition, con.Kind, table.Name)
		}
		idxs, err := table.ColumnIndexes(con.Columns)
		if err != nil {
			return err
		}
		for i, idx := range idxs {
			con.Columns[i] = table.Schema.Columns[idx].Name
		}
		switch con.Kind {
		case ConstraintPrimaryKey:
			if hasPK {
				return fmt.Errorf("%w: multiple primary keys for table %s", ErrInvalidDefinition, table.Name)
			}
			hasPK = true
			for _, idx := range idxs {
				table.Schema.Columns[idx].NotNull = true
			}
		case ConstraintNotNull:
			if len(idxs) != 1 {
				return fmt.Errorf("%w: NOT NULL applies to a single column", ErrInvalidDefinition)
			}
			table.Schema.Columns[idxs[0]].NotNull = true
			if con.Name != "" {
				notNullNames[con.Columns[0]] = con.Name
			}
			continue
		case ConstraintForeignKey:
			if err := c.resolveForeignKey(table, &con, idxs); err != nil {
				return err
			}
		case ConstraintUnique:
		default:
			return fmt.Errorf("%w: unknown constraint kind %d", ErrInvalidDefinition, con.Kind)
		}
		if con.Name == "" {
			con.Name = defaultName(table.Name, con)
		}
		resolved = append(resolved, con)
	}
	table.Constraints = resolved
	for _, fk := range table.ConstraintsOf(ConstraintForeignKey) {
		if strings.EqualFold(fk.RefTable, table.Name) && !coversKey(table.Keys(), fk.RefColumns) {
			return fmt.Errorf("%w: referenced columns (%s) of %s are not a primary key or unique", ErrInvalidDefinition, strings.Join(fk.RefColumns, ", "), table.Name)
		}
	}
	for _, col := range table.Schema.Columns {
		if col.NotNull {
			nn := NotNull(col.Name)
			nn.Name = notNullNames[col.Name]
			if nn.Name == "" {
				nn.Name = defaultName(table.Name, nn)
			}
			resolved = append(resolved, nn)
		}
	}
	table.Constraints = resolved
	return nil
}

func (c *Catalog) resolveForeignKey(table *Table, fk *Constraint, childIdxs []int) error {
	if len(fk.RefColumns) != len(fk.Columns) {
		return fmt.Errorf("%w: foreign key on %s has %d columns but references %d", ErrInvalidDefinition, table.Name, len(fk.Columns), len(fk.RefColumns))
	}
	var parent *Table
	if strings.EqualFold(fk.RefTable, table.Name) {
		parent = table
	} else {
		p, ok := c.tables[strings.ToLower(fk.RefTable)]
		if !ok {
			return fmt.Errorf("%w: %s referenced by foreign key on %s", ErrUnknownTable, fk.RefTable, table.Name)
		}
		parent = p
	}
	parentIdxs, err := parent.ColumnIndexes(fk.RefColumns)
	if err != nil {
		return err
	}
	for i, idx := range parentIdxs {
		fk.RefColumns[i] = parent.Schema.Columns[idx].Name
		if parent.Schema.Columns[idx].Type != table.Schema.Columns[childIdxs[i]].Type {
			return fmt.Errorf("%w: foreign key column %s is %s but %s.%s is %s", ErrInvalidDefinition,
				fk.Columns[i], table.Schema.Columns[childIdxs[i]].Type, parent.Name, fk.RefColumns[i], parent.Schema.Columns[idx].Type)
		}
	}
	fk.RefTable = parent.Name
	if parent == table {
		// Checked once the table's own keys are resolved.
		return nil
	}
	if !coversKey(parent.Keys(), fk.RefColumns) {
		return fmt.Errorf("%w: referenced columns (%s) of %s are not a primary key or unique", ErrInvalidDefinition, strings.Join(fk.RefColumns, ", "), parent.Name)
	}
	return nil
}

func coversKey(keys []Constraint, columns []string) bool {
	for _, key := range keys {
		if len(key.Columns) != len(columns) {
			continue
		}
		matched := true
		for _, want := range columns {
			found := false
			for _, have := range key.Columns {
				if strings.EqualFold(want, have) {
					found = true
					break
				}
			}
			if !found {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// DropTable removes a table definition and frees its rows. Tables still
// referenced by another table's foreign key are rejected without change.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	lower := strings.ToLower(name)
	table, ok := c.tables[lower]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	for key, other := range c.tables {
		if key == lower {
			continue
		}
		for _, fk := range other.ConstraintsOf(ConstraintForeignKey) {
			if strings.EqualFold(fk.RefTable, table.Name) {
				return fmt.Errorf("%w: %s is referenced by %s on table %s", ErrForeignKeyReferenced, table.Name, fk.Name, other.Name)
			}
		}
	}
	if err := c.storage.DropHeap(table.ID); err != nil {
		return err
	}
	delete(c.tables, lower)
	logging.WithTable(c.log, table.Name).Info("table dropped", "id", table.ID)
	return nil
}

// AlterAddColumn appends a column to a table. Existing rows receive NULL, so
// a NOT NULL column can only be added while the table is empty.
func (c *Catalog) AlterAddColumn(name string, column Column) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, ok := c.tables[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	if column.Name == "" {
		return nil, fmt.Errorf("%w: column name required", ErrInvalidDefinition)
	}
	if _, exists := table.Schema.Index(column.Name); exists {
		return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateColumn, table.Name, column.Name)
	}
	if column.NotNull {
		count, err := c.storage.RowCount(table.ID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, fmt.Errorf("%w: column %s cannot be NOT NULL on non-empty table %s", ErrInvalidDefinition, column.Name, table.Name)
		}
	}
	if err := c.storage.AddColumn(table.ID); err != nil {
		return nil, err
	}
	table.Schema.Columns = append(table.Schema.Columns, column)
	table.Schema.Version++
	if column.NotNull {
		nn := NotNull(column.Name)
		nn.Name = defaultName(table.Name, nn)
		table.Constraints = append(table.Constraints, nn)
	}
	logging.WithTable(c.log, table.Name).Info("column added", "column", column.Name, "schema_version", table.Schema.Version)
	return table.clone(), nil
}

// Lookup retrieves a copy of the named table's metadata.
func (c *Catalog) Lookup(name string) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	table, ok := c.tables[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return table.clone(), nil
}

// LookupID retrieves a copy of the table registered under id.
func (c *Catalog) LookupID(id storage.TableID) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, table := range c.tables {
		if table.ID == id {
			return table.clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", ErrUnknownTable, id)
}

// ListTables returns table metadata snapshots in name order.
func (c *Catalog) ListTables() []*Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	result := make([]*Table, 0, len(names))
	for _, lower := range names {
		result = append(result, c.tables[lower].clone())
	}
	return result
}

// Referencing lists the foreign keys, across all tables including the table
// itself, whose referenced table is name.
func (c *Catalog) Referencing(name string) []Reference {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var refs []Reference
	for _, table := range c.tables {
		for _, fk := range table.ConstraintsOf(ConstraintForeignKey) {
			if strings.EqualFold(fk.RefTable, name) {
				refs = append(refs, Reference{Table: table.Name, Constraint: fk.clone()})
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Table == refs[j].Table {
			return refs[i].Constraint.Name < refs[j].Constraint.Name
		}
		return refs[i].Table < refs[j].Table
	})
	return refs
}
