package api

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/example/basalt/internal/catalog"
)

// DatabaseMeta summarises the schema structure for tooling integration.
type DatabaseMeta struct {
	Epoch              uint64      `json:"epoch"`
	ActiveTransactions int         `json:"activeTransactions"`
	Sessions           int         `json:"sessions"`
	Tables             []TableMeta `json:"tables"`
}

// TableMeta captures table-level metadata.
type TableMeta struct {
	Name          string           `json:"name"`
	ID            uint64           `json:"id"`
	SchemaVersion int              `json:"schemaVersion"`
	RowCount      int64            `json:"rowCount"`
	Columns       []ColumnMeta     `json:"columns"`
	Keys          []KeyMeta        `json:"keys"`
	ForeignKeys   []ForeignKeyMeta `json:"foreignKeys"`
}

// ColumnMeta describes a column definition.
type ColumnMeta struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	NotNull      bool   `json:"notNull"`
	IsPrimaryKey bool   `json:"isPrimaryKey"`
}

// KeyMeta outlines a primary key or unique constraint.
type KeyMeta struct {
	Name    string   `json:"name"`
	Primary bool     `json:"primary"`
	Columns []string `json:"columns"`
}

// ForeignKeyMeta lists referential constraints.
type ForeignKeyMeta struct {
	Name        string   `json:"name"`
	FromColumns []string `json:"fromColumns"`
	ToTable     string   `json:"toTable"`
	ToColumns   []string `json:"toColumns"`
	OnDelete    string   `json:"onDelete"`
	OnUpdate    string   `json:"onUpdate"`
	Deferrable  bool     `json:"deferrable"`
}

// Meta gathers schema information and committed row counts.
func (db *Database) Meta() (DatabaseMeta, error) {
	if err := db.check(); err != nil {
		return DatabaseMeta{}, err
	}
	tables := db.catalog.ListTables()
	meta := DatabaseMeta{
		Epoch:              db.storage.Epoch(),
		ActiveTransactions: db.txns.Active(),
		Sessions:           db.Sessions(),
		Tables:             make([]TableMeta, 0, len(tables)),
	}
	for _, table := range tables {
		rows, err := db.storage.RowCount(table.ID)
		if err != nil {
			// Dropped between listing and counting.
			continue
		}
		tm := buildTableMeta(table)
		tm.RowCount = int64(rows)
		meta.Tables = append(meta.Tables, tm)
	}
	return meta, nil
}

// MetadataJSON returns the schema metadata encoded as JSON.
func (db *Database) MetadataJSON() ([]byte, error) {
	meta, err := db.Meta()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("api: encode metadata: %w", err)
	}
	return data, nil
}

func buildTableMeta(table *catalog.Table) TableMeta {
	primary := make(map[string]bool)
	for _, pk := range table.ConstraintsOf(catalog.ConstraintPrimaryKey) {
		for _, col := range pk.Columns {
			primary[strings.ToLower(col)] = true
		}
	}

	columns := make([]ColumnMeta, len(table.Schema.Columns))
	for i, col := range table.Schema.Columns {
		columns[i] = ColumnMeta{
			Name:         col.Name,
			Type:         col.Type.String(),
			NotNull:      col.NotNull,
			IsPrimaryKey: primary[strings.ToLower(col.Name)],
		}
	}

	keys := make([]KeyMeta, 0)
	for _, con := range table.Keys() {
		keys = append(keys, KeyMeta{
			Name:    con.Name,
			Primary: con.Kind == catalog.ConstraintPrimaryKey,
			Columns: append([]string(nil), con.Columns...),
		})
	}

	foreignKeys := make([]ForeignKeyMeta, 0)
	for _, fk := range table.ConstraintsOf(catalog.ConstraintForeignKey) {
		action := "RESTRICT"
		if fk.Deferrable {
			action = "NO ACTION"
		}
		foreignKeys = append(foreignKeys, ForeignKeyMeta{
			Name:        fk.Name,
			FromColumns: append([]string(nil), fk.Columns...),
			ToTable:     fk.RefTable,
			ToColumns:   append([]string(nil), fk.RefColumns...),
			OnDelete:    action,
			OnUpdate:    action,
			Deferrable:  fk.Deferrable,
		})
	}

	return TableMeta{
		Name:          table.Name,
		ID:            uint64(table.ID),
		SchemaVersion: table.Schema.Version,
		Columns:       columns,
		Keys:          keys,
		ForeignKeys:   foreignKeys,
	}
}
