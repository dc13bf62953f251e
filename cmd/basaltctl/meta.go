package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/example/basalt/internal/api"
)

func newMetaCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Print the tutorial catalog metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openTutorial(cmd.Context(), configFrom(cmd.Context()))
			if err != nil {
				return err
			}
			defer db.Close()
			meta, err := db.Meta()
			if err != nil {
				return err
			}
			if jsonOut {
				return writeMetaJSON(cmd.OutOrStdout(), meta)
			}
			writeMeta(cmd.OutOrStdout(), meta)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit metadata as JSON")
	return cmd
}

func writeMetaJSON(w io.Writer, meta api.DatabaseMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeMeta(w io.Writer, meta api.DatabaseMeta) {
	if len(meta.Tables) == 0 {
		fmt.Fprintln(w, "No tables defined")
		return
	}
	for _, table := range meta.Tables {
		renderTitle(w, fmt.Sprintf("Table %s (%s row(s))", table.Name, humanize.Comma(table.RowCount)))
		for _, col := range table.Columns {
			line := fmt.Sprintf("  - %s %s", col.Name, col.Type)
			if col.NotNull {
				line += " NOT NULL"
			}
			if col.IsPrimaryKey {
				line += " PRIMARY KEY"
			}
			fmt.Fprintln(w, line)
		}
		for _, key := range table.Keys {
			if !key.Primary {
				fmt.Fprintf(w, "  unique %s (%s)\n", key.Name, strings.Join(key.Columns, ", "))
			}
		}
		for _, fk := range table.ForeignKeys {
			fmt.Fprintf(w, "  %s (%s) -> %s (%s) ON DELETE %s\n",
				fk.Name, strings.Join(fk.FromColumns, ", "), fk.ToTable, strings.Join(fk.ToColumns, ", "), fk.OnDelete)
		}
		fmt.Fprintln(w)
	}
}
