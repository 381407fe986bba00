package commands

import (
	"fmt"
	"os"

	"github.com/de-tools/revenue-atlas/pkg/store/duckdb"
	"github.com/de-tools/revenue-atlas/pkg/store/duckdb/transactions"
	"github.com/spf13/cobra"
)

type ImportCmd struct {
	load  ConfigLoader
	db    string
	table string
}

func NewImportCmd(load ConfigLoader) *cobra.Command {
	ic := &ImportCmd{load: load}
	cmd := &cobra.Command{
		Use:   "import [csv files...]",
		Short: "Load transaction CSV files into the local DuckDB warehouse",
		Args:  cobra.MinimumNArgs(1),
		RunE:  ic.run,
	}

	cmd.Flags().StringVar(&ic.db, "db", "", "DuckDB database file (defaults to warehouse.dsn)")
	cmd.Flags().StringVar(&ic.table, "table", "", "Target table (defaults to warehouse.table)")

	return cmd
}

func (ic *ImportCmd) run(cmd *cobra.Command, files []string) error {
	cfg, err := ic.load()
	if err != nil {
		return err
	}
	path := cfg.Warehouse.DSN
	if ic.db != "" {
		path = ic.db
	}
	if path == "" {
		return fmt.Errorf("a DuckDB file is required: set --db or warehouse.dsn")
	}
	table := cfg.Warehouse.Table
	if ic.table != "" {
		table = ic.table
	}

	db, err := duckdb.NewDB(duckdb.Settings{DbPath: path, Table: table})
	if err != nil {
		return fmt.Errorf("failed to create DuckDB instance: %w", err)
	}
	defer db.Close()

	store, err := transactions.NewStore(db, table)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	for _, name := range files {
		if err := importFile(cmd, store, name); err != nil {
			return err
		}
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d records from %d users", table, stats.RecordsCount, stats.Users)
	if stats.FirstDate != nil && stats.LastDate != nil {
		fmt.Fprintf(out, " between %s and %s", stats.FirstDate.Format("2006-01-02"), stats.LastDate.Format("2006-01-02"))
	}
	fmt.Fprintln(out)
	return nil
}

func importFile(cmd *cobra.Command, store transactions.Store, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := store.ImportCSV(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("failed to import %s: %w", name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d records from %s\n", n, name)
	return nil
}
