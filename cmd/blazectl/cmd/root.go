// Package cmd contains the CLI commands for blazereport administration.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazereport/internal/storage"
)

// defaultDBPath can be overridden via BLAZEREPORT_DB_PATH.
var defaultDBPath = "./data/blazereport.db"

var (
	verbose bool
	output  string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "blazectl",
	Short: "BlazeReport administration tool",
	Long: `blazectl manages a BlazeReport installation.

Schedule, log and user commands operate directly on the SQLite database and
are intended for administrators. The run command goes through the REST API
of a running server.

Examples:
  # Create an operator
  blazectl user create --username alice --email alice@example.com --role operator

  # Import a schedule definition
  blazectl schedule create -f weekly-kpis.yaml

  # Trigger a schedule on a running server
  blazectl run 42 --server http://localhost:8080 --token $TOKEN`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if envPath := os.Getenv("BLAZEREPORT_DB_PATH"); envPath != "" {
		defaultDBPath = envPath
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// addDBFlag registers --db on commands that open the database.
func addDBFlag(cmds ...*cobra.Command) {
	for _, c := range cmds {
		c.Flags().StringVar(&dbPath, "db", defaultDBPath, "path to SQLite database file")
	}
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...any) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openDatabase opens and migrates the SQLite database. Unless create is set
// the file must already exist.
func openDatabase(ctx context.Context, path string, create bool) (*storage.SQLiteStorage, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if !create {
			return nil, errors.Newf("database file not found: %s", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.Wrap(err, "create data directory")
		}
	}

	store := storage.NewSQLiteStorage(path, nil)
	if err := store.Open(ctx); err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	PrintVerbose("opened %s", path)
	return store, nil
}
