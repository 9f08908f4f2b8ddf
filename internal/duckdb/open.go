package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"

	duckdbDriver "github.com/marcboeker/go-duckdb"
)

// InMemory is the DSN of a private in-memory database.
const InMemory = ""

// OpenDB opens the DuckDB database at path, creating its parent directory.
// Every pooled connection is initialized with the session settings the
// sample tables rely on.
func OpenDB(path string) (*sql.DB, error) {
	if path != InMemory && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	connector, err := duckdbDriver.NewConnector(path, func(execer driver.ExecerContext) error {
		// Insertion order keeps drained batches in sample order on export.
		_, err := execer.ExecContext(context.Background(), "SET preserve_insertion_order = true", nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb %q: %w", path, err)
	}

	return sql.OpenDB(connector), nil
}
