package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"regexp"
	"strings"

	"github.com/marcboeker/go-duckdb/v2"
)

const DefaultTable = "transactions"

const transactionsSchema = `
	CREATE TABLE IF NOT EXISTS %s (
		user_pseudo_id VARCHAR NOT NULL,
		product_id VARCHAR,
		product_value DOUBLE,
		event_date DATE NOT NULL
	);
`

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type Settings struct {
	DbPath string
	// Table is [schema.]table holding transaction rows.
	Table string
}

func (s Settings) table() (string, error) {
	if s.Table == "" {
		return DefaultTable, nil
	}
	if !identPattern.MatchString(s.Table) {
		return "", fmt.Errorf("invalid duckdb table name %q", s.Table)
	}
	return s.Table, nil
}

func bootQueries(table string) []string {
	var queries []string
	if schema, _, ok := strings.Cut(table, "."); ok {
		queries = append(queries, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", schema))
	}
	return append(queries, fmt.Sprintf(transactionsSchema, table))
}

func NewDB(settings Settings) (*sql.DB, error) {
	table, err := settings.table()
	if err != nil {
		return nil, err
	}
	if settings.DbPath == "" {
		settings.DbPath = ":memory:"
	}

	c, err := duckdb.NewConnector(settings.DbPath, func(exec driver.ExecerContext) error {
		for _, query := range bootQueries(table) {
			_, err := exec.ExecContext(context.Background(), query, nil)
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	db := sql.OpenDB(c)
	return db, nil
}
