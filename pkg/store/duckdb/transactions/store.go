package transactions

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/store/duckdb"
	"github.com/rs/zerolog"
)

// Store loads transaction rows into a local DuckDB warehouse table. Reads go
// through the warehouse package like any other driver.
type Store interface {
	Add(ctx context.Context, records []domain.RevenueRecord) error
	ImportCSV(ctx context.Context, r io.Reader) (int, error)
	GetStats(ctx context.Context) (*Stats, error)
}

type Stats struct {
	RecordsCount int64
	Users        int64
	FirstDate    *time.Time
	LastDate     *time.Time
}

type transactionStore struct {
	db    *sql.DB
	table string
}

func NewStore(db *sql.DB, table string) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if table == "" {
		table = duckdb.DefaultTable
	}
	return &transactionStore{
		db:    db,
		table: table,
	}, nil
}

func (s *transactionStore) Add(ctx context.Context, records []domain.RevenueRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx := duckdb.GetTransaction(ctx)
	query := fmt.Sprintf(`
		INSERT INTO %s (
			user_pseudo_id, product_id, product_value, event_date
		) VALUES (
			?, ?, ?, ?
		)`, s.table)

	var stmt *sql.Stmt
	var err error
	if tx == nil {
		stmt, err = s.db.PrepareContext(ctx, query)
	} else {
		stmt, err = tx.PrepareContext(ctx, query)
	}

	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		_, err = stmt.ExecContext(ctx,
			record.UserID,
			record.ProductID,
			record.Value,
			record.EventDate.Format(domain.DateLayout),
		)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}

	return nil
}

const importBatch = 1000

// ImportCSV reads user_pseudo_id, product_id, product_value, event_date rows
// (header required, any column order) and inserts them in one transaction.
func (s *transactionStore) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	logger := zerolog.Ctx(ctx)

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return 0, err
	}

	total := 0
	err = duckdb.InTransaction(ctx, s.db, func(ctx context.Context) error {
		batch := make([]domain.RevenueRecord, 0, importBatch)
		for line := 2; ; line++ {
			row, err := reader.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}

			record, err := parseRow(row, cols)
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			batch = append(batch, record)

			if len(batch) == importBatch {
				if err := s.Add(ctx, batch); err != nil {
					return err
				}
				total += len(batch)
				batch = batch[:0]
			}
		}
		if err := s.Add(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Info().Int("records", total).Str("table", s.table).Msg("imported transactions")
	return total, nil
}

func (s *transactionStore) GetStats(ctx context.Context) (*Stats, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) AS total_records,
			COUNT(DISTINCT user_pseudo_id) AS users,
			MIN(event_date) AS first_date,
			MAX(event_date) AS last_date
		FROM %s`, s.table)

	var stats Stats
	var first, last sql.NullTime
	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.RecordsCount, &stats.Users, &first, &last); err != nil {
		return nil, fmt.Errorf("get transaction stats failed: %w", err)
	}
	if first.Valid {
		stats.FirstDate = &first.Time
	}
	if last.Valid {
		stats.LastDate = &last.Time
	}
	return &stats, nil
}

type columns struct {
	user, product, value, date int
}

func columnIndex(header []string) (columns, error) {
	idx := map[string]int{}
	for i, name := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	var cols columns
	for name, dst := range map[string]*int{
		"user_pseudo_id": &cols.user,
		"product_id":     &cols.product,
		"product_value":  &cols.value,
		"event_date":     &cols.date,
	} {
		i, ok := idx[name]
		if !ok {
			return columns{}, fmt.Errorf("%w: %s", domain.ErrMissingColumn, name)
		}
		*dst = i
	}
	return cols, nil
}

func parseRow(row []string, cols columns) (domain.RevenueRecord, error) {
	field := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	value, err := strconv.ParseFloat(field(cols.value), 64)
	if err != nil {
		return domain.RevenueRecord{}, fmt.Errorf("invalid product_value %q", field(cols.value))
	}
	date, err := time.Parse(domain.DateLayout, field(cols.date))
	if err != nil {
		return domain.RevenueRecord{}, fmt.Errorf("invalid event_date %q", field(cols.date))
	}
	user := field(cols.user)
	if user == "" {
		return domain.RevenueRecord{}, fmt.Errorf("empty user_pseudo_id")
	}

	return domain.RevenueRecord{
		UserID:    user,
		ProductID: field(cols.product),
		Value:     value,
		EventDate: date,
	}, nil
}
