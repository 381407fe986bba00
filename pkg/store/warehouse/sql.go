package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/retry"
	"github.com/rs/zerolog"
)

const (
	columnUserID    = "user_pseudo_id"
	columnProductID = "product_id"
	columnValue     = "product_value"
	columnEventDate = "event_date"
)

type sqlStore struct {
	db       *sql.DB
	settings Settings
}

// NewSQLStore queries a transaction table through any database/sql driver
// using ? placeholders (databricks, snowflake, mysql, duckdb).
func NewSQLStore(db *sql.DB, settings Settings) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	settings, err := settings.validate()
	if err != nil {
		return nil, err
	}
	return &sqlStore{
		db:       db,
		settings: settings,
	}, nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.settings.QueryTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		if isAuthError(err) {
			return fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
		}
		return fmt.Errorf("warehouse ping failed: %w", err)
	}
	return nil
}

func (s *sqlStore) GetRevenueRecords(ctx context.Context, query RevenueQuery) ([]domain.RevenueRecord, error) {
	logger := zerolog.Ctx(ctx)

	records := []domain.RevenueRecord{}
	if len(query.UserIDs) == 0 {
		return records, nil
	}

	chunks := chunk(query.UserIDs, s.settings.ChunkSize)
	for i, ids := range chunks {
		var batch []domain.RevenueRecord
		err := retry.Do(ctx, s.settings.Retry, func(ctx context.Context) error {
			var err error
			batch, err = s.queryChunk(ctx, ids, query)
			if err != nil {
				return classify(err)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("revenue query failed for chunk %d/%d: %w", i+1, len(chunks), err)
		}

		logger.Debug().
			Int("chunk", i+1).
			Int("chunks", len(chunks)).
			Int("ids", len(ids)).
			Int("records", len(batch)).
			Msg("fetched revenue chunk")
		records = append(records, batch...)
	}

	return records, nil
}

func (s *sqlStore) queryChunk(ctx context.Context, ids []string, query RevenueQuery) ([]domain.RevenueRecord, error) {
	logger := zerolog.Ctx(ctx)

	ctx, cancel := context.WithTimeout(ctx, s.settings.QueryTimeout)
	defer cancel()

	stmt, args := buildQuery(s.settings.Table, ids, query)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		err := rows.Close()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to close revenue query rows")
		}
	}(rows)

	var records []domain.RevenueRecord
	for rows.Next() {
		var (
			userID, productID sql.NullString
			value             sql.NullFloat64
			eventDate         dateValue
		)
		if err := rows.Scan(&userID, &productID, &value, &eventDate); err != nil {
			return nil, fmt.Errorf("scan revenue row: %w", err)
		}
		records = append(records, domain.RevenueRecord{
			UserID:    userID.String,
			ProductID: productID.String,
			Value:     value.Float64,
			Currency:  s.settings.SourceCurrency,
			EventDate: eventDate.Time,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func buildQuery(table string, ids []string, query RevenueQuery) (string, []any) {
	args := make([]any, 0, len(ids)+len(query.Products)+2)
	args = append(args,
		query.Window.Start.Format(domain.DateLayout),
		query.Window.End().Format(domain.DateLayout),
	)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, %s, %s, %s FROM %s WHERE %s >= ? AND %s < ? AND %s IN (%s)",
		columnUserID, columnProductID, columnValue, columnEventDate,
		table,
		columnEventDate, columnEventDate,
		columnUserID, placeholders(len(ids)))
	for _, id := range ids {
		args = append(args, id)
	}

	if len(query.Products) > 0 {
		fmt.Fprintf(&b, " AND %s IN (%s)", columnProductID, placeholders(len(query.Products)))
		for _, p := range query.Products {
			args = append(args, p)
		}
	}

	fmt.Fprintf(&b, " ORDER BY %s, %s", columnEventDate, columnUserID)
	return b.String(), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// dateValue accepts the DATE representations drivers hand back: time.Time
// (duckdb, databricks, snowflake) or text (mysql without parseTime).
type dateValue struct {
	time.Time
}

func (d *dateValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.Time = time.Time{}
		return nil
	case time.Time:
		d.Time = v
		return nil
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	default:
		return fmt.Errorf("unsupported event_date type %T", src)
	}
}

func (d *dateValue) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range []string{domain.DateLayout, "20060102", time.DateTime, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("unparsable event_date %q", s)
}
