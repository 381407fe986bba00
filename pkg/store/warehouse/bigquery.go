package warehouse

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/retry"
	"github.com/rs/zerolog"
	"google.golang.org/api/bigquery/v2"
)

type BigQuerySettings struct {
	ProjectID string
	Location  string
}

type bigQueryStore struct {
	service  *bigquery.Service
	project  BigQuerySettings
	settings Settings
}

// NewBigQueryStore runs standard SQL jobs through the BigQuery REST API with
// the identifier chunk bound as an ARRAY<STRING> parameter.
func NewBigQueryStore(service *bigquery.Service, project BigQuerySettings, settings Settings) (Store, error) {
	if service == nil {
		return nil, fmt.Errorf("bigquery service is nil")
	}
	if project.ProjectID == "" {
		return nil, fmt.Errorf("bigquery project id is required")
	}
	settings, err := settings.validate()
	if err != nil {
		return nil, err
	}
	return &bigQueryStore{
		service:  service,
		project:  project,
		settings: settings,
	}, nil
}

func (s *bigQueryStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.settings.QueryTimeout)
	defer cancel()

	_, err := s.service.Datasets.List(s.project.ProjectID).MaxResults(1).Context(ctx).Do()
	if err != nil {
		if isAuthError(err) {
			return fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
		}
		return fmt.Errorf("bigquery ping failed: %w", err)
	}
	return nil
}

func (s *bigQueryStore) GetRevenueRecords(ctx context.Context, query RevenueQuery) ([]domain.RevenueRecord, error) {
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

func (s *bigQueryStore) queryChunk(ctx context.Context, ids []string, query RevenueQuery) ([]domain.RevenueRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.QueryTimeout)
	defer cancel()

	useLegacySQL := false
	req := &bigquery.QueryRequest{
		Query:           buildStandardQuery(s.settings.Table, len(query.Products) > 0),
		UseLegacySql:    &useLegacySQL,
		ParameterMode:   "NAMED",
		QueryParameters: queryParameters(ids, query),
		Location:        s.project.Location,
		TimeoutMs:       s.settings.QueryTimeout.Milliseconds(),
	}

	resp, err := s.service.Jobs.Query(s.project.ProjectID, req).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	records, err := s.decodeRows(resp.Rows)
	if err != nil {
		return nil, err
	}

	complete := resp.JobComplete
	pageToken := resp.PageToken
	if complete && pageToken == "" {
		return records, nil
	}
	if resp.JobReference == nil {
		return nil, fmt.Errorf("bigquery response has no job reference")
	}
	job := resp.JobReference

	for !complete || pageToken != "" {
		call := s.service.Jobs.GetQueryResults(s.project.ProjectID, job.JobId).
			TimeoutMs(s.settings.QueryTimeout.Milliseconds()).
			Context(ctx)
		if job.Location != "" {
			call = call.Location(job.Location)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			return nil, err
		}
		if !page.JobComplete {
			complete = false
			if err := sleepCtx(ctx, 500*time.Millisecond); err != nil {
				return nil, err
			}
			continue
		}
		complete = true

		batch, err := s.decodeRows(page.Rows)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
		pageToken = page.PageToken
	}

	return records, nil
}

func (s *bigQueryStore) decodeRows(rows []*bigquery.TableRow) ([]domain.RevenueRecord, error) {
	records := make([]domain.RevenueRecord, 0, len(rows))
	for _, row := range rows {
		if len(row.F) < 4 {
			return nil, fmt.Errorf("bigquery row has %d fields, want 4", len(row.F))
		}

		value, err := cellFloat(row.F[2].V)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", columnValue, err)
		}

		var eventDate dateValue
		if err := eventDate.Scan(row.F[3].V); err != nil {
			return nil, err
		}

		records = append(records, domain.RevenueRecord{
			UserID:    cellString(row.F[0].V),
			ProductID: cellString(row.F[1].V),
			Value:     value,
			Currency:  s.settings.SourceCurrency,
			EventDate: eventDate.Time,
		})
	}
	return records, nil
}

func buildStandardQuery(table string, withProducts bool) string {
	q := fmt.Sprintf("SELECT %s, %s, %s, %s FROM `%s` WHERE %s >= @start AND %s < @end AND %s IN UNNEST(@ids)",
		columnUserID, columnProductID, columnValue, columnEventDate,
		table,
		columnEventDate, columnEventDate,
		columnUserID)
	if withProducts {
		q += fmt.Sprintf(" AND %s IN UNNEST(@products)", columnProductID)
	}
	return q + fmt.Sprintf(" ORDER BY %s, %s", columnEventDate, columnUserID)
}

func queryParameters(ids []string, query RevenueQuery) []*bigquery.QueryParameter {
	params := []*bigquery.QueryParameter{
		dateParam("start", query.Window.Start),
		dateParam("end", query.Window.End()),
		stringArrayParam("ids", ids),
	}
	if len(query.Products) > 0 {
		params = append(params, stringArrayParam("products", query.Products))
	}
	return params
}

func dateParam(name string, t time.Time) *bigquery.QueryParameter {
	return &bigquery.QueryParameter{
		Name:           name,
		ParameterType:  &bigquery.QueryParameterType{Type: "DATE"},
		ParameterValue: &bigquery.QueryParameterValue{Value: t.Format(domain.DateLayout)},
	}
}

func stringArrayParam(name string, values []string) *bigquery.QueryParameter {
	items := make([]*bigquery.QueryParameterValue, 0, len(values))
	for _, v := range values {
		items = append(items, &bigquery.QueryParameterValue{Value: v})
	}
	return &bigquery.QueryParameter{
		Name: name,
		ParameterType: &bigquery.QueryParameterType{
			Type:      "ARRAY",
			ArrayType: &bigquery.QueryParameterType{Type: "STRING"},
		},
		ParameterValue: &bigquery.QueryParameterValue{ArrayValues: items},
	}
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func cellFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unsupported numeric cell %T", v)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
