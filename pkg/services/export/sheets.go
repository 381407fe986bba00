package export

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/retry"
	"github.com/de-tools/revenue-atlas/pkg/store/gcp"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var ErrSpreadsheetRequired = errors.New("spreadsheet id is required")

type SheetsSettings struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
	Retry           retry.Options
}

// SheetsPublisher mirrors the summary grid into a single spreadsheet tab.
type SheetsPublisher struct {
	service  *sheets.Service
	settings SheetsSettings
	packs    []domain.Pack
}

func NewSheetsPublisher(ctx context.Context, settings SheetsSettings, packs []domain.Pack) (*SheetsPublisher, error) {
	if settings.SpreadsheetID == "" {
		return nil, ErrSpreadsheetRequired
	}
	client, err := gcp.NewHTTPClient(ctx, settings.CredentialsFile, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, err
	}
	return newSheetsPublisher(ctx, settings, packs, option.WithHTTPClient(client))
}

func newSheetsPublisher(ctx context.Context, settings SheetsSettings, packs []domain.Pack, opts ...option.ClientOption) (*SheetsPublisher, error) {
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}
	if settings.SheetName == "" {
		settings.SheetName = SheetSummary
	}
	return &SheetsPublisher{service: service, settings: settings, packs: packs}, nil
}

// Publish clears the tab and writes the summary grid from A1. It returns the
// range the API reports as updated.
func (p *SheetsPublisher) Publish(ctx context.Context, result domain.PipelineRun) (string, error) {
	table := SummaryTable(result.Summaries, p.packs)
	values := make([][]any, 0, len(table.Rows)+1)
	header := make([]any, len(table.Header))
	for i, h := range table.Header {
		header[i] = h
	}
	values = append(values, header)
	values = append(values, table.Rows...)

	id := p.settings.SpreadsheetID
	var updated string
	err := retry.Do(ctx, p.settings.Retry, func(ctx context.Context) error {
		_, err := p.service.Spreadsheets.Values.
			Clear(id, p.settings.SheetName+"!A:Z", &sheets.ClearValuesRequest{}).
			Context(ctx).
			Do()
		if err != nil {
			return classifySheetsError(fmt.Errorf("failed to clear sheet: %w", err))
		}

		resp, err := p.service.Spreadsheets.Values.
			Update(id, p.settings.SheetName+"!A1", &sheets.ValueRange{Values: values}).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		if err != nil {
			return classifySheetsError(fmt.Errorf("failed to update sheet: %w", err))
		}
		updated = resp.UpdatedRange
		return nil
	})
	if err != nil {
		return "", err
	}

	zerolog.Ctx(ctx).Info().
		Str("spreadsheet_id", id).
		Str("range", updated).
		Msg("summary published to sheets")
	return updated, nil
}

func classifySheetsError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return retry.Permanent(err)
		}
	}
	return err
}
