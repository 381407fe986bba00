package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/store/objectstore"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var ErrNoDestination = errors.New("no export destination configured")

// SummaryWriter publishes a run summary to a remote spreadsheet.
type SummaryWriter interface {
	Publish(ctx context.Context, result domain.PipelineRun) (string, error)
}

type PublishResult struct {
	Location   string `json:"location,omitempty"`
	SheetRange string `json:"sheet_range,omitempty"`
}

// Publisher pushes a run's workbook to object storage and its summary grid
// to a spreadsheet. Either destination may be nil.
type Publisher struct {
	uploader objectstore.Uploader
	sheets   SummaryWriter
	packs    []domain.Pack
}

func NewPublisher(uploader objectstore.Uploader, sheets SummaryWriter, packs []domain.Pack) *Publisher {
	return &Publisher{uploader: uploader, sheets: sheets, packs: packs}
}

func (p *Publisher) Enabled() bool {
	return p != nil && (p.uploader != nil || p.sheets != nil)
}

func (p *Publisher) Publish(ctx context.Context, result domain.PipelineRun) (PublishResult, error) {
	if !p.Enabled() {
		return PublishResult{}, ErrNoDestination
	}

	var out PublishResult
	var errs []error

	if p.uploader != nil {
		var buf bytes.Buffer
		if err := WriteWorkbook(&buf, result, p.packs); err != nil {
			return out, fmt.Errorf("failed to render workbook: %w", err)
		}
		location, err := p.uploader.Upload(ctx, path.Join(result.ID, WorkbookName), buf.Bytes(), xlsxContentType)
		if err != nil {
			errs = append(errs, err)
		}
		out.Location = location
	}

	if p.sheets != nil {
		updated, err := p.sheets.Publish(ctx, result)
		if err != nil {
			errs = append(errs, err)
		}
		out.SheetRange = updated
	}

	return out, errors.Join(errs...)
}
