package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/services/cohort"
	"github.com/de-tools/revenue-atlas/pkg/services/config"
	"github.com/de-tools/revenue-atlas/pkg/services/currency"
	"github.com/de-tools/revenue-atlas/pkg/services/export"
	"github.com/de-tools/revenue-atlas/pkg/services/pipeline"
	"github.com/de-tools/revenue-atlas/pkg/store/objectstore"
	"github.com/de-tools/revenue-atlas/pkg/store/warehouse"
	"github.com/rs/zerolog"
)

// App holds the services shared by the web server and the terminal commands.
type App struct {
	Config       *config.Config
	Packs        []domain.Pack
	Rates        *currency.Client
	Warehouse    *warehouse.Handle
	Orchestrator *pipeline.Orchestrator
}

// NewRates builds the currency client alone, for commands that never touch
// the warehouse.
func NewRates(cfg *config.Config) *currency.Client {
	return currency.NewClient(currency.Settings{
		BaseURL:      cfg.Currency.BaseURL,
		From:         cfg.Currency.From,
		To:           cfg.Currency.To,
		FallbackRate: cfg.Currency.FallbackRate,
		UseLiveRates: cfg.Currency.UseLiveRates,
		Timeout:      cfg.Currency.Timeout,
	}, &http.Client{Timeout: cfg.Currency.Timeout})
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := zerolog.Ctx(ctx)

	packs, err := cfg.Data.PackList()
	if err != nil {
		return nil, err
	}
	products, err := cfg.Data.ProductFilters()
	if err != nil {
		return nil, err
	}

	wh, err := warehouse.Open(ctx, cfg.Warehouse, cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s warehouse: %w", cfg.Warehouse.Driver, err)
	}

	rates := NewRates(cfg)

	orch, err := pipeline.NewOrchestrator(pipeline.Config{
		DataRoot:   cfg.Data.Root,
		WindowDays: cfg.Data.WindowDays,
		CohortYear: cfg.Data.CohortYear,
		Packs:      packs,
		Products:   products,
	}, pipeline.Dependencies{
		Loader:    cohort.NewLoader(cfg.Data.IDColumn),
		Warehouse: wh,
		Rates:     rates,
		Sink:      export.NewRecordWriter(cfg.Data.OutputDir),
		Clock:     time.Now,
	})
	if err != nil {
		_ = wh.Close()
		return nil, err
	}

	logger.Info().
		Str("driver", cfg.Warehouse.Driver).
		Str("table", cfg.Warehouse.Table).
		Str("data_root", cfg.Data.Root).
		Msg("services initialized")

	return &App{
		Config:       cfg,
		Packs:        packs,
		Rates:        rates,
		Warehouse:    wh,
		Orchestrator: orch,
	}, nil
}

// NewPublisher wires the configured export destinations. The result is
// disabled when neither S3 nor Sheets is configured.
func (a *App) NewPublisher(ctx context.Context) (*export.Publisher, error) {
	var uploader objectstore.Uploader
	if s3 := a.Config.Export.S3; s3.Bucket != "" {
		u, err := objectstore.NewS3Uploader(ctx, objectstore.Settings{
			Bucket: s3.Bucket,
			Region: s3.Region,
			Prefix: s3.Prefix,
		})
		if err != nil {
			return nil, err
		}
		uploader = u
	}

	var sheets export.SummaryWriter
	if sh := a.Config.Export.Sheets; sh.SpreadsheetID != "" {
		p, err := export.NewSheetsPublisher(ctx, export.SheetsSettings{
			SpreadsheetID:   sh.SpreadsheetID,
			SheetName:       sh.SheetName,
			CredentialsFile: sh.CredentialsFile,
			Retry:           a.Config.Retry,
		}, a.Packs)
		if err != nil {
			return nil, err
		}
		sheets = p
	}

	return export.NewPublisher(uploader, sheets, a.Packs), nil
}

// SaveSummary writes the run workbook into the output directory.
func (a *App) SaveSummary(ctx context.Context, result domain.PipelineRun) {
	logger := zerolog.Ctx(ctx)
	path, err := export.SaveWorkbook(a.Config.Data.OutputDir, result, a.Packs)
	if err != nil {
		logger.Error().Err(err).Str("run_id", result.ID).Msg("failed to save summary workbook")
		return
	}
	logger.Info().Str("path", path).Str("run_id", result.ID).Msg("summary workbook saved")
}

func (a *App) Close() error {
	return a.Warehouse.Close()
}
