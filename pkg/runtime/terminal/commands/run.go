package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/runtime/app"
	"github.com/de-tools/revenue-atlas/pkg/runtime/terminal/export"
	"github.com/de-tools/revenue-atlas/pkg/services/config"
	"github.com/de-tools/revenue-atlas/pkg/services/pipeline"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// ConfigLoader resolves the configuration named by the root command flags.
type ConfigLoader func() (*config.Config, error)

type RunCmd struct {
	load      ConfigLoader
	reporter  *export.Reporter
	root      string
	output    string
	cohorts   []string
	packs     []string
	noSave    bool
	progress  bool
	logLevel  string
	pollEvery time.Duration
}

func NewRunCmd(load ConfigLoader, reporter *export.Reporter) *cobra.Command {
	rc := &RunCmd{load: load, reporter: reporter}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attribute warehouse revenue to every cohort pack",
		RunE:  rc.run,
	}

	cmd.Flags().StringVar(&rc.root, "root", "", "Data root holding cohort directories (overrides data.root)")
	cmd.Flags().StringVar(&rc.output, "output", "", "Directory for the summary workbook (overrides data.output_dir)")
	cmd.Flags().StringSliceVar(&rc.cohorts, "cohort", nil, "Cohort directory to process; repeatable, default all")
	cmd.Flags().StringSliceVar(&rc.packs, "pack", nil, "Pack to process; repeatable, default all configured")
	cmd.Flags().BoolVar(&rc.noSave, "no-save", false, "Do not write the summary workbook")
	cmd.Flags().BoolVar(&rc.progress, "progress", true, "Show a progress bar")
	cmd.Flags().StringVar(&rc.logLevel, "log-level", "warn", "Log level written to stderr")
	cmd.Flags().DurationVar(&rc.pollEvery, "poll", 250*time.Millisecond, "Progress refresh interval")

	return cmd
}

func (rc *RunCmd) run(cmd *cobra.Command, _ []string) error {
	cfg, err := rc.load()
	if err != nil {
		return err
	}
	if rc.root != "" {
		cfg.Data.Root = rc.root
	}
	if rc.output != "" {
		cfg.Data.OutputDir = rc.output
	}

	level, err := zerolog.ParseLevel(rc.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", rc.logLevel, err)
	}
	console := zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.TimeOnly}
	logger := zerolog.New(pipeline.LevelFilter(console, level)).
		Level(min(level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	ctx := logger.WithContext(cmd.Context())

	packs, err := cfg.Data.PackList()
	if err != nil {
		return err
	}
	if len(rc.packs) > 0 {
		if packs, err = domain.ParsePacks(rc.packs); err != nil {
			return err
		}
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	run := pipeline.NewRun(uuid.NewString(), time.Now)
	results := make(chan domain.PipelineRun, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Msg("pipeline run panicked")
				run.Fail(fmt.Errorf("pipeline run panicked: %v", rec))
				results <- run.Snapshot()
			}
		}()
		results <- a.Orchestrator.Execute(ctx, run, pipeline.Request{
			DataRoot: cfg.Data.Root,
			Cohorts:  rc.cohorts,
			Packs:    packs,
		})
	}()

	signals, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	go func() {
		select {
		case <-signals.Done():
			logger.Warn().Msg("interrupt received, stopping after the current pack")
			run.Stop()
		case <-run.Done():
		}
	}()

	if rc.progress {
		export.NewProgressReporter(cmd.ErrOrStderr(), rc.pollEvery).Track(ctx, run)
	}
	result := <-results

	if err := rc.reporter.Handle(result, packs, cfg.Currency.To); err != nil {
		return err
	}

	if !rc.noSave && len(result.Summaries) > 0 {
		a.SaveSummary(ctx, result)
	}

	if result.Status == domain.RunStatusFailed {
		return fmt.Errorf("run %s failed", result.ID)
	}
	return nil
}
