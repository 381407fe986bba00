package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/services/cohort"
	"github.com/de-tools/revenue-atlas/pkg/services/currency"
	"github.com/de-tools/revenue-atlas/pkg/services/revenue"
	"github.com/de-tools/revenue-atlas/pkg/store/warehouse"
	"github.com/rs/zerolog"
)

type PackLoader interface {
	LoadPack(dir string, pack domain.Pack) (domain.UserIdentifierSet, error)
}

// RecordSink receives the raw records of every pack that completes.
type RecordSink interface {
	WriteRecords(ctx context.Context, cohort string, pack domain.Pack, records []domain.RevenueRecord) error
}

type Config struct {
	DataRoot   string
	WindowDays int
	// CohortYear is the year cohort names refer to; zero means the current year.
	CohortYear int
	Packs      []domain.Pack
	Products   map[domain.Pack][]string
}

type Dependencies struct {
	Loader    PackLoader
	Warehouse warehouse.Store
	Rates     currency.Converter
	Sink      RecordSink
	Clock     func() time.Time
}

// Request narrows a run. Empty fields fall back to the orchestrator config.
type Request struct {
	DataRoot string
	Cohorts  []string
	Packs    []domain.Pack
}

type Orchestrator struct {
	config Config
	deps   Dependencies
}

func NewOrchestrator(config Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Loader == nil {
		return nil, fmt.Errorf("pack loader is nil")
	}
	if deps.Warehouse == nil {
		return nil, fmt.Errorf("warehouse store is nil")
	}
	if deps.Rates == nil {
		return nil, fmt.Errorf("currency converter is nil")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if config.WindowDays <= 0 {
		config.WindowDays = 7
	}
	if len(config.Packs) == 0 {
		config.Packs = domain.DefaultPacks
	}
	return &Orchestrator{config: config, deps: deps}, nil
}

type plannedCohort struct {
	dir   domain.CohortDir
	packs []domain.Pack
}

// unitOutcome is the result of one (cohort, pack) unit: a pack result or an error.
type unitOutcome struct {
	result domain.PackResult
	err    error
}

// Execute processes every selected cohort and pack sequentially and returns
// the final state of run. It never returns early without finishing run.
func (o *Orchestrator) Execute(ctx context.Context, run *Run, req Request) domain.PipelineRun {
	base := *zerolog.Ctx(ctx)
	if base.GetLevel() == zerolog.Disabled {
		base = zerolog.New(io.Discard)
	}
	// The run log is fed by hooks, which only fire for enabled events.
	if base.GetLevel() > zerolog.InfoLevel {
		base = base.Level(zerolog.InfoLevel)
	}
	base = base.With().Str("run_id", run.ID()).Logger()
	logger := base.Hook(logHook{run: run})

	run.start()

	root := req.DataRoot
	if root == "" {
		root = o.config.DataRoot
	}
	packs := req.Packs
	if len(packs) == 0 {
		packs = o.config.Packs
	}

	logger.Info().Str("data_root", root).Int("packs", len(packs)).Msg("run started")

	planned, err := o.plan(run, &logger, root, req.Cohorts, packs)
	if err != nil {
		logger.Error().Err(err).Msg("unable to plan run")
		run.addError(domain.NewUnitError("", "", err))
		run.finish(domain.RunStatusFailed)
		return run.Snapshot()
	}

	if err := o.deps.Warehouse.Ping(logger.WithContext(ctx)); err != nil {
		logger.Error().Err(err).Msg("warehouse preflight failed")
		run.addError(domain.UnitError{Kind: domain.ErrorKindFatal, Message: err.Error()})
		run.finish(domain.RunStatusFailed)
		return run.Snapshot()
	}

	year := o.config.CohortYear
	if year == 0 {
		year = o.deps.Clock().Year()
	}
	rates := currency.NewCache(o.deps.Rates)

	status := o.process(ctx, run, base, planned, rates, year)

	progress := run.Progress()
	logger.Info().
		Str("status", string(status)).
		Int("processed", progress.Processed).
		Int("total", progress.Total).
		Str("revenue", progress.Revenue.StringFixed(2)).
		Msg("run finished")
	run.finish(status)
	return run.Snapshot()
}

func (o *Orchestrator) plan(run *Run, logger *zerolog.Logger, root string, selection []string, packs []domain.Pack) ([]plannedCohort, error) {
	dirs, err := cohort.Discover(root)
	if err != nil {
		return nil, err
	}

	if len(selection) > 0 {
		var selected []domain.CohortDir
		for _, d := range dirs {
			if slices.Contains(selection, d.Name) {
				selected = append(selected, d)
			}
		}
		for _, name := range selection {
			if !slices.ContainsFunc(dirs, func(d domain.CohortDir) bool { return d.Name == name }) {
				err := fmt.Errorf("%w: %s", domain.ErrCohortNotFound, name)
				logger.Warn().Str("cohort", name).Msg("selected cohort not found")
				run.addError(domain.NewUnitError(name, "", err))
			}
		}
		dirs = selected
	}

	var planned []plannedCohort
	var keys []domain.UnitKey
	for _, d := range dirs {
		if !cohort.HasPackFiles(d.Path, packs) {
			logger.Warn().Str("cohort", d.Name).Msg("no pack files found, skipping cohort")
			continue
		}
		planned = append(planned, plannedCohort{dir: d, packs: packs})
		for _, p := range packs {
			keys = append(keys, domain.UnitKey{Cohort: d.Name, Pack: p})
		}
	}
	run.plan(keys)

	logger.Info().Int("cohorts", len(planned)).Int("units", len(keys)).Msg("run planned")
	return planned, nil
}

func (o *Orchestrator) process(
	ctx context.Context,
	run *Run,
	base zerolog.Logger,
	planned []plannedCohort,
	rates *currency.Cache,
	year int,
) domain.RunStatus {
	for _, pc := range planned {
		name := pc.dir.Name
		cohortLogger := base.With().Str("cohort", name).Logger().Hook(logHook{run: run, cohort: name})

		if o.halted(ctx, run) {
			cohortLogger.Info().Msg("stop requested, remaining units left pending")
			return domain.RunStatusStopped
		}

		start, err := cohort.ParseStartDate(name, year)
		if err != nil {
			cohortLogger.Error().Err(err).Msg("invalid cohort name")
			for _, p := range pc.packs {
				run.failUnit(domain.UnitKey{Cohort: name, Pack: p}, domain.NewUnitError(name, p, err))
			}
			continue
		}

		window := domain.DateWindow{Start: start, Days: o.config.WindowDays}
		quote := rates.Rate(cohortLogger.WithContext(ctx), window)

		summary := domain.NewCohortSummary(name, window, quote)
		stopped, fatal := false, false
		for _, pack := range pc.packs {
			if o.halted(ctx, run) {
				cohortLogger.Info().Msg("stop requested, remaining units left pending")
				stopped = true
				break
			}

			key := domain.UnitKey{Cohort: name, Pack: pack}
			unitLogger := base.With().
				Str("cohort", name).
				Str("pack", string(pack)).
				Logger().
				Hook(logHook{run: run, cohort: name, pack: pack})
			unitCtx := unitLogger.WithContext(ctx)

			outcome := o.runUnit(unitCtx, run, key, pc.dir, window, quote)
			if outcome.err != nil {
				unitErr := domain.NewUnitError(name, pack, outcome.err)
				unitLogger.Error().Str("kind", string(unitErr.Kind)).Err(outcome.err).Msg("pack failed")
				run.failUnit(key, unitErr)
				if unitErr.Kind == domain.ErrorKindFatal {
					fatal = true
					break
				}
				continue
			}

			summary.Add(outcome.result)
			run.completeUnit(key, outcome.result.ConvertedTotal)
			unitLogger.Info().
				Int("records", outcome.result.Records).
				Str("revenue", outcome.result.ConvertedTotal.StringFixed(2)).
				Msgf("%s revenue %s", pack.Label(), outcome.result.ConvertedTotal.StringFixed(0))
		}

		if len(summary.Packs) > 0 {
			run.addSummary(summary)
			cohortLogger.Info().Str("total", summary.Total.StringFixed(2)).Msg("cohort completed")
		}

		switch {
		case fatal:
			return domain.RunStatusFailed
		case stopped:
			return domain.RunStatusStopped
		}
	}
	return domain.RunStatusCompleted
}

func (o *Orchestrator) halted(ctx context.Context, run *Run) bool {
	return run.StopRequested() || ctx.Err() != nil
}

func (o *Orchestrator) runUnit(
	ctx context.Context,
	run *Run,
	key domain.UnitKey,
	dir domain.CohortDir,
	window domain.DateWindow,
	quote domain.RateQuote,
) unitOutcome {
	logger := zerolog.Ctx(ctx)

	run.setUnit(key, domain.UnitStateLoading)
	ids, err := o.deps.Loader.LoadPack(dir.Path, key.Pack)
	if errors.Is(err, cohort.ErrPackNotFound) {
		logger.Info().Msg("pack extract not present, counting as zero")
		return unitOutcome{result: revenue.Missing(key.Pack, quote.Rate)}
	}
	if err != nil {
		return unitOutcome{err: err}
	}
	logger.Debug().Int("ids", len(ids)).Msg("identifiers loaded")

	run.setUnit(key, domain.UnitStateQuerying)
	records, err := o.deps.Warehouse.GetRevenueRecords(ctx, warehouse.RevenueQuery{
		UserIDs:  ids,
		Window:   window,
		Products: o.config.Products[key.Pack],
	})
	if err != nil {
		return unitOutcome{err: err}
	}

	run.setUnit(key, domain.UnitStateAggregating)
	result, err := revenue.Aggregate(key.Pack, len(ids), records, quote.Rate)
	if err != nil {
		return unitOutcome{err: err}
	}

	if o.deps.Sink != nil && len(records) > 0 {
		if err := o.deps.Sink.WriteRecords(ctx, key.Cohort, key.Pack, records); err != nil {
			logger.Warn().Err(err).Msg("failed to write pack records")
			run.addError(domain.UnitError{
				Cohort:  key.Cohort,
				Pack:    key.Pack,
				Kind:    domain.ErrorKindTransient,
				Message: fmt.Sprintf("write records: %v", err),
			})
		}
	}

	return unitOutcome{result: result}
}
