package adapters

import (
	"github.com/de-tools/revenue-atlas/pkg/models/api"
	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/services/export"
	"github.com/shopspring/decimal"
)

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func MapProgressDomainToApi(p domain.Progress) api.Progress {
	res := api.Progress{
		Processed: p.Processed,
		Total:     p.Total,
		Revenue:   money(p.Revenue),
	}
	if p.Total > 0 {
		res.Percent = float64(p.Processed) * 100 / float64(p.Total)
	}
	return res
}

func MapUnitErrorDomainToApi(e domain.UnitError) api.UnitError {
	return api.UnitError{
		Cohort:  e.Cohort,
		Pack:    string(e.Pack),
		Kind:    string(e.Kind),
		Message: e.Message,
	}
}

func MapUnitErrorsDomainToApi(errs []domain.UnitError) []api.UnitError {
	res := make([]api.UnitError, 0, len(errs))
	for _, e := range errs {
		res = append(res, MapUnitErrorDomainToApi(e))
	}
	return res
}

// MapRunDomainToApi combines a run snapshot with its live progress counters.
func MapRunDomainToApi(r domain.PipelineRun, p domain.Progress) api.Run {
	res := api.Run{
		ID:             r.ID,
		Status:         string(r.Status),
		ElapsedSeconds: r.Elapsed.Seconds(),
		Progress:       MapProgressDomainToApi(p),
		TotalRevenue:   money(r.Total()),
		FallbackUsed:   r.FallbackUsed(),
		Units:          make([]api.Unit, 0, len(r.Units)),
		Errors:         MapUnitErrorsDomainToApi(r.Errors),
	}
	if !r.StartedAt.IsZero() {
		started := r.StartedAt
		res.StartedAt = &started
	}
	for _, u := range r.Units {
		res.Units = append(res.Units, api.Unit{Cohort: u.Cohort, Pack: string(u.Pack), State: string(u.State)})
	}
	return res
}

func MapPackResultDomainToApi(r domain.PackResult) api.PackResult {
	return api.PackResult{
		Pack:        string(r.Pack),
		Label:       r.Pack.Label(),
		Users:       r.Users,
		Payers:      r.Payers,
		Records:     r.Records,
		SourceTotal: money(r.SourceTotal),
		Total:       money(r.ConvertedTotal),
		Rate:        r.Rate,
		Missing:     r.Missing,
	}
}

func MapCohortSummaryDomainToApi(s domain.CohortSummary) api.CohortSummary {
	res := api.CohortSummary{
		Cohort:         s.Cohort,
		Rate:           s.Quote.Rate,
		RateSource:     s.Quote.Source,
		Fallback:       s.Quote.Fallback,
		FallbackReason: s.Quote.Reason,
		SourceTotal:    money(s.SourceTotal),
		Total:          money(s.Total),
		Packs:          make([]api.PackResult, 0, len(s.Packs)),
	}
	if !s.Window.Start.IsZero() {
		res.WindowStart = s.Window.Start.Format(domain.DateLayout)
		res.WindowEnd = s.Window.LastDay().Format(domain.DateLayout)
	}
	for _, p := range s.Packs {
		res.Packs = append(res.Packs, MapPackResultDomainToApi(p))
	}
	return res
}

func MapResultsDomainToApi(r domain.PipelineRun, packs []domain.Pack) api.Results {
	table := export.SummaryTable(r.Summaries, packs)
	res := api.Results{
		RunID:        r.ID,
		Status:       string(r.Status),
		TotalRevenue: money(r.Total()),
		FallbackUsed: r.FallbackUsed(),
		Summaries:    make([]api.CohortSummary, 0, len(r.Summaries)),
		Table:        api.SummaryTable{Header: table.Header, Rows: table.Rows},
		Errors:       MapUnitErrorsDomainToApi(r.Errors),
	}
	for _, s := range r.Summaries {
		res.Summaries = append(res.Summaries, MapCohortSummaryDomainToApi(s))
	}
	return res
}

func MapChartsToApi(c export.Charts) api.Charts {
	res := api.Charts{
		ByCohort: make([]api.ChartPoint, 0, len(c.ByCohort)),
		ByPack:   make([]api.ChartPoint, 0, len(c.ByPack)),
		Trend:    make([]api.TrendPoint, 0, len(c.Trend)),
	}
	for _, p := range c.ByCohort {
		res.ByCohort = append(res.ByCohort, api.ChartPoint{Label: p.Label, Value: p.Value})
	}
	for _, p := range c.ByPack {
		res.ByPack = append(res.ByPack, api.ChartPoint{Label: p.Label, Value: p.Value})
	}
	for _, p := range c.Trend {
		res.Trend = append(res.Trend, api.TrendPoint{Date: p.Date.Format(domain.DateLayout), Cohort: p.Cohort, Value: p.Value})
	}
	return res
}

func MapLogEntriesDomainToApi(entries []domain.LogEntry) []api.LogEntry {
	res := make([]api.LogEntry, 0, len(entries))
	for _, e := range entries {
		res = append(res, api.LogEntry{
			Time:    e.Time,
			Level:   e.Level,
			Message: e.Message,
			Cohort:  e.Cohort,
			Pack:    string(e.Pack),
		})
	}
	return res
}

func MapPacksDomainToApi(packs []domain.Pack) []api.Pack {
	res := make([]api.Pack, 0, len(packs))
	for _, p := range packs {
		res = append(res, api.Pack{Name: string(p), Label: p.Label(), FileName: p.FileName()})
	}
	return res
}
