package adapters

import (
	"testing"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapRunDomainToApi(t *testing.T) {
	started := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	summary := domain.NewCohortSummary("1_June",
		domain.DateWindow{Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Days: 7},
		domain.RateQuote{Rate: 86.191, Fallback: true, Source: "fallback", Reason: "timeout"})
	summary.Add(domain.PackResult{Pack: domain.PackPremium, SourceTotal: decimal.NewFromInt(100), ConvertedTotal: decimal.RequireFromString("8619.1")})

	run := domain.PipelineRun{
		ID:        "run-1",
		Status:    domain.RunStatusCompleted,
		StartedAt: started,
		Elapsed:   90 * time.Second,
		Summaries: []domain.CohortSummary{summary},
		Units: []domain.UnitStatus{
			{UnitKey: domain.UnitKey{Cohort: "1_June", Pack: domain.PackPremium}, State: domain.UnitStateDone},
			{UnitKey: domain.UnitKey{Cohort: "1_June", Pack: domain.PackEvent}, State: domain.UnitStateFailed},
		},
		Errors: []domain.UnitError{{Cohort: "1_June", Pack: domain.PackEvent, Kind: domain.ErrorKindData, Message: "empty extract"}},
	}
	progress := domain.Progress{Processed: 1, Total: 4, Revenue: decimal.RequireFromString("8619.1")}

	res := MapRunDomainToApi(run, progress)

	assert.Equal(t, "completed", res.Status)
	require.NotNil(t, res.StartedAt)
	assert.Equal(t, started, *res.StartedAt)
	assert.Equal(t, 90.0, res.ElapsedSeconds)
	assert.Equal(t, 25.0, res.Progress.Percent)
	assert.Equal(t, 8619.1, res.TotalRevenue)
	assert.True(t, res.FallbackUsed)
	require.Len(t, res.Units, 2)
	assert.Equal(t, "failed", res.Units[1].State)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "data", res.Errors[0].Kind)
}

func TestMapResultsDomainToApi(t *testing.T) {
	summary := domain.NewCohortSummary("1_June",
		domain.DateWindow{Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Days: 7},
		domain.RateQuote{Rate: 86, Source: "live"})
	summary.Add(domain.PackResult{Pack: domain.PackPremium, Users: 3, Payers: 2, Records: 4, SourceTotal: decimal.NewFromInt(100), ConvertedTotal: decimal.NewFromInt(8600), Rate: 86})

	res := MapResultsDomainToApi(domain.PipelineRun{ID: "run-1", Summaries: []domain.CohortSummary{summary}}, []domain.Pack{domain.PackPremium})

	require.Len(t, res.Summaries, 1)
	s := res.Summaries[0]
	assert.Equal(t, "2025-06-01", s.WindowStart)
	assert.Equal(t, "2025-06-07", s.WindowEnd)
	require.Len(t, s.Packs, 1)
	assert.Equal(t, "Premium", s.Packs[0].Label)
	assert.Equal(t, 8600.0, s.Packs[0].Total)
	assert.Equal(t, []string{"Cohort", "Total Revenue", "Premium Revenue"}, res.Table.Header)
	assert.Empty(t, res.Errors)
}

func TestMapProgressDomainToApi_Empty(t *testing.T) {
	assert.Equal(t, 0.0, MapProgressDomainToApi(domain.Progress{}).Percent)
}
