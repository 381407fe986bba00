package export

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter_Handle(t *testing.T) {
	s := domain.NewCohortSummary("1_June",
		domain.DateWindow{Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Days: 7},
		domain.RateQuote{Rate: 86.191, Fallback: true, Source: "fallback", Reason: "HTTP 502"})
	s.Add(domain.PackResult{Pack: domain.PackPremium, ConvertedTotal: decimal.RequireFromString("8619.1")})

	result := domain.PipelineRun{
		ID:        "run-1",
		Status:    domain.RunStatusCompleted,
		Elapsed:   1500 * time.Millisecond,
		Summaries: []domain.CohortSummary{s},
		Errors: []domain.UnitError{
			{Cohort: "1_June", Pack: domain.PackEvent, Kind: domain.ErrorKindData, Message: "empty extract"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewReporter(&buf).Handle(result, []domain.Pack{domain.PackPremium, domain.PackEvent}, "INR"))

	out := buf.String()
	assert.Contains(t, out, "Run run-1: completed in 1.5s")
	assert.Contains(t, out, "Total Revenue: INR 8619.10")
	assert.Contains(t, out, fmt.Sprintf("| %-16s | %-16s | %-16s | %-16s |", "Cohort", "Total Revenue", "Premium Revenue", "Event Revenue"))
	assert.Contains(t, out, fmt.Sprintf("| %-16s | %16.2f | %16.2f | %16.2f |", "1_June", 8619.1, 8619.1, 0.0))
	assert.Contains(t, out, "! 1_June converted at fallback rate 86.191 (HTTP 502)")
	assert.Contains(t, out, "- data [1_June/event]: empty extract")
}

type fakeProgress struct {
	progress domain.Progress
	done     chan struct{}
}

func (f *fakeProgress) Progress() domain.Progress { return f.progress }
func (f *fakeProgress) Done() <-chan struct{}     { return f.done }

func TestProgressReporter_Track(t *testing.T) {
	src := &fakeProgress{
		progress: domain.Progress{Status: domain.RunStatusCompleted, Processed: 3, Total: 3, Revenue: decimal.NewFromInt(42)},
		done:     make(chan struct{}),
	}
	close(src.done)

	var buf bytes.Buffer
	last := NewProgressReporter(&buf, time.Millisecond).Track(context.Background(), src)

	assert.Equal(t, 3, last.Processed)
	assert.NotEmpty(t, buf.String())
}

func TestProgressReporter_StopsWithContext(t *testing.T) {
	src := &fakeProgress{done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	last := NewProgressReporter(&bytes.Buffer{}, time.Millisecond).Track(ctx, src)
	assert.Equal(t, 0, last.Total)
}
