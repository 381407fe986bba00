package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/services/cohort"
	"github.com/de-tools/revenue-atlas/pkg/store/warehouse"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockWarehouse struct {
	mock.Mock
}

func (m *MockWarehouse) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockWarehouse) GetRevenueRecords(ctx context.Context, query warehouse.RevenueQuery) ([]domain.RevenueRecord, error) {
	args := m.Called(ctx, query)
	records, _ := args.Get(0).([]domain.RevenueRecord)
	return records, args.Error(1)
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) WriteRecords(ctx context.Context, cohort string, pack domain.Pack, records []domain.RevenueRecord) error {
	args := m.Called(ctx, cohort, pack, records)
	return args.Error(0)
}

type staticRates struct {
	quote domain.RateQuote
	calls int
}

func (s *staticRates) Rate(context.Context, domain.DateWindow) domain.RateQuote {
	s.calls++
	return s.quote
}

var fixedNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func writeExtract(t *testing.T, root, cohortName string, pack domain.Pack, content string) {
	t.Helper()
	dir := filepath.Join(root, cohortName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, pack.FileName()), []byte(content), 0o644))
}

func ids(n int, prefix string) string {
	var b strings.Builder
	b.WriteString("user_pseudo_id\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s%d\n", prefix, i)
	}
	return b.String()
}

func records(user string, values ...float64) []domain.RevenueRecord {
	var out []domain.RevenueRecord
	for _, v := range values {
		out = append(out, domain.RevenueRecord{
			UserID:    user,
			ProductID: "p",
			Value:     v,
			Currency:  "USD",
			EventDate: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		})
	}
	return out
}

func idCount(n int) any {
	return mock.MatchedBy(func(q warehouse.RevenueQuery) bool { return len(q.UserIDs) == n })
}

type fixture struct {
	root  string
	wh    *MockWarehouse
	rates *staticRates
	sink  *MockSink
	orch  *Orchestrator
}

func newFixture(t *testing.T, packs []domain.Pack, withSink bool) *fixture {
	t.Helper()
	f := &fixture{
		root:  t.TempDir(),
		wh:    new(MockWarehouse),
		rates: &staticRates{quote: domain.RateQuote{Rate: 86, Source: "live"}},
	}
	deps := Dependencies{
		Loader:    cohort.NewLoader(""),
		Warehouse: f.wh,
		Rates:     f.rates,
		Clock:     clock,
	}
	if withSink {
		f.sink = new(MockSink)
		deps.Sink = f.sink
	}

	orch, err := NewOrchestrator(Config{
		DataRoot:   f.root,
		WindowDays: 7,
		CohortYear: 2025,
		Packs:      packs,
	}, deps)
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *fixture) execute(req Request) (*Run, domain.PipelineRun) {
	run := NewRun("run-1", clock)
	return run, f.orch.Execute(context.Background(), run, req)
}

func unitState(result domain.PipelineRun, c string, p domain.Pack) domain.UnitState {
	for _, u := range result.Units {
		if u.Cohort == c && u.Pack == p {
			return u.State
		}
	}
	return ""
}

func TestNewOrchestrator(t *testing.T) {
	_, err := NewOrchestrator(Config{}, Dependencies{})
	assert.Error(t, err)

	o, err := NewOrchestrator(Config{}, Dependencies{
		Loader:    cohort.NewLoader(""),
		Warehouse: new(MockWarehouse),
		Rates:     &staticRates{},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, o.config.WindowDays)
	assert.Equal(t, domain.DefaultPacks, o.config.Packs)
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium, domain.PackEvent}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(3, "p"))
	writeExtract(t, f.root, "1_June", domain.PackEvent, ids(2, "e"))

	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(3)).Return(records("p0", 60, 40), nil)
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(2)).Return(records("e1", 50), nil)

	run, result := f.execute(Request{})

	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Summaries, 1)

	s := result.Summaries[0]
	assert.Equal(t, "1_June", s.Cohort)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), s.Window.Start)
	assert.Equal(t, 7, s.Window.Days)

	premium, ok := s.Pack(domain.PackPremium)
	require.True(t, ok)
	event, ok := s.Pack(domain.PackEvent)
	require.True(t, ok)
	assert.Equal(t, "8600", premium.ConvertedTotal.String())
	assert.Equal(t, "4300", event.ConvertedTotal.String())
	assert.Equal(t, "12900", s.Total.String())
	assert.Equal(t, 3, premium.Users)
	assert.Equal(t, 2, premium.Records)

	assert.Equal(t, domain.UnitStateDone, unitState(result, "1_June", domain.PackPremium))
	assert.Equal(t, domain.UnitStateDone, unitState(result, "1_June", domain.PackEvent))

	progress := run.Progress()
	assert.Equal(t, 2, progress.Processed)
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, "12900", progress.Revenue.String())
	assert.False(t, result.FallbackUsed())

	f.wh.AssertCalled(t, "GetRevenueRecords", mock.Anything, mock.MatchedBy(func(q warehouse.RevenueQuery) bool {
		return q.Window.Start.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) && q.Window.Days == 7
	}))

	select {
	case <-run.Done():
	default:
		t.Fatal("run should be done")
	}
}

func TestOrchestrator_Idempotent(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium, domain.PackEvent}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(3, "p"))
	writeExtract(t, f.root, "1_June", domain.PackEvent, ids(2, "e"))
	writeExtract(t, f.root, "8_June", domain.PackPremium, ids(4, "q"))

	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(3)).Return(records("p0", 19.99, 0.01), nil)
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(2)).Return(records("e1", 5.55), nil)
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(4)).Return(records("q2", 7.25), nil)

	_, first := f.execute(Request{})
	_, second := f.execute(Request{})

	require.Len(t, first.Summaries, 2)
	require.Equal(t, len(first.Summaries), len(second.Summaries))
	for i := range first.Summaries {
		a, b := first.Summaries[i], second.Summaries[i]
		assert.Equal(t, a.Cohort, b.Cohort)
		assert.Equal(t, a.Total.String(), b.Total.String())
		require.Equal(t, len(a.Packs), len(b.Packs))
		for j := range a.Packs {
			assert.Equal(t, a.Packs[j].ConvertedTotal.String(), b.Packs[j].ConvertedTotal.String())
			assert.Equal(t, a.Packs[j].Records, b.Packs[j].Records)
		}
	}
	assert.Equal(t, first.Total().String(), second.Total().String())
}

func TestOrchestrator_MissingColumnExcludesPack(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium, domain.PackEvent}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(3, "p"))
	writeExtract(t, f.root, "1_June", domain.PackEvent, "ad_id\n1\n2\n")

	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(3)).Return(records("p0", 100), nil)

	_, result := f.execute(Request{})

	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	require.Len(t, result.Summaries, 1)
	s := result.Summaries[0]
	_, ok := s.Pack(domain.PackEvent)
	assert.False(t, ok)
	premium, ok := s.Pack(domain.PackPremium)
	require.True(t, ok)
	assert.Equal(t, "8600", premium.ConvertedTotal.String())

	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.ErrorKindData, result.Errors[0].Kind)
	assert.Equal(t, domain.PackEvent, result.Errors[0].Pack)
	assert.Equal(t, domain.UnitStateFailed, unitState(result, "1_June", domain.PackEvent))
}

func TestOrchestrator_AbsentPackCountsAsZero(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium, domain.PackMicro}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(1, "p"))

	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(1)).Return(records("p0", 10), nil)

	_, result := f.execute(Request{})

	require.Len(t, result.Summaries, 1)
	micro, ok := result.Summaries[0].Pack(domain.PackMicro)
	require.True(t, ok)
	assert.True(t, micro.Missing)
	assert.True(t, micro.ConvertedTotal.IsZero())
	assert.Equal(t, domain.UnitStateDone, unitState(result, "1_June", domain.PackMicro))
	f.wh.AssertNumberOfCalls(t, "GetRevenueRecords", 1)
}

func TestOrchestrator_Stop(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium, domain.PackEvent}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(3, "p"))
	writeExtract(t, f.root, "1_June", domain.PackEvent, ids(2, "e"))
	writeExtract(t, f.root, "8_June", domain.PackEvent, ids(2, "e"))

	run := NewRun("run-stop", clock)
	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(3)).
		Run(func(mock.Arguments) { run.Stop() }).
		Return(records("p0", 1), nil)

	result := f.orch.Execute(context.Background(), run, Request{})

	assert.Equal(t, domain.RunStatusStopped, result.Status)
	assert.Equal(t, domain.UnitStateDone, unitState(result, "1_June", domain.PackPremium))
	assert.Equal(t, domain.UnitStatePending, unitState(result, "1_June", domain.PackEvent))
	assert.Equal(t, domain.UnitStatePending, unitState(result, "8_June", domain.PackEvent))
	require.Len(t, result.Summaries, 1)
	assert.Equal(t, 1, run.Progress().Processed)
	f.wh.AssertNumberOfCalls(t, "GetRevenueRecords", 1)
}

func TestOrchestrator_FallbackRateFlagged(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium}, false)
	f.rates.quote = domain.RateQuote{Rate: 86.191, Fallback: true, Source: "fallback", Reason: "timeout"}
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(1, "p"))

	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(1)).Return(records("p0", 1), nil)

	_, result := f.execute(Request{})

	require.Len(t, result.Summaries, 1)
	assert.True(t, result.Summaries[0].Quote.Fallback)
	assert.True(t, result.FallbackUsed())
	assert.True(t, decimal.RequireFromString("86.191").Equal(result.Summaries[0].Total))
}

func TestOrchestrator_RateResolvedOncePerCohort(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium, domain.PackEvent}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(1, "p"))
	writeExtract(t, f.root, "1_June", domain.PackEvent, ids(1, "e"))

	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, mock.Anything).Return(records("x", 1), nil)

	f.execute(Request{})
	assert.Equal(t, 1, f.rates.calls)
}

func TestOrchestrator_PreflightFailure(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(1, "p"))

	f.wh.On("Ping", mock.Anything).Return(fmt.Errorf("%w: token expired", domain.ErrUnauthorized))

	_, result := f.execute(Request{})

	assert.Equal(t, domain.RunStatusFailed, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.ErrorKindFatal, result.Errors[0].Kind)
	assert.Equal(t, domain.UnitStatePending, unitState(result, "1_June", domain.PackPremium))
	f.wh.AssertNotCalled(t, "GetRevenueRecords", mock.Anything, mock.Anything)
}

func TestOrchestrator_FatalErrorAbortsRun(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium, domain.PackEvent}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(3, "p"))
	writeExtract(t, f.root, "1_June", domain.PackEvent, ids(2, "e"))

	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(3)).
		Return(nil, fmt.Errorf("query: %w", domain.ErrUnauthorized))

	_, result := f.execute(Request{})

	assert.Equal(t, domain.RunStatusFailed, result.Status)
	assert.Equal(t, domain.UnitStateFailed, unitState(result, "1_June", domain.PackPremium))
	assert.Equal(t, domain.UnitStatePending, unitState(result, "1_June", domain.PackEvent))
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.ErrorKindFatal, result.Errors[0].Kind)
	assert.Empty(t, result.Summaries)
}

func TestOrchestrator_TransientFailureContinues(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium, domain.PackEvent}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(3, "p"))
	writeExtract(t, f.root, "1_June", domain.PackEvent, ids(2, "e"))

	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(3)).Return(nil, errors.New("max retries exceeded: 503"))
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(2)).Return(records("e0", 50), nil)

	_, result := f.execute(Request{})

	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.ErrorKindTransient, result.Errors[0].Kind)
	require.Len(t, result.Summaries, 1)
	assert.Equal(t, "4300", result.Summaries[0].Total.String())
}

func TestOrchestrator_InvalidCohortName(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium, domain.PackEvent}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(1, "p"))
	writeExtract(t, f.root, "backlog", domain.PackPremium, ids(1, "b"))
	writeExtract(t, f.root, "backlog", domain.PackEvent, ids(1, "c"))

	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, mock.Anything).Return(records("p0", 1), nil)

	_, result := f.execute(Request{})

	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	require.Len(t, result.Summaries, 1)
	assert.Equal(t, "1_June", result.Summaries[0].Cohort)

	require.Len(t, result.Errors, 2)
	seen := make(map[domain.Pack]int)
	for _, e := range result.Errors {
		assert.Equal(t, domain.ErrorKindConfiguration, e.Kind)
		assert.Equal(t, "backlog", e.Cohort)
		seen[e.Pack]++
	}
	assert.Equal(t, map[domain.Pack]int{domain.PackPremium: 1, domain.PackEvent: 1}, seen)
	assert.Equal(t, domain.UnitStateFailed, unitState(result, "backlog", domain.PackPremium))
	assert.Equal(t, domain.UnitStateFailed, unitState(result, "backlog", domain.PackEvent))
}

func TestOrchestrator_NonFiniteValueFailsOnlyItsPack(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium, domain.PackEvent}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(3, "p"))
	writeExtract(t, f.root, "1_June", domain.PackEvent, ids(2, "e"))

	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(3)).Return(records("p0", 10, math.NaN()), nil)
	f.wh.On("GetRevenueRecords", mock.Anything, idCount(2)).Return(records("e0", 50), nil)

	var result domain.PipelineRun
	require.NotPanics(t, func() {
		_, result = f.execute(Request{})
	})

	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	assert.Equal(t, domain.UnitStateFailed, unitState(result, "1_June", domain.PackPremium))
	assert.Equal(t, domain.UnitStateDone, unitState(result, "1_June", domain.PackEvent))
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.ErrorKindData, result.Errors[0].Kind)
	assert.Equal(t, domain.PackPremium, result.Errors[0].Pack)
	require.Len(t, result.Summaries, 1)
	assert.Equal(t, "4300", result.Summaries[0].Total.String())
}

func TestOrchestrator_CohortSelection(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(1, "p"))
	writeExtract(t, f.root, "8_June", domain.PackPremium, ids(2, "q"))
	require.NoError(t, os.Mkdir(filepath.Join(f.root, "15_June"), 0o755))

	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, mock.Anything).Return(records("q0", 1), nil)

	_, result := f.execute(Request{Cohorts: []string{"8_June", "22_June"}})

	require.Len(t, result.Summaries, 1)
	assert.Equal(t, "8_June", result.Summaries[0].Cohort)
	require.Len(t, result.Units, 1)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "22_June", result.Errors[0].Cohort)
	assert.Equal(t, domain.ErrorKindConfiguration, result.Errors[0].Kind)
}

func TestOrchestrator_MissingDataRoot(t *testing.T) {
	f := newFixture(t, nil, false)

	_, result := f.execute(Request{DataRoot: filepath.Join(f.root, "missing")})

	assert.Equal(t, domain.RunStatusFailed, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.ErrorKindConfiguration, result.Errors[0].Kind)
	f.wh.AssertNotCalled(t, "Ping", mock.Anything)
}

func TestOrchestrator_WritesRecordsToSink(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium}, true)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(1, "p"))

	recs := records("p0", 3)
	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, mock.Anything).Return(recs, nil)
	f.sink.On("WriteRecords", mock.Anything, "1_June", domain.PackPremium, recs).Return(nil)

	_, result := f.execute(Request{})

	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	assert.Empty(t, result.Errors)
	f.sink.AssertExpectations(t)
}

func TestOrchestrator_SinkFailureIsReported(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium}, true)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(1, "p"))

	recs := records("p0", 3)
	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, mock.Anything).Return(recs, nil)
	f.sink.On("WriteRecords", mock.Anything, "1_June", domain.PackPremium, recs).Return(errors.New("disk full"))

	_, result := f.execute(Request{})

	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	assert.Equal(t, domain.UnitStateDone, unitState(result, "1_June", domain.PackPremium))
	require.Len(t, result.Summaries, 1)
	assert.Equal(t, "258", result.Summaries[0].Total.String())

	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.ErrorKindTransient, result.Errors[0].Kind)
	assert.Equal(t, "1_June", result.Errors[0].Cohort)
	assert.Equal(t, domain.PackPremium, result.Errors[0].Pack)
	assert.Contains(t, result.Errors[0].Message, "disk full")
}

func TestOrchestrator_LogsRetained(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(1, "p"))

	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, mock.Anything).Return(records("p0", 1), nil)

	run, _ := f.execute(Request{})

	logs := run.Logs(0)
	require.NotEmpty(t, logs)
	assert.Equal(t, "run started", logs[0].Message)
	assert.Equal(t, "run finished", logs[len(logs)-1].Message)

	var sawPack bool
	for _, l := range logs {
		if l.Pack == domain.PackPremium && l.Cohort == "1_June" {
			sawPack = true
		}
	}
	assert.True(t, sawPack)
}

func TestOrchestrator_LogsRetainedAtWarnLevel(t *testing.T) {
	f := newFixture(t, []domain.Pack{domain.PackPremium}, false)
	writeExtract(t, f.root, "1_June", domain.PackPremium, ids(1, "p"))

	f.wh.On("Ping", mock.Anything).Return(nil)
	f.wh.On("GetRevenueRecords", mock.Anything, mock.Anything).Return(records("p0", 1), nil)

	var out bytes.Buffer
	logger := zerolog.New(&out).Level(zerolog.WarnLevel)
	run := NewRun("run-1", clock)
	f.orch.Execute(logger.WithContext(context.Background()), run, Request{})

	logs := run.Logs(0)
	require.NotEmpty(t, logs)
	assert.Equal(t, "run started", logs[0].Message)
}

func TestLevelFilter(t *testing.T) {
	var out bytes.Buffer
	logger := zerolog.New(LevelFilter(&out, zerolog.WarnLevel)).Level(zerolog.InfoLevel)

	logger.Info().Msg("quiet")
	logger.Warn().Msg("loud")

	assert.NotContains(t, out.String(), "quiet")
	assert.Contains(t, out.String(), "loud")
}
