package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MaxLogEntries bounds the per-run log kept for polling.
const MaxLogEntries = 100

// Run is the state of one pipeline execution. The orchestrator is the only
// writer; readers get copies through Snapshot, Progress and Logs.
type Run struct {
	id    string
	clock func() time.Time

	stop     atomic.Bool
	done     chan struct{}
	doneOnce sync.Once

	mu         sync.RWMutex
	status     domain.RunStatus
	startedAt  time.Time
	finishedAt time.Time
	units      []domain.UnitStatus
	index      map[domain.UnitKey]int
	processed  int
	revenue    decimal.Decimal
	summaries  []domain.CohortSummary
	errors     []domain.UnitError
	logs       []domain.LogEntry
}

func NewRun(id string, clock func() time.Time) *Run {
	if clock == nil {
		clock = time.Now
	}
	return &Run{
		id:      id,
		clock:   clock,
		done:    make(chan struct{}),
		status:  domain.RunStatusPending,
		index:   make(map[domain.UnitKey]int),
		revenue: decimal.Zero,
	}
}

func (r *Run) ID() string {
	return r.id
}

// Stop asks the orchestrator to halt before the next unit. Units in flight finish.
func (r *Run) Stop() {
	r.stop.Store(true)
}

func (r *Run) StopRequested() bool {
	return r.stop.Load()
}

// Done is closed once the run reaches a terminal status.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) Status() domain.RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Run) Snapshot() domain.PipelineRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]domain.CohortSummary, len(r.summaries))
	for i, s := range r.summaries {
		s.Packs = append([]domain.PackResult(nil), s.Packs...)
		summaries[i] = s
	}

	return domain.PipelineRun{
		ID:        r.id,
		Status:    r.status,
		StartedAt: r.startedAt,
		Elapsed:   r.elapsedLocked(),
		Summaries: summaries,
		Errors:    append([]domain.UnitError{}, r.errors...),
		Units:     append([]domain.UnitStatus{}, r.units...),
	}
}

func (r *Run) Progress() domain.Progress {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return domain.Progress{
		Status:    r.status,
		Processed: r.processed,
		Total:     len(r.units),
		Revenue:   r.revenue,
		Elapsed:   r.elapsedLocked(),
	}
}

// Logs returns up to limit of the most recent entries, oldest first.
// A non-positive limit returns everything retained.
func (r *Run) Logs(limit int) []domain.LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(r.logs) {
		start = len(r.logs) - limit
	}
	return append([]domain.LogEntry{}, r.logs[start:]...)
}

func (r *Run) elapsedLocked() time.Duration {
	switch {
	case r.startedAt.IsZero():
		return 0
	case !r.finishedAt.IsZero():
		return r.finishedAt.Sub(r.startedAt)
	default:
		return r.clock().Sub(r.startedAt)
	}
}

func (r *Run) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = domain.RunStatusRunning
	r.startedAt = r.clock()
}

func (r *Run) plan(keys []domain.UnitKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		r.index[k] = len(r.units)
		r.units = append(r.units, domain.UnitStatus{UnitKey: k, State: domain.UnitStatePending})
	}
}

func (r *Run) setUnit(key domain.UnitKey, state domain.UnitState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[key]; ok {
		r.units[i].State = state
	}
}

func (r *Run) completeUnit(key domain.UnitKey, converted decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[key]; ok {
		r.units[i].State = domain.UnitStateDone
	}
	r.processed++
	r.revenue = r.revenue.Add(converted)
}

func (r *Run) failUnit(key domain.UnitKey, unitErr domain.UnitError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[key]; ok {
		r.units[i].State = domain.UnitStateFailed
	}
	r.processed++
	r.errors = append(r.errors, unitErr)
}

func (r *Run) addError(unitErr domain.UnitError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, unitErr)
}

func (r *Run) addSummary(summary domain.CohortSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, summary)
}

func (r *Run) appendLog(entry domain.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.logs) == MaxLogEntries {
		copy(r.logs, r.logs[1:])
		r.logs = r.logs[:MaxLogEntries-1]
	}
	r.logs = append(r.logs, entry)
}

func (r *Run) finish(status domain.RunStatus) {
	r.mu.Lock()
	r.status = status
	r.finishedAt = r.clock()
	if r.startedAt.IsZero() {
		r.startedAt = r.finishedAt
	}
	r.mu.Unlock()

	r.doneOnce.Do(func() { close(r.done) })
}

// Fail ends a run that could not complete normally. It is a no-op once the
// run is terminal.
func (r *Run) Fail(err error) {
	if r.Status().Terminal() {
		return
	}
	r.addError(domain.UnitError{Kind: domain.ErrorKindFatal, Message: err.Error()})
	r.finish(domain.RunStatusFailed)
}

// logHook copies Info and above into the run's log with the unit it belongs to.
type logHook struct {
	run    *Run
	cohort string
	pack   domain.Pack
}

func (h logHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if level < zerolog.InfoLevel || level >= zerolog.NoLevel || msg == "" {
		return
	}
	h.run.appendLog(domain.LogEntry{
		Time:    h.run.clock(),
		Level:   level.String(),
		Message: msg,
		Cohort:  h.cohort,
		Pack:    h.pack,
	})
}
