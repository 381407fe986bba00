package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusStopped || s == RunStatusFailed
}

type UnitState string

const (
	UnitStatePending     UnitState = "pending"
	UnitStateLoading     UnitState = "loading"
	UnitStateQuerying    UnitState = "querying"
	UnitStateAggregating UnitState = "aggregating"
	UnitStateDone        UnitState = "done"
	UnitStateFailed      UnitState = "failed"
)

func (s UnitState) Terminal() bool {
	return s == UnitStateDone || s == UnitStateFailed
}

type UnitKey struct {
	Cohort string
	Pack   Pack
}

type UnitStatus struct {
	UnitKey
	State UnitState
}

type Progress struct {
	Status    RunStatus
	Processed int
	Total     int
	Revenue   decimal.Decimal
	Elapsed   time.Duration
}

type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
	Cohort  string
	Pack    Pack
}

// PipelineRun is the result set of one orchestrator invocation.
type PipelineRun struct {
	ID        string
	Status    RunStatus
	StartedAt time.Time
	Elapsed   time.Duration
	Summaries []CohortSummary
	Errors    []UnitError
	Units     []UnitStatus
}

func (r PipelineRun) Total() decimal.Decimal {
	total := decimal.Zero
	for _, s := range r.Summaries {
		total = total.Add(s.Total)
	}
	return total
}

// FallbackUsed reports whether any cohort was converted with the static rate.
func (r PipelineRun) FallbackUsed() bool {
	for _, s := range r.Summaries {
		if s.Quote.Fallback {
			return true
		}
	}
	return false
}
