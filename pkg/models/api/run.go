package api

import "time"

type StartRunRequest struct {
	Cohorts []string `json:"cohorts,omitempty"`
	Packs   []string `json:"packs,omitempty"`
}

type RunCreated struct {
	ID string `json:"id"`
}

type Progress struct {
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Revenue   float64 `json:"revenue"`
}

type Unit struct {
	Cohort string `json:"cohort"`
	Pack   string `json:"pack"`
	State  string `json:"state"`
}

type UnitError struct {
	Cohort  string `json:"cohort,omitempty"`
	Pack    string `json:"pack,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type Run struct {
	ID             string      `json:"id"`
	Status         string      `json:"status"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
	Progress       Progress    `json:"progress"`
	TotalRevenue   float64     `json:"total_revenue"`
	FallbackUsed   bool        `json:"fallback_used"`
	Units          []Unit      `json:"units"`
	Errors         []UnitError `json:"errors"`
}

type PackResult struct {
	Pack        string  `json:"pack"`
	Label       string  `json:"label"`
	Users       int     `json:"users"`
	Payers      int     `json:"payers"`
	Records     int     `json:"records"`
	SourceTotal float64 `json:"source_total"`
	Total       float64 `json:"total"`
	Rate        float64 `json:"rate"`
	Missing     bool    `json:"missing,omitempty"`
}

type CohortSummary struct {
	Cohort         string       `json:"cohort"`
	WindowStart    string       `json:"window_start"`
	WindowEnd      string       `json:"window_end"`
	Rate           float64      `json:"rate"`
	RateSource     string       `json:"rate_source"`
	Fallback       bool         `json:"fallback"`
	FallbackReason string       `json:"fallback_reason,omitempty"`
	SourceTotal    float64      `json:"source_total"`
	Total          float64      `json:"total"`
	Packs          []PackResult `json:"packs"`
}

type SummaryTable struct {
	Header []string `json:"header"`
	Rows   [][]any  `json:"rows"`
}

type Results struct {
	RunID        string          `json:"run_id"`
	Status       string          `json:"status"`
	TotalRevenue float64         `json:"total_revenue"`
	FallbackUsed bool            `json:"fallback_used"`
	Summaries    []CohortSummary `json:"summaries"`
	Table        SummaryTable    `json:"table"`
	Errors       []UnitError     `json:"errors"`
}

type ChartPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type TrendPoint struct {
	Date   string  `json:"date"`
	Cohort string  `json:"cohort"`
	Value  float64 `json:"value"`
}

type Charts struct {
	ByCohort []ChartPoint `json:"by_cohort"`
	ByPack   []ChartPoint `json:"by_pack"`
	Trend    []TrendPoint `json:"trend"`
}

type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Cohort  string    `json:"cohort,omitempty"`
	Pack    string    `json:"pack,omitempty"`
}

type Published struct {
	Location   string `json:"location,omitempty"`
	SheetRange string `json:"sheet_range,omitempty"`
}
