package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

// DateWindow is the half-open interval [Start, Start+Days).
type DateWindow struct {
	Start time.Time
	Days  int
}

func (w DateWindow) End() time.Time {
	return w.Start.AddDate(0, 0, w.Days)
}

// LastDay is the final calendar day still inside the window.
func (w DateWindow) LastDay() time.Time {
	return w.End().AddDate(0, 0, -1)
}

func (w DateWindow) Key() string {
	return w.Start.Format(DateLayout) + ".." + w.LastDay().Format(DateLayout)
}

type CohortDir struct {
	Name string
	Path string
}

// UserIdentifierSet holds identifiers in first-seen order without duplicates.
type UserIdentifierSet []string

func NewUserIdentifierSet(raw []string) UserIdentifierSet {
	seen := make(map[string]struct{}, len(raw))
	ids := make(UserIdentifierSet, 0, len(raw))
	for _, id := range raw {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

type RateQuote struct {
	Rate     float64
	Fallback bool
	Source   string // live, fallback
	Reason   string
}

type PackResult struct {
	Pack           Pack
	Users          int // identifiers in the extract
	Payers         int // distinct identifiers with at least one record
	Records        int
	SourceTotal    decimal.Decimal
	ConvertedTotal decimal.Decimal
	Rate           float64
	Missing        bool // extract absent from the cohort directory
}

type CohortSummary struct {
	Cohort      string
	Window      DateWindow
	Quote       RateQuote
	Packs       []PackResult
	SourceTotal decimal.Decimal
	Total       decimal.Decimal
}

func NewCohortSummary(cohort string, window DateWindow, quote RateQuote) CohortSummary {
	return CohortSummary{
		Cohort:      cohort,
		Window:      window,
		Quote:       quote,
		Packs:       []PackResult{},
		SourceTotal: decimal.Zero,
		Total:       decimal.Zero,
	}
}

func (s *CohortSummary) Add(result PackResult) {
	s.Packs = append(s.Packs, result)
	s.SourceTotal = s.SourceTotal.Add(result.SourceTotal)
	s.Total = s.Total.Add(result.ConvertedTotal)
}

func (s CohortSummary) Pack(p Pack) (PackResult, bool) {
	for _, r := range s.Packs {
		if r.Pack == p {
			return r, true
		}
	}
	return PackResult{}, false
}
