package export

import (
	"sort"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/shopspring/decimal"
)

// Table is the cohort x pack revenue grid shared by every output format.
type Table struct {
	Header []string
	Rows   [][]any
}

// SummaryTable lays out one row per cohort: name, converted total, then the
// converted revenue of each pack in packs order. Packs absent from a cohort
// are reported as zero.
func SummaryTable(summaries []domain.CohortSummary, packs []domain.Pack) Table {
	header := []string{"Cohort", "Total Revenue"}
	for _, p := range packs {
		header = append(header, p.Label()+" Revenue")
	}

	rows := make([][]any, 0, len(summaries))
	for _, s := range summaries {
		row := []any{s.Cohort, money(s.Total)}
		for _, p := range packs {
			amount := decimal.Zero
			if r, ok := s.Pack(p); ok {
				amount = r.ConvertedTotal
			}
			row = append(row, money(amount))
		}
		rows = append(rows, row)
	}
	return Table{Header: header, Rows: rows}
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

type Point struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type TrendPoint struct {
	Date   time.Time `json:"date"`
	Cohort string    `json:"cohort"`
	Value  float64   `json:"value"`
}

// Charts are the three projections rendered from a run's summaries.
type Charts struct {
	ByCohort []Point
	ByPack   []Point
	Trend    []TrendPoint
}

func BuildCharts(summaries []domain.CohortSummary, packs []domain.Pack) Charts {
	charts := Charts{
		ByCohort: make([]Point, 0, len(summaries)),
		ByPack:   make([]Point, 0, len(packs)),
		Trend:    make([]TrendPoint, 0, len(summaries)),
	}

	perPack := make(map[domain.Pack]decimal.Decimal, len(packs))
	for _, s := range summaries {
		charts.ByCohort = append(charts.ByCohort, Point{Label: s.Cohort, Value: money(s.Total)})
		charts.Trend = append(charts.Trend, TrendPoint{Date: s.Window.Start, Cohort: s.Cohort, Value: money(s.Total)})
		for _, r := range s.Packs {
			perPack[r.Pack] = perPack[r.Pack].Add(r.ConvertedTotal)
		}
	}

	for _, p := range packs {
		charts.ByPack = append(charts.ByPack, Point{Label: p.Label(), Value: money(perPack[p])})
	}

	sort.SliceStable(charts.Trend, func(i, j int) bool {
		return charts.Trend[i].Date.Before(charts.Trend[j].Date)
	})
	return charts
}
