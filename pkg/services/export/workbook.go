package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/xuri/excelize/v2"
)

const (
	WorkbookName = "revenue_summary.xlsx"

	SheetSummary = "Summary"
	SheetCharts  = "Charts"
	SheetErrors  = "Errors"

	moneyFormat = 4 // #,##0.00
)

// WriteWorkbook renders the summary grid, its charts and the run's error
// list as an XLSX document.
func WriteWorkbook(w io.Writer, result domain.PipelineRun, packs []domain.Pack) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}

	table := SummaryTable(result.Summaries, packs)
	if err := writeTable(f, SheetSummary, table.Header, table.Rows); err != nil {
		return fmt.Errorf("write summary sheet: %w", err)
	}

	if err := writeCharts(f, result.Summaries, packs); err != nil {
		return fmt.Errorf("write charts sheet: %w", err)
	}

	if err := writeErrors(f, result.Errors); err != nil {
		return fmt.Errorf("write errors sheet: %w", err)
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}

// SaveWorkbook writes WorkbookName under dir.
func SaveWorkbook(dir string, result domain.PipelineRun, packs []domain.Pack) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, WorkbookName)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if err := WriteWorkbook(out, result, packs); err != nil {
		return "", err
	}
	return path, out.Close()
}

func writeTable(f *excelize.File, sheet string, header []string, rows [][]any) error {
	headerRow := make([]any, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return err
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
		return err
	}

	if len(rows) > 0 && len(header) > 1 {
		numeric, err := f.NewStyle(&excelize.Style{NumFmt: moneyFormat})
		if err != nil {
			return err
		}
		end, err := excelize.CoordinatesToCellName(len(header), len(rows)+1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, "B2", end, numeric); err != nil {
			return err
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", lastCol, 18)
}

func writeCharts(f *excelize.File, summaries []domain.CohortSummary, packs []domain.Pack) error {
	if _, err := f.NewSheet(SheetCharts); err != nil {
		return err
	}

	charts := BuildCharts(summaries, packs)

	byCohort := make([][]any, 0, len(charts.ByCohort))
	for _, p := range charts.ByCohort {
		byCohort = append(byCohort, []any{p.Label, p.Value})
	}
	byPack := make([][]any, 0, len(charts.ByPack))
	for _, p := range charts.ByPack {
		byPack = append(byPack, []any{p.Label, p.Value})
	}
	trend := make([][]any, 0, len(charts.Trend))
	for _, p := range charts.Trend {
		trend = append(trend, []any{p.Date.Format(domain.DateLayout) + " " + p.Cohort, p.Value})
	}

	blocks := []struct {
		col   string
		title string
		kind  excelize.ChartType
		rows  [][]any
		at    string
	}{
		{col: "A", title: "Revenue by Cohort", kind: excelize.Col, rows: byCohort, at: "J2"},
		{col: "D", title: "Revenue by Pack", kind: excelize.Pie, rows: byPack, at: "J20"},
		{col: "G", title: "Revenue Trend", kind: excelize.Line, rows: trend, at: "J38"},
	}

	for _, b := range blocks {
		if err := f.SetSheetRow(SheetCharts, b.col+"1", &[]any{b.title, "Revenue"}); err != nil {
			return err
		}
		for i, row := range b.rows {
			if err := f.SetSheetRow(SheetCharts, fmt.Sprintf("%s%d", b.col, i+2), &row); err != nil {
				return err
			}
		}
		if len(b.rows) == 0 {
			continue
		}

		valueCol, err := nextColumn(b.col)
		if err != nil {
			return err
		}
		last := len(b.rows) + 1
		chart := &excelize.Chart{
			Type: b.kind,
			Series: []excelize.ChartSeries{{
				Name:       fmt.Sprintf("'%s'!$%s$1", SheetCharts, valueCol),
				Categories: fmt.Sprintf("'%s'!$%s$2:$%s$%d", SheetCharts, b.col, b.col, last),
				Values:     fmt.Sprintf("'%s'!$%s$2:$%s$%d", SheetCharts, valueCol, valueCol, last),
			}},
			Title: []excelize.RichTextRun{{Text: b.title}},
		}
		if err := f.AddChart(SheetCharts, b.at, chart); err != nil {
			return err
		}
	}
	return nil
}

func nextColumn(col string) (string, error) {
	n, err := excelize.ColumnNameToNumber(col)
	if err != nil {
		return "", err
	}
	return excelize.ColumnNumberToName(n + 1)
}

func writeErrors(f *excelize.File, errs []domain.UnitError) error {
	if _, err := f.NewSheet(SheetErrors); err != nil {
		return err
	}
	rows := make([][]any, 0, len(errs))
	for _, e := range errs {
		rows = append(rows, []any{e.Cohort, string(e.Pack), string(e.Kind), e.Message})
	}
	return writePlainTable(f, SheetErrors, []any{"Cohort", "Pack", "Kind", "Message"}, rows)
}

func writePlainTable(f *excelize.File, sheet string, header []any, rows [][]any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return err
		}
	}
	return nil
}
