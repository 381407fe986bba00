package export

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	summary "github.com/de-tools/revenue-atlas/pkg/services/export"
)

type TableConfig struct {
	CohortWidth int
	ValueWidth  int
}

func DefaultTableConfig() TableConfig {
	return TableConfig{
		CohortWidth: 16,
		ValueWidth:  16,
	}
}

// Reporter prints a finished run as a fixed-width summary table.
type Reporter struct {
	writer io.Writer
	config TableConfig
}

func NewReporter(writer io.Writer) *Reporter {
	if writer == nil {
		writer = os.Stdout
	}
	return &Reporter{
		writer: writer,
		config: DefaultTableConfig(),
	}
}

type reportView struct {
	Run     domain.PipelineRun
	Table   summary.Table
	Total   string
	Target  string
	Elapsed string
}

func (c *Reporter) Handle(result domain.PipelineRun, packs []domain.Pack, target string) error {
	funcMap := template.FuncMap{
		"formatRow": func(cells []any) string {
			parts := make([]string, len(cells))
			for i, cell := range cells {
				width := c.config.ValueWidth
				if i == 0 {
					width = c.config.CohortWidth
				}
				switch v := cell.(type) {
				case float64:
					parts[i] = fmt.Sprintf("%*.2f", width, v)
				default:
					parts[i] = fmt.Sprintf("%-*v", width, v)
				}
			}
			return "| " + strings.Join(parts, " | ") + " |"
		},
		"header": func(names []string) []any {
			cells := make([]any, len(names))
			for i, n := range names {
				cells[i] = n
			}
			return cells
		},
		"separator": func(columns int) string {
			parts := []string{strings.Repeat("-", c.config.CohortWidth+2)}
			for i := 1; i < columns; i++ {
				parts = append(parts, strings.Repeat("-", c.config.ValueWidth+2))
			}
			return "+" + strings.Join(parts, "+") + "+"
		},
	}

	tmpl := `
Run {{.Run.ID}}: {{.Run.Status}} in {{.Elapsed}}
Total Revenue: {{.Target}} {{.Total}}
{{if .Table.Rows}}
{{separator (len .Table.Header)}}
{{formatRow (header .Table.Header)}}
{{separator (len .Table.Header)}}
{{range .Table.Rows}}{{formatRow .}}
{{end}}{{separator (len .Table.Header)}}
{{end}}{{range .Run.Summaries}}{{if .Quote.Fallback}}
! {{.Cohort}} converted at fallback rate {{.Quote.Rate}} ({{.Quote.Reason}})
{{end}}{{end}}{{if .Run.Errors}}
=== Errors ===
{{range .Run.Errors}}- {{.Error}}
{{end}}{{end}}`

	t, err := template.New("summary").Funcs(funcMap).Parse(tmpl)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	return t.Execute(c.writer, reportView{
		Run:     result,
		Table:   summary.SummaryTable(result.Summaries, packs),
		Total:   result.Total().StringFixed(2),
		Target:  target,
		Elapsed: result.Elapsed.Round(time.Millisecond).String(),
	})
}
