package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/schollz/progressbar/v3"
)

type ProgressSource interface {
	Progress() domain.Progress
	Done() <-chan struct{}
}

// ProgressReporter renders a run's unit counter as a progress bar.
type ProgressReporter struct {
	writer   io.Writer
	interval time.Duration
}

func NewProgressReporter(writer io.Writer, interval time.Duration) *ProgressReporter {
	if writer == nil {
		writer = os.Stderr
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &ProgressReporter{writer: writer, interval: interval}
}

// Track polls src until it is done or ctx ends and returns the last progress seen.
func (p *ProgressReporter) Track(ctx context.Context, src ProgressSource) domain.Progress {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var bar *progressbar.ProgressBar
	update := func() domain.Progress {
		progress := src.Progress()
		if progress.Total == 0 {
			return progress
		}
		if bar == nil {
			bar = p.newBar(progress.Total)
		} else if bar.GetMax() != progress.Total {
			bar.ChangeMax(progress.Total)
		}
		bar.Describe(fmt.Sprintf("%-9s revenue=%s", progress.Status, progress.Revenue.StringFixed(2)))
		_ = bar.Set(progress.Processed)
		return progress
	}

	for {
		select {
		case <-src.Done():
			last := update()
			if bar != nil {
				_ = bar.Finish()
			}
			return last
		case <-ctx.Done():
			return update()
		case <-ticker.C:
			update()
		}
	}
}

func (p *ProgressReporter) newBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(p.writer)
		}),
	)
}
