package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
)

var recordHeader = []string{"event_date", "user_pseudo_id", "product_id", "product_value", "currency"}

// RecordWriter persists the raw warehouse rows of each pack as
// {dir}/{cohort}/{pack}.csv, replacing any earlier file.
type RecordWriter struct {
	dir string
}

func NewRecordWriter(dir string) *RecordWriter {
	return &RecordWriter{dir: dir}
}

func (w *RecordWriter) Path(cohort string, pack domain.Pack) string {
	return filepath.Join(w.dir, cohort, string(pack)+".csv")
}

func (w *RecordWriter) WriteRecords(ctx context.Context, cohort string, pack domain.Pack, records []domain.RevenueRecord) error {
	target := w.Path(cohort, pack)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+string(pack)+"-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	cw := csv.NewWriter(tmp)
	if err := cw.Write(recordHeader); err != nil {
		tmp.Close()
		return err
	}
	for _, r := range records {
		row := []string{
			r.EventDate.Format(domain.DateLayout),
			r.UserID,
			r.ProductID,
			strconv.FormatFloat(r.Value, 'f', -1, 64),
			r.Currency,
		}
		if err := cw.Write(row); err != nil {
			tmp.Close()
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write records: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to move records into place: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Str("path", target).Int("records", len(records)).Msg("records written")
	return nil
}
