package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/retry"
)

const (
	DefaultChunkSize    = 2000
	DefaultQueryTimeout = 2 * time.Minute
)

// Store reads transaction records for a cohort's identifiers.
type Store interface {
	// Ping verifies that the handle is usable and authorized.
	Ping(ctx context.Context) error
	GetRevenueRecords(ctx context.Context, query RevenueQuery) ([]domain.RevenueRecord, error)
}

type RevenueQuery struct {
	UserIDs  domain.UserIdentifierSet
	Window   domain.DateWindow
	Products []string // empty means every product
}

type Settings struct {
	Table          string
	ChunkSize      int
	QueryTimeout   time.Duration
	SourceCurrency string
	Retry          retry.Options
}

// project.dataset.table, schema.table or table; backticks are not accepted.
var tablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*(\.[A-Za-z_][A-Za-z0-9_\-]*){0,2}$`)

func (s Settings) validate() (Settings, error) {
	if !tablePattern.MatchString(s.Table) {
		return s, fmt.Errorf("invalid table reference %q", s.Table)
	}
	if s.ChunkSize <= 0 {
		s.ChunkSize = DefaultChunkSize
	}
	if s.QueryTimeout <= 0 {
		s.QueryTimeout = DefaultQueryTimeout
	}
	if s.SourceCurrency == "" {
		s.SourceCurrency = "USD"
	}
	return s, nil
}

func chunk(ids domain.UserIdentifierSet, size int) []domain.UserIdentifierSet {
	var chunks []domain.UserIdentifierSet
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
