package cohort

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
)

const DefaultIDColumn = "user_pseudo_id"

// ErrPackNotFound marks a pack whose extract is absent from the cohort directory.
var ErrPackNotFound = errors.New("pack extract not found")

type Loader struct {
	idColumn string
}

func NewLoader(idColumn string) *Loader {
	if idColumn == "" {
		idColumn = DefaultIDColumn
	}
	return &Loader{idColumn: idColumn}
}

// Extract is one cohort with the identifier sets that loaded successfully.
type Extract struct {
	Cohort domain.CohortDir
	Packs  map[domain.Pack]domain.UserIdentifierSet
	Errors []domain.UnitError
}

// PresentPacks returns the packs whose extract exists in dir, in packs order.
func PresentPacks(dir string, packs []domain.Pack) []domain.Pack {
	present := make([]domain.Pack, 0, len(packs))
	for _, p := range packs {
		if info, err := os.Stat(filepath.Join(dir, p.FileName())); err == nil && !info.IsDir() {
			present = append(present, p)
		}
	}
	return present
}

// HasPackFiles reports whether dir holds at least one extract for packs.
func HasPackFiles(dir string, packs []domain.Pack) bool {
	return len(PresentPacks(dir, packs)) > 0
}

// Load reads every discovered cohort under root. Cohorts without any
// recognised pack file are skipped; per-file failures are collected on the
// cohort instead of aborting the load.
func (l *Loader) Load(ctx context.Context, root string, packs []domain.Pack) ([]Extract, error) {
	logger := zerolog.Ctx(ctx)

	dirs, err := Discover(root)
	if err != nil {
		return nil, err
	}

	var extracts []Extract
	for _, dir := range dirs {
		if !HasPackFiles(dir.Path, packs) {
			logger.Warn().Str("cohort", dir.Name).Msg("no pack files found, skipping cohort")
			continue
		}

		ex := Extract{Cohort: dir, Packs: make(map[domain.Pack]domain.UserIdentifierSet)}
		for _, p := range packs {
			ids, err := l.LoadPack(dir.Path, p)
			if errors.Is(err, ErrPackNotFound) {
				continue
			}
			if err != nil {
				logger.Warn().Err(err).Str("cohort", dir.Name).Str("pack", string(p)).Msg("failed to load pack")
				ex.Errors = append(ex.Errors, domain.NewUnitError(dir.Name, p, err))
				continue
			}
			ex.Packs[p] = ids
		}
		extracts = append(extracts, ex)
	}
	return extracts, nil
}

// LoadPack reads the identifier column of a single pack extract.
func (l *Loader) LoadPack(dir string, pack domain.Pack) (domain.UserIdentifierSet, error) {
	path := filepath.Join(dir, pack.FileName())
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPackNotFound, path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s has no header", domain.ErrEmptyExtract, pack.FileName())
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrMalformedExtract, pack.FileName(), err)
	}

	col := -1
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if strings.TrimSpace(name) == l.idColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: %s lacks %q", domain.ErrMissingColumn, pack.FileName(), l.idColumn)
	}

	var raw []string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrMalformedExtract, pack.FileName(), err)
		}
		if col < len(rec) {
			raw = append(raw, rec[col])
		}
	}

	ids := domain.NewUserIdentifierSet(raw)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s has no identifiers", domain.ErrEmptyExtract, pack.FileName())
	}
	return ids, nil
}
