package cohort

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
)

var months = map[string]time.Month{}

func init() {
	for m := time.January; m <= time.December; m++ {
		name := strings.ToLower(m.String())
		months[name] = m
		months[name[:3]] = m
	}
	months["sept"] = time.September
}

// Discover lists cohort directories under root ordered by their leading day
// number. Directories without a numeric prefix come last, ordered by name.
func Discover(root string) ([]domain.CohortDir, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDataRootNotFound, root)
		}
		return nil, fmt.Errorf("failed to read data root %s: %w", root, err)
	}

	dirs := make([]domain.CohortDir, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasPrefix(e.Name(), "__") {
			continue
		}
		dirs = append(dirs, domain.CohortDir{
			Name: e.Name(),
			Path: filepath.Join(root, e.Name()),
		})
	}

	sort.SliceStable(dirs, func(i, j int) bool {
		ni, okI := leadingNumber(dirs[i].Name)
		nj, okJ := leadingNumber(dirs[j].Name)
		switch {
		case okI && okJ && ni != nj:
			return ni < nj
		case okI != okJ:
			return okI
		default:
			return dirs[i].Name < dirs[j].Name
		}
	})
	return dirs, nil
}

func leadingNumber(name string) (int, bool) {
	end := 0
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(name[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseStartDate reads a cohort name of the form {day}_{month}, e.g. 1_June
// or 15_jan, and returns that day in the given year (UTC).
func ParseStartDate(name string, year int) (time.Time, error) {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidCohortName, name)
	}

	day, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: day %q is not a number", domain.ErrInvalidCohortName, name, parts[0])
	}

	month, ok := months[strings.ToLower(parts[1])]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q: unknown month %q", domain.ErrInvalidCohortName, name, parts[1])
	}

	start := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if day < 1 || start.Month() != month {
		return time.Time{}, fmt.Errorf("%w: %q: day %d out of range for %s", domain.ErrInvalidCohortName, name, day, month)
	}
	return start, nil
}
