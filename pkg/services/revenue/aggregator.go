package revenue

import (
	"fmt"
	"math"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/shopspring/decimal"
)

// Aggregate sums record values in the source currency and converts the total
// with rate. users is the size of the identifier set the records were queried for.
func Aggregate(pack domain.Pack, users int, records []domain.RevenueRecord, rate float64) (domain.PackResult, error) {
	if rate < 0 || !finite(rate) {
		return domain.PackResult{}, fmt.Errorf("invalid conversion rate %v", rate)
	}

	sum := decimal.Zero
	payers := make(map[string]struct{})
	for _, r := range records {
		if !finite(r.Value) {
			return domain.PackResult{}, fmt.Errorf("%w: %v for user %s on %s",
				domain.ErrNonFiniteValue, r.Value, r.UserID, r.EventDate.Format(domain.DateLayout))
		}
		if r.Value < 0 {
			return domain.PackResult{}, fmt.Errorf("%w: %v for user %s on %s",
				domain.ErrNegativeValue, r.Value, r.UserID, r.EventDate.Format(domain.DateLayout))
		}
		sum = sum.Add(decimal.NewFromFloat(r.Value))
		payers[r.UserID] = struct{}{}
	}

	return domain.PackResult{
		Pack:           pack,
		Users:          users,
		Payers:         len(payers),
		Records:        len(records),
		SourceTotal:    sum,
		ConvertedTotal: sum.Mul(decimal.NewFromFloat(rate)),
		Rate:           rate,
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Missing is the zero contribution of a pack whose extract is absent.
func Missing(pack domain.Pack, rate float64) domain.PackResult {
	return domain.PackResult{
		Pack:           pack,
		SourceTotal:    decimal.Zero,
		ConvertedTotal: decimal.Zero,
		Rate:           rate,
		Missing:        true,
	}
}
