package revenue

import (
	"math"
	"testing"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(user string, value float64) domain.RevenueRecord {
	return domain.RevenueRecord{
		UserID:    user,
		ProductID: "p1",
		Value:     value,
		Currency:  "USD",
		EventDate: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name      string
		records   []domain.RevenueRecord
		rate      float64
		source    string
		converted string
		payers    int
	}{
		{
			name:      "converts once",
			records:   []domain.RevenueRecord{rec("a", 40), rec("b", 35), rec("a", 25)},
			rate:      86,
			source:    "100",
			converted: "8600",
			payers:    2,
		},
		{
			name:      "no float drift",
			records:   []domain.RevenueRecord{rec("a", 0.1), rec("b", 0.2)},
			rate:      1,
			source:    "0.3",
			converted: "0.3",
			payers:    2,
		},
		{
			name:      "empty",
			rate:      86.191,
			source:    "0",
			converted: "0",
		},
		{
			name:      "zero rate",
			records:   []domain.RevenueRecord{rec("a", 12.5)},
			rate:      0,
			source:    "12.5",
			converted: "0",
			payers:    1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Aggregate(domain.PackPremium, 3, tc.records, tc.rate)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tc.source).Equal(got.SourceTotal), got.SourceTotal.String())
			assert.True(t, decimal.RequireFromString(tc.converted).Equal(got.ConvertedTotal), got.ConvertedTotal.String())
			assert.Equal(t, len(tc.records), got.Records)
			assert.Equal(t, tc.payers, got.Payers)
			assert.Equal(t, 3, got.Users)
			assert.Equal(t, tc.rate, got.Rate)
		})
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	records := []domain.RevenueRecord{rec("a", 19.99), rec("b", 5.01), rec("c", 0.33)}
	first, err := Aggregate(domain.PackEvent, 3, records, 86.191)
	require.NoError(t, err)
	second, err := Aggregate(domain.PackEvent, 3, records, 86.191)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAggregate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		records []domain.RevenueRecord
		rate    float64
		target  error
	}{
		{name: "negative value", records: []domain.RevenueRecord{rec("a", 5), rec("b", -1)}, rate: 86, target: domain.ErrNegativeValue},
		{name: "NaN value", records: []domain.RevenueRecord{rec("a", 5), rec("b", math.NaN())}, rate: 86, target: domain.ErrNonFiniteValue},
		{name: "infinite value", records: []domain.RevenueRecord{rec("a", math.Inf(1))}, rate: 86, target: domain.ErrNonFiniteValue},
		{name: "negative infinite value", records: []domain.RevenueRecord{rec("a", math.Inf(-1))}, rate: 86, target: domain.ErrNonFiniteValue},
		{name: "negative rate", rate: -1},
		{name: "NaN rate", records: []domain.RevenueRecord{rec("a", 5)}, rate: math.NaN()},
		{name: "infinite rate", records: []domain.RevenueRecord{rec("a", 5)}, rate: math.Inf(1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var err error
			assert.NotPanics(t, func() {
				_, err = Aggregate(domain.PackEvent, 2, tc.records, tc.rate)
			})
			require.Error(t, err)
			if tc.target != nil {
				assert.ErrorIs(t, err, tc.target)
				assert.Equal(t, domain.ErrorKindData, domain.ClassifyError(err))
			}
		})
	}
}

func TestMissing(t *testing.T) {
	r := Missing(domain.PackNPL, 86)
	assert.True(t, r.Missing)
	assert.True(t, r.ConvertedTotal.IsZero())
	assert.Equal(t, domain.PackNPL, r.Pack)
}
