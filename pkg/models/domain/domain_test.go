package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPack_FileName(t *testing.T) {
	assert.Equal(t, "premium_packs_with_ad_ids.csv", PackPremium.FileName())
	assert.Equal(t, "npl_packs_with_ad_ids.csv", PackNPL.FileName())
	assert.Equal(t, "stage1_top_25k_with_ad_ids.csv", PackStage1Top25k.FileName())
}

func TestParsePacks(t *testing.T) {
	t.Run("defaults when empty", func(t *testing.T) {
		packs, err := ParsePacks(nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultPacks, packs)
	})

	t.Run("accepts names and file names, drops duplicates", func(t *testing.T) {
		packs, err := ParsePacks([]string{"event_packs_with_ad_ids.csv", "Premium", "event"})
		require.NoError(t, err)
		assert.Equal(t, []Pack{PackEvent, PackPremium}, packs)
	})

	t.Run("rejects unknown", func(t *testing.T) {
		_, err := ParsePacks([]string{"gold"})
		assert.Error(t, err)
	})
}

func TestNewUserIdentifierSet(t *testing.T) {
	ids := NewUserIdentifierSet([]string{" a ", "b", "", "a", "c", "b"})
	assert.Equal(t, UserIdentifierSet{"a", "b", "c"}, ids)
}

func TestDateWindow(t *testing.T) {
	w := DateWindow{Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Days: 7}
	assert.Equal(t, time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC), w.End())
	assert.Equal(t, time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC), w.LastDay())
	assert.Equal(t, "2025-06-01..2025-06-07", w.Key())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		kind ErrorKind
	}{
		{fmt.Errorf("wrap: %w", ErrUnauthorized), ErrorKindFatal},
		{fmt.Errorf("wrap: %w", ErrInvalidCohortName), ErrorKindConfiguration},
		{fmt.Errorf("wrap: %w", ErrMissingColumn), ErrorKindData},
		{fmt.Errorf("wrap: %w", ErrEmptyExtract), ErrorKindData},
		{fmt.Errorf("wrap: %w", ErrNonFiniteValue), ErrorKindData},
		{fmt.Errorf("connection reset"), ErrorKindTransient},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.kind, ClassifyError(tc.err), tc.err.Error())
	}
}

func TestCohortSummary_Add(t *testing.T) {
	s := NewCohortSummary("1_June", DateWindow{}, RateQuote{Rate: 2})
	s.Add(PackResult{Pack: PackPremium, SourceTotal: decimal.NewFromInt(10), ConvertedTotal: decimal.NewFromInt(20)})
	s.Add(PackResult{Pack: PackEvent, SourceTotal: decimal.NewFromInt(5), ConvertedTotal: decimal.NewFromInt(10)})

	assert.True(t, decimal.NewFromInt(15).Equal(s.SourceTotal))
	assert.True(t, decimal.NewFromInt(30).Equal(s.Total))

	r, ok := s.Pack(PackEvent)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(10).Equal(r.ConvertedTotal))

	_, ok = s.Pack(PackMicro)
	assert.False(t, ok)
}
