package warehouse

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/services/config"
	"github.com/de-tools/revenue-atlas/pkg/store/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) GetRevenueRecords(ctx context.Context, query RevenueQuery) ([]domain.RevenueRecord, error) {
	args := m.Called(ctx, query)
	return args.Get(0).([]domain.RevenueRecord), args.Error(1)
}

func TestVerifiedStore_Ping(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		verifyErr error
		pingErr   error
		wantAuth  bool
		wantErr   bool
		wantPing  bool
	}{
		{name: "verified", wantPing: true},
		{name: "rejected", verifyErr: fmt.Errorf("%w: 401", client.ErrNotAuthorized), wantErr: true, wantAuth: true},
		{name: "workspace unreachable", verifyErr: errors.New("dial tcp"), wantErr: true},
		{name: "warehouse ping fails", pingErr: errors.New("warehouse stopped"), wantErr: true, wantPing: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := new(MockVerifier)
			v.On("Verify", ctx).Return(tc.verifyErr)
			s := new(MockStore)
			if tc.wantPing {
				s.On("Ping", ctx).Return(tc.pingErr)
			}

			err := NewVerifiedStore(s, v).Ping(ctx)
			if !tc.wantErr {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
			assert.Equal(t, tc.wantAuth, errors.Is(err, domain.ErrUnauthorized))
			v.AssertExpectations(t)
			s.AssertExpectations(t)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Open(ctx, config.Warehouse{Driver: "oracle", Table: "t"}, fastRetry())
		assert.Error(t, err)
	})

	t.Run("duckdb", func(t *testing.T) {
		h, err := Open(ctx, config.Warehouse{Driver: DriverDuckDB, DSN: ":memory:", Table: "transactions"}, fastRetry())
		require.NoError(t, err)
		defer h.Close()

		require.NoError(t, h.Ping(ctx))
		records, err := h.GetRevenueRecords(ctx, RevenueQuery{UserIDs: domain.UserIdentifierSet{"a"}, Window: window7})
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("databricks without credentials", func(t *testing.T) {
		_, err := Open(ctx, config.Warehouse{Driver: DriverDatabricks, Table: "t"}, fastRetry())
		assert.Error(t, err)
	})

	t.Run("mysql with bad dsn", func(t *testing.T) {
		_, err := Open(ctx, config.Warehouse{Driver: DriverMySQL, DSN: "::not a dsn", Table: "t"}, fastRetry())
		assert.Error(t, err)
	})
}
