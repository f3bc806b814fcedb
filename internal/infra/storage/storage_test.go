package storage

import (
	"context"
	"path/filepath"
	"testing"

	"cfd_engine/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage("sqlite", filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPosition() domain.Position {
	return domain.Position{
		ID: "o1", UserID: "u1", Asset: "BTC", Type: domain.Long,
		Margin: 10000, Leverage: 10, Slippage: decimal.RequireFromString("0.5"),
		OpenPrice: 4501000, PriceScale: 2, Quantity: 2221728,
		OpenedAt: 1700000000000, StreamID: "2-0",
	}
}

func TestApplyPlaced(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	require.NoError(t, s.ApplyPlaced(ctx, testPosition(), 500000))

	user, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(490000), user.Balance)

	rec, err := s.GetPosition(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsOpen())
	assert.Equal(t, int64(2221728), rec.Quantity)
	assert.Equal(t, "LONG", rec.Type)
	assert.True(t, decimal.RequireFromString("0.5").Equal(rec.Slippage), "slippage %s", rec.Slippage)

	t.Run("redelivery is a no-op", func(t *testing.T) {
		require.NoError(t, s.ApplyPlaced(ctx, testPosition(), 500000))
		user, _ := s.GetUser(ctx, "u1")
		assert.Equal(t, int64(490000), user.Balance)
	})
}

func TestApplyClosed(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)
	require.NoError(t, s.ApplyPlaced(ctx, testPosition(), 500000))

	closed := domain.ClosedPosition{
		Position:     testPosition(),
		ClosePrice:   4600000,
		ClosedAt:     1700000005000,
		FinalBalance: 502200,
		Reason:       domain.CloseCancelled,
	}
	closed.PnL = 2200

	require.NoError(t, s.ApplyClosed(ctx, closed))
	require.NoError(t, s.ApplyClosed(ctx, closed), "duplicates must be tolerated")

	user, _ := s.GetUser(ctx, "u1")
	assert.Equal(t, int64(502200), user.Balance)

	rec, _ := s.GetPosition(ctx, "o1")
	require.NotNil(t, rec)
	assert.Equal(t, domain.PositionStatusClose, rec.Status)
	assert.Equal(t, int64(2200), rec.PnL)
	assert.Equal(t, int64(4600000), rec.ClosePrice)
	assert.Equal(t, "CANCELLED", rec.Reason)

	open, err := s.ListPositions(ctx, "u1", domain.PositionStatusOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestApplyClosed_UnseenPosition(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	pos := testPosition()
	pos.ID = "o9"
	pos.UserID = "u9"
	closed := domain.ClosedPosition{Position: pos, ClosePrice: 4400000, FinalBalance: 491000, Reason: domain.CloseLiquidated}

	require.NoError(t, s.ApplyClosed(ctx, closed))

	user, _ := s.GetUser(ctx, "u9")
	require.NotNil(t, user)
	assert.Equal(t, int64(491000), user.Balance)

	rec, _ := s.GetPosition(ctx, "o9")
	require.NotNil(t, rec)
	assert.Equal(t, domain.PositionStatusClose, rec.Status)
	assert.Equal(t, "LIQUIDATED", rec.Reason)
}

func TestQueries_NotFound(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	user, err := s.GetUser(ctx, "ghost")
	assert.NoError(t, err)
	assert.Nil(t, user)

	rec, err := s.GetPosition(ctx, "ghost")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestListPositions_Order(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	for i, id := range []string{"b", "a", "c"} {
		p := testPosition()
		p.ID = id
		p.OpenedAt = int64(1000 + i)
		require.NoError(t, s.ApplyPlaced(ctx, p, 500000))
	}

	recs, err := s.ListPositions(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "b", recs[0].ID)
	assert.Equal(t, "c", recs[2].ID)

	user, _ := s.GetUser(ctx, "u1")
	assert.Equal(t, int64(470000), user.Balance)
}

func TestNewStorage_UnknownDriver(t *testing.T) {
	_, err := NewStorage("mysql", "x")
	assert.Error(t, err)
}
