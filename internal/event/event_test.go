package event

import (
	"testing"

	"cfd_engine/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("place order", func(t *testing.T) {
		raw := `{"event":"PLACE_ORDER","data":{"id":"o1","asset":"BTC","userId":"u1","type":"LONG","margin":100000,"leverage":10,"slippage":0.5}}`
		ev, err := Decode("1-0", []byte(raw))
		require.NoError(t, err)

		po, ok := ev.(*PlaceOrderEvent)
		require.True(t, ok, "Expected *PlaceOrderEvent, got %T", ev)
		assert.Equal(t, "1-0", po.GetStreamID())
		assert.Equal(t, "o1", po.ID)
		assert.Equal(t, domain.Long, po.Type)
		assert.Equal(t, int64(100000), po.Margin)
		assert.Equal(t, int64(10), po.Leverage)
		assert.Equal(t, int64(0), po.Price)
		assert.True(t, decimal.RequireFromString("0.5").Equal(po.Slippage), "slippage %s", po.Slippage)
	})

	t.Run("cancel order", func(t *testing.T) {
		ev, err := Decode("2-0", []byte(`{"event":"CANCEL_ORDER","data":{"orderId":"o1","userId":"u1"}}`))
		require.NoError(t, err)
		co := ev.(*CancelOrderEvent)
		assert.Equal(t, TypeCancelOrder, co.GetType())
		assert.Equal(t, "o1", co.OrderID)
	})

	t.Run("price update", func(t *testing.T) {
		raw := `{"event":"PRICE_UPDATE","data":{"BTC":{"bid":4500000,"ask":4501000,"decimal":2},"SOL":{"bid":150000000,"ask":150100000,"decimal":6}}}`
		ev, err := Decode("3-0", []byte(raw))
		require.NoError(t, err)
		pu := ev.(*PriceUpdateEvent)
		require.Len(t, pu.Quotes, 2)
		assert.Equal(t, QuotePayload{Bid: 150000000, Ask: 150100000, Decimal: 6}, pu.Quotes["SOL"])
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Decode("4-0", []byte(`{"event":"DEPOSIT","data":{}}`))
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, raw := range []string{``, `not json`, `{"event":"PLACE_ORDER"}`, `{"event":"PLACE_ORDER","data":{"margin":"lots"}}`} {
			_, err := Decode("5-0", []byte(raw))
			assert.ErrorIs(t, err, ErrMalformed, "input %q", raw)
		}
	})
}

func TestEncodeRoundsThroughDecode(t *testing.T) {
	in := &PriceUpdateEvent{Quotes: map[string]QuotePayload{"ETH": {Bid: 300000, Ask: 300100, Decimal: 2}}}
	raw, err := Encode(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"PRICE_UPDATE","data":{"ETH":{"bid":300000,"ask":300100,"decimal":2}}}`, string(raw))

	order := &PlaceOrderEvent{ID: "o9", Asset: "ETH", UserID: "u1", Type: domain.Short, Margin: 5, Leverage: 2, Price: 300000}
	raw, err = Encode(order)
	require.NoError(t, err)
	ev, err := Decode("9-0", raw)
	require.NoError(t, err)
	got := ev.(*PlaceOrderEvent)
	assert.Equal(t, int64(300000), got.Price)
	assert.Equal(t, "9-0", got.StreamID)
}

func TestResults(t *testing.T) {
	pos := domain.Position{ID: "o1", UserID: "u1", Asset: "BTC", Type: domain.Long, Margin: 100, Leverage: 2, OpenPrice: 4501000, PriceScale: 2, Quantity: 2221728, OpenedAt: 1700000000000, StreamID: "1-0", Slippage: decimal.RequireFromString("0.5")}

	t.Run("placed", func(t *testing.T) {
		raw, err := EncodeResult(NewOrderPlaced(pos))
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"event":"ORDER_PLACED"`)
		assert.Contains(t, string(raw), `"openPrice":4501000`)
		assert.Contains(t, string(raw), `"qty":2221728`)

		r, err := DecodeResult(raw)
		require.NoError(t, err)
		assert.Equal(t, pos, r.(*OrderPlaced).Position)
	})

	t.Run("closed", func(t *testing.T) {
		closed := domain.ClosedPosition{Position: pos, ClosePrice: 4600000, ClosedAt: 1700000001000, FinalBalance: 499900, Reason: domain.CloseLiquidated}
		closed.PnL = -95
		raw, err := EncodeResult(NewOrderClosed(closed))
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"reason":"LIQUIDATED"`)
		assert.Contains(t, string(raw), `"finalBalance":499900`)
		assert.Contains(t, string(raw), `"pnl":-95`)

		r, err := DecodeResult(raw)
		require.NoError(t, err)
		oc := r.(*OrderClosed)
		assert.Equal(t, ResultOrderClosed, oc.GetResultType())
		assert.Equal(t, closed, oc.ClosedPosition)
	})

	t.Run("error", func(t *testing.T) {
		raw, err := EncodeResult(NewOrderError("o2", "u1", 403, "balance too low"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"event":"ORDER_ERROR","orderId":"o2","userId":"u1","statusCode":403,"message":"balance too low"}`, string(raw))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := DecodeResult([]byte(`{"event":"NOPE"}`))
		assert.ErrorIs(t, err, ErrUnknownType)
	})
}

func TestRejectMalformed(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		wantOrder string
		wantUser  string
		ok        bool
	}{
		{"place with bad margin", `{"event":"PLACE_ORDER","data":{"id":"o1","asset":"BTC","userId":"u1","type":"LONG","margin":"10000","leverage":10}}`, "o1", "u1", true},
		{"place with bad leverage", `{"event":"PLACE_ORDER","data":{"id":"o2","userId":"u1","leverage":1.5}}`, "o2", "u1", true},
		{"decodable cancel", `{"event":"CANCEL_ORDER","data":{"orderId":"o3","userId":"u2","orderId2":[1,2]}}`, "", "", false},
		{"place without user", `{"event":"PLACE_ORDER","data":{"id":"o4","margin":"x"}}`, "", "", false},
		{"numeric id", `{"event":"PLACE_ORDER","data":{"id":5,"userId":"u1","margin":"x"}}`, "", "", false},
		{"not json", `garbage`, "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode("1-0", []byte(tc.raw))
			rej, ok := RejectMalformed([]byte(tc.raw), err)
			require.Equal(t, tc.ok, ok, "decode error: %v", err)
			if !tc.ok {
				return
			}
			assert.Equal(t, tc.wantOrder, rej.OrderID)
			assert.Equal(t, tc.wantUser, rej.UserID)
			assert.Equal(t, 400, rej.StatusCode)
			assert.Contains(t, rej.Message, "invalid order")
		})
	}

	t.Run("unknown type is not an order", func(t *testing.T) {
		raw := []byte(`{"event":"DEPOSIT","data":{"id":"o1","userId":"u1"}}`)
		_, err := Decode("1-0", raw)
		_, ok := RejectMalformed(raw, err)
		assert.False(t, ok)
	})
}
