package backpack

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cfd_engine/internal/event"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAppender struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     error
}

func (f *fakeAppender) Append(_ context.Context, payloads ...[]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.payloads = append(f.payloads, payloads...)
	return nil
}

func (f *fakeAppender) events(t *testing.T) []*event.PriceUpdateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*event.PriceUpdateEvent, 0, len(f.payloads))
	for i, raw := range f.payloads {
		ev, err := event.Decode("0-"+string(rune('1'+i)), raw)
		require.NoError(t, err)
		pu, ok := ev.(*event.PriceUpdateEvent)
		require.True(t, ok)
		out = append(out, pu)
	}
	return out
}

var testDecimals = map[string]int32{"SOL": 6, "BTC": 4, "ETH": 2, "USDC": 2}

func newTestWorker(out *fakeAppender) *Worker {
	return NewWorker("", []string{"SOL", "BTC", "ETH"}, testDecimals, out, 10*time.Millisecond, nil)
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		asset   string
		want    event.QuotePayload
		updated bool
	}{
		{
			name:    "sol book ticker",
			msg:     `{"stream":"bookTicker.SOL_USDC","data":{"e":"bookTicker","s":"SOL_USDC","a":"150.25","b":"150.20"}}`,
			asset:   "SOL",
			want:    event.QuotePayload{Bid: 150200000, Ask: 150250000, Decimal: 6},
			updated: true,
		},
		{
			name:    "btc rounds to scale",
			msg:     `{"stream":"bookTicker.BTC_USDC","data":{"e":"bookTicker","s":"BTC_USDC","a":"45010.12345","b":"45009.99994"}}`,
			asset:   "BTC",
			want:    event.QuotePayload{Bid: 450099999, Ask: 450101235, Decimal: 4},
			updated: true,
		},
		{name: "unknown asset", msg: `{"data":{"s":"DOGE_USDC","a":"1","b":"1"}}`, asset: "DOGE"},
		{name: "missing bid", msg: `{"data":{"s":"ETH_USDC","a":"3000"}}`, asset: "ETH"},
		{name: "bad number", msg: `{"data":{"s":"ETH_USDC","a":"x","b":"1"}}`, asset: "ETH"},
		{name: "not json", msg: `pong`, asset: "ETH"},
		{name: "subscribe ack", msg: `{"id":1,"result":null}`, asset: "ETH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorker(&fakeAppender{})
			w.handleMessage([]byte(tt.msg))

			got, ok := w.latest[tt.asset]
			assert.Equal(t, tt.updated, ok)
			assert.Equal(t, tt.updated, w.dirty)
			if tt.updated {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFlush(t *testing.T) {
	out := &fakeAppender{}
	w := newTestWorker(out)
	ctx := context.Background()

	require.NoError(t, w.flush(ctx))
	assert.Empty(t, out.payloads, "nothing to publish before the first tick")

	w.handleMessage([]byte(`{"data":{"s":"SOL_USDC","a":"150.25","b":"150.20"}}`))
	w.handleMessage([]byte(`{"data":{"s":"ETH_USDC","a":"3000.10","b":"3000.00"}}`))
	require.NoError(t, w.flush(ctx))
	require.NoError(t, w.flush(ctx))

	evs := out.events(t)
	require.Len(t, evs, 1)
	assert.Len(t, evs[0].Quotes, 2)
	assert.Equal(t, event.QuotePayload{Bid: 300000, Ask: 300010, Decimal: 2}, evs[0].Quotes["ETH"])

	// A later update republishes every known asset.
	w.handleMessage([]byte(`{"data":{"s":"SOL_USDC","a":"151","b":"150.9"}}`))
	require.NoError(t, w.flush(ctx))
	evs = out.events(t)
	require.Len(t, evs, 2)
	assert.Len(t, evs[1].Quotes, 2)
	assert.Equal(t, int64(151000000), evs[1].Quotes["SOL"].Ask)
}

func TestFlush_AppendFailureRetries(t *testing.T) {
	out := &fakeAppender{fail: errors.New("redis down")}
	w := newTestWorker(out)
	w.handleMessage([]byte(`{"data":{"s":"BTC_USDC","a":"45010","b":"45000"}}`))

	require.Error(t, w.flush(context.Background()))
	assert.True(t, w.dirty)

	out.fail = nil
	require.NoError(t, w.flush(context.Background()))
	assert.Len(t, out.events(t), 1)
}

func TestConnect_RejectsAssetWithoutDecimals(t *testing.T) {
	w := NewWorker("", []string{"DOGE"}, testDecimals, &fakeAppender{}, time.Second, nil)
	assert.Error(t, w.Connect(context.Background()))
}

func TestWorker_EndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan []string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req subscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		subscribed <- req.Params

		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"stream":"bookTicker.BTC_USDC","data":{"e":"bookTicker","s":"BTC_USDC","a":"45010","b":"45000"}}`))

		// Hold the connection open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	out := &fakeAppender{}
	w := NewWorker("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"SOL", "BTC", "ETH"}, testDecimals, out, 10*time.Millisecond, nil)
	require.NoError(t, w.Connect(context.Background()))
	defer w.Disconnect()

	select {
	case params := <-subscribed:
		assert.Equal(t, []string{"bookTicker.SOL_USDC", "bookTicker.BTC_USDC", "bookTicker.ETH_USDC"}, params)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscribe request")
	}

	require.Eventually(t, func() bool {
		out.mu.Lock()
		defer out.mu.Unlock()
		return len(out.payloads) > 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, w.IsConnected())
	evs := out.events(t)
	assert.Equal(t, event.QuotePayload{Bid: 450000000, Ask: 450100000, Decimal: 4}, evs[0].Quotes["BTC"])
}
