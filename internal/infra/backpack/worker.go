package backpack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cfd_engine/internal/domain"
	"cfd_engine/internal/event"
	"cfd_engine/internal/infra"
	"cfd_engine/internal/stream"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

var _ domain.FeedWorker = (*Worker)(nil)

// Worker subscribes to Backpack book tickers and appends the latest
// quotes as PRICE_UPDATE events every interval when something changed.
type Worker struct {
	url      string
	assets   []string
	decimals map[string]int32
	out      stream.Appender
	interval time.Duration
	metrics  *infra.Metrics

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	feedMu sync.Mutex
	latest map[string]event.QuotePayload
	dirty  bool
}

// NewWorker factory. decimals maps each asset to the scale its prices are published with.
func NewWorker(url string, assets []string, decimals map[string]int32, out stream.Appender, interval time.Duration, metrics *infra.Metrics) *Worker {
	if url == "" {
		url = DefaultWSURL
	}
	return &Worker{
		url:      url,
		assets:   assets,
		decimals: decimals,
		out:      out,
		interval: interval,
		metrics:  metrics,
		latest:   make(map[string]event.QuotePayload),
	}
}

func (w *Worker) Connect(ctx context.Context) error {
	for _, asset := range w.assets {
		if _, ok := w.decimals[asset]; !ok {
			return fmt.Errorf("%w: no decimals for %s", domain.ErrInvalidSymbol, asset)
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.connectionLoop(ctx)
	go w.publishLoop(ctx)
	return nil
}

func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0 // Infinite retry loop for monitoring

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			delay := b.NextBackOff()
			slog.Warn("Backpack connection failed", slog.Any("error", err), slog.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		b.Reset()
		w.metrics.IncrementConnections()
		w.readLoop(ctx)
		w.metrics.DecrementConnections()
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return domain.NewNetworkError("dial", fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err))
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	slog.Info("Backpack Connected", slog.Int("assets", len(w.assets)))
	return nil
}

func (w *Worker) subscribe() error {
	params := make([]string, 0, len(w.assets))
	for _, asset := range w.assets {
		params = append(params, bookTickerCh+"."+asset+"_"+quoteAsset)
	}
	b, err := json.Marshal(subscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1})
	if err != nil {
		slog.Error("Failed to marshal subscribe request", slog.Any("error", err))
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Backpack read failed", slog.Any("error", err))
			}
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

// handleMessage records a book ticker as the latest quote of its asset.
func (w *Worker) handleMessage(msg []byte) {
	var m streamMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		slog.Debug("Ignoring non-JSON frame", slog.Any("error", err))
		return
	}
	if m.Data.Symbol == "" || m.Data.AskPrice == "" || m.Data.BidPrice == "" {
		return
	}

	asset, _, _ := strings.Cut(m.Data.Symbol, "_")
	scale, ok := w.decimals[asset]
	if !ok {
		return
	}

	ask, err := toScaled(m.Data.AskPrice, scale)
	if err != nil {
		slog.Warn("Bad ask price", slog.String("symbol", m.Data.Symbol), slog.Any("error", err))
		return
	}
	bid, err := toScaled(m.Data.BidPrice, scale)
	if err != nil {
		slog.Warn("Bad bid price", slog.String("symbol", m.Data.Symbol), slog.Any("error", err))
		return
	}

	w.feedMu.Lock()
	w.latest[asset] = event.QuotePayload{Bid: bid, Ask: ask, Decimal: scale}
	w.dirty = true
	w.feedMu.Unlock()
}

func toScaled(s string, scale int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Shift(scale).Round(0).IntPart(), nil
}

func (w *Worker) publishLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.flush(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("PRICE_UPDATE append failed", slog.Any("error", err))
			}
		}
	}
}

// flush appends every known quote as one PRICE_UPDATE if any changed since the last flush.
func (w *Worker) flush(ctx context.Context) error {
	w.feedMu.Lock()
	if !w.dirty {
		w.feedMu.Unlock()
		return nil
	}
	quotes := make(map[string]event.QuotePayload, len(w.latest))
	for k, v := range w.latest {
		quotes[k] = v
	}
	w.dirty = false
	w.feedMu.Unlock()

	raw, err := event.Encode(&event.PriceUpdateEvent{Quotes: quotes})
	if err != nil {
		return err
	}
	if err := w.out.Append(ctx, raw); err != nil {
		w.feedMu.Lock()
		w.dirty = true // retry on the next tick
		w.feedMu.Unlock()
		return err
	}
	w.metrics.RecordQuotesPublished()
	return nil
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
