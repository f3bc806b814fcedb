package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"cfd_engine/internal/domain"
	"cfd_engine/internal/event"
	"cfd_engine/internal/infra"
	"cfd_engine/internal/risk"
	"cfd_engine/internal/service"
)

// Config carries the engine's money rules.
type Config struct {
	DefaultBalance int64 // funding for a user seen for the first time
	Risk           risk.Params
}

// Sequencer owns balances, positions and quotes and applies ingest events to
// them one at a time.
type Sequencer struct {
	cfg     Config
	quotes  *service.QuoteCache
	ledger  *domain.Ledger
	book    *domain.PositionBook
	lastID  string
	now     func() time.Time
	metrics *infra.Metrics

	mu sync.RWMutex // Apply holds the write lock for a whole event; external reads take RLock
}

// NewSequencer creates a new sequencer instance.
func NewSequencer(cfg Config, quotes *service.QuoteCache, metrics *infra.Metrics) *Sequencer {
	return &Sequencer{
		cfg:     cfg,
		quotes:  quotes,
		ledger:  domain.NewLedger(),
		book:    domain.NewPositionBook(),
		now:     time.Now,
		metrics: metrics,
	}
}

// Apply processes one event and returns the results to publish, in order.
// Entries at or before the last applied stream id are skipped.
func (s *Sequencer) Apply(ev event.Event) []event.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id := ev.GetStreamID(); id != "" {
		if s.lastID != "" && event.CompareIDs(id, s.lastID) <= 0 {
			slog.Warn("Stale stream entry skipped", slog.String("id", id), slog.String("last", s.lastID))
			return nil
		}
		s.lastID = id
	}

	var results []event.Result
	switch e := ev.(type) {
	case *event.PlaceOrderEvent:
		results = s.handlePlaceOrder(e)
	case *event.CancelOrderEvent:
		results = s.handleCancelOrder(e)
	case *event.PriceUpdateEvent:
		results = s.handlePriceUpdate(e)
	default:
		slog.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}

	if len(results) > 0 {
		if err := s.ledger.VerifyAll(); err != nil {
			panic(fmt.Sprintf("after %s: %v", ev.GetStreamID(), err))
		}
	}

	s.metrics.SetOpenPositions(s.book.Len())
	for _, r := range results {
		s.metrics.RecordResult(string(r.GetResultType()))
	}
	return results
}

func (s *Sequencer) handlePlaceOrder(e *event.PlaceOrderEvent) []event.Result {
	if e.ID == "" || e.UserID == "" || e.Asset == "" {
		return s.reject(e.ID, e.UserID, domain.InvalidOrder("id, userId and asset are required"))
	}
	if _, open := s.book.Get(e.ID); open {
		slog.Warn("Duplicate PLACE_ORDER ignored", slog.String("id", e.ID), slog.String("stream_id", e.StreamID))
		return nil
	}
	if err := s.cfg.Risk.ValidateOrder(e.Type, e.Margin, e.Leverage, e.Slippage); err != nil {
		return s.reject(e.ID, e.UserID, err)
	}

	if s.ledger.EnsureFunded(e.UserID, s.cfg.DefaultBalance) {
		slog.Info("Account funded", slog.String("user", e.UserID), slog.Int64("balance", s.cfg.DefaultBalance))
	}
	if bal, _ := s.ledger.Balance(e.UserID); bal < e.Margin {
		return s.reject(e.ID, e.UserID, domain.ErrInsufficientBalance)
	}

	q, ok := s.quotes.Get(e.Asset)
	if !ok || !q.Valid() {
		return s.reject(e.ID, e.UserID, domain.ErrPriceUnavailable)
	}

	exec := risk.ReferencePrice(q, e.Type)
	ref := e.Price
	if ref == 0 {
		ref = exec
	}
	if err := risk.CheckSlippage(e.Type, ref, exec, e.Slippage); err != nil {
		return s.reject(e.ID, e.UserID, err)
	}

	qty, err := s.cfg.Risk.Quantity(e.Margin, e.Leverage, exec, q.DecimalScale)
	if err != nil {
		return s.reject(e.ID, e.UserID, err)
	}
	if qty == 0 {
		return s.reject(e.ID, e.UserID, domain.InvalidOrder("quantity rounds to zero"))
	}

	if err := s.ledger.Debit(e.UserID, e.Margin, e.StreamID); err != nil {
		return s.reject(e.ID, e.UserID, err)
	}

	pos := &domain.Position{
		ID:         e.ID,
		UserID:     e.UserID,
		Asset:      e.Asset,
		Type:       e.Type,
		Margin:     e.Margin,
		Leverage:   e.Leverage,
		Slippage:   e.Slippage,
		OpenPrice:  exec,
		PriceScale: q.DecimalScale,
		Quantity:   qty,
		OpenedAt:   s.now().UnixMilli(),
		StreamID:   e.StreamID,
	}
	if err := s.book.Open(pos); err != nil {
		// Get above makes this unreachable; undo the debit rather than leak margin.
		s.ledger.Credit(e.UserID, e.Margin, e.StreamID)
		slog.Error("Position book rejected open", slog.String("id", e.ID), slog.Any("error", err))
		return nil
	}

	slog.Info("Position opened",
		slog.String("id", pos.ID), slog.String("user", pos.UserID), slog.String("asset", pos.Asset),
		slog.String("type", string(pos.Type)), slog.Int64("price", pos.OpenPrice), slog.Int64("qty", pos.Quantity))
	return []event.Result{event.NewOrderPlaced(*pos)}
}

func (s *Sequencer) handleCancelOrder(e *event.CancelOrderEvent) []event.Result {
	pos, ok := s.book.Get(e.OrderID)
	if !ok || pos.UserID != e.UserID {
		return s.reject(e.OrderID, e.UserID, domain.ErrPositionNotFound)
	}

	q, ok := s.quotes.Get(pos.Asset)
	if !ok || !q.Valid() {
		return s.reject(e.OrderID, e.UserID, domain.ErrPriceUnavailable)
	}

	closed := s.closePosition(pos, q, domain.CloseCancelled, e.StreamID)
	slog.Info("Position closed",
		slog.String("id", closed.ID), slog.Int64("pnl", closed.PnL), slog.Int64("balance", closed.FinalBalance))
	return []event.Result{event.NewOrderClosed(closed)}
}

func (s *Sequencer) handlePriceUpdate(e *event.PriceUpdateEvent) []event.Result {
	assets := make([]string, 0, len(e.Quotes))
	for asset := range e.Quotes {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		p := e.Quotes[asset]
		s.quotes.Update(domain.Quote{Asset: asset, Bid: p.Bid, Ask: p.Ask, DecimalScale: p.Decimal})
	}

	var results []event.Result
	for _, asset := range assets {
		q, _ := s.quotes.Get(asset)
		if !q.Valid() {
			slog.Warn("Unusable quote, sweep skipped", slog.String("asset", asset), slog.Int64("bid", q.Bid), slog.Int64("ask", q.Ask))
			continue
		}

		for _, pos := range s.book.ByAsset(asset) {
			pos.PnL = s.cfg.Risk.PnL(pos, risk.ExitPrice(q, pos.Type), q.DecimalScale)
			if !s.cfg.Risk.ShouldLiquidate(pos.Margin, pos.PnL) {
				continue
			}

			closed := s.closePosition(pos, q, domain.CloseLiquidated, e.StreamID)
			s.metrics.RecordLiquidation()
			slog.Warn("Position liquidated",
				slog.String("id", closed.ID), slog.String("user", closed.UserID),
				slog.Int64("pnl", closed.PnL), slog.Int64("close_price", closed.ClosePrice))
			results = append(results, event.NewOrderClosed(closed))
		}
	}
	return results
}

// closePosition marks pos at the exit side of q, removes it from the book and
// credits margin+pnl (never below zero) back to the owner.
func (s *Sequencer) closePosition(pos *domain.Position, q domain.Quote, reason domain.CloseReason, streamID string) domain.ClosedPosition {
	exit := risk.ExitPrice(q, pos.Type)
	pos.PnL = s.cfg.Risk.PnL(pos, exit, q.DecimalScale)

	s.book.Close(pos.UserID, pos.ID)
	final := s.ledger.Credit(pos.UserID, risk.Settlement(pos.Margin, pos.PnL), streamID)

	return domain.ClosedPosition{
		Position:     *pos,
		ClosePrice:   exit,
		ClosedAt:     s.now().UnixMilli(),
		FinalBalance: final,
		Reason:       reason,
	}
}

func (s *Sequencer) reject(orderID, userID string, err error) []event.Result {
	code := 500
	if oe, ok := domain.AsOrderError(err); ok {
		code = oe.Code
	}
	s.metrics.RecordOrderError(strconv.Itoa(code))
	slog.Info("Order rejected", slog.String("id", orderID), slog.String("user", userID), slog.Int("code", code), slog.Any("error", err))
	return []event.Result{event.NewOrderError(orderID, userID, code, err.Error())}
}

// State is a point-in-time copy of everything the sequencer owns.
type State struct {
	Timestamp     int64                   `json:"timestamp"`
	LastStreamID  string                  `json:"lastStreamId"`
	OpenPositions []domain.Position       `json:"openPositions"`
	Balances      map[string]int64        `json:"balances"`
	TotalBalance  int64                   `json:"totalBalance"`
	Quotes        map[string]domain.Quote `json:"quotes"`
}

// Snapshot returns a consistent copy of the state (external read).
func (s *Sequencer) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return State{
		Timestamp:     s.now().UnixMilli(),
		LastStreamID:  s.lastID,
		OpenPositions: s.book.Snapshot(),
		Balances:      s.ledger.Snapshot(),
		TotalBalance:  s.ledger.TotalBalance(),
		Quotes:        s.quotes.All(),
	}
}

// Balance returns a user's free balance (external read).
func (s *Sequencer) Balance(userID string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ledger.Balance(userID)
}

// OpenPositions returns copies of a user's open positions in open order (external read).
func (s *Sequencer) OpenPositions(userID string) []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.book.ListOpen(userID)
	out := make([]domain.Position, len(list))
	for i, p := range list {
		out[i] = *p
	}
	return out
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	b, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
