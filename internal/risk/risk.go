// Package risk holds the pricing and margin rules of the engine.
// Every function is pure: inputs are scaled integers, decimal arithmetic
// stays inside this package and results are rescaled before returning.
package risk

import (
	"cfd_engine/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Params are the scales and limits the rules are evaluated with.
type Params struct {
	MoneyScale       int32
	QuantityScale    int32
	MaxLeverage      int64
	MaintenanceRatio decimal.Decimal
}

// DefaultParams: money with 2 decimals, quantity with 8, leverage up to 100x,
// liquidation once equity falls to 10% of margin.
func DefaultParams() Params {
	return Params{
		MoneyScale:       2,
		QuantityScale:    8,
		MaxLeverage:      100,
		MaintenanceRatio: decimal.NewFromFloat(0.10),
	}
}

// FromScaled converts a scaled integer to its human value.
func FromScaled(v int64, scale int32) decimal.Decimal {
	return decimal.New(v, -scale)
}

// ToScaled converts a human value to an integer scaled by 10^scale, rounding half away from zero.
func ToScaled(d decimal.Decimal, scale int32) int64 {
	return d.Shift(scale).Round(0).IntPart()
}

// ReferencePrice is the side a position opens into: the ask for LONG, the bid for SHORT.
func ReferencePrice(q domain.Quote, t domain.PositionType) int64 {
	if t == domain.Short {
		return q.Bid
	}
	return q.Ask
}

// ExitPrice is the side a position closes into: the bid for LONG, the ask for SHORT.
func ExitPrice(q domain.Quote, t domain.PositionType) int64 {
	if t == domain.Short {
		return q.Ask
	}
	return q.Bid
}

// CheckSlippage verifies exec lies in the tolerated band around ref.
// slippagePct is a percentage (0.5 = half a percent); LONG accepts
// [ref, ref*(1+tol)], SHORT accepts [ref*(1-tol), ref].
func CheckSlippage(t domain.PositionType, ref, exec int64, slippagePct decimal.Decimal) error {
	tol := slippagePct.Div(hundred)
	r := decimal.NewFromInt(ref)
	e := decimal.NewFromInt(exec)

	var lo, hi decimal.Decimal
	switch t {
	case domain.Long:
		lo, hi = r, r.Mul(one.Add(tol))
	case domain.Short:
		lo, hi = r.Mul(one.Sub(tol)), r
	default:
		return domain.InvalidOrder("unknown position type %q", t)
	}

	if e.LessThan(lo) || e.GreaterThan(hi) {
		return domain.ErrSlippageExceeded
	}
	return nil
}

// ValidateOrder checks the static fields of an order request.
func (p Params) ValidateOrder(t domain.PositionType, margin, leverage int64, slippagePct decimal.Decimal) error {
	if !t.Valid() {
		return domain.InvalidOrder("unknown position type %q", t)
	}
	if margin <= 0 {
		return domain.InvalidOrder("margin must be positive")
	}
	if leverage < 1 || leverage > p.MaxLeverage {
		return domain.InvalidOrder("leverage must be between 1 and %d", p.MaxLeverage)
	}
	if slippagePct.IsNegative() {
		return domain.InvalidOrder("slippage must not be negative")
	}
	return nil
}

// Quantity is margin*leverage/price, truncated to the quantity scale.
func (p Params) Quantity(margin, leverage, price int64, priceScale int32) (int64, error) {
	if price <= 0 {
		return 0, domain.ErrPriceUnavailable
	}
	notional := FromScaled(margin, p.MoneyScale).Mul(decimal.NewFromInt(leverage))
	qty := notional.Div(FromScaled(price, priceScale))
	return qty.Shift(p.QuantityScale).Truncate(0).IntPart(), nil
}

// PnL of a position marked at current. LONG earns (current-open)*qty, SHORT (open-current)*qty.
// The open and current prices may carry different scales.
func (p Params) PnL(pos *domain.Position, current int64, currentScale int32) int64 {
	diff := FromScaled(current, currentScale).Sub(FromScaled(pos.OpenPrice, pos.PriceScale))
	if pos.Type == domain.Short {
		diff = diff.Neg()
	}
	pnl := diff.Mul(FromScaled(pos.Quantity, p.QuantityScale))
	return ToScaled(pnl, p.MoneyScale)
}

// ShouldLiquidate reports whether equity (margin+pnl) fell to the maintenance level.
func (p Params) ShouldLiquidate(margin, pnl int64) bool {
	equity := decimal.NewFromInt(margin + pnl)
	return equity.LessThanOrEqual(decimal.NewFromInt(margin).Mul(p.MaintenanceRatio))
}

// Settlement is what returns to the free balance when a position closes.
// Losses beyond the margin are absorbed, never charged to the balance.
func Settlement(margin, pnl int64) int64 {
	if v := margin + pnl; v > 0 {
		return v
	}
	return 0
}
