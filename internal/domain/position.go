package domain

import "github.com/shopspring/decimal"

// PositionType is the direction of a leveraged position.
type PositionType string

const (
	Long  PositionType = "LONG"
	Short PositionType = "SHORT"
)

func (t PositionType) Valid() bool {
	return t == Long || t == Short
}

// CloseReason tells why a position left the book.
type CloseReason string

const (
	CloseCancelled  CloseReason = "CANCELLED"
	CloseLiquidated CloseReason = "LIQUIDATED"
)

// Position is an open leveraged exposure.
// Margin and PnL are in money units, OpenPrice is scaled by PriceScale and
// Quantity by the engine's quantity scale.
type Position struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Asset      string          `json:"asset"`
	Type       PositionType    `json:"type"`
	Margin     int64           `json:"margin"`
	Leverage   int64           `json:"leverage"`
	Slippage   decimal.Decimal `json:"slippage"` // percent
	OpenPrice  int64           `json:"openPrice"`
	PriceScale int32           `json:"decimal"`
	Quantity   int64           `json:"qty"`
	PnL        int64           `json:"pnl"`
	OpenedAt   int64           `json:"openedAt"` // unix millis
	StreamID   string          `json:"streamId"`
}

// ClosedPosition is a position at the moment it left the book. It is emitted,
// never retained.
type ClosedPosition struct {
	Position
	ClosePrice   int64       `json:"closePrice"`
	ClosedAt     int64       `json:"closedAt"`
	FinalBalance int64       `json:"finalBalance"`
	Reason       CloseReason `json:"reason"`
}
