package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionStatusOpen  = "OPEN"
	PositionStatusClose = "CLOSE"
)

// User is the persisted account row kept in sync with engine results.
type User struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PositionRecord is the persisted view of a position, open or closed.
type PositionRecord struct {
	ID         string          `gorm:"primaryKey" json:"id"`
	UserID     string          `gorm:"index" json:"user_id"`
	Asset      string          `gorm:"index" json:"asset"`
	Type       string          `json:"type"`
	Margin     int64           `json:"margin"`
	Leverage   int64           `json:"leverage"`
	Slippage   decimal.Decimal `gorm:"type:decimal(10,4)" json:"slippage"`
	OpenPrice  int64           `json:"open_price"`
	PriceScale int32           `json:"price_scale"`
	Quantity   int64           `json:"quantity"`
	OpenedAt   int64           `json:"opened_at"`
	ClosePrice int64           `json:"close_price"`
	ClosedAt   int64           `json:"closed_at"`
	PnL        int64           `gorm:"column:pnl" json:"pnl"`
	Reason     string          `json:"reason"`
	Status     string          `gorm:"index" json:"status"` // OPEN, CLOSE
	StreamID   string          `json:"stream_id"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsOpen checks if the position is still active.
func (r *PositionRecord) IsOpen() bool {
	return r.Status == PositionStatusOpen
}
