package domain

import (
	"context"
)

// FeedWorker defines the interface for exchange WebSocket connectors
type FeedWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// PositionRepository persists engine results. Implementations must be
// idempotent: the result stream is delivered at least once.
type PositionRepository interface {
	ApplyPlaced(ctx context.Context, p Position, defaultBalance int64) error
	ApplyClosed(ctx context.Context, c ClosedPosition) error
}
