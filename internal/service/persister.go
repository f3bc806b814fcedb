package service

import (
	"context"
	"log/slog"

	"cfd_engine/internal/domain"
	"cfd_engine/internal/event"
	"cfd_engine/internal/stream"
)

// Persister mirrors result stream entries into a PositionRepository.
// Its Handle is the stream.Handler of the persistence worker.
type Persister struct {
	repo           domain.PositionRepository
	defaultBalance int64
}

// NewPersister creates users first seen in a result with defaultBalance, as the engine does.
func NewPersister(repo domain.PositionRepository, defaultBalance int64) *Persister {
	return &Persister{repo: repo, defaultBalance: defaultBalance}
}

// Handle stores one result. Database failures are retriable so the entry stays pending.
func (p *Persister) Handle(ctx context.Context, e stream.Entry) error {
	r, err := event.DecodeResult(e.Data)
	if err != nil {
		slog.Warn("Undecodable result dropped", slog.String("id", e.ID), slog.Any("error", err))
		return nil
	}

	switch v := r.(type) {
	case *event.OrderPlaced:
		err = p.repo.ApplyPlaced(ctx, v.Position, p.defaultBalance)
	case *event.OrderClosed:
		err = p.repo.ApplyClosed(ctx, v.ClosedPosition)
	case *event.OrderError:
		return nil
	}
	if err != nil {
		return domain.NewNetworkError("persist "+string(r.GetResultType()), err)
	}

	slog.Debug("Result persisted", slog.String("id", e.ID), slog.String("type", string(r.GetResultType())), slog.String("order", r.GetOrderID()))
	return nil
}
