package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"cfd_engine/internal/domain"
	"cfd_engine/internal/event"
	"cfd_engine/internal/infra"
	"cfd_engine/internal/stream"

	"github.com/cenkalti/backoff/v4"
)

// Processor turns one ingest entry into applied state plus appended results.
// Its Handle is the stream.Handler of the engine consumer.
type Processor struct {
	seq        *Sequencer
	out        stream.Appender
	metrics    *infra.Metrics
	retries    uint64
	newBackOff func() backoff.BackOff
	dumpFile   string
}

// NewProcessor appends results to out, retrying a failed append up to retries times.
func NewProcessor(seq *Sequencer, out stream.Appender, metrics *infra.Metrics, retries uint64) *Processor {
	return &Processor{
		seq:     seq,
		out:     out,
		metrics: metrics,
		retries: retries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

// SetPanicDump makes a panic while applying an event dump the state to filename before halting.
func (p *Processor) SetPanicDump(filename string) {
	p.dumpFile = filename
}

// Handle applies the entry and appends its results before returning, so the
// consumer only acks entries whose results are durable. An order entry that
// fails to decode but names its order and user is answered with a 400
// ORDER_ERROR; other undecodable entries are acked without results. A failed
// append is fatal.
func (p *Processor) Handle(ctx context.Context, e stream.Entry) error {
	start := time.Now()

	ev, err := event.Decode(e.ID, e.Data)
	if err != nil {
		p.metrics.RecordDecodeError()
		rej, ok := event.RejectMalformed(e.Data, err)
		if !ok {
			slog.Warn("Undecodable entry dropped", slog.String("id", e.ID), slog.Any("error", err))
			return nil
		}
		slog.Info("Malformed order rejected", slog.String("id", e.ID), slog.String("order", rej.OrderID), slog.Any("error", err))
		p.metrics.RecordOrderError(strconv.Itoa(rej.StatusCode))
		p.metrics.RecordResult(string(rej.GetResultType()))
		return p.emit(ctx, []event.Result{rej})
	}

	if err := p.emit(ctx, p.apply(ev)); err != nil {
		return err
	}

	p.metrics.RecordEvent(string(ev.GetType()), time.Since(start))
	return nil
}

// emit encodes results and appends them as one batch.
func (p *Processor) emit(ctx context.Context, results []event.Result) error {
	if len(results) == 0 {
		return nil
	}
	payloads := make([][]byte, 0, len(results))
	for _, r := range results {
		b, err := event.EncodeResult(r)
		if err != nil {
			return fmt.Errorf("encode %s for %s: %w", r.GetResultType(), r.GetOrderID(), err)
		}
		payloads = append(payloads, b)
	}
	return p.publish(ctx, payloads)
}

func (p *Processor) apply(ev event.Event) []event.Result {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r), slog.String("id", ev.GetStreamID()))
			if p.dumpFile != "" {
				p.seq.DumpState(p.dumpFile)
			}
			// Halt after dump.
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()
	return p.seq.Apply(ev)
}

func (p *Processor) publish(ctx context.Context, payloads [][]byte) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), p.retries), ctx)

	op := func() error {
		err := p.out.Append(ctx, payloads...)
		if err == nil {
			return nil
		}
		p.metrics.RecordAppendFailure()
		if !domain.IsRetriable(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("Result append failed, retrying", slog.Any("error", err))
		return err
	}

	if err := backoff.Retry(op, policy); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewFatalNetworkError("append results", err)
	}
	return nil
}
