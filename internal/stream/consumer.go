package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"cfd_engine/internal/domain"
	"cfd_engine/internal/infra"
)

// State is the consumer lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateBootstrapping
	StateCatchingUp
	StateLive
	StateFaulted
	StateStopped
)

var stateNames = [...]string{"IDLE", "BOOTSTRAPPING", "CATCHING_UP", "LIVE", "FAULTED", "STOPPED"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Config tunes polling and failure limits.
type Config struct {
	BatchSize       int64
	Block           time.Duration
	MaxRedeliveries int // handler failures per entry before FAULTED
	MaxReadFailures int // consecutive read failures before FAULTED
	RetryDelay      time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:       100,
		Block:           5 * time.Second,
		MaxRedeliveries: 10,
		MaxReadFailures: 5,
		RetryDelay:      500 * time.Millisecond,
	}
}

// Consumer pulls entries from a Log and hands them to a Handler strictly in
// log order. Run must be called from a single goroutine.
type Consumer struct {
	log     Log
	handle  Handler
	cfg     Config
	metrics *infra.Metrics

	state    atomic.Int32
	attempts map[string]int      // handler failures per entry id
	unacked  map[string]struct{} // handled entries whose ack failed
}

func NewConsumer(log Log, handle Handler, cfg Config, metrics *infra.Metrics) *Consumer {
	return &Consumer{
		log:      log,
		handle:   handle,
		cfg:      cfg,
		metrics:  metrics,
		attempts: make(map[string]int),
		unacked:  make(map[string]struct{}),
	}
}

// State is safe to call from any goroutine.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// Run bootstraps the group, drains this consumer's pending entries, then
// reads live. It returns nil when ctx is cancelled and the cause once FAULTED.
func (c *Consumer) Run(ctx context.Context) error {
	c.setState(StateBootstrapping)
	if err := c.log.EnsureGroup(ctx); err != nil {
		if ctx.Err() != nil {
			return c.stop()
		}
		return c.fault(fmt.Errorf("bootstrap: %w", err))
	}

	catchUp := true
	cursor := "0"
	readFailures := 0

	for {
		if ctx.Err() != nil {
			return c.stop()
		}
		if len(c.unacked) > 0 {
			c.retryAcks(ctx)
		}

		var entries []Entry
		var err error
		if catchUp {
			c.setState(StateCatchingUp)
			entries, err = c.log.ReadPending(ctx, cursor, c.cfg.BatchSize)
		} else {
			c.setState(StateLive)
			entries, err = c.log.ReadNew(ctx, c.cfg.BatchSize, c.cfg.Block)
		}

		if err != nil {
			if ctx.Err() != nil {
				return c.stop()
			}
			readFailures++
			slog.Warn("Stream read failed", slog.Any("error", err), slog.Int("failures", readFailures))
			if !domain.IsRetriable(err) || readFailures > c.cfg.MaxReadFailures {
				return c.fault(fmt.Errorf("read: %w", err))
			}
			sleep(ctx, c.cfg.RetryDelay)
			continue
		}
		readFailures = 0

		if catchUp && len(entries) == 0 {
			slog.Info("Pending entries drained")
			catchUp = false
			cursor = "0"
			continue
		}

		stuck, err := c.dispatch(ctx, entries)
		if err != nil {
			if ctx.Err() != nil {
				return c.stop()
			}
			return c.fault(err)
		}

		switch {
		case stuck:
			// The failed entry and the rest of its batch are pending now; replay them in order.
			catchUp, cursor = true, "0"
			sleep(ctx, c.cfg.RetryDelay)
		case catchUp:
			cursor = entries[len(entries)-1].ID
		}
	}
}

// dispatch handles entries in order and acks each success. It stops at the
// first retriable failure and reports stuck=true; non-retriable failures and
// exhausted redeliveries are returned as errors.
func (c *Consumer) dispatch(ctx context.Context, entries []Entry) (stuck bool, err error) {
	for _, e := range entries {
		if _, handled := c.unacked[e.ID]; !handled {
			if herr := c.handle(ctx, e); herr != nil {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				if !domain.IsRetriable(herr) {
					return false, fmt.Errorf("entry %s: %w", e.ID, herr)
				}

				c.attempts[e.ID]++
				c.metrics.RecordHandlerFailure()
				if c.attempts[e.ID] > c.cfg.MaxRedeliveries {
					return false, fmt.Errorf("entry %s failed %d times: %w", e.ID, c.attempts[e.ID], herr)
				}
				slog.Warn("Handler failed, entry left pending",
					slog.String("id", e.ID), slog.Int("attempt", c.attempts[e.ID]), slog.Any("error", herr))
				return true, nil
			}
			delete(c.attempts, e.ID)
		}

		if aerr := c.log.Ack(ctx, e.ID); aerr != nil {
			c.unacked[e.ID] = struct{}{}
			c.metrics.RecordAckFailure()
			slog.Error("Ack failed, entry stays pending", slog.String("id", e.ID), slog.Any("error", aerr))
			continue
		}
		delete(c.unacked, e.ID)
	}
	return false, nil
}

// retryAcks re-acks handled entries whose earlier ack failed, without handling them again.
func (c *Consumer) retryAcks(ctx context.Context) {
	ids := make([]string, 0, len(c.unacked))
	for id := range c.unacked {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if err := c.log.Ack(ctx, ids...); err != nil {
		c.metrics.RecordAckFailure()
		slog.Warn("Ack retry failed", slog.Int("entries", len(ids)), slog.Any("error", err))
		return
	}
	for _, id := range ids {
		delete(c.unacked, id)
	}
}

func (c *Consumer) setState(s State) {
	if State(c.state.Swap(int32(s))) != s {
		c.metrics.SetConsumerState(int(s))
		slog.Debug("Consumer state", slog.String("state", s.String()))
	}
}

func (c *Consumer) fault(err error) error {
	c.setState(StateFaulted)
	slog.Error("Consumer faulted", slog.Any("error", err))
	return err
}

func (c *Consumer) stop() error {
	c.setState(StateStopped)
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
