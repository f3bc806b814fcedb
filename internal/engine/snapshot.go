package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// SnapshotWriter appends the sequencer state as one JSON line per interval.
type SnapshotWriter struct {
	seq      *Sequencer
	out      io.Writer
	interval time.Duration
	mu       sync.Mutex
}

func NewSnapshotWriter(seq *Sequencer, out io.Writer, interval time.Duration) *SnapshotWriter {
	return &SnapshotWriter{seq: seq, out: out, interval: interval}
}

// Run writes a snapshot every interval and a final one when ctx ends.
func (w *SnapshotWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := w.WriteOnce(); err != nil {
				slog.Error("Final snapshot failed", slog.Any("error", err))
			}
			return nil
		case <-ticker.C:
			if err := w.WriteOnce(); err != nil {
				slog.Error("Snapshot failed", slog.Any("error", err))
			}
		}
	}
}

// WriteOnce appends the current state.
func (w *SnapshotWriter) WriteOnce() error {
	b, err := json.Marshal(w.seq.Snapshot())
	if err != nil {
		return err
	}
	b = append(b, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.out.Write(b)
	return err
}
