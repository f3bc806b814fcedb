// Package stream reads and writes Redis streams through consumer groups and
// drives the BOOTSTRAPPING, CATCHING_UP, LIVE, FAULTED consumer lifecycle.
package stream

import (
	"context"
	"time"
)

// Entry is one stream message: its id and the JSON stored in the data field.
type Entry struct {
	ID   string
	Data []byte
}

// Log is a consumer-group view over one stream.
type Log interface {
	// EnsureGroup creates the group (and the stream) if missing.
	EnsureGroup(ctx context.Context) error
	// ReadPending returns entries delivered to this consumer but not acked, with id > after.
	ReadPending(ctx context.Context, after string, count int64) ([]Entry, error)
	// ReadNew blocks up to block for never-delivered entries. Timeout yields no entries and no error.
	ReadNew(ctx context.Context, count int64, block time.Duration) ([]Entry, error)
	Ack(ctx context.Context, ids ...string) error
}

// Appender writes payloads to a stream atomically, in order.
type Appender interface {
	Append(ctx context.Context, payloads ...[]byte) error
}

// Handler processes one entry. A nil return acks it.
type Handler func(ctx context.Context, e Entry) error
