package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cfd_engine/internal/domain"

	"github.com/redis/go-redis/v9"
)

// DataField is the stream field every payload is stored under.
const DataField = "data"

// RedisLog implements Log over a Redis stream consumer group.
type RedisLog struct {
	client   redis.UniversalClient
	stream   string
	group    string
	consumer string
	start    string
}

// NewRedisLog reads stream as consumer within group. A newly created group
// starts at the end of the stream ("$") unless WithStart says otherwise.
func NewRedisLog(client redis.UniversalClient, stream, group, consumer string) *RedisLog {
	return &RedisLog{client: client, stream: stream, group: group, consumer: consumer, start: "$"}
}

// WithStart sets the id a newly created group starts after ("0" replays the whole stream).
func (l *RedisLog) WithStart(id string) *RedisLog {
	if id != "" {
		l.start = id
	}
	return l
}

// EnsureGroup issues XGROUP CREATE ... MKSTREAM. An existing group is fine.
func (l *RedisLog) EnsureGroup(ctx context.Context) error {
	err := l.client.XGroupCreateMkStream(ctx, l.stream, l.group, l.start).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return domain.NewNetworkError("xgroup create", err)
	}
	return nil
}

func (l *RedisLog) ReadPending(ctx context.Context, after string, count int64) ([]Entry, error) {
	res, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    l.group,
		Consumer: l.consumer,
		Streams:  []string{l.stream, after},
		Count:    count,
		Block:    -1, // history reads never block
	}).Result()
	return l.entries(res, err)
}

func (l *RedisLog) ReadNew(ctx context.Context, count int64, block time.Duration) ([]Entry, error) {
	res, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    l.group,
		Consumer: l.consumer,
		Streams:  []string{l.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	return l.entries(res, err)
}

func (l *RedisLog) Ack(ctx context.Context, ids ...string) error {
	if err := l.client.XAck(ctx, l.stream, l.group, ids...).Err(); err != nil {
		return domain.NewNetworkError("xack", err)
	}
	return nil
}

func (l *RedisLog) entries(res []redis.XStream, err error) ([]Entry, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewNetworkError("xreadgroup", err)
	}

	var out []Entry
	for _, s := range res {
		for _, msg := range s.Messages {
			out = append(out, Entry{ID: msg.ID, Data: fieldBytes(msg.Values[DataField])})
		}
	}
	return out, nil
}

// fieldBytes returns nil for missing fields; trimmed entries still in a PEL come back without values.
func fieldBytes(v any) []byte {
	switch s := v.(type) {
	case string:
		return []byte(s)
	case []byte:
		return s
	default:
		return nil
	}
}

// RedisAppender implements Appender with XADD MAXLEN ~ inside MULTI/EXEC.
type RedisAppender struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisAppender(client redis.UniversalClient, stream string, maxLen int64) *RedisAppender {
	return &RedisAppender{client: client, stream: stream, maxLen: maxLen}
}

func (a *RedisAppender) Append(ctx context.Context, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range payloads {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: a.stream,
				MaxLen: a.maxLen,
				Approx: a.maxLen > 0,
				Values: map[string]interface{}{DataField: string(p)},
			})
		}
		return nil
	})
	if err != nil {
		return domain.NewNetworkError(fmt.Sprintf("xadd %s", a.stream), err)
	}
	return nil
}
