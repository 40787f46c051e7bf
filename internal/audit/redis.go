package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisStream is the stream key used when none is configured.
const DefaultRedisStream = "audit:entries"

// StreamAdder is the subset of go-redis used by RedisStreamSink.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamSink appends every entry to a Redis stream. The stream is never
// capped, so no entry is trimmed by Redis.
type RedisStreamSink struct {
	client StreamAdder
	stream string
}

// NewRedisStreamSink creates a sink appending to stream via client. A
// *redis.Client or redis.UniversalClient satisfies the client parameter.
func NewRedisStreamSink(client StreamAdder, stream string) *RedisStreamSink {
	if stream == "" {
		stream = DefaultRedisStream
	}
	return &RedisStreamSink{client: client, stream: stream}
}

// Write implements Sink.
func (s *RedisStreamSink) Write(ctx context.Context, e *Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		ID:     "*",
		Values: map[string]any{
			"id":             e.ID,
			"correlation_id": e.CorrelationID,
			"entry":          string(payload),
		},
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
