package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// DefaultStreamMaxLen is the approximate XADD MAXLEN applied to every stream.
const DefaultStreamMaxLen int64 = 10000

// payloadField is the stream entry field carrying the message body.
const payloadField = "payload"

// SignalBus implements domain.SignalBus using Redis Pub/Sub for ephemeral
// messaging and Redis Streams for durable, ordered delivery.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus. maxLen <= 0 uses DefaultStreamMaxLen.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Publish sends a payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription. The returned channel is closed
// when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	// Wait for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern reports whether channel needs PSUBSCRIBE.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends a payload with XADD, trimming approximately to the
// configured length.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if err := sb.rdb.XAdd(ctx, sb.xaddArgs(stream, payload)).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamAppendBatch appends several payloads in one pipeline round trip.
func (sb *SignalBus) StreamAppendBatch(ctx context.Context, stream string, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	pipe := sb.rdb.Pipeline()
	for _, p := range payloads {
		pipe.XAdd(ctx, sb.xaddArgs(stream, p))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: stream append %s (%d entries): %w", stream, len(payloads), err)
	}
	return nil
}

func (sb *SignalBus) xaddArgs(stream string, payload []byte) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}
}

// StreamRead reads up to count entries after lastID. Use "0" to read from
// the beginning or "$" for new entries only. A positive block waits up to
// that long for data; otherwise the call returns immediately. An empty
// result is not an error.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	args := &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}
	if block > 0 {
		args.Block = block
	}

	results, err := sb.rdb.XRead(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		messages = append(messages, decodeMessages(s.Messages)...)
	}
	return messages, nil
}

func decodeMessages(msgs []redis.XMessage) []domain.StreamMessage {
	out := make([]domain.StreamMessage, 0, len(msgs))
	for _, msg := range msgs {
		var data []byte
		switch v := msg.Values[payloadField].(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		out = append(out, domain.StreamMessage{ID: msg.ID, Payload: data})
	}
	return out
}

var _ domain.SignalBus = (*SignalBus)(nil)
