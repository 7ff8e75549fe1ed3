package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the latest mid price per market key for external readers.
type PriceCache interface {
	SetPrice(ctx context.Context, key string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, key string) (float64, time.Time, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int, block time.Duration) ([]StreamMessage, error)
}
