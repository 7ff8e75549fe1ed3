package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each market's
// mid is stored at "mid:{venue}:{symbol}" with fields "price" and "ts"
// (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A positive ttl expires entries that
// stop being refreshed.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(key string) string {
	return "mid:" + key
}

// SetPrice stores the latest mid and its timestamp.
func (pc *PriceCache) SetPrice(ctx context.Context, key string, price float64, ts time.Time) error {
	k := priceKey(key)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, k, encodePrice(price, ts))
	if pc.ttl > 0 {
		pipe.Expire(ctx, k, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", key, err)
	}
	return nil
}

// GetPrice returns the stored mid and timestamp, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, key string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(key)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", key, err)
	}
	price, ts, err := decodePrice(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", key, err)
	}
	return price, ts, nil
}

func encodePrice(price float64, ts time.Time) map[string]any {
	return map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
}

func decodePrice(vals map[string]string) (float64, time.Time, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse price: %w", err)
	}
	nanos, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse ts: %w", err)
	}
	return price, time.Unix(0, nanos).UTC(), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
