package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	GatewayMessageID string    `json:"gatewayMessageId"`
	SentAt           time.Time `json:"sentAt"`
}

func sentKey(itemID int64) string {
	return fmt.Sprintf("sent:%d", itemID)
}

func (c *RedisCache) StoreSent(ctx context.Context, itemID int64, gatewayMessageID string, sentAt time.Time) error {
	val := sentValue{
		GatewayMessageID: gatewayMessageID,
		SentAt:           sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, sentKey(itemID), b, c.ttl).Err()
}

func (c *RedisCache) LookupSent(ctx context.Context, itemID int64) (string, bool, error) {
	raw, err := c.rdb.Get(ctx, sentKey(itemID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var val sentValue
	if err := json.Unmarshal(raw, &val); err != nil {
		return "", false, err
	}
	return val.GatewayMessageID, true, nil
}
