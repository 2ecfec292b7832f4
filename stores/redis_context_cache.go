package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/fleetgate"
	"github.com/redis/go-redis/v9"
)

// RedisContextCache shares resolved permission contexts across processes
// (key: fleetctx:{userID}). Values are the JSON context envelope; a missing
// key is a miss, never a default context.
type RedisContextCache struct {
	client *redis.Client
	keyFmt string // format string, e.g. "fleetctx:%s"
}

func NewRedisContextCache(client *redis.Client) *RedisContextCache {
	return &RedisContextCache{client: client, keyFmt: "fleetctx:%s"}
}

func (r *RedisContextCache) key(userID string) string {
	return fmt.Sprintf(r.keyFmt, userID)
}

func (r *RedisContextCache) GetContext(ctx context.Context, userID string) (fleetgate.PermissionContext, bool, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	pctx, err := fleetgate.DecodeContext(data)
	if err != nil {
		// a malformed entry must not grant anything; drop it
		_ = r.client.Del(ctx, r.key(userID)).Err()
		return nil, false, err
	}
	return pctx, true, nil
}

func (r *RedisContextCache) SetContext(ctx context.Context, userID string, pctx fleetgate.PermissionContext, ttl time.Duration) error {
	data, err := fleetgate.EncodeContext(pctx)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(userID), data, ttl).Err()
}

func (r *RedisContextCache) DeleteContext(ctx context.Context, userID string) error {
	return r.client.Del(ctx, r.key(userID)).Err()
}
