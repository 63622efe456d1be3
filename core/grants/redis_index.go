package grants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snapconvert/snapconvert/core/infra/redisutil"
)

const (
	grantKeyPrefix      = "grant:"
	defaultRedisTimeout = 2 * time.Second
)

// RedisIndex records grants in Redis with a TTL equal to the retention
// window, so logical expiry is enforced by the store itself. Useful when
// several replicas share one downloads volume.
type RedisIndex struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisIndex connects to Redis and verifies the connection.
func NewRedisIndex(url string, retention time.Duration) (*RedisIndex, error) {
	client, err := redisutil.NewClient(url)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultRedisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisIndex{client: client, retention: retention}, nil
}

func (r *RedisIndex) Put(ctx context.Context, g Grant) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode grant: %w", err)
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRedisTimeout)
	defer cancel()
	return r.client.Set(cctx, grantKeyPrefix+g.ID, data, r.retention).Err()
}

func (r *RedisIndex) Get(ctx context.Context, id string) (Grant, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRedisTimeout)
	defer cancel()
	data, err := r.client.Get(cctx, grantKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Grant{}, ErrNotFound
		}
		return Grant{}, fmt.Errorf("read grant: %w", err)
	}
	var g Grant
	if err := json.Unmarshal(data, &g); err != nil {
		return Grant{}, fmt.Errorf("decode grant: %w", err)
	}
	return g, nil
}

func (r *RedisIndex) Delete(ctx context.Context, id string) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRedisTimeout)
	defer cancel()
	return r.client.Del(cctx, grantKeyPrefix+id).Err()
}

func (r *RedisIndex) Close() error { return r.client.Close() }
