package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var redisHistoryPrefix = "fwhist:"

// RedisStore keeps history in Redis sorted sets scored by unix milliseconds,
// so it survives restarts and is shared between replicas.
type RedisStore struct {
	Client *redis.Client
}

// NewRedisStore connects to redisURL. A non-empty password overrides the one
// in the URL.
func NewRedisStore(redisURL, password string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opt.Password = password
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, err
	}
	return &RedisStore{Client: rdb}, nil
}

func (s *RedisStore) Append(ctx context.Context, key string, ts time.Time, retain time.Duration) ([]time.Time, error) {
	rkey := redisHistoryPrefix + key
	ms := ts.UnixMilli()
	cutoff := ts.Add(-retain).UnixMilli()

	multi := s.Client.TxPipeline()
	multi.ZAdd(ctx, rkey, redis.Z{
		Score:  float64(ms),
		Member: strconv.FormatInt(ms, 10) + "-" + uuid.NewString(),
	})
	multi.ZRemRangeByScore(ctx, rkey, "-inf", "("+strconv.FormatInt(cutoff, 10))
	rng := multi.ZRangeWithScores(ctx, rkey, 0, -1)
	multi.Expire(ctx, rkey, retain)
	if _, err := multi.Exec(ctx); err != nil {
		return nil, fmt.Errorf("append violation %s: %w", key, err)
	}

	zs := rng.Val()
	out := make([]time.Time, 0, len(zs))
	for _, z := range zs {
		out = append(out, time.UnixMilli(int64(z.Score)))
	}
	return out, nil
}

func (s *RedisStore) PruneBefore(ctx context.Context, key string, cutoff time.Time) error {
	rkey := redisHistoryPrefix + key
	err := s.Client.ZRemRangeByScore(ctx, rkey, "-inf", "("+strconv.FormatInt(cutoff.UnixMilli(), 10)).Err()
	if err != nil {
		return fmt.Errorf("prune violations %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}
