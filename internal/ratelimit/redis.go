package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// RedisOptions Redis 连接参数
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// NewRedisClient 创建并探测 Redis 客户端
func NewRedisClient(ctx context.Context, opts RedisOptions) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// RedisLimiter 基于 Redis 有序集合的滑动窗口限流器，可跨实例共享
type RedisLimiter struct {
	client *goredis.Client
	cfg    Config
	scope  string
	now    func() time.Time
}

// NewRedisLimiter 创建 Redis 限流器，scope 用于区分不同限流规则的 key 空间
func NewRedisLimiter(client *goredis.Client, scope string, cfg Config, now func() time.Time) (*RedisLimiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{
		client: client,
		cfg:    cfg,
		scope:  scope,
		now:    now,
	}, nil
}

// Allow 判定并记录一次请求
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	redisKey := keyPrefix + l.scope + ":" + key
	cutoff := now.Add(-l.cfg.Window).UnixNano()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	var card *goredis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(cutoff, 10))
		pipe.ZAdd(ctx, redisKey, goredis.Z{Score: float64(now.UnixNano()), Member: member})
		card = pipe.ZCard(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, l.cfg.Window)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit %s: %w", l.scope, err)
	}

	count := int(card.Val())
	res := Result{Limit: l.cfg.Limit}
	if count <= l.cfg.Limit {
		res.Allowed = true
		res.Remaining = l.cfg.Limit - count
		return res, nil
	}

	// 被拒绝的请求不占用窗口
	if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
		return Result{}, fmt.Errorf("ratelimit %s: %w", l.scope, err)
	}

	oldest, err := l.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit %s: %w", l.scope, err)
	}
	if len(oldest) > 0 {
		res.RetryAfter = retryAfter(time.Unix(0, int64(oldest[0].Score)), l.cfg.Window, now)
	}
	return res, nil
}
