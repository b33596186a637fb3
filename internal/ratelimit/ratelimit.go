// Package ratelimit 提供按 key 的滑动窗口限流，支持内存和 Redis 两种后端。
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidConfig 限流参数非法
var ErrInvalidConfig = errors.New("ratelimit: limit and window must be positive")

// Result 单次判定结果
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter 限流器
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Config 限流参数
type Config struct {
	Limit  int
	Window time.Duration
}

func (c Config) validate() error {
	if c.Limit <= 0 || c.Window <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	wait := oldest.Add(window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
