package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter 进程内滑动窗口日志限流器
type MemoryLimiter struct {
	cfg    Config
	now    func() time.Time
	mu     sync.Mutex
	events map[string][]time.Time
}

// NewMemoryLimiter 创建内存限流器，now 为 nil 时使用 time.Now
func NewMemoryLimiter(cfg Config, now func() time.Time) (*MemoryLimiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		cfg:    cfg,
		now:    now,
		events: make(map[string][]time.Time),
	}, nil
}

// Allow 判定并记录一次请求，被拒绝的请求不计入窗口
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	events := prune(l.events[key], now.Add(-l.cfg.Window))
	res := Result{Limit: l.cfg.Limit}

	if len(events) >= l.cfg.Limit {
		l.events[key] = events
		res.RetryAfter = retryAfter(events[0], l.cfg.Window, now)
		return res, nil
	}

	events = append(events, now)
	l.events[key] = events
	res.Allowed = true
	res.Remaining = l.cfg.Limit - len(events)
	return res, nil
}

// Cleanup 清除窗口内已无记录的 key，返回清除数量
func (l *MemoryLimiter) Cleanup() int {
	cutoff := l.now().Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, events := range l.events {
		events = prune(events, cutoff)
		if len(events) == 0 {
			delete(l.events, key)
			removed++
			continue
		}
		l.events[key] = events
	}
	return removed
}

// Run 周期清理，直到 ctx 取消
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// prune 丢弃 cutoff 及之前的记录
func prune(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0:0], events[i:]...)
}
