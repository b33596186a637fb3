package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 检查项默认参数
const (
	DefaultDialTimeout    = 2 * time.Second
	DefaultMaxGoroutines  = 10000
	defaultRedisPingLimit = 2 * time.Second
)

// ErrDirectoryUnavailable 目录未就绪
var ErrDirectoryUnavailable = errors.New("mailbox directory unavailable")

// Options 健康检查依赖
type Options struct {
	// SMTPAddr 非空时就绪检查会拨测 SMTP 端口
	SMTPAddr string
	// Redis 非空时就绪检查会 PING Redis
	Redis *goredis.Client
	// DirectoryReady 返回目录的过期清理循环是否在运行
	DirectoryReady func() bool
	Logger         *zap.Logger
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	checks map[string]healthcheck.Check
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(opts Options) *HealthChecker {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		checks: make(map[string]healthcheck.Check),
		logger: opts.Logger,
	}

	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(DefaultMaxGoroutines))

	if opts.DirectoryReady != nil {
		hc.addReadiness("directory", func() error {
			if !opts.DirectoryReady() {
				return ErrDirectoryUnavailable
			}
			return nil
		})
	}
	if opts.SMTPAddr != "" {
		hc.addReadiness("smtp", healthcheck.TCPDialCheck(opts.SMTPAddr, DefaultDialTimeout))
	}
	if opts.Redis != nil {
		hc.addReadiness("redis", RedisHealthCheck(opts.Redis))
	}

	return hc
}

func (hc *HealthChecker) addReadiness(name string, check healthcheck.Check) {
	hc.checks[name] = check
	hc.health.AddReadinessCheck(name, check)
}

// Handler 返回健康检查处理器
func (hc *HealthChecker) Handler() healthcheck.Handler {
	return hc.health
}

// LiveEndpoint 存活探针
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪探针
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行全部就绪检查并汇总结果
func (hc *HealthChecker) CheckHealth() (map[string]string, bool) {
	results := make(map[string]string, len(hc.checks)+1)
	healthy := true

	for name, check := range hc.checks {
		if err := check(); err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
			healthy = false
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		results[name] = "OK"
	}
	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return results, healthy
}

// RedisHealthCheck Redis 健康检查
func RedisHealthCheck(client *goredis.Client) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRedisPingLimit)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}
