package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/relay/internal/config"
	"tempmail/relay/internal/directory"
	"tempmail/relay/internal/health"
	"tempmail/relay/internal/monitoring"
	"tempmail/relay/internal/ratelimit"
	"tempmail/relay/internal/smtp"
	httptransport "tempmail/relay/internal/transport/http"
	"tempmail/relay/internal/websocket"
)

// app 持有进程内全部组件
type app struct {
	cfg *config.Config
	log *zap.Logger

	metrics   *monitoring.Metrics
	registry  *websocket.Registry
	directory *directory.Directory
	redis     *goredis.Client

	// 内存限流器需要周期清理
	memLimiters []*ratelimit.MemoryLimiter

	router     *gin.Engine
	httpServer *http.Server
	smtpServer *gosmtp.Server

	// exit 在优雅关闭超时后被调用
	exit func(code int)
}

// newApp 按依赖顺序构建组件：
// 注册表 -> 目录 -> 推送器 -> SMTP 网关 -> HTTP 路由
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{
		cfg:  cfg,
		log:  log,
		exit: os.Exit,
	}

	a.metrics = monitoring.NewMetrics()
	a.registry = websocket.NewRegistry(log.Named("registry"))
	a.directory = directory.New(cfg.Mailbox.Domain,
		directory.WithTTL(cfg.Mailbox.DefaultTTL),
		directory.WithSweepInterval(cfg.Mailbox.SweepInterval),
		directory.WithEvictor(a.registry),
		directory.WithLiveCounter(a.registry),
		directory.WithMetrics(a.metrics),
		directory.WithLogger(log.Named("directory")),
	)
	a.metrics.RegisterStats(a.directory.Stats)

	apiLimiter, createLimiter, err := a.buildLimiters(ctx)
	if err != nil {
		return nil, err
	}

	notifier := websocket.NewNotifier(a.registry, a.metrics, log.Named("notifier"))
	backend := smtp.NewBackend(
		a.directory,
		notifier,
		cfg.Mailbox.Domain,
		smtp.NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.ConnectionRate),
		a.metrics,
		log.Named("smtp"),
	)
	a.smtpServer = smtp.NewServer(backend, smtp.ServerOptions{
		Addr:            cfg.SMTP.BindAddr,
		Domain:          cfg.SMTP.Domain,
		MaxMessageBytes: cfg.SMTP.MaxMessageBytes,
		MaxRecipients:   cfg.SMTP.MaxRecipients,
	})

	healthChecker := health.NewHealthChecker(health.Options{
		SMTPAddr:       dialableAddr(cfg.SMTP.BindAddr),
		Redis:          a.redis,
		DirectoryReady: a.directory.Running,
		Logger:         log.Named("health"),
	})

	a.router = httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		Directory:     a.directory,
		Registry:      a.registry,
		Metrics:       a.metrics,
		Health:        healthChecker,
		APILimiter:    apiLimiter,
		CreateLimiter: createLimiter,
		Logger:        log.Named("http"),
	})
	a.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return a, nil
}

func (a *app) buildLimiters(ctx context.Context) (api, create ratelimit.Limiter, err error) {
	apiCfg := ratelimit.Config{Limit: a.cfg.RateLimit.APILimit, Window: a.cfg.RateLimit.APIWindow}
	createCfg := ratelimit.Config{Limit: a.cfg.RateLimit.CreateLimit, Window: a.cfg.RateLimit.CreateWindow}

	if a.cfg.RateLimit.Backend == "redis" {
		a.redis, err = ratelimit.NewRedisClient(ctx, ratelimit.RedisOptions{
			Address:  a.cfg.Redis.Address,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		a.log.Info("connected to Redis", zap.String("address", a.cfg.Redis.Address), zap.Int("db", a.cfg.Redis.DB))

		if api, err = ratelimit.NewRedisLimiter(a.redis, "api", apiCfg, nil); err != nil {
			return nil, nil, err
		}
		if create, err = ratelimit.NewRedisLimiter(a.redis, "create", createCfg, nil); err != nil {
			return nil, nil, err
		}
		return api, create, nil
	}

	apiMem, err := ratelimit.NewMemoryLimiter(apiCfg, nil)
	if err != nil {
		return nil, nil, err
	}
	createMem, err := ratelimit.NewMemoryLimiter(createCfg, nil)
	if err != nil {
		return nil, nil, err
	}
	a.memLimiters = append(a.memLimiters, apiMem, createMem)
	return apiMem, createMem, nil
}

// run 在给定监听器上启动服务，直到 ctx 取消或任一服务出错
func (a *app) run(ctx context.Context, httpLn, smtpLn net.Listener) error {
	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		a.log.Info("starting HTTP server", zap.String("address", httpLn.Addr().String()))
		if err := a.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	group.Go(func() error {
		a.log.Info("starting SMTP server",
			zap.String("address", smtpLn.Addr().String()),
			zap.String("domain", a.cfg.Mailbox.Domain),
		)
		if err := a.smtpServer.Serve(smtpLn); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			a.log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 过期邮箱清理 goroutine
	group.Go(func() error {
		a.directory.Run(groupCtx)
		return nil
	})

	for _, limiter := range a.memLimiters {
		group.Go(func() error {
			limiter.Run(groupCtx, time.Minute)
			return nil
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		a.shutdown()
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// shutdown 依次停止 SMTP、HTTP，再关闭所有通知通道；超时则强制退出
func (a *app) shutdown() {
	a.log.Info("shutdown signal received, gracefully shutting down...")

	hardStop := time.AfterFunc(a.cfg.Server.ShutdownTimeout, func() {
		a.log.Error("graceful shutdown timed out, forcing exit",
			zap.Duration("timeout", a.cfg.Server.ShutdownTimeout))
		_ = a.log.Sync()
		a.exit(1)
	})
	defer hardStop.Stop()

	if err := a.smtpServer.Close(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
		a.log.Warn("SMTP server close warning", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Error("HTTP server shutdown error", zap.Error(err))
	}

	closed := a.registry.CloseAll("server shutting down")

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Redis close warning", zap.Error(err))
		}
	}

	a.log.Info("servers stopped", zap.Int("channels_closed", closed))
}

// dialableAddr 将 ":25" 形式的监听地址转换为可拨测地址
func dialableAddr(bindAddr string) string {
	host, port, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
