package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/relay/internal/config"
	"tempmail/relay/internal/logger"
)

// main 启动同时包含 HTTP API、WebSocket 推送与 SMTP 接收的服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting tempmail relay",
		zap.String("domain", cfg.Mailbox.Domain),
		zap.Duration("mailbox_ttl", cfg.Mailbox.DefaultTTL),
		zap.String("ratelimit_backend", cfg.RateLimit.Backend),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize components", zap.Error(err))
	}

	httpLn, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		log.Fatal("failed to listen HTTP", zap.String("address", cfg.Server.Addr()), zap.Error(err))
	}
	smtpLn, err := net.Listen("tcp", cfg.SMTP.BindAddr)
	if err != nil {
		log.Fatal("failed to listen SMTP", zap.String("address", cfg.SMTP.BindAddr), zap.Error(err))
	}

	if err := a.run(ctx, httpLn, smtpLn); err != nil {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
