package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/relay/internal/config"
	"tempmail/relay/internal/health"
	"tempmail/relay/internal/middleware"
	"tempmail/relay/internal/monitoring"
	"tempmail/relay/internal/ratelimit"
	"tempmail/relay/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	Directory     MailboxDirectory
	Registry      *websocket.Registry
	Metrics       *monitoring.Metrics
	Health        *health.HealthChecker
	APILimiter    ratelimit.Limiter // 通用 API 限流
	CreateLimiter ratelimit.Limiter // 创建邮箱限流
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.RecoveryHandler(log, deps.Metrics))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.HTTPMetrics(deps.Metrics))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.SmallBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{
			"Content-Length",
			"Retry-After",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := NewHandler(deps.Directory, log)

	// 健康检查与指标
	if deps.Health != nil {
		router.GET("/health", func(c *gin.Context) {
			results, healthy := deps.Health.CheckHealth()
			if !healthy {
				c.JSON(http.StatusServiceUnavailable, Response{Code: http.StatusServiceUnavailable, Msg: MsgUnhealthy, Data: results})
				return
			}
			SuccessWithMsg(c, MsgHealthy, results)
		})
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	api := router.Group("/api")
	if deps.APILimiter != nil {
		api.Use(middleware.RateLimit(deps.APILimiter, "api", deps.Metrics, log))
	}
	{
		generate := []gin.HandlerFunc{handler.generateEmail}
		if deps.CreateLimiter != nil {
			generate = append([]gin.HandlerFunc{middleware.RateLimit(deps.CreateLimiter, "create", deps.Metrics, log)}, generate...)
		}
		api.POST("/email/generate", generate...)
		api.GET("/email/:address", handler.getEmail)
		api.DELETE("/email/:address", handler.deleteEmail)
		api.GET("/stats", handler.getStats)
		api.GET("/config", handler.getConfig)
	}

	router.GET("/ws", websocket.HandleWebSocket(deps.Registry, deps.Directory, websocket.Options{
		AllowedOrigins: deps.Config.CORS.AllowedOrigins,
		Heartbeat:      deps.Config.WebSocket.HeartbeatInterval,
		Logger:         log.Named("websocket"),
	}))

	return router
}
