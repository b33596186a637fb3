package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/relay/internal/monitoring"
	"tempmail/relay/internal/ratelimit"
)

// RateLimit 按客户端 IP 限流
//
// 限流后端出错时放行请求并记录日志。
func RateLimit(limiter ratelimit.Limiter, scope string, metrics *monitoring.Metrics, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()
		res, err := limiter.Allow(c.Request.Context(), ip)
		if err != nil {
			log.Warn("rate limiter unavailable, allowing request",
				zap.String("scope", scope),
				zap.String("ip", ip),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			retry := int(math.Ceil(res.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			metrics.RecordRateLimitBlock(scope)
			log.Debug("rate limited", zap.String("scope", scope), zap.String("ip", ip))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"msg":  "请求过于频繁，请稍后再试",
			})
			return
		}

		c.Next()
	}
}
