package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tempmail/relay/internal/domain"
)

// DefaultHeartbeat 默认心跳周期
const DefaultHeartbeat = 30 * time.Second

// SessionLookup 查询有效的邮箱会话
type SessionLookup interface {
	Get(address string) (domain.Session, bool)
}

// Options WebSocket 处理器配置
type Options struct {
	AllowedOrigins []string      // 允许的 Origin 列表，"*" 表示全部
	Heartbeat      time.Duration // 心跳周期
	Logger         *zap.Logger
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// HandleWebSocket 处理 WebSocket 连接：/ws?email=<address>
//
// 只有有效的邮箱才能建立通知通道；connected 事件在绑定前入队，保证先于任何邮件事件。
// 升级期间会话可能已被清理或重建，绑定后再次确认，失效时发送 error 事件并正常关闭。
func HandleWebSocket(registry *Registry, sessions SessionLookup, opts Options) gin.HandlerFunc {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	upgrader := upgraderFactory(opts.AllowedOrigins)

	return func(c *gin.Context) {
		address := domain.NormalizeAddress(c.Query("email"))
		if address == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": "缺少 email 参数"})
			return
		}

		session, ok := sessions.Get(address)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "msg": "邮箱不存在或已过期"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := newClient(uuid.NewString(), session.Address, conn, registry, opts.Heartbeat, log)
		if err := client.Send(NewConnectedEvent(session)); err != nil {
			log.Warn("failed to send connected event", zap.Error(err))
		}
		registry.BindSession(session, client)

		if current, ok := sessions.Get(session.Address); !ok || current.Generation != session.Generation {
			registry.release(session.Address, client)
			closeExpired(client)
			client.log.Info("mailbox expired during upgrade, connection closed")
		} else {
			client.log.Info("client connected", zap.String("remote_addr", c.ClientIP()))
		}

		go client.writePump()
		go client.readPump()
	}
}
