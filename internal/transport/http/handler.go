package httptransport

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/relay/internal/domain"
)

// MailboxDirectory HTTP 层依赖的邮箱目录能力
type MailboxDirectory interface {
	Domain() string
	TTL() time.Duration
	Create(prefix string) domain.Session
	Get(address string) (domain.Session, bool)
	Delete(address string) bool
	Stats() domain.Stats
}

// Handler 聚合邮箱相关的 HTTP 处理逻辑。
type Handler struct {
	directory MailboxDirectory
	logger    *zap.Logger
}

// NewHandler 创建处理器
func NewHandler(directory MailboxDirectory, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{directory: directory, logger: logger}
}

type generateRequest struct {
	Prefix string `json:"prefix"`
}

type configResponse struct {
	Domain        string `json:"domain"`
	ExpiryMinutes int    `json:"expiryMinutes"`
}

// generateEmail godoc
// @Summary 创建临时邮箱
// @Description 使用自定义前缀或随机前缀创建临时邮箱，同名邮箱会被重置
// @Tags Email
// @Accept json
// @Produce json
// @Param request body generateRequest false "邮箱前缀"
// @Success 201 {object} Response{data=domain.Session}
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Router /api/email/generate [post]
func (h *Handler) generateEmail(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	prefix := strings.TrimSpace(req.Prefix)
	if prefix != "" {
		if err := domain.ValidatePrefix(prefix); err != nil {
			BadRequest(c, GetErrorMessage(err))
			return
		}
	}

	session := h.directory.Create(prefix)
	Created(c, session)
}

// getEmail godoc
// @Summary 查询邮箱
// @Tags Email
// @Produce json
// @Param address path string true "邮箱地址"
// @Success 200 {object} Response{data=domain.Session}
// @Failure 404 {object} Response
// @Router /api/email/{address} [get]
func (h *Handler) getEmail(c *gin.Context) {
	session, ok := h.directory.Get(domain.NormalizeAddress(c.Param("address")))
	if !ok {
		NotFound(c, MsgMailboxNotFound)
		return
	}
	Success(c, session)
}

// deleteEmail godoc
// @Summary 释放邮箱
// @Description 立即释放邮箱，并关闭其通知通道
// @Tags Email
// @Param address path string true "邮箱地址"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /api/email/{address} [delete]
func (h *Handler) deleteEmail(c *gin.Context) {
	address := domain.NormalizeAddress(c.Param("address"))
	if !h.directory.Delete(address) {
		NotFound(c, MsgMailboxNotFound)
		return
	}
	SuccessWithMsg(c, MsgMailboxDeleted, nil)
}

// getStats godoc
// @Summary 统计信息
// @Tags Stats
// @Produce json
// @Success 200 {object} Response{data=domain.Stats}
// @Router /api/stats [get]
func (h *Handler) getStats(c *gin.Context) {
	Success(c, h.directory.Stats())
}

// getConfig godoc
// @Summary 公开配置
// @Tags Config
// @Produce json
// @Success 200 {object} Response{data=configResponse}
// @Router /api/config [get]
func (h *Handler) getConfig(c *gin.Context) {
	Success(c, configResponse{
		Domain:        h.directory.Domain(),
		ExpiryMinutes: int(h.directory.TTL() / time.Minute),
	})
}
