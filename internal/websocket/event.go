package websocket

import (
	"time"

	"tempmail/relay/internal/domain"
)

// EventType 定义推送事件类型
type EventType string

const (
	EventConnected EventType = "connected"
	EventEmail     EventType = "email"
	EventError     EventType = "error"
)

// mailboxExpired 邮箱失效时的 error 事件内容与关闭原因
const mailboxExpired = "mailbox expired"

// Event 通过通知通道发送的单个离散事件
type Event struct {
	Type      EventType `json:"type"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewConnectedEvent 绑定成功后的确认事件，携带地址与过期时间
func NewConnectedEvent(session domain.Session) *Event {
	return &Event{
		Type:      EventConnected,
		Email:     session.Address,
		ExpiresAt: session.ExpiresAt,
		Timestamp: time.Now(),
	}
}

// NewEmailEvent 新邮件事件
func NewEmailEvent(address string, msg *domain.Message) *Event {
	return &Event{
		Type:      EventEmail,
		Email:     address,
		Data:      msg,
		Timestamp: time.Now(),
	}
}

// NewErrorEvent 错误事件
func NewErrorEvent(errMsg string) *Event {
	return &Event{
		Type:      EventError,
		Error:     errMsg,
		Timestamp: time.Now(),
	}
}
