package websocket

import (
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tempmail/relay/internal/domain"
)

// Subscriber 邮箱的实时通知通道
type Subscriber interface {
	// Send 发送一个事件；通道已关闭或阻塞时返回错误
	Send(ev *Event) error
	// Close 以指定的关闭码关闭通道
	Close(code int, reason string)
	// Alive 通道当前是否仍然打开
	Alive() bool
}

// binding 记录订阅者及其绑定时会话的代数
type binding struct {
	sub        Subscriber
	generation uint64
}

// Registry 订阅者注册表：每个地址最多绑定一个通知通道。
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]binding
	log      *zap.Logger
}

// NewRegistry 创建订阅者注册表
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		bindings: make(map[string]binding),
		log:      log,
	}
}

// Bind 绑定通知通道。已有绑定会被直接替换，旧通道不会收到任何通知。
//
// 调用方需要先确认地址在目录中有效。未记录会话代数的绑定会被任何一次驱逐移除。
func (r *Registry) Bind(address string, sub Subscriber) {
	r.bind(address, sub, 0)
}

// BindSession 将通道绑定到指定的会话，驱逐旧代会话时不会影响该绑定。
func (r *Registry) BindSession(session domain.Session, sub Subscriber) {
	r.bind(session.Address, sub, session.Generation)
}

func (r *Registry) bind(address string, sub Subscriber, generation uint64) {
	address = strings.ToLower(address)

	r.mu.Lock()
	prev, replaced := r.bindings[address]
	r.bindings[address] = binding{sub: sub, generation: generation}
	r.mu.Unlock()

	if replaced && prev.sub != sub {
		r.log.Info("subscriber replaced", zap.String("address", address))
	}
}

// Unbind 移除绑定；不存在时无操作
func (r *Registry) Unbind(address string) {
	address = strings.ToLower(address)

	r.mu.Lock()
	delete(r.bindings, address)
	r.mu.Unlock()
}

// Lookup 查找地址绑定的通道
func (r *Registry) Lookup(address string) (Subscriber, bool) {
	address = strings.ToLower(address)

	r.mu.RLock()
	b, ok := r.bindings[address]
	r.mu.RUnlock()
	return b.sub, ok
}

// CountLive 返回底层通道仍然打开的绑定数量
func (r *Registry) CountLive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, b := range r.bindings {
		if b.sub.Alive() {
			count++
		}
	}
	return count
}

// Evict 移除 generation 及更早会话的绑定，先推送 error 事件再以正常关闭码关闭通道。
//
// 邮箱过期或被删除时调用；绑定属于更新的会话时保留并返回 false。
func (r *Registry) Evict(address string, generation uint64) bool {
	address = strings.ToLower(address)

	r.mu.Lock()
	b, ok := r.bindings[address]
	if !ok || b.generation > generation {
		r.mu.Unlock()
		return false
	}
	delete(r.bindings, address)
	r.mu.Unlock()

	closeExpired(b.sub)
	r.log.Info("subscriber evicted", zap.String("address", address))
	return true
}

// closeExpired 通知客户端邮箱已失效并关闭通道
func closeExpired(sub Subscriber) {
	_ = sub.Send(NewErrorEvent(mailboxExpired))
	sub.Close(websocket.CloseNormalClosure, mailboxExpired)
}

// CloseAll 关闭所有通道并清空注册表，返回关闭的数量
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	subs := r.bindings
	r.bindings = make(map[string]binding)
	r.mu.Unlock()

	for _, b := range subs {
		b.sub.Close(websocket.CloseNormalClosure, reason)
	}
	return len(subs)
}

// release 仅当当前绑定仍是 sub 时才移除，避免旧通道关闭时误删新绑定
func (r *Registry) release(address string, sub Subscriber) bool {
	address = strings.ToLower(address)

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.bindings[address]; ok && current.sub == sub {
		delete(r.bindings, address)
		return true
	}
	return false
}
