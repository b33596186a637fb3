package directory

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tempmail/relay/internal/domain"
	"tempmail/relay/internal/monitoring"
)

const (
	// DefaultTTL 邮箱默认有效期
	DefaultTTL = 60 * time.Minute
	// DefaultSweepInterval 默认清理周期
	DefaultSweepInterval = time.Minute

	localPartLength = 10
	// 32 个字符，按字节低 5 位取值时无偏差
	localPartAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"
)

// Evictor 在会话被清理时移除其订阅者。
//
// generation 为被移除会话的代数；绑定到更新会话的订阅者必须保留。
type Evictor interface {
	Evict(address string, generation uint64) bool
}

// LiveCounter 返回当前存活的通知连接数。
type LiveCounter interface {
	CountLive() int
}

// Directory 临时邮箱目录，地址到会话的唯一权威映射。
//
// 所有方法都是并发安全的，每个操作在一把锁内原子完成。
// 过期判断在每次读取时进行（惰性失效），后台清理只负责回收内存。
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session

	totalCreated  int64
	totalReceived int64
	generation    uint64

	domain        string
	ttl           time.Duration
	sweepInterval time.Duration

	now     func() time.Time
	evictor Evictor
	live    LiveCounter
	metrics *monitoring.Metrics
	log     *zap.Logger

	running atomic.Bool
}

// Option 目录配置项
type Option func(*Directory)

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// WithTTL 设置邮箱有效期
func WithTTL(ttl time.Duration) Option {
	return func(d *Directory) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithSweepInterval 设置后台清理周期
func WithSweepInterval(interval time.Duration) Option {
	return func(d *Directory) {
		if interval > 0 {
			d.sweepInterval = interval
		}
	}
}

// WithEvictor 设置清理过期会话时用于驱逐订阅者的组件
func WithEvictor(e Evictor) Option {
	return func(d *Directory) { d.evictor = e }
}

// WithLiveCounter 设置统计活跃连接数的组件
func WithLiveCounter(c LiveCounter) Option {
	return func(d *Directory) { d.live = c }
}

// WithMetrics 设置监控指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(d *Directory) { d.metrics = m }
}

// WithLogger 设置日志记录器
func WithLogger(log *zap.Logger) Option {
	return func(d *Directory) {
		if log != nil {
			d.log = log
		}
	}
}

// New 创建邮箱目录
//
// 参数:
//   - mailDomain: 邮箱域名，如 "example.com"
//   - opts: 可选配置
func New(mailDomain string, opts ...Option) *Directory {
	d := &Directory{
		sessions:      make(map[string]domain.Session),
		domain:        strings.ToLower(mailDomain),
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Domain 返回邮箱域名
func (d *Directory) Domain() string {
	return d.domain
}

// TTL 返回邮箱有效期
func (d *Directory) TTL() time.Duration {
	return d.ttl
}

// Create 创建（或覆盖）邮箱会话。
//
// prefix 为空时生成随机本地部分；非空时调用方必须已完成格式校验。
// 同一地址重复创建会重置过期时间，不返回"已存在"错误。
func (d *Directory) Create(prefix string) domain.Session {
	local := strings.ToLower(prefix)
	if local == "" {
		local = randomLocalPart()
	}

	now := d.now()
	session := domain.Session{
		Address:   local + "@" + d.domain,
		CreatedAt: now,
		ExpiresAt: now.Add(d.ttl),
	}

	d.mu.Lock()
	_, replaced := d.sessions[session.Address]
	d.generation++
	session.Generation = d.generation
	d.sessions[session.Address] = session
	d.totalCreated++
	d.mu.Unlock()

	d.metrics.RecordMailboxCreated()
	d.log.Info("mailbox created",
		zap.String("address", session.Address),
		zap.Time("expires_at", session.ExpiresAt),
		zap.Bool("replaced", replaced),
	)
	return session
}

// Get 返回有效的会话；不存在或已过期时 ok 为 false。
func (d *Directory) Get(address string) (domain.Session, bool) {
	address = strings.ToLower(address)
	now := d.now()

	d.mu.RLock()
	session, ok := d.sessions[address]
	d.mu.RUnlock()

	if !ok || !session.Live(now) {
		return domain.Session{}, false
	}
	return session, true
}

// Exists 判断地址当前是否有效
func (d *Directory) Exists(address string) bool {
	_, ok := d.Get(address)
	return ok
}

// RecordMessage 原子地检查有效性并累加收信计数。
//
// 地址无效时返回 false，且不修改任何计数。
func (d *Directory) RecordMessage(address string) bool {
	address = strings.ToLower(address)
	now := d.now()

	d.mu.Lock()
	session, ok := d.sessions[address]
	if !ok || !session.Live(now) {
		d.mu.Unlock()
		return false
	}
	d.totalReceived++
	d.mu.Unlock()

	d.metrics.RecordMessageReceived()
	return true
}

// Delete 主动释放邮箱，并驱逐其订阅者。
func (d *Directory) Delete(address string) bool {
	address = strings.ToLower(address)

	d.mu.Lock()
	session, ok := d.sessions[address]
	delete(d.sessions, address)
	d.mu.Unlock()

	if !ok {
		return false
	}
	if d.evictor != nil {
		d.evictor.Evict(address, session.Generation)
	}
	d.log.Info("mailbox deleted", zap.String("address", address))
	return true
}

// Sweep 删除所有 ExpiresAt <= now 的会话并驱逐对应订阅者，返回删除数量。
//
// 驱逐在释放目录锁之后进行，目录锁与注册表锁不会嵌套。
// 释放锁后同一地址可能已被重新创建，驱逐只作用于被删除会话那一代的绑定。
func (d *Directory) Sweep() int {
	now := d.now()

	d.mu.Lock()
	expired := make([]domain.Session, 0)
	for address, session := range d.sessions {
		if !session.Live(now) {
			expired = append(expired, session)
			delete(d.sessions, address)
		}
	}
	d.mu.Unlock()

	if d.evictor != nil {
		for _, session := range expired {
			d.evictor.Evict(session.Address, session.Generation)
		}
	}

	d.metrics.RecordMailboxesExpired(len(expired))
	return len(expired)
}

// Run 按固定周期执行清理，直到 ctx 被取消。
func (d *Directory) Run(ctx context.Context) {
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	d.running.Store(true)
	defer d.running.Store(false)

	d.log.Info("starting expired mailbox sweep", zap.Duration("interval", d.sweepInterval))

	for {
		select {
		case <-ctx.Done():
			d.log.Info("mailbox sweep stopped")
			return
		case <-ticker.C:
			if count := d.Sweep(); count > 0 {
				d.log.Info("expired mailboxes swept", zap.Int("count", count))
			}
		}
	}
}

// Running 清理循环是否正在运行
func (d *Directory) Running() bool {
	return d.running.Load()
}

// Stats 返回目录统计快照
func (d *Directory) Stats() domain.Stats {
	now := d.now()

	d.mu.RLock()
	active := 0
	for _, session := range d.sessions {
		if session.Live(now) {
			active++
		}
	}
	stats := domain.Stats{
		TotalEmailsCreated:    d.totalCreated,
		TotalMessagesReceived: d.totalReceived,
		ActiveEmails:          active,
	}
	d.mu.RUnlock()

	if d.live != nil {
		stats.ActiveConnections = d.live.CountLive()
	}
	return stats
}

// randomLocalPart 生成固定长度的随机本地部分
func randomLocalPart() string {
	buf := make([]byte, localPartLength)
	// crypto/rand.Read 不会返回错误
	_, _ = rand.Read(buf)
	for i := range buf {
		buf[i] = localPartAlphabet[buf[i]&31]
	}
	return string(buf)
}
