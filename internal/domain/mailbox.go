package domain

import (
	"time"
)

// Session 表示一个临时邮箱会话。
//
// ExpiresAt 在创建时确定，之后不会延长。
type Session struct {
	Address   string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`

	// Generation 每次创建递增，用于区分同一地址的先后会话
	Generation uint64 `json:"-"`
}

// Live 判断会话在给定时间点是否仍然有效。
func (s Session) Live(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Remaining 返回距离过期的剩余时间，已过期时为 0。
func (s Session) Remaining(now time.Time) time.Duration {
	if !s.Live(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}
