package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail   = errors.New("invalid email format")
	ErrEmailTooLong   = errors.New("email address too long")
	ErrInvalidDomain  = errors.New("invalid domain format")
	ErrPrefixEmpty    = errors.New("prefix is empty")
	ErrPrefixTooLong  = errors.New("prefix too long (max 32 chars)")
	ErrPrefixInvalid  = errors.New("prefix may only contain letters, digits, '_' and '-'")
	ErrPrefixReserved = errors.New("prefix is reserved")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength  = 254
	MaxDomainLength = 253

	// 自定义前缀长度限制
	MaxPrefixLength = 32
)

var (
	prefixRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	// 域名验证（支持子域名）
	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)
)

// reservedPrefixes 保留前缀，不允许用户申请
var reservedPrefixes = map[string]struct{}{
	"admin":         {},
	"administrator": {},
	"root":          {},
	"postmaster":    {},
	"hostmaster":    {},
	"webmaster":     {},
	"abuse":         {},
	"security":      {},
	"support":       {},
	"noreply":       {},
	"no-reply":      {},
	"mailer-daemon": {},
	"system":        {},
	"info":          {},
}

// ValidatePrefix 验证用户自定义的邮箱前缀
//
// 规则：
//   - 长度 1~32
//   - 仅允许 [A-Za-z0-9_-]
//   - 不能是保留名称（大小写不敏感）
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return ErrPrefixEmpty
	}
	if len(prefix) > MaxPrefixLength {
		return ErrPrefixTooLong
	}
	if !prefixRegex.MatchString(prefix) {
		return ErrPrefixInvalid
	}
	if IsReservedPrefix(prefix) {
		return ErrPrefixReserved
	}
	return nil
}

// IsReservedPrefix 判断前缀是否在保留名单中
func IsReservedPrefix(prefix string) bool {
	_, ok := reservedPrefixes[strings.ToLower(prefix)]
	return ok
}

// NormalizeAddress 去除 SMTP 路径中的尖括号与空白并转为小写
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

// SplitAddress 将邮箱地址拆分为本地部分与域名
func SplitAddress(address string) (local, domain string, err error) {
	if len(address) > MaxEmailLength {
		return "", "", ErrEmailTooLong
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Name != "" {
		return "", "", ErrInvalidEmail
	}
	address = parsed.Address

	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", ErrInvalidEmail
	}
	local, domain = address[:at], address[at+1:]
	if err := ValidateDomain(domain); err != nil {
		return "", "", err
	}
	return local, domain, nil
}

// ValidateDomain 验证域名
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > MaxDomainLength {
		return ErrInvalidDomain
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) > 63 {
			return ErrInvalidDomain
		}
	}
	return nil
}
