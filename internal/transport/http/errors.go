package httptransport

import (
	"errors"

	"tempmail/relay/internal/domain"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = []struct {
	err error
	msg string
}{
	{domain.ErrPrefixEmpty, "邮箱前缀不能为空"},
	{domain.ErrPrefixTooLong, "邮箱前缀过长，最多 32 个字符"},
	{domain.ErrPrefixInvalid, "邮箱前缀只能包含字母、数字、下划线和连字符"},
	{domain.ErrPrefixReserved, "该邮箱前缀为系统保留，请更换"},
	{domain.ErrInvalidEmail, "邮箱地址格式无效"},
	{domain.ErrEmailTooLong, "邮箱地址过长"},
	{domain.ErrInvalidDomain, "域名格式无效"},
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return err.Error()
}

// 通用错误消息
const (
	MsgInvalidRequest  = "请求参数格式错误"
	MsgMailboxNotFound = "邮箱不存在或已过期"
	MsgMailboxDeleted  = "邮箱已释放"
	MsgHealthy         = "服务正常"
	MsgUnhealthy       = "服务不可用"
)
