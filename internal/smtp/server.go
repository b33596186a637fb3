package smtp

import (
	"time"

	gosmtp "github.com/emersion/go-smtp"
)

// ServerOptions SMTP 服务器参数
type ServerOptions struct {
	Addr            string
	Domain          string
	MaxMessageBytes int64
	MaxRecipients   int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// NewServer 创建 SMTP 服务器
func NewServer(backend *Backend, opts ServerOptions) *gosmtp.Server {
	server := gosmtp.NewServer(backend)
	server.Addr = opts.Addr
	server.Domain = opts.Domain
	server.MaxMessageBytes = opts.MaxMessageBytes
	server.MaxRecipients = opts.MaxRecipients
	server.ReadTimeout = opts.ReadTimeout
	server.WriteTimeout = opts.WriteTimeout
	if server.ReadTimeout == 0 {
		server.ReadTimeout = 60 * time.Second
	}
	if server.WriteTimeout == 0 {
		server.WriteTimeout = 60 * time.Second
	}
	return server
}
