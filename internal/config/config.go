package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host            string        // 监听地址，默认 "0.0.0.0"
	Port            int           // 监听端口，默认 8080
	ShutdownTimeout time.Duration // 优雅关闭的最长等待时间，超时强制退出，默认 10s
}

// Addr 返回 host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MailboxConfig 定义临时邮箱的核心业务配置
type MailboxConfig struct {
	Domain        string        // 临时邮箱域名
	DefaultTTL    time.Duration // 邮箱生存时间，默认 1h
	SweepInterval time.Duration // 过期清理周期，默认 1m
}

// SMTPConfig 定义 SMTP 邮件接收服务器的配置
type SMTPConfig struct {
	BindAddr        string  // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	Domain          string  // SMTP 服务器域名，用于 HELO/EHLO 响应
	MaxMessageBytes int64   // 单封邮件最大字节数，默认 10MB
	MaxRecipients   int     // 单封邮件最大收件人数，默认 50
	MaxConnections  int     // 最大并发连接数，默认 100
	ConnectionRate  float64 // 每秒最大新建连接数，默认 10
}

// WebSocketConfig 定义推送通道配置
type WebSocketConfig struct {
	HeartbeatInterval time.Duration // 心跳间隔，默认 30s
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到 stdout
}

// RateLimitConfig 定义 HTTP 限流配置
type RateLimitConfig struct {
	Backend      string        // 限流后端: "memory" 或 "redis"
	APILimit     int           // 通用 API 每窗口请求数，默认 100
	APIWindow    time.Duration // 通用 API 窗口，默认 1m
	CreateLimit  int           // 创建邮箱每窗口请求数，默认 10
	CreateWindow time.Duration // 创建邮箱窗口，默认 1m
}

// RedisConfig 定义 Redis 服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig    // HTTP 服务器配置
	Mailbox   MailboxConfig   // 邮箱配置
	SMTP      SMTPConfig      // SMTP 服务配置
	WebSocket WebSocketConfig // 推送通道配置
	CORS      CORSConfig      // 跨域配置
	Log       LogConfig       // 日志配置
	RateLimit RateLimitConfig // 限流配置
	Redis     RedisConfig     // Redis 配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TEMPMAIL_
// 例如: TEMPMAIL_SERVER_PORT, TEMPMAIL_MAILBOX_DOMAIN
//
// 返回值:
//   - *Config: 加载成功的配置对象
//   - error: 配置验证失败时返回错误
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("tempmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Mailbox: MailboxConfig{
			Domain:        strings.ToLower(strings.TrimSpace(v.GetString("mailbox.domain"))),
			DefaultTTL:    v.GetDuration("mailbox.default_ttl"),
			SweepInterval: v.GetDuration("mailbox.sweep_interval"),
		},
		SMTP: SMTPConfig{
			BindAddr:        v.GetString("smtp.bind_addr"),
			Domain:          v.GetString("smtp.domain"),
			MaxMessageBytes: v.GetInt64("smtp.max_message_bytes"),
			MaxRecipients:   v.GetInt("smtp.max_recipients"),
			MaxConnections:  v.GetInt("smtp.max_connections"),
			ConnectionRate:  v.GetFloat64("smtp.connection_rate"),
		},
		WebSocket: WebSocketConfig{
			HeartbeatInterval: v.GetDuration("websocket.heartbeat_interval"),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseList(v.GetString("cors.allowed_origins")),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		RateLimit: RateLimitConfig{
			Backend:      strings.ToLower(v.GetString("ratelimit.backend")),
			APILimit:     v.GetInt("ratelimit.api_limit"),
			APIWindow:    v.GetDuration("ratelimit.api_window"),
			CreateLimit:  v.GetInt("ratelimit.create_limit"),
			CreateWindow: v.GetDuration("ratelimit.create_window"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
	}

	if cfg.SMTP.Domain == "" {
		cfg.SMTP.Domain = cfg.Mailbox.Domain
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	var errs []error

	if c.Mailbox.Domain == "" {
		errs = append(errs, errors.New("mailbox.domain must not be empty"))
	}
	if c.Mailbox.DefaultTTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid mailbox.default_ttl: %s", c.Mailbox.DefaultTTL))
	}
	if c.Mailbox.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid mailbox.sweep_interval: %s", c.Mailbox.SweepInterval))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server.port: %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid server.shutdown_timeout: %s", c.Server.ShutdownTimeout))
	}
	if c.WebSocket.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid websocket.heartbeat_interval: %s", c.WebSocket.HeartbeatInterval))
	}
	if c.RateLimit.APILimit <= 0 || c.RateLimit.APIWindow <= 0 {
		errs = append(errs, errors.New("ratelimit.api_limit and ratelimit.api_window must be positive"))
	}
	if c.RateLimit.CreateLimit <= 0 || c.RateLimit.CreateWindow <= 0 {
		errs = append(errs, errors.New("ratelimit.create_limit and ratelimit.create_window must be positive"))
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			errs = append(errs, errors.New("redis.address is required when ratelimit.backend is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ratelimit.backend: %q", c.RateLimit.Backend))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("mailbox.domain", "temp.mail")
	v.SetDefault("mailbox.default_ttl", "1h")
	v.SetDefault("mailbox.sweep_interval", "1m")
	v.SetDefault("smtp.bind_addr", ":25")
	v.SetDefault("smtp.domain", "")
	v.SetDefault("smtp.max_message_bytes", 10<<20)
	v.SetDefault("smtp.max_recipients", 50)
	v.SetDefault("smtp.max_connections", 100)
	v.SetDefault("smtp.connection_rate", 10)
	v.SetDefault("websocket.heartbeat_interval", "30s")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.api_limit", 100)
	v.SetDefault("ratelimit.api_window", "1m")
	v.SetDefault("ratelimit.create_limit", 10)
	v.SetDefault("ratelimit.create_window", "1m")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 文件不存在时静默跳过，已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
