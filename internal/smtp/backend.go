package smtp

import (
	"errors"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/relay/internal/domain"
	"tempmail/relay/internal/monitoring"
)

// Directory 网关依赖的邮箱目录能力
type Directory interface {
	Exists(address string) bool
	RecordMessage(address string) bool
}

// Deliverer 网关依赖的推送能力
type Deliverer interface {
	Deliver(address string, msg *domain.Message)
}

var (
	errBadSequence = &gosmtp.SMTPError{
		Code:         503,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "bad sequence of commands",
	}
	errInvalidRecipient = &gosmtp.SMTPError{
		Code:         501,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
		Message:      "invalid recipient address",
	}
	errRelayDenied = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
		Message:      "relay access denied - domain not managed by this server",
	}
	errMailboxNotFound = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
		Message:      "recipient mailbox not found",
	}
	errUnparseable = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
		Message:      "message could not be parsed",
	}
	errTooManyConnections = &gosmtp.SMTPError{
		Code:         421,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
		Message:      "too many connections, try again later",
	}
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往本域名下有效临时邮箱的邮件，不提供中继和认证。
// 收件人在 RCPT 阶段校验，DATA 阶段逐个收件人再次确认有效性。
type Backend struct {
	directory Directory
	deliverer Deliverer
	domain    string
	limiter   *ConnectionLimiter
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewBackend 创建 SMTP Backend。
//
// 参数:
//   - directory: 邮箱目录
//   - deliverer: 推送器
//   - mailDomain: 接收邮件的域名
//   - limiter: 连接限流器，可为 nil
//   - metrics: 监控指标，可为 nil
//   - log: 日志，可为 nil
func NewBackend(
	directory Directory,
	deliverer Deliverer,
	mailDomain string,
	limiter *ConnectionLimiter,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		directory: directory,
		deliverer: deliverer,
		domain:    strings.ToLower(mailDomain),
		limiter:   limiter,
		metrics:   metrics,
		log:       log,
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}

	if b.limiter != nil && !b.limiter.Acquire() {
		b.metrics.RecordSMTPRejection("connection_limit")
		b.log.Warn("smtp connection rejected by limiter", zap.String("remote", remote))
		return nil, errTooManyConnections
	}

	b.metrics.RecordSMTPSession()
	s := &session{
		backend: b,
		id:      uuid.NewString(),
		stage:   StageConnected,
		seen:    make(map[string]struct{}),
	}
	s.log = b.log.With(zap.String("session", s.id), zap.String("remote", remote))
	s.log.Debug("smtp session started")
	return s, nil
}

// Stage 会话阶段
type Stage int

const (
	StageConnected Stage = iota
	StageSenderSet
	StageRecipientsAccepted
	StageDataReceived
	StageClosed
)

func (s Stage) String() string {
	switch s {
	case StageConnected:
		return "connected"
	case StageSenderSet:
		return "sender_set"
	case StageRecipientsAccepted:
		return "recipients_accepted"
	case StageDataReceived:
		return "data_received"
	case StageClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type session struct {
	backend    *Backend
	id         string
	stage      Stage
	from       string
	recipients []string
	seen       map[string]struct{}
	released   bool
	log        *zap.Logger
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.stage != StageConnected && s.stage != StageDataReceived {
		return s.reject("bad_sequence", errBadSequence)
	}
	if s.stage == StageDataReceived {
		s.Reset()
	}

	s.from = domain.NormalizeAddress(from)
	s.stage = StageSenderSet
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 依次校验地址格式、域名归属和邮箱有效性，同一收件人只记录一次。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if s.stage != StageSenderSet && s.stage != StageRecipientsAccepted {
		return s.reject("bad_sequence", errBadSequence)
	}

	addr := domain.NormalizeAddress(to)
	_, recipientDomain, err := domain.SplitAddress(addr)
	if err != nil {
		return s.reject("invalid_address", errInvalidRecipient)
	}
	if !strings.EqualFold(recipientDomain, s.backend.domain) {
		return s.reject("relay_denied", errRelayDenied)
	}
	if !s.backend.directory.Exists(addr) {
		return s.reject("mailbox_not_found", errMailboxNotFound)
	}

	if _, dup := s.seen[addr]; !dup {
		s.seen[addr] = struct{}{}
		s.recipients = append(s.recipients, addr)
	}
	s.stage = StageRecipientsAccepted
	return nil
}

// Data 处理邮件内容。
func (s *session) Data(r io.Reader) error {
	if s.stage != StageRecipientsAccepted {
		return s.reject("bad_sequence", errBadSequence)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		var smtpErr *gosmtp.SMTPError
		if errors.As(err, &smtpErr) {
			return s.reject("too_large", smtpErr)
		}
		s.log.Warn("read message body failed", zap.Error(err))
		return err
	}

	start := time.Now()
	parsed, err := ParseEmail(raw)
	s.backend.metrics.RecordParseTime(time.Since(start))
	if err != nil {
		s.log.Warn("parse message failed", zap.Error(err), zap.Int("size", len(raw)))
		return s.reject("parse_failed", errUnparseable)
	}
	for _, att := range parsed.Attachments {
		s.backend.metrics.RecordAttachmentSize(att.Size)
	}

	s.stage = StageDataReceived

	delivered := 0
	for _, rcpt := range s.recipients {
		// 邮箱可能在 RCPT 之后过期
		if !s.backend.directory.RecordMessage(rcpt) {
			s.log.Info("mailbox expired before delivery, skipping", zap.String("recipient", rcpt))
			continue
		}
		s.backend.deliverer.Deliver(rcpt, parsed.Message(rcpt, s.from))
		delivered++
	}

	s.log.Info("message accepted",
		zap.String("from", s.from),
		zap.Int("recipients", len(s.recipients)),
		zap.Int("delivered", delivered),
		zap.Int("attachments", len(parsed.Attachments)),
		zap.Int("size", len(raw)),
	)
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	if s.stage == StageClosed {
		return
	}
	s.from = ""
	s.recipients = nil
	s.seen = make(map[string]struct{})
	s.stage = StageConnected
}

// Logout 会话结束。
func (s *session) Logout() error {
	s.stage = StageClosed
	if !s.released && s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	s.released = true
	s.log.Debug("smtp session closed")
	return nil
}

func (s *session) reject(reason string, err *gosmtp.SMTPError) error {
	s.backend.metrics.RecordSMTPRejection(reason)
	s.log.Debug("smtp command rejected",
		zap.String("reason", reason),
		zap.String("stage", s.stage.String()),
		zap.Int("code", err.Code),
	)
	return err
}
