package smtp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"tempmail/relay/internal/domain"
)

// ParsedEmail 表示解析后的邮件内容。
type ParsedEmail struct {
	Subject     string
	From        string
	To          string
	Text        string
	HTML        string
	Attachments []*domain.Attachment
}

// ParseEmail 解析邮件，提取文本、HTML 和附件。
//
// 显式标记为 inline 的部分（如正文内嵌图片）不计入附件。
func ParseEmail(raw []byte) (*ParsedEmail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse mail: %w", err)
	}
	defer mr.Close()

	parsed := &ParsedEmail{
		From:        formatAddressList(&mr.Header, "From"),
		To:          formatAddressList(&mr.Header, "To"),
		Attachments: make([]*domain.Attachment, 0),
	}
	if subject, err := mr.Header.Subject(); err == nil {
		parsed.Subject = subject
	} else {
		parsed.Subject = mr.Header.Get("Subject")
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("read part: %w", err)
		}
		// 未知字符集时保留原始字节
		if part == nil {
			continue
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			if err := parsed.addInline(h, part.Body); err != nil {
				return nil, err
			}
		case *mail.AttachmentHeader:
			filename, err := h.Filename()
			if err != nil || filename == "" {
				filename = "unnamed"
			}
			contentType, _, _ := h.ContentType()
			if err := parsed.addAttachment(filename, contentType, part.Body); err != nil {
				return nil, err
			}
		}
	}

	return parsed, nil
}

// addInline 处理非附件部分：文本正文，或未声明 disposition 的二进制部分
func (p *ParsedEmail) addInline(h *mail.InlineHeader, body io.Reader) error {
	contentType, params, err := h.ContentType()
	if err != nil || contentType == "" {
		contentType = "text/plain"
	}

	switch {
	case strings.HasPrefix(contentType, "text/plain"):
		text, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("read text body: %w", err)
		}
		if p.Text == "" {
			p.Text = string(text)
		}
		return nil
	case strings.HasPrefix(contentType, "text/html"):
		html, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("read html body: %w", err)
		}
		if p.HTML == "" {
			p.HTML = string(html)
		}
		return nil
	}

	disposition, dispParams, _ := h.ContentDisposition()
	if disposition == "inline" {
		return nil
	}

	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}
	if filename == "" {
		filename = "unnamed"
	}
	return p.addAttachment(filename, contentType, body)
}

func (p *ParsedEmail) addAttachment(filename, contentType string, body io.Reader) error {
	content, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read attachment %q: %w", filename, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	p.Attachments = append(p.Attachments, &domain.Attachment{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(content)),
		Content:     content,
	})
	return nil
}

// Message 为指定收件人构建一封新邮件，每次调用生成新的 ID。
func (p *ParsedEmail) Message(to, envelopeFrom string) *domain.Message {
	from := p.From
	if from == "" {
		from = envelopeFrom
	}
	return &domain.Message{
		ID:          uuid.NewString(),
		From:        from,
		To:          to,
		Subject:     p.Subject,
		Text:        p.Text,
		HTML:        p.HTML,
		Attachments: p.Attachments,
		ReceivedAt:  time.Now().UTC(),
	}
}

// formatAddressList 将地址头格式化为 "Name <addr>, ..." 形式
func formatAddressList(h *mail.Header, key string) string {
	addrs, err := h.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return h.Get(key)
	}
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr.Name != "" {
			out = append(out, fmt.Sprintf("%s <%s>", addr.Name, addr.Address))
		} else {
			out = append(out, addr.Address)
		}
	}
	return strings.Join(out, ", ")
}
