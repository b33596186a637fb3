package domain

import "time"

// Message 表示一封已被网关接收并解析的邮件。
//
// 邮件只在投递过程中短暂存在，不做任何持久化。
type Message struct {
	ID          string        `json:"id"`
	From        string        `json:"from"`
	To          string        `json:"to"`
	Subject     string        `json:"subject"`
	Text        string        `json:"text"`
	HTML        string        `json:"html"`
	Attachments []*Attachment `json:"attachments"`
	ReceivedAt  time.Time     `json:"receivedAt"`
}
