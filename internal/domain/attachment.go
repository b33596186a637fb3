package domain

// Attachment 表示邮件附件。Content 在 JSON 中编码为 base64。
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Content     []byte `json:"content"`
}
