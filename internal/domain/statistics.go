package domain

// Stats 目录统计信息
type Stats struct {
	TotalEmailsCreated    int64 `json:"totalEmailsCreated"`
	TotalMessagesReceived int64 `json:"totalMessagesReceived"`
	ActiveEmails          int   `json:"activeEmails"`
	ActiveConnections     int   `json:"activeConnections"`
}
