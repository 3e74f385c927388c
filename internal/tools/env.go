package tools

import (
	"context"

	"github.com/wwwzy/IntervAgent/internal/injection"
	"github.com/wwwzy/IntervAgent/internal/mail"
	"github.com/wwwzy/IntervAgent/internal/storage"
)

// ReportMailer 发送报告邮件。
type ReportMailer interface {
	SendReport(ctx context.Context, to, subject, content string) error
}

// AttachmentFetcher 从邮箱拉取附件到本地。
type AttachmentFetcher interface {
	FetchAttachments(ctx context.Context, opts mail.FetchOptions) ([]mail.Attachment, error)
}

// DocumentReader 把本地文件读成纯文本。
type DocumentReader interface {
	ReadText(path string) (string, error)
}

// Env 为处理函数可用的协作者。未配置的协作者为 nil，对应工具返回执行错误。
type Env struct {
	Store    *storage.Storage
	Mailer   ReportMailer
	Mailbox  AttachmentFetcher
	Reader   DocumentReader
	Detector *injection.Detector
	// DownloadDir 为附件保存目录，也是建索引的默认目录。
	DownloadDir string
}
