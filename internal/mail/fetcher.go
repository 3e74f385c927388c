package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	msgmail "github.com/emersion/go-message/mail"
	"github.com/rs/zerolog/log"
)

// IMAPConfig 为拉取报名邮件所需的 IMAP 参数（仅支持 TLS 连接）。
type IMAPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Folder   string
	Timeout  time.Duration
}

// FetchOptions 控制一次拉取的范围。
type FetchOptions struct {
	// Folder 为空时使用配置中的默认文件夹。
	Folder string
	// UnseenOnly 只拉取未读邮件。
	UnseenOnly bool
	// Limit 为最多处理的邮件数（取最新的），<=0 表示 20。
	Limit int
	// DestDir 为附件保存目录。
	DestDir string
}

// Attachment 为已保存到本地的一个附件。
type Attachment struct {
	Path     string    `json:"path"`
	FileName string    `json:"file_name"`
	Sender   string    `json:"sender"`
	Subject  string    `json:"subject"`
	Date     time.Time `json:"date"`
	Size     int64     `json:"size"`
}

// IMAPFetcher 从邮箱拉取附件。
type IMAPFetcher struct {
	cfg IMAPConfig
}

func NewIMAPFetcher(cfg IMAPConfig) *IMAPFetcher {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &IMAPFetcher{cfg: cfg}
}

func (f *IMAPFetcher) FetchAttachments(ctx context.Context, opts FetchOptions) ([]Attachment, error) {
	if f.cfg.Host == "" || f.cfg.User == "" || f.cfg.Password == "" {
		return nil, errors.New("mailbox is not configured (mailbox.host/mailbox.user/mailbox.password)")
	}
	if opts.DestDir == "" {
		return nil, errors.New("destination directory is required")
	}
	if err := os.MkdirAll(opts.DestDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	folder := opts.Folder
	if folder == "" {
		folder = f.cfg.Folder
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	c, err := client.DialTLS(fmt.Sprintf("%s:%d", f.cfg.Host, f.cfg.Port), nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap: %w", err)
	}
	c.Timeout = f.cfg.Timeout

	// go-imap v1 不接受 context，取消时直接断开连接让阻塞调用返回。
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Terminate()
		case <-stop:
		}
	}()
	defer func() { _ = c.Logout() }()

	if err := c.Login(f.cfg.User, f.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(folder, false); err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	criteria := imap.NewSearchCriteria()
	if opts.UnseenOnly {
		criteria.WithoutFlags = []string{imap.SeenFlag}
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var out []Attachment
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		saved, err := saveAttachments(body, msg, opts.DestDir)
		if err != nil {
			log.Warn().Err(err).Uint32("uid", msg.Uid).Msg("skip message with unreadable attachments")
			continue
		}
		out = append(out, saved...)
	}
	if err := <-done; err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, fmt.Errorf("imap fetch: %w", err)
	}
	return out, nil
}

func saveAttachments(body io.Reader, msg *imap.Message, destDir string) ([]Attachment, error) {
	mr, err := msgmail.CreateReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	var sender, subject string
	var date time.Time
	if env := msg.Envelope; env != nil {
		subject = env.Subject
		date = env.Date
		if len(env.From) > 0 && env.From[0] != nil {
			sender = env.From[0].Address()
		}
	}

	var out []Attachment
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read part: %w", err)
		}
		h, ok := p.Header.(*msgmail.AttachmentHeader)
		if !ok {
			continue
		}
		name, _ := h.Filename()
		name = SanitizeFileName(name)
		if name == "" {
			continue
		}

		path := filepath.Join(destDir, fmt.Sprintf("%d_%s", msg.Uid, name))
		size, err := writeFile(path, p.Body)
		if err != nil {
			return out, err
		}
		out = append(out, Attachment{
			Path:     path,
			FileName: name,
			Sender:   sender,
			Subject:  subject,
			Date:     date,
			Size:     size,
		})
	}
	return out, nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create attachment file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write attachment file: %w", err)
	}
	return n, nil
}

var unsafeFileChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)

// SanitizeFileName 去掉附件名中的路径成分与非法字符。
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	name = unsafeFileChars.ReplaceAllString(name, "_")
	return strings.TrimLeft(name, ".")
}
