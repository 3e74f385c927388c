package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/wwwzy/IntervAgent/internal/docs"
	"github.com/wwwzy/IntervAgent/internal/injection"
	"github.com/wwwzy/IntervAgent/internal/mail"
	"github.com/wwwzy/IntervAgent/internal/storage"
)

const (
	maxDocumentRunes = 8000
	snippetRadius    = 60
	defaultTopK      = 5
	defaultFetchMax  = 20
)

var (
	errNoMailbox = errors.New("imap is not configured")
	errNoReader  = errors.New("document reader is not configured")
)

func detector(env *Env) *injection.Detector {
	if env.Detector == nil {
		env.Detector = injection.NewDetector(nil)
	}
	return env.Detector
}

// indexFile 读取文件、做注入评估并写入报名资料索引。
func indexFile(ctx context.Context, env *Env, path, sender, subject string) (*storage.RegistrationDocument, error) {
	if env.Reader == nil {
		return nil, errNoReader
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	text, err := env.Reader.ReadText(abs)
	if err != nil {
		return nil, err
	}
	a := detector(env).Scan(strings.Join([]string{subject, text}, "\n"))
	doc := &storage.RegistrationDocument{
		Path:       abs,
		FileName:   filepath.Base(abs),
		Sender:     sender,
		Subject:    subject,
		Content:    text,
		RiskLevel:  a.Level.String(),
		Indicators: strings.Join(a.Indicators, ","),
		IndexedAt:  time.Now().UTC(),
	}
	if err := env.Store.UpsertRegistrationDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// FetchedAttachment 为拉取到的一个附件及其入库情况。
type FetchedAttachment struct {
	mail.Attachment
	DocumentID uint64 `json:"document_id,omitempty"`
	RiskLevel  string `json:"risk_level,omitempty"`
	Skipped    string `json:"skipped,omitempty"`
}

// FetchSummary 为 fetch_mailbox_attachments 的结果。
type FetchSummary struct {
	Fetched     int                 `json:"fetched"`
	Indexed     int                 `json:"indexed"`
	Attachments []FetchedAttachment `json:"attachments"`
}

// ExternalText 返回来自邮件的文本（发件人、主题与文件名）。
func (s FetchSummary) ExternalText() string {
	var b strings.Builder
	for _, a := range s.Attachments {
		fmt.Fprintf(&b, "%s\n%s\n%s\n", a.Sender, a.Subject, a.FileName)
	}
	return b.String()
}

func fetchMailboxAttachments(ctx context.Context, env *Env, raw json.RawMessage) (any, error) {
	var args struct {
		Folder     string `json:"folder"`
		UnseenOnly *bool  `json:"unseen_only"`
		Limit      int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	unseen := true
	if args.UnseenOnly != nil {
		unseen = *args.UnseenOnly
	}
	if args.Limit == 0 {
		args.Limit = defaultFetchMax
	}

	return FetchAndIndex(ctx, env, mail.FetchOptions{
		Folder:     args.Folder,
		UnseenOnly: unseen,
		Limit:      args.Limit,
		DestDir:    env.DownloadDir,
	})
}

// FetchAndIndex 从邮箱拉取附件并把可读的附件写入报名资料索引。
func FetchAndIndex(ctx context.Context, env *Env, opts mail.FetchOptions) (FetchSummary, error) {
	out := FetchSummary{Attachments: []FetchedAttachment{}}
	if _, err := requireStore(env); err != nil {
		return out, err
	}
	if env.Mailbox == nil {
		return out, errNoMailbox
	}
	atts, err := env.Mailbox.FetchAttachments(ctx, opts)
	if err != nil {
		return out, err
	}

	out.Fetched = len(atts)
	for _, a := range atts {
		item := FetchedAttachment{Attachment: a}
		if !docs.Supported(a.Path) {
			item.Skipped = "不支持的文件类型"
			out.Attachments = append(out.Attachments, item)
			continue
		}
		doc, err := indexFile(ctx, env, a.Path, a.Sender, a.Subject)
		if err != nil {
			item.Skipped = err.Error()
		} else {
			item.DocumentID = doc.ID
			item.RiskLevel = doc.RiskLevel
			out.Indexed++
		}
		out.Attachments = append(out.Attachments, item)
	}
	return out, nil
}

// IndexSummary 为 build_registration_index 的结果。
type IndexSummary struct {
	Directory string         `json:"directory"`
	Indexed   int            `json:"indexed"`
	Skipped   int            `json:"skipped"`
	Failed    []string       `json:"failed,omitempty"`
	ByRisk    map[string]int `json:"by_risk"`
}

// BuildIndex 扫描目录下所有可读文件并写入索引。已存在的文档保留其来源邮件信息。
func BuildIndex(ctx context.Context, env *Env, dir string) (IndexSummary, error) {
	out := IndexSummary{Directory: dir, ByRisk: map[string]int{}}
	if _, err := requireStore(env); err != nil {
		return out, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return out, fmt.Errorf("%w: directory %s: %v", ErrInvalidArguments, dir, err)
	}
	if !info.IsDir() {
		return out, fmt.Errorf("%w: %s is not a directory", ErrInvalidArguments, dir)
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			out.Failed = append(out.Failed, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		if !docs.Supported(path) {
			out.Skipped++
			return nil
		}

		var sender, subject string
		if abs, err := filepath.Abs(path); err == nil {
			if prev, err := env.Store.GetRegistrationDocumentByPath(ctx, abs); err == nil {
				sender, subject = prev.Sender, prev.Subject
			}
		}
		doc, err := indexFile(ctx, env, path, sender, subject)
		if err != nil {
			out.Failed = append(out.Failed, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			return nil
		}
		out.Indexed++
		out.ByRisk[doc.RiskLevel]++
		return nil
	})
	return out, err
}

func buildRegistrationIndex(ctx context.Context, env *Env, raw json.RawMessage) (any, error) {
	var args struct {
		Directory string `json:"directory"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	dir := strings.TrimSpace(args.Directory)
	if dir == "" {
		dir = env.DownloadDir
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: directory is required when no download directory is configured", ErrInvalidArguments)
	}
	return BuildIndex(ctx, env, dir)
}

// DocumentText 为 read_registration_document 的结果，Content 为不可信的外部文本。
type DocumentText struct {
	ID        uint64    `json:"id"`
	Path      string    `json:"path"`
	FileName  string    `json:"file_name"`
	Sender    string    `json:"sender,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Content   string    `json:"content"`
	Truncated bool      `json:"truncated,omitempty"`
	IndexedAt time.Time `json:"indexed_at"`
}

func (d DocumentText) ExternalText() string {
	return strings.Join([]string{d.Sender, d.Subject, d.Content}, "\n")
}

func readRegistrationDocument(ctx context.Context, env *Env, raw json.RawMessage) (any, error) {
	var args struct {
		DocumentID uint64 `json:"document_id"`
		Path       string `json:"path"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	store, err := requireStore(env)
	if err != nil {
		return nil, err
	}

	var doc *storage.RegistrationDocument
	switch {
	case args.DocumentID != 0:
		doc, err = store.GetRegistrationDocument(ctx, args.DocumentID)
	case strings.TrimSpace(args.Path) != "":
		path := args.Path
		if abs, absErr := filepath.Abs(path); absErr == nil {
			path = abs
		}
		doc, err = store.GetRegistrationDocumentByPath(ctx, path)
	default:
		return nil, fmt.Errorf("%w: one of document_id or path is required", ErrInvalidArguments)
	}
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("文档不在索引中，请先调用 build_registration_index: %w", err)
		}
		return nil, err
	}

	content, truncated := truncateRunes(doc.Content, maxDocumentRunes)
	return DocumentText{
		ID:        doc.ID,
		Path:      doc.Path,
		FileName:  doc.FileName,
		Sender:    doc.Sender,
		Subject:   doc.Subject,
		Content:   content,
		Truncated: truncated,
		IndexedAt: doc.IndexedAt,
	}, nil
}

// DocumentHit 为检索命中的一份文档。
type DocumentHit struct {
	ID         uint64 `json:"id"`
	FileName   string `json:"file_name"`
	Path       string `json:"path"`
	Subject    string `json:"subject,omitempty"`
	Score      int    `json:"score"`
	Snippet    string `json:"snippet"`
	RiskLevel  string `json:"risk_level"`
	Indicators string `json:"indicators,omitempty"`
}

// QueryResult 为 query_registration_index 的结果。
type QueryResult struct {
	Query string        `json:"query"`
	Hits  []DocumentHit `json:"hits"`
}

func (q QueryResult) ExternalText() string {
	var b strings.Builder
	for _, h := range q.Hits {
		fmt.Fprintf(&b, "%s\n%s\n", h.Subject, h.Snippet)
	}
	return b.String()
}

// QueryIndex 按关键词命中次数对索引中的文档排序。
func QueryIndex(ctx context.Context, store *storage.Storage, query string, topK int) (QueryResult, error) {
	out := QueryResult{Query: query, Hits: []DocumentHit{}}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return out, fmt.Errorf("%w: query is empty", ErrInvalidArguments)
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	candidates, err := store.SearchRegistrationDocuments(ctx, storage.DocumentQuery{Terms: terms, Limit: 200})
	if err != nil {
		return out, err
	}
	for _, doc := range candidates {
		haystack := lowerRunes(doc.FileName + "\n" + doc.Subject + "\n" + doc.Content)
		score := 0
		for _, t := range terms {
			score += strings.Count(haystack, t)
		}
		if score == 0 {
			continue
		}
		out.Hits = append(out.Hits, DocumentHit{
			ID:         doc.ID,
			FileName:   doc.FileName,
			Path:       doc.Path,
			Subject:    doc.Subject,
			Score:      score,
			Snippet:    snippet(doc.Content, terms),
			RiskLevel:  doc.RiskLevel,
			Indicators: doc.Indicators,
		})
	}
	sort.SliceStable(out.Hits, func(i, j int) bool {
		if out.Hits[i].Score != out.Hits[j].Score {
			return out.Hits[i].Score > out.Hits[j].Score
		}
		return out.Hits[i].ID < out.Hits[j].ID
	})
	if len(out.Hits) > topK {
		out.Hits = out.Hits[:topK]
	}
	return out, nil
}

func queryRegistrationIndex(ctx context.Context, env *Env, raw json.RawMessage) (any, error) {
	var args struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	store, err := requireStore(env)
	if err != nil {
		return nil, err
	}
	return QueryIndex(ctx, store, args.Query, args.TopK)
}

// lowerRunes 逐字符转小写，保持 rune 数量不变，便于按下标截取原文。
func lowerRunes(s string) string {
	return strings.Map(unicode.ToLower, s)
}

// snippet 截取第一个命中词前后各 snippetRadius 个字符。
func snippet(content string, terms []string) string {
	runes := []rune(content)
	lower := []rune(lowerRunes(content))
	at := -1
	for _, t := range terms {
		if i := runeIndex(lower, []rune(t)); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}
	if at < 0 {
		s, _ := truncateRunes(content, 2*snippetRadius)
		return s
	}
	start := max(at-snippetRadius, 0)
	end := min(at+snippetRadius, len(runes))
	s := strings.Join(strings.Fields(string(runes[start:end])), " ")
	if start > 0 {
		s = "..." + s
	}
	if end < len(runes) {
		s += "..."
	}
	return s
}

func runeIndex(haystack, needle []rune) int {
	if len(needle) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

func truncateRunes(s string, n int) (string, bool) {
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[:n]), true
}
