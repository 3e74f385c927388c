package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultLimit = 200
	maxLimit     = 5000
)

// -----------------------------------------------------------------------------
// Interviewee
// -----------------------------------------------------------------------------

func (s *Storage) CreateInterviewee(ctx context.Context, iv *Interviewee) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if iv == nil {
		return errors.New("interviewee is nil")
	}
	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(iv).Error; err != nil {
		return fmt.Errorf("insert interviewee: %w", err)
	}
	return nil
}

// FindIntervieweesByName 按姓名子串匹配面试者；name 为空时返回全部（受 limit 约束）。
func (s *Storage) FindIntervieweesByName(ctx context.Context, name string, limit int) ([]Interviewee, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	db := s.db.WithContext(ctx).Model(&Interviewee{})
	if name = strings.TrimSpace(name); name != "" {
		db = db.Where(`name LIKE ? ESCAPE '\'`, "%"+escapeLike(name)+"%")
	}

	var out []Interviewee
	if err := db.Order("id ASC").Limit(normalizeLimit(limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query interviewees: %w", err)
	}
	return out, nil
}

func (s *Storage) GetInterviewee(ctx context.Context, id uint64) (*Interviewee, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var iv Interviewee
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&iv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gormNotFoundError("interviewee", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get interviewee: %w", err)
	}
	return &iv, nil
}

func (s *Storage) CountInterviewees(ctx context.Context) (int64, error) {
	return s.count(ctx, &Interviewee{}, "interviewees")
}

// -----------------------------------------------------------------------------
// Question bank
// -----------------------------------------------------------------------------

func (s *Storage) CreateQuestions(ctx context.Context, qs []Question) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if len(qs) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(qs, 200).Error; err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}
	return nil
}

// GroupCount 为分组计数结果。
type GroupCount struct {
	Key   string `json:"key" gorm:"column:group_key"`
	Count int64  `json:"count" gorm:"column:group_count"`
}

// QuestionStats 为题库分布统计。
type QuestionStats struct {
	Total        int64        `json:"total"`
	ByType       []GroupCount `json:"by_type"`
	ByDifficulty []GroupCount `json:"by_difficulty"`
}

func (s *Storage) QuestionStatistics(ctx context.Context) (QuestionStats, error) {
	var out QuestionStats
	if s == nil || s.db == nil {
		return out, errors.New("storage not initialized")
	}

	total, err := s.count(ctx, &Question{}, "questions")
	if err != nil {
		return out, err
	}
	out.Total = total

	if out.ByType, err = s.groupQuestions(ctx, "q_type"); err != nil {
		return out, err
	}
	if out.ByDifficulty, err = s.groupQuestions(ctx, "difficulty"); err != nil {
		return out, err
	}
	return out, nil
}

func (s *Storage) groupQuestions(ctx context.Context, column string) ([]GroupCount, error) {
	var rows []GroupCount
	err := s.db.WithContext(ctx).Model(&Question{}).
		Select(column + " AS group_key, COUNT(*) AS group_count").
		Group(column).
		Order("group_count DESC, group_key ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("group questions by %s: %w", column, err)
	}
	return rows, nil
}

// QuestionsByType 返回指定类型的题目，按 id 升序，保证结果稳定。
func (s *Storage) QuestionsByType(ctx context.Context, qType string, limit int) ([]Question, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var out []Question
	err := s.db.WithContext(ctx).
		Where("q_type = ?", qType).
		Order("id ASC").
		Limit(normalizeLimit(limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query questions by type: %w", err)
	}
	return out, nil
}

// FirstQuestions 返回题库中 id 最小的 limit 道题。
func (s *Storage) FirstQuestions(ctx context.Context, limit int) ([]Question, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var out []Question
	if err := s.db.WithContext(ctx).Order("id ASC").Limit(normalizeLimit(limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	return out, nil
}

func (s *Storage) CountQuestions(ctx context.Context) (int64, error) {
	return s.count(ctx, &Question{}, "questions")
}

// -----------------------------------------------------------------------------
// Interview records
// -----------------------------------------------------------------------------

func (s *Storage) InsertInterviewRecord(ctx context.Context, rec *InterviewRecord) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if rec == nil {
		return errors.New("interview record is nil")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Month == "" {
		rec.Month = rec.CreatedAt.Format("2006-01")
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert interview record: %w", err)
	}
	return nil
}

// RecordsByInterviewee 按答题时间顺序返回某个面试者的全部记录。
func (s *Storage) RecordsByInterviewee(ctx context.Context, intervieweeID uint64) ([]InterviewRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var out []InterviewRecord
	err := s.db.WithContext(ctx).
		Where("interviewee_id = ?", intervieweeID).
		Order("created_at ASC, id ASC").
		Limit(maxLimit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query interview records: %w", err)
	}
	return out, nil
}

func (s *Storage) CountInterviewRecords(ctx context.Context) (int64, error) {
	return s.count(ctx, &InterviewRecord{}, "interview records")
}

// -----------------------------------------------------------------------------
// Registration index
// -----------------------------------------------------------------------------

// UpsertRegistrationDocument 按 Path 插入或覆盖一份报名资料，返回后 doc.ID 为库中的 ID。
func (s *Storage) UpsertRegistrationDocument(ctx context.Context, doc *RegistrationDocument) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if doc == nil {
		return errors.New("registration document is nil")
	}
	if doc.Path == "" {
		return errors.New("registration document path is required")
	}
	if doc.IndexedAt.IsZero() {
		doc.IndexedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"file_name", "sender", "subject", "content", "risk_level", "indicators", "indexed_at"}),
	}).Create(doc).Error
	if err != nil {
		return fmt.Errorf("upsert registration document: %w", err)
	}

	// 冲突更新时 SQLite 不一定回填自增 ID，这里按 Path 重新读取一次。
	stored, err := s.GetRegistrationDocumentByPath(ctx, doc.Path)
	if err != nil {
		return err
	}
	doc.ID = stored.ID
	return nil
}

func (s *Storage) GetRegistrationDocument(ctx context.Context, id uint64) (*RegistrationDocument, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var doc RegistrationDocument
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gormNotFoundError("registration document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get registration document: %w", err)
	}
	return &doc, nil
}

func (s *Storage) GetRegistrationDocumentByPath(ctx context.Context, path string) (*RegistrationDocument, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var doc RegistrationDocument
	err := s.db.WithContext(ctx).Where("path = ?", path).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError{Entity: "registration document", Key: path}
	}
	if err != nil {
		return nil, fmt.Errorf("get registration document: %w", err)
	}
	return &doc, nil
}

// DocumentQuery 为报名资料检索条件。
type DocumentQuery struct {
	// Terms 中任一关键词出现在 文件名/主题/正文 中即命中（OR 语义）；为空时返回最近索引的文档。
	Terms []string
	// RiskLevel 精确匹配风险等级（可选）。
	RiskLevel string
	// Limit 限制返回条数；<=0 使用默认值。
	Limit int
}

func (s *Storage) SearchRegistrationDocuments(ctx context.Context, q DocumentQuery) ([]RegistrationDocument, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	db := s.db.WithContext(ctx).Model(&RegistrationDocument{})
	var conds []string
	var args []interface{}
	for _, term := range q.Terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		like := "%" + escapeLike(term) + "%"
		conds = append(conds, `(file_name LIKE ? ESCAPE '\' OR subject LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	if len(conds) > 0 {
		db = db.Where(strings.Join(conds, " OR "), args...)
	}
	if q.RiskLevel != "" {
		db = db.Where("risk_level = ?", q.RiskLevel)
	}

	var out []RegistrationDocument
	if err := db.Order("indexed_at DESC, id DESC").Limit(normalizeLimit(q.Limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("search registration documents: %w", err)
	}
	return out, nil
}

func (s *Storage) CountRegistrationDocuments(ctx context.Context) (int64, error) {
	return s.count(ctx, &RegistrationDocument{}, "registration documents")
}

// -----------------------------------------------------------------------------
// Audit
// -----------------------------------------------------------------------------

// AuditQuery 用于查询审计记录的过滤条件，零值字段不参与过滤。
type AuditQuery struct {
	// TraceID 精确匹配链路 ID。
	TraceID string
	// Action 精确匹配工具名。
	Action string
	// Status 精确匹配执行状态（running/success/failed）。
	Status string
	// From/To 过滤 CreatedAt 区间：[From, To]（两端包含）。
	From *time.Time
	To   *time.Time
	// Limit 限制返回条数；<=0 使用默认值。
	Limit int
	// Desc 按 CreatedAt 倒序返回（优先返回最新记录）。
	Desc bool
}

func (s *Storage) InsertAuditRecord(ctx context.Context, rec *AuditRecord) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if rec == nil {
		return errors.New("audit record is nil")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *Storage) QueryAuditRecords(ctx context.Context, q AuditQuery) ([]AuditRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	db := s.db.WithContext(ctx).Model(&AuditRecord{})
	if q.TraceID != "" {
		db = db.Where("trace_id = ?", q.TraceID)
	}
	if q.Action != "" {
		db = db.Where("action = ?", q.Action)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.From != nil {
		db = db.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("created_at <= ?", *q.To)
	}
	if q.Desc {
		db = db.Order("created_at DESC, id DESC")
	} else {
		db = db.Order("created_at ASC, id ASC")
	}

	var out []AuditRecord
	if err := db.Limit(normalizeLimit(q.Limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	return out, nil
}

type AuditUpdate struct {
	Status       *string
	ResultJSON   *string
	ErrorKind    *string
	ErrorMessage *string
	RiskLevel    *string
	FinishedAt   *time.Time
}

func (s *Storage) UpdateAuditRecord(ctx context.Context, id uint64, up AuditUpdate) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}

	updates := make(map[string]interface{})
	if up.Status != nil {
		updates["status"] = *up.Status
	}
	if up.ResultJSON != nil {
		updates["result_json"] = *up.ResultJSON
	}
	if up.ErrorKind != nil {
		updates["error_kind"] = *up.ErrorKind
	}
	if up.ErrorMessage != nil {
		updates["error_message"] = *up.ErrorMessage
	}
	if up.RiskLevel != nil {
		updates["risk_level"] = *up.RiskLevel
	}
	if up.FinishedAt != nil {
		updates["finished_at"] = *up.FinishedAt
	}

	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&AuditRecord{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update audit record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gormNotFoundError("audit record", id)
	}
	return nil
}

func (s *Storage) CountAuditRecords(ctx context.Context) (int64, error) {
	return s.count(ctx, &AuditRecord{}, "audit records")
}

// DeleteAuditRecordsKeepLatest 只保留 id 最大的 keep 条审计记录。
func (s *Storage) DeleteAuditRecordsKeepLatest(ctx context.Context, keep int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	if keep <= 0 {
		return 0, errors.New("keep must be positive")
	}

	var ids []uint64
	err := s.db.WithContext(ctx).Model(&AuditRecord{}).
		Select("id").
		Order("id DESC").
		Offset(keep - 1).
		Limit(1).
		Find(&ids).Error
	if err != nil {
		return 0, fmt.Errorf("select audit boundary: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("id < ?", ids[0]).Delete(&AuditRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete audit records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) DeleteAuditRecordsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&AuditRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete audit records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func (s *Storage) count(ctx context.Context, model interface{}, what string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", what, err)
	}
	return n, nil
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type notFoundError struct {
	Entity string
	Key    interface{}
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Entity, e.Key)
}

func gormNotFoundError(entity string, id uint64) error {
	return notFoundError{Entity: entity, Key: id}
}

// IsNotFound 判断错误是否为记录不存在。
func IsNotFound(err error) bool {
	var nf notFoundError
	return errors.As(err, &nf)
}
