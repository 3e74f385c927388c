package storage

import "time"

// Interviewee 表示一名面试者。
type Interviewee struct {
	// ID 为自增主键，Agent 通过姓名查找得到它后再调用分析、报告等工具。
	ID uint64 `gorm:"primaryKey"`
	// Name 支持模糊匹配（LIKE），同名面试者可以并存。
	Name  string `gorm:"size:128;not null;index"`
	Email string `gorm:"size:255"`
	Phone string `gorm:"size:64"`
	// RawInfo 为导入时的原始信息文本，InfoHash 用于导入去重。
	RawInfo   string    `gorm:"type:text;not null"`
	InfoHash  string    `gorm:"size:64;not null;index"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

func (Interviewee) TableName() string { return "interviewee" }

// Question 为题库中的一道题。
type Question struct {
	ID uint64 `gorm:"primaryKey"`
	// Type 为题目类型（例如 Go 基础、数据库、系统设计），Difficulty 为 简单/中等/困难。
	Type       string `gorm:"column:q_type;size:64;not null;index:idx_q_type_diff,priority:1"`
	Difficulty string `gorm:"size:16;not null;index:idx_q_type_diff,priority:2"`
	Content    string `gorm:"type:text;not null"`
	Answer     string `gorm:"type:text;not null"`
}

func (Question) TableName() string { return "question_bank" }

// AnswerSnapshot 记录答题时刻的题目快照，题库后续修改不影响历史记录。
type AnswerSnapshot struct {
	Type       string `json:"type"`
	Difficulty string `json:"difficulty"`
	Content    string `json:"content"`
	Remark     string `json:"remark,omitempty"`
}

// InterviewRecord 为一次答题打分记录。
type InterviewRecord struct {
	ID            uint64 `gorm:"primaryKey"`
	IntervieweeID uint64 `gorm:"not null;index"`
	QuestionID    uint64 `gorm:"not null"`
	Score         int    `gorm:"not null"`
	// Snapshot 以 JSON 序列化存储在 answer_snapshot 列。
	Snapshot AnswerSnapshot `gorm:"column:answer_snapshot;serializer:json;type:text;not null"`
	// Month 形如 2024-05，便于按月统计。
	Month     string    `gorm:"size:7;not null;index"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}

func (InterviewRecord) TableName() string { return "interview_record" }

// RegistrationDocument 为报名资料索引中的一份文档（通常来自邮件附件）。
//
// 文档正文属于外部不可信文本，入库时即做注入风险评估，检索结果会带上 RiskLevel，
// 但文档本身不会因为风险高而被丢弃。
type RegistrationDocument struct {
	ID uint64 `gorm:"primaryKey"`
	// Path 为本地文件路径，唯一；重复建索引时按 Path 覆盖。
	Path     string `gorm:"size:1024;not null;uniqueIndex"`
	FileName string `gorm:"size:255;not null;index"`
	// Sender/Subject 为来源邮件信息（可选）。
	Sender  string `gorm:"size:255"`
	Subject string `gorm:"size:512"`
	Content string `gorm:"type:text"`
	// RiskLevel 为 LOW/MEDIUM/HIGH，Indicators 为命中的规则名（逗号分隔）。
	RiskLevel  string    `gorm:"size:16;not null;index"`
	Indicators string    `gorm:"type:text"`
	IndexedAt  time.Time `gorm:"not null;index"`
}

// AuditRecord 记录一次工具调用及其结果，用于审计与追溯。
//
// 一条审计记录对应 Agent 的一次工具调用。入参和结果统一以截断后的 JSON 字符串存放。
type AuditRecord struct {
	ID uint64 `gorm:"primaryKey"`
	// TraceID 串联同一条用户消息触发的所有工具调用。
	TraceID string `gorm:"size:64;index"`
	// CallID 为模型给出（或编排器补全）的 call id。
	CallID string `gorm:"size:128"`
	// Action 为工具名，例如 analyze_interviewees。
	Action     string `gorm:"size:128;not null;index"`
	ParamsJSON string `gorm:"type:text"`
	ResultJSON string `gorm:"type:text"`
	// Status 为 running/success/failed。
	Status string `gorm:"size:32;not null;index"`
	// ErrorKind 为失败分类（ToolNotFound/InvalidArguments/ToolExecutionError）。
	ErrorKind    string `gorm:"size:32"`
	ErrorMessage string `gorm:"type:text"`
	// RiskLevel 仅对读取外部文本的工具有值。
	RiskLevel  string    `gorm:"size:16;index"`
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time `gorm:"index"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime;index"`
}
