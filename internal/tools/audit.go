package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wwwzy/IntervAgent/internal/storage"
)

const auditTruncateLimit = 2048

// Auditor 记录工具调用。Begin 返回的 token 会原样传给 Finish。
type Auditor interface {
	Begin(ctx context.Context, call Call) (token uint64)
	Finish(ctx context.Context, token uint64, res Result)
}

// StoreAuditor 把审计记录写入 storage：先插入 running，结束后更新为 success/failed。
// 写入失败只记日志，不影响工具结果。
type StoreAuditor struct {
	store *storage.Storage
}

func NewStoreAuditor(store *storage.Storage) *StoreAuditor {
	return &StoreAuditor{store: store}
}

func (a *StoreAuditor) Begin(ctx context.Context, call Call) uint64 {
	record := &storage.AuditRecord{
		TraceID:    GetTraceID(ctx),
		CallID:     call.ID,
		Action:     call.Name,
		ParamsJSON: truncateAudit(string(call.Arguments), auditTruncateLimit),
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}
	if err := a.store.InsertAuditRecord(ctx, record); err != nil {
		log.Warn().Err(err).Str("tool", call.Name).Msg("insert audit record failed")
		return 0
	}
	return record.ID
}

func (a *StoreAuditor) Finish(ctx context.Context, token uint64, res Result) {
	// 只有插入成功拿到 ID 后才能更新
	if token == 0 {
		return
	}

	finishedAt := time.Now().UTC()
	status := "success"
	up := storage.AuditUpdate{Status: &status, FinishedAt: &finishedAt}
	if res.Failure != nil {
		status = "failed"
		kind := string(res.Failure.Kind)
		msg := truncateAudit(res.Failure.Message, auditTruncateLimit)
		up.ErrorKind = &kind
		up.ErrorMessage = &msg
	} else {
		var r string
		if data, err := json.Marshal(res.Payload); err == nil {
			r = truncateAudit(string(data), auditTruncateLimit)
		}
		up.ResultJSON = &r
	}
	if res.Risk != nil {
		level := res.Risk.Level.String()
		up.RiskLevel = &level
	}

	if err := a.store.UpdateAuditRecord(ctx, token, up); err != nil {
		log.Warn().Err(err).Uint64("audit_id", token).Msg("update audit record failed")
	}
}

func truncateAudit(s string, limit int) string {
	if cut, truncated := truncateRunes(s, limit); truncated {
		return cut + "...(truncated)"
	}
	return s
}
