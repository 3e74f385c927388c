package tools

import "context"

type traceIDKey struct{}

// WithTraceID 将 TraceID 注入 context，审计记录据此串联同一条用户消息的所有调用。
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GetTraceID 从 context 获取 TraceID
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}
