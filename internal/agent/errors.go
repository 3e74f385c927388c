package agent

import (
	"errors"
	"fmt"
)

// TerminalKind 为结束一次交互的错误类别。
type TerminalKind string

const (
	KindModelUnavailable      TerminalKind = "ModelUnavailable"
	KindMaxIterationsExceeded TerminalKind = "MaxIterationsExceeded"
	KindCancelled             TerminalKind = "Cancelled"
)

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrMaxIterations    = errors.New("max iterations exceeded")
	ErrCancelled        = errors.New("cancelled")
)

// TerminalError 为编排循环的终止错误。errors.Is 可与对应的哨兵错误匹配。
type TerminalError struct {
	Kind   TerminalKind
	Rounds int
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s after %d round(s)", e.Kind, e.Rounds)
	}
	return fmt.Sprintf("%s after %d round(s): %v", e.Kind, e.Rounds, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

func (e *TerminalError) Is(target error) bool {
	switch target {
	case ErrModelUnavailable:
		return e.Kind == KindModelUnavailable
	case ErrMaxIterations:
		return e.Kind == KindMaxIterationsExceeded
	case ErrCancelled:
		return e.Kind == KindCancelled
	}
	return false
}

// Label 返回给用户看的中文说明。
func (e *TerminalError) Label() string {
	switch e.Kind {
	case KindModelUnavailable:
		return "模型服务暂时不可用，请稍后重试"
	case KindMaxIterationsExceeded:
		return fmt.Sprintf("已达到单次对话的最大推理轮数（%d 轮），任务未完成", e.Rounds)
	case KindCancelled:
		return "已取消"
	}
	return string(e.Kind)
}
