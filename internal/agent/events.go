package agent

import (
	"encoding/json"
	"time"

	"github.com/wwwzy/IntervAgent/internal/tools"
)

type EventKind string

const (
	EventRoundStarted  EventKind = "round_started"
	EventToolInvoked   EventKind = "tool_invoked"
	EventToolCompleted EventKind = "tool_completed"
	EventModelRetry    EventKind = "model_retry"
	EventTerminated    EventKind = "terminated"
)

// Event 为编排过程中的进度事件，供对话界面展示。
type Event struct {
	Kind    EventKind
	TraceID string
	Round   int

	// ToolInvoked / ToolCompleted
	Call   *tools.Call
	Result *tools.Result

	// ModelRetry
	Attempt int
	Delay   time.Duration
	Err     error

	// Terminated：Terminal 为 nil 表示得到了最终回答
	Terminal *TerminalError
}

// Observer 接收进度事件。回调在编排 goroutine 上同步执行，不应阻塞。
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// ArgsPreview 返回调用参数的紧凑文本形式。
func ArgsPreview(call tools.Call, limit int) string {
	s := string(call.Arguments)
	var v any
	if json.Unmarshal(call.Arguments, &v) == nil {
		if b, err := json.Marshal(v); err == nil {
			s = string(b)
		}
	}
	r := []rune(s)
	if limit > 0 && len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}
