package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wwwzy/IntervAgent/internal/agent"
	"github.com/wwwzy/IntervAgent/internal/injection"
	"github.com/wwwzy/IntervAgent/internal/tools"
)

// ChatBackend 处理一条用户消息，通常是 *agent.Orchestrator。
type ChatBackend interface {
	HandleUserMessage(ctx context.Context, history agent.Conversation, text string) (*agent.Exchange, error)
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error
}

type ChatOptions struct {
	// HistoryExchanges 为保留的最近用户轮数，<=0 表示不裁剪。
	HistoryExchanges int
	// Events 为编排器进度事件的转发器，可为 nil。
	Events *Relay
}

// Relay 实现 agent.Observer，把事件转发给当前挂载的界面。
type Relay struct {
	mu sync.RWMutex
	fn func(agent.Event)
}

func (r *Relay) OnEvent(e agent.Event) {
	r.mu.RLock()
	fn := r.fn
	r.mu.RUnlock()
	if fn != nil {
		fn(e)
	}
}

// Attach 设置事件接收函数，fn 为 nil 时停止转发。
func (r *Relay) Attach(fn func(agent.Event)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
}

// NextHistory 返回下一轮使用的历史：终止时保留部分对话，并按 keep 裁剪。
func NextHistory(prev agent.Conversation, ex *agent.Exchange, keep int) agent.Conversation {
	next := prev
	if ex != nil {
		next = ex.Conversation
	}
	next.Trim(keep)
	return next
}

// DescribeOutcome 把一次交互的结果转成展示给用户的文本。
func DescribeOutcome(ex *agent.Exchange, err error) string {
	if err == nil {
		if ex == nil || strings.TrimSpace(ex.Answer) == "" {
			return "(无文本输出)"
		}
		return strings.TrimSpace(ex.Answer)
	}
	var terr *agent.TerminalError
	if errors.As(err, &terr) {
		switch terr.Kind {
		case agent.KindMaxIterationsExceeded:
			return terr.Label() + "，请把问题拆小后重试。"
		case agent.KindCancelled:
			return terr.Label() + "。"
		default:
			return fmt.Sprintf("%s（%v）", terr.Label(), terr.Err)
		}
	}
	return fmt.Sprintf("发生错误：%v", err)
}

// RiskBadge 返回风险标注的简短展示，LOW 或无标注时为空。
func RiskBadge(res *tools.Result) string {
	if res == nil || res.Risk == nil || res.Risk.Level < injection.LevelMedium {
		return ""
	}
	badge := fmt.Sprintf("[注入风险 %s]", res.Risk.Level)
	if len(res.Risk.Indicators) > 0 {
		badge += " " + strings.Join(res.Risk.Indicators, ",")
	}
	return badge
}

// DescribeEvent 返回一行进度描述；不需要展示的事件返回空字符串。
func DescribeEvent(e agent.Event) string {
	switch e.Kind {
	case agent.EventToolInvoked:
		if e.Call == nil {
			return ""
		}
		return fmt.Sprintf("→ %s %s", e.Call.Name, agent.ArgsPreview(*e.Call, 80))
	case agent.EventToolCompleted:
		if e.Call == nil || e.Result == nil {
			return ""
		}
		if !e.Result.OK() {
			return fmt.Sprintf("✗ %s %s: %s", e.Call.Name, e.Result.Failure.Kind, e.Result.Failure.Message)
		}
		line := "✓ " + e.Call.Name
		if badge := RiskBadge(e.Result); badge != "" {
			line += " " + badge
		}
		return line
	case agent.EventModelRetry:
		return fmt.Sprintf("… 模型调用失败（%v），%s 后第 %d 次重试", e.Err, e.Delay.Round(time.Millisecond), e.Attempt)
	}
	return ""
}
