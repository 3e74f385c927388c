package agent

import (
	"fmt"

	"github.com/wwwzy/IntervAgent/internal/tools"
)

// Role 标识一条 Turn 的来源。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn 为对话中的一条消息：用户消息、助手消息（可带工具调用）或工具结果。
type Turn struct {
	Role Role
	Text string
	// Calls 仅用于助手消息。
	Calls []tools.Call
	// Result 仅用于工具结果消息，Result.CallID 对应之前某条助手消息中的调用。
	Result *tools.Result
}

func UserMessage(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

func AssistantMessage(text string, calls []tools.Call) Turn {
	return Turn{Role: RoleAssistant, Text: text, Calls: calls}
}

func ToolResultMessage(res tools.Result) Turn {
	return Turn{Role: RoleTool, Result: &res}
}

// CallID 返回工具结果消息对应的调用 ID。
func (t Turn) CallID() string {
	if t.Result == nil {
		return ""
	}
	return t.Result.CallID
}

// Conversation 为有序的对话记录。系统提示词不属于对话，由网关在发送时添加。
type Conversation struct {
	Turns []Turn
}

func (c *Conversation) Append(turns ...Turn) {
	c.Turns = append(c.Turns, turns...)
}

func (c Conversation) Len() int { return len(c.Turns) }

// Clone 返回浅拷贝，追加新消息不会影响原对话。
func (c Conversation) Clone() Conversation {
	out := Conversation{Turns: make([]Turn, len(c.Turns))}
	copy(out.Turns, c.Turns)
	return out
}

// Trim 只保留最近 maxExchanges 轮用户交互。切分点总是某条用户消息，
// 因此工具调用与结果不会被拆开。maxExchanges<=0 时不裁剪。
func (c *Conversation) Trim(maxExchanges int) {
	if maxExchanges <= 0 {
		return
	}
	seen := 0
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role != RoleUser {
			continue
		}
		seen++
		if seen == maxExchanges {
			if i > 0 {
				c.Turns = append([]Turn(nil), c.Turns[i:]...)
			}
			return
		}
	}
}

// Validate 检查调用与结果的配对：每个结果都有之前的请求与之对应，
// 每个请求在下一条非工具消息之前都得到且只得到一个结果，同一条助手消息内 ID 不重复。
func (c Conversation) Validate() error {
	pending := map[string]bool{}
	for i, t := range c.Turns {
		switch t.Role {
		case RoleTool:
			id := t.CallID()
			answered, ok := pending[id]
			if !ok {
				return fmt.Errorf("turn %d: tool result %q has no matching request", i, id)
			}
			if answered {
				return fmt.Errorf("turn %d: duplicate tool result for %q", i, id)
			}
			pending[id] = true
		default:
			for id, answered := range pending {
				if !answered {
					return fmt.Errorf("turn %d: tool call %q was not answered", i, id)
				}
			}
			pending = map[string]bool{}
			for _, call := range t.Calls {
				if _, dup := pending[call.ID]; dup || call.ID == "" {
					return fmt.Errorf("turn %d: invalid or duplicate call id %q", i, call.ID)
				}
				pending[call.ID] = false
			}
		}
	}
	return nil
}
