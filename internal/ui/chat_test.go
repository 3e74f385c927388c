package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/IntervAgent/internal/agent"
	"github.com/wwwzy/IntervAgent/internal/injection"
	"github.com/wwwzy/IntervAgent/internal/tools"
)

type fakeBackend struct {
	relay    *Relay
	inputs   []string
	historys []int
}

func (b *fakeBackend) HandleUserMessage(_ context.Context, history agent.Conversation, text string) (*agent.Exchange, error) {
	b.inputs = append(b.inputs, text)
	b.historys = append(b.historys, history.Len())

	call := tools.Call{ID: "c1", Name: "read_registration_document"}
	res := tools.Result{CallID: "c1", Tool: call.Name, Payload: "x", Risk: &injection.Assessment{
		Level: injection.LevelHigh, Indicators: []string{"ignore_previous_instructions"},
	}}
	b.relay.OnEvent(agent.Event{Kind: agent.EventToolInvoked, Call: &call})
	b.relay.OnEvent(agent.Event{Kind: agent.EventToolCompleted, Call: &call, Result: &res})

	conv := history.Clone()
	conv.Append(agent.UserMessage(text), agent.AssistantMessage("回答:"+text, nil))
	if text == "boom" {
		return &agent.Exchange{Conversation: conv}, &agent.TerminalError{Kind: agent.KindModelUnavailable, Err: errors.New("connection refused")}
	}
	return &agent.Exchange{Conversation: conv, Answer: "回答:" + text, Rounds: 1}, nil
}

func TestConsoleChatUI_Run(t *testing.T) {
	relay := &Relay{}
	backend := &fakeBackend{relay: relay}
	var out bytes.Buffer
	u := &ConsoleChatUI{In: strings.NewReader("你好\n\n第二句\n/reset\nboom\nexit\n"), Out: &out}

	require.NoError(t, u.Run(context.Background(), backend, ChatOptions{HistoryExchanges: 1, Events: relay}))

	assert.Equal(t, []string{"你好", "第二句", "boom"}, backend.inputs)
	// 第二句只带上一轮的两条消息；/reset 之后历史为空
	assert.Equal(t, []int{0, 2, 0}, backend.historys)

	text := out.String()
	assert.Contains(t, text, "助手: 回答:你好")
	assert.Contains(t, text, "→ read_registration_document")
	assert.Contains(t, text, "[注入风险 HIGH] ignore_previous_instructions")
	assert.Contains(t, text, "模型服务暂时不可用")
	assert.Contains(t, text, "已退出。")
}

func TestConsoleChatUI_EOF(t *testing.T) {
	var out bytes.Buffer
	u := &ConsoleChatUI{In: strings.NewReader(""), Out: &out}
	require.NoError(t, u.Run(context.Background(), &fakeBackend{relay: &Relay{}}, ChatOptions{}))
	assert.Contains(t, out.String(), "已退出。")
}

func TestDescribeOutcome(t *testing.T) {
	assert.Equal(t, "好的", DescribeOutcome(&agent.Exchange{Answer: " 好的 "}, nil))
	assert.Equal(t, "(无文本输出)", DescribeOutcome(&agent.Exchange{}, nil))
	assert.Contains(t, DescribeOutcome(nil, &agent.TerminalError{Kind: agent.KindMaxIterationsExceeded, Rounds: 10}), "10 轮")
	assert.Contains(t, DescribeOutcome(nil, errors.New("x")), "发生错误")
}

func TestRiskBadge(t *testing.T) {
	assert.Empty(t, RiskBadge(nil))
	assert.Empty(t, RiskBadge(&tools.Result{Risk: &injection.Assessment{Level: injection.LevelLow}}))
	assert.Equal(t, "[注入风险 MEDIUM]", RiskBadge(&tools.Result{Risk: &injection.Assessment{Level: injection.LevelMedium}}))
}
