package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/IntervAgent/internal/agent"
	"github.com/wwwzy/IntervAgent/internal/injection"
	"github.com/wwwzy/IntervAgent/internal/tools"
	"github.com/wwwzy/IntervAgent/internal/ui"
)

type stubBackend struct{}

func (stubBackend) HandleUserMessage(_ context.Context, history agent.Conversation, text string) (*agent.Exchange, error) {
	conv := history.Clone()
	conv.Append(agent.UserMessage(text), agent.AssistantMessage("ok", nil))
	return &agent.Exchange{Conversation: conv, Answer: "ok"}, nil
}

func update(t *testing.T, m chatModel, msg tea.Msg) chatModel {
	t.Helper()
	next, _ := m.Update(msg)
	cm, ok := next.(chatModel)
	require.True(t, ok)
	return cm
}

func TestChatModel_EventsAndResult(t *testing.T) {
	m := newChatModel(context.Background(), stubBackend{}, ui.ChatOptions{HistoryExchanges: 5})
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	call := tools.Call{ID: "c1", Name: "read_registration_document"}
	m = update(t, m, eventMsg{event: agent.Event{Kind: agent.EventRoundStarted, Round: 1}})
	assert.Equal(t, "第 1 轮推理", m.status)
	assert.Empty(t, m.entries)

	res := tools.Result{CallID: "c1", Tool: call.Name, Payload: "x", Risk: &injection.Assessment{Level: injection.LevelHigh}}
	m = update(t, m, eventMsg{event: agent.Event{Kind: agent.EventToolCompleted, Call: &call, Result: &res}})
	require.Len(t, m.entries, 1)
	assert.Equal(t, entryRisk, m.entries[0].kind)
	assert.Contains(t, m.entries[0].content, "注入风险 HIGH")

	var conv agent.Conversation
	conv.Append(agent.UserMessage("读文档"), agent.AssistantMessage("已读取", nil))
	m.thinking = true
	m = update(t, m, backendResultMsg{ex: &agent.Exchange{Conversation: conv, Answer: "已读取"}})
	assert.False(t, m.thinking)
	assert.Equal(t, 2, m.history.Len())
	require.Len(t, m.entries, 2)
	assert.Equal(t, "已读取", m.entries[1].content)
	assert.True(t, m.streaming)

	for i := 0; i < 10 && m.streaming; i++ {
		m = update(t, m, streamTickMsg{})
	}
	assert.False(t, m.streaming)
	assert.Contains(t, m.renderChat(), "已读取")
}

func TestChatModel_TerminalErrorIsShown(t *testing.T) {
	m := newChatModel(context.Background(), stubBackend{}, ui.ChatOptions{})
	m = update(t, m, backendResultMsg{err: &agent.TerminalError{Kind: agent.KindModelUnavailable, Err: errors.New("down")}})
	require.Len(t, m.entries, 1)
	assert.Contains(t, m.entries[0].content, "模型服务暂时不可用")
}

func TestChatModel_QuitCancelsRun(t *testing.T) {
	cases := []struct {
		name string
		msg  tea.Msg
	}{
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}},
		{"context done", cancelMsg{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newChatModel(context.Background(), stubBackend{}, ui.ChatOptions{})
			runCtx, cancel := context.WithCancel(context.Background())
			defer cancel()
			m.thinking = true
			m.cancelRun = cancel

			next, cmd := m.Update(tc.msg)
			require.NotNil(t, cmd)
			assert.Equal(t, tea.QuitMsg{}, cmd())
			assert.ErrorIs(t, runCtx.Err(), context.Canceled)
			assert.Nil(t, next.(chatModel).cancelRun)
		})
	}
}
