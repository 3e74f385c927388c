package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/wwwzy/IntervAgent/internal/agent"
	"github.com/wwwzy/IntervAgent/internal/ui"
)

type ChatUI struct{}

func (u *ChatUI) Run(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) error {
	m := newChatModel(ctx, backend, opts)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// 编排器在 tea.Cmd 的 goroutine 上运行，进度事件通过 p.Send 回到界面
	opts.Events.Attach(func(e agent.Event) { p.Send(eventMsg{event: e}) })
	defer opts.Events.Attach(nil)

	_, err := p.Run()
	return err
}

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryTool
	entryRisk
)

type entry struct {
	kind    entryKind
	content string
}

type backendResultMsg struct {
	ex  *agent.Exchange
	err error
}

type eventMsg struct {
	event agent.Event
}

type streamTickMsg struct{}
type cancelMsg struct{}

type chatModel struct {
	ctx     context.Context
	backend ui.ChatBackend
	opts    ui.ChatOptions

	history agent.Conversation
	entries []entry

	width  int
	height int

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	thinking   bool
	followTail bool
	cancelRun  context.CancelFunc
	status     string

	streaming  bool
	streamIdx  int
	streamPos  int
	streamFull []rune

	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, backend ui.ChatBackend, opts ui.ChatOptions) chatModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot

	ti := textinput.New()
	ti.Placeholder = "输入消息，回车发送"
	ti.Prompt = ""
	ti.Focus()

	vp := viewport.New(0, 0)
	vp.SetContent("")

	return chatModel{
		ctx:        ctx,
		backend:    backend,
		opts:       opts,
		viewport:   vp,
		input:      ti,
		spinner:    s,
		followTail: true,
		streamIdx:  -1,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitCancel(m.ctx))
}

func waitCancel(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return cancelMsg{}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cancelMsg:
		return m.quit()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		inputHeight := 3
		footerHeight := 1
		headerHeight := 1
		chatHeight := m.height - inputHeight - footerHeight - headerHeight
		if chatHeight < 1 {
			chatHeight = 1
		}

		m.viewport.Width = m.width
		m.viewport.Height = chatHeight

		m.input.Width = max(10, m.width-4)

		m.resetMarkdownRenderer()
		m.updateViewportContent(m.renderChat())
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.applyEvent(msg.event)
		m.updateViewportContent(m.renderChat())
		return m, nil

	case backendResultMsg:
		m.thinking = false
		m.status = ""
		if m.cancelRun != nil {
			m.cancelRun()
			m.cancelRun = nil
		}
		m.history = ui.NextHistory(m.history, msg.ex, m.opts.HistoryExchanges)
		m.entries = append(m.entries, entry{kind: entryAssistant, content: ui.DescribeOutcome(msg.ex, msg.err)})
		m.followTail = true
		m.startStreaming(len(m.entries) - 1)
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case streamTickMsg:
		if !m.streaming {
			return m, nil
		}
		m.streamPos = min(len(m.streamFull), m.streamPos+16)
		if m.streamPos >= len(m.streamFull) {
			m.streaming = false
		}
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m.quit()
		case "esc":
			if m.thinking && m.cancelRun != nil {
				m.cancelRun()
				m.status = "正在取消，当前轮的工具执行完后停止"
			}
			return m, nil
		case "pgup", "pageup":
			m.viewport.PageUp()
			m.followTail = false
			return m, nil
		case "pgdown", "pagedown":
			m.viewport.PageDown()
			if m.viewport.AtBottom() {
				m.followTail = true
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)

		if msg.String() == "enter" {
			if m.thinking {
				return m, cmd
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, cmd
			}
			switch strings.ToLower(text) {
			case "exit", "quit":
				return m.quit()
			case "/reset":
				m.history = agent.Conversation{}
				m.entries = nil
				m.input.SetValue("")
				m.updateViewportContent(m.renderChat())
				return m, cmd
			}

			m.entries = append(m.entries, entry{kind: entryUser, content: text})
			m.followTail = true
			m.updateViewportContent(m.renderChat())

			m.input.SetValue("")
			m.thinking = true
			runCtx, cancel := context.WithCancel(m.ctx)
			m.cancelRun = cancel
			return m, tea.Batch(cmd, invokeBackend(runCtx, m.backend, m.history, text))
		}

		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) applyEvent(e agent.Event) {
	switch e.Kind {
	case agent.EventRoundStarted:
		m.status = fmt.Sprintf("第 %d 轮推理", e.Round)
		return
	case agent.EventToolInvoked:
		if e.Call != nil {
			m.status = "执行 " + e.Call.Name
		}
		return
	}
	line := ui.DescribeEvent(e)
	if line == "" {
		return
	}
	kind := entryTool
	if e.Kind == agent.EventToolCompleted && ui.RiskBadge(e.Result) != "" {
		kind = entryRisk
	}
	m.entries = append(m.entries, entry{kind: kind, content: line})
}

func (m chatModel) View() string {
	header := lipgloss.NewStyle().Bold(true).Render("IntervAgent Chat")
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), m.inputView(), m.footerView())
}

func (m chatModel) footerView() string {
	left := "Enter 发送 | Esc 取消 | PgUp/PgDn 滚动 | Ctrl+C 退出"
	right := ""
	if m.thinking {
		status := m.status
		if status == "" {
			status = "Thinking..."
		}
		right = m.spinner.View() + " " + status
	}
	style := lipgloss.NewStyle().Width(m.width).Padding(0, 1)
	return style.Render(lipgloss.JoinHorizontal(lipgloss.Left, left, lipgloss.NewStyle().Width(max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)).Render(""), right))
}

func (m chatModel) inputView() string {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Width(max(1, m.input.Width+2)).
		Render(m.input.View())
}

func (m *chatModel) updateViewportContent(content string) {
	oldYOffset := m.viewport.YOffset
	m.viewport.SetContent(content)
	if m.followTail {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(oldYOffset)
}

// quit 退出前先取消进行中的对话。
func (m chatModel) quit() (tea.Model, tea.Cmd) {
	if m.cancelRun != nil {
		m.cancelRun()
		m.cancelRun = nil
	}
	return m, tea.Quit
}

func invokeBackend(ctx context.Context, backend ui.ChatBackend, history agent.Conversation, text string) tea.Cmd {
	return func() tea.Msg {
		ex, err := backend.HandleUserMessage(ctx, history, text)
		return backendResultMsg{ex: ex, err: err}
	}
}

func streamTick() tea.Cmd {
	return tea.Tick(45*time.Millisecond, func(time.Time) tea.Msg { return streamTickMsg{} })
}

func (m *chatModel) startStreaming(idx int) {
	m.streaming = false
	m.streamIdx = -1
	if idx < 0 || idx >= len(m.entries) {
		return
	}
	full := []rune(m.entries[idx].content)
	if len(full) == 0 {
		return
	}
	m.streaming = true
	m.streamIdx = idx
	m.streamFull = full
	m.streamPos = min(len(full), 16)
}

func (m *chatModel) resetMarkdownRenderer() {
	if m.width <= 0 {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.bubbleMaxContentWidth()),
	)
	if err == nil {
		m.renderer = r
	}
}

func (m chatModel) renderChat() string {
	var b strings.Builder
	for i, e := range m.entries {
		content := e.content
		if m.streaming && m.streamIdx == i {
			content = string(m.streamFull[:m.streamPos])
		}
		content = strings.TrimRight(content, "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		b.WriteString(m.renderEntry(e.kind, content))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m chatModel) bubbleMaxContentWidth() int {
	if m.width <= 0 {
		return 72
	}
	return max(20, m.width-8)
}

func (m chatModel) desiredContentWidth(s string) int {
	w := max(10, maxLineWidth(s))
	return min(m.bubbleMaxContentWidth(), w)
}

func (m chatModel) wrapToWidth(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func maxLineWidth(s string) int {
	s = strings.TrimRight(s, "\n")
	if strings.TrimSpace(s) == "" {
		return 0
	}
	maxW := 0
	for _, line := range strings.Split(s, "\n") {
		if w := lipgloss.Width(strings.TrimRight(line, " ")); w > maxW {
			maxW = w
		}
	}
	return maxW
}

func (m chatModel) renderEntry(kind entryKind, content string) string {
	switch kind {
	case entryUser:
		return m.renderUser(content)
	case entryAssistant:
		return m.renderAssistant(content)
	case entryRisk:
		return m.renderTool(content, lipgloss.Color("196"))
	default:
		return m.renderTool(content, lipgloss.Color("240"))
	}
}

func (m chatModel) renderAssistant(content string) string {
	md := content
	// 流式展示过程中不做 markdown 渲染，避免未闭合的语法闪烁
	if m.renderer != nil && !m.streaming {
		if rendered, err := m.renderer.Render(md); err == nil {
			md = strings.TrimRight(rendered, "\n")
		}
	}
	md = m.wrapToWidth(md, m.desiredContentWidth(md))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(md)
}

func (m chatModel) renderUser(content string) string {
	content = m.wrapToWidth(content, m.desiredContentWidth(content))
	bubble := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("205")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(content)
	if m.width <= 0 {
		return bubble
	}
	return lipgloss.NewStyle().Width(m.width).Align(lipgloss.Right).Render(bubble)
}

func (m chatModel) renderTool(content string, border lipgloss.Color) string {
	content = m.wrapToWidth(content, m.desiredContentWidth(content))
	return lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(border).
		Foreground(lipgloss.Color("245")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(content)
}
