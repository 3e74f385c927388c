package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/wwwzy/IntervAgent/internal/agent"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error {
	in := u.In
	if in == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	out := u.Out
	if out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}

	opts.Events.Attach(func(e agent.Event) {
		if line := DescribeEvent(e); line != "" {
			fmt.Fprintf(out, "  %s\n", line)
		}
	})
	defer opts.Events.Attach(nil)

	reader := bufio.NewReader(in)
	var history agent.Conversation

	fmt.Fprintln(out, "进入 IntervAgent 对话模式。输入 exit/quit 退出，/reset 清空上下文。")
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "已退出。")
			return nil
		default:
		}

		fmt.Fprint(out, "你: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(out, "\n已退出。")
				return nil
			}
			return fmt.Errorf("读取输入失败: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit":
			fmt.Fprintln(out, "已退出。")
			return nil
		case "/reset":
			history = agent.Conversation{}
			fmt.Fprintln(out, "上下文已清空。")
			continue
		}

		ex, err := backend.HandleUserMessage(ctx, history, line)
		history = NextHistory(history, ex, opts.HistoryExchanges)
		fmt.Fprintf(out, "助手: %s\n\n", DescribeOutcome(ex, err))
	}
}
