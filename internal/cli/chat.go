package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wwwzy/IntervAgent/internal/agent"
	"github.com/wwwzy/IntervAgent/internal/tui"
	"github.com/wwwzy/IntervAgent/internal/ui"
)

var chatUI string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式对话模式",
	Long: `进入对话模式，用自然语言查询面试者、分析表现、生成和发送报告、整理报名资料。
在必要时，Agent 会调用内置工具来获取信息或执行操作。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		var uiImpl ui.ChatUI
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			uiImpl = &tui.ChatUI{}
			// 全屏界面下日志写入文件
			if logFile == "" {
				if err := setupLogging("intervagent.log"); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUI)
		}

		rt, err := openRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		// 先取消进行中的对话，再关闭存储
		defer func() {
			cancel()
			rt.Close()
		}()

		gateway, err := agent.NewGateway(ctx, cfg.Model)
		if err != nil {
			return fmt.Errorf("创建模型网关失败: %w", err)
		}

		relay := &ui.Relay{}
		opts := append(agent.OptionsFromConfig(cfg.Agent, cfg.Model), agent.WithObserver(relay))
		orchestrator := agent.NewOrchestrator(gateway, rt.dispatcher, opts...)

		return uiImpl.Run(ctx, orchestrator, ui.ChatOptions{
			HistoryExchanges: cfg.Agent.HistoryExchanges,
			Events:           relay,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
}
