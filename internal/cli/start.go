package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wwwzy/IntervAgent/internal/intake"
)

// startCmd 代表 start 命令
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "启动 IntervAgent 后台收件服务",
	Long: `启动后台收件服务。
服务会定期从邮箱拉取报名资料附件、做注入检测并写入索引，同时按策略清理审计记录。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 上下文用于优雅退出
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// 2. 初始化存储与工具依赖
		fmt.Println("正在初始化存储...")
		rt, err := openRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		// 3. 初始化服务管理器
		icfg := intake.DefaultConfig()
		icfg.Poll.Enabled = cfg.Intake.PollEnabled && rt.env.Mailbox != nil
		icfg.Poll.Interval = cfg.Intake.PollInterval
		icfg.Poll.Jitter = cfg.Intake.PollJitter
		icfg.Poll.Folder = cfg.Mailbox.Folder
		icfg.Poll.Limit = cfg.Intake.PollLimit
		icfg.Retention.Enabled = cfg.Intake.RetentionEnabled
		icfg.Retention.Interval = cfg.Intake.RetentionInterval
		icfg.Retention.KeepDays = cfg.Intake.AuditKeepDays
		icfg.Retention.KeepCount = cfg.Intake.AuditKeepCount
		if cfg.Intake.PollEnabled && rt.env.Mailbox == nil {
			fmt.Println("邮箱未配置，跳过报名邮件拉取。")
		}

		mgr, err := intake.NewManager(icfg)
		if err != nil {
			return fmt.Errorf("创建服务管理器失败: %w", err)
		}

		// 4. 挂载任务
		if icfg.Poll.Enabled {
			poller, err := intake.NewMailPoller(rt.env)
			if err != nil {
				return fmt.Errorf("创建邮件轮询失败: %w", err)
			}
			mgr.WithPoller(poller)
		}
		ret, err := intake.NewAuditRetention(rt.store)
		if err != nil {
			return fmt.Errorf("创建审计清理任务失败: %w", err)
		}
		mgr.WithRetention(ret)

		// 5. 启动管理器
		fmt.Println("正在启动收件服务...")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("启动管理器失败: %w", err)
		}

		// 6. 等待信号
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		fmt.Println("IntervAgent 收件服务已启动。按 Ctrl+C 停止。")

		done := make(chan error, 1)
		go func() { done <- mgr.Wait() }()

		select {
		case sig := <-sigChan:
			fmt.Printf("收到信号: %s, 正在关闭...\n", sig)
		case err := <-done:
			if err != nil {
				return fmt.Errorf("服务异常退出: %w", err)
			}
			return nil
		}

		// 7. 优雅停止
		mgr.Stop()
		if err := <-done; err != nil {
			return fmt.Errorf("管理器停止时发生错误: %w", err)
		}

		fmt.Println("关闭完成。")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
