package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/wwwzy/IntervAgent/internal/config"
	"github.com/wwwzy/IntervAgent/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string
	cfg       *config.Config
)

// rootCmd 是没有子命令时调用的基础命令
var rootCmd = &cobra.Command{
	Use:   "intervagent",
	Short: "IntervAgent 是一个面试助手 AI 代理",
	Long: `IntervAgent 通过自然语言对话帮助面试官查询面试者、分析答题记录、
生成并发送面试报告，以及整理邮箱中的报名资料。`,
	SilenceUsage: true,
}

// Execute 将所有子命令添加到根命令并适当设置标志。
// 这由 main.main() 调用。它只需要对 rootCmd 调用一次。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件（默认按 ./config.yaml、$HOME/.intervagent/config.yaml 搜索）")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别: debug/info/warn/error（默认取配置文件 log_level）")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "日志格式: console/json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "日志文件（默认输出到 stderr）")
}

// initConfig 读取配置文件和环境变量（如果已设置）。
func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	if err := setupLogging(logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging 按命令行参数初始化全局 logger，path 非空时写入文件。
func setupLogging(path string) error {
	if path == "" {
		return logging.Init(logLevel, logFormat, nil)
	}
	f, err := logging.OpenFile(path)
	if err != nil {
		return err
	}
	if err := logging.Init(logLevel, logFormat, f); err != nil {
		_ = f.Close()
		return err
	}
	log.Debug().Str("path", path).Msg("logging to file")
	return nil
}
