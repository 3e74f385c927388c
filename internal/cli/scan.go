package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wwwzy/IntervAgent/internal/docs"
	"github.com/wwwzy/IntervAgent/internal/injection"
)

var scanJSON bool

var scanCmd = &cobra.Command{
	Use:   "scan <file>",
	Short: "检测文件中的提示词注入风险",
	Long:  `读取报名资料文件（txt/md/csv/html/xlsx，其它类型按纯文本处理），输出注入风险等级与命中的规则。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readForScan(args[0])
		if err != nil {
			return err
		}
		detector, err := newDetector(cfg)
		if err != nil {
			return fmt.Errorf("加载注入检测规则失败: %w", err)
		}
		a := detector.Scan(text)

		out := cmd.OutOrStdout()
		if scanJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(a)
		}
		fmt.Fprintf(out, "File:       %s\n", args[0])
		fmt.Fprintf(out, "Risk:       %s\n", a.Level)
		if len(a.Indicators) > 0 {
			fmt.Fprintf(out, "Indicators: %s\n", strings.Join(a.Indicators, ", "))
		}
		fmt.Fprintf(out, "Rationale:  %s\n", a.Rationale)
		if a.Level >= injection.LevelMedium {
			fmt.Fprintln(out, "该文件包含疑似注入内容，Agent 读取时会附带风险标注。")
		}
		return nil
	},
}

func readForScan(path string) (string, error) {
	text, err := docs.Reader{}.ReadText(path)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, docs.ErrUnsupported) {
		return "", err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}
	return string(b), nil
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "以 JSON 输出评估结果")
}
