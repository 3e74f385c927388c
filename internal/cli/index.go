package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wwwzy/IntervAgent/internal/tools"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "管理报名资料索引",
	Long:  `扫描下载目录建立报名资料索引，或在索引中检索。`,
}

var indexBuildCmd = &cobra.Command{
	Use:   "build [dir]",
	Short: "扫描目录并重建报名资料索引",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		dir := cfg.Tools.DownloadDir
		if len(args) == 1 {
			dir = args[0]
		}

		rt, err := openRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		summary, err := tools.BuildIndex(ctx, rt.env, dir)
		if err != nil {
			return fmt.Errorf("建立索引失败: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Directory: %s\nIndexed:   %d\nSkipped:   %d\n", summary.Directory, summary.Indexed, summary.Skipped)
		levels := make([]string, 0, len(summary.ByRisk))
		for level := range summary.ByRisk {
			levels = append(levels, level)
		}
		sort.Strings(levels)
		for _, level := range levels {
			fmt.Fprintf(out, "  %-6s %d\n", level, summary.ByRisk[level])
		}
		for _, f := range summary.Failed {
			fmt.Fprintf(out, "Failed:    %s\n", f)
		}
		return nil
	},
}

var indexTopK int

var indexQueryCmd = &cobra.Command{
	Use:   "query <keywords...>",
	Short: "在报名资料索引中检索",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		rt, err := openRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := tools.QueryIndex(ctx, rt.store, strings.Join(args, " "), indexTopK)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(res.Hits) == 0 {
			fmt.Fprintln(out, "没有匹配的报名资料。")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tScore\tRisk\tFile\tSnippet")
		for _, h := range res.Hits {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", h.ID, h.Score, h.RiskLevel, h.FileName, strings.ReplaceAll(h.Snippet, "\n", " "))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexQueryCmd)
	indexQueryCmd.Flags().IntVar(&indexTopK, "top-k", 5, "最多返回的结果数")
}
