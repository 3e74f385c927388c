package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wwwzy/IntervAgent/internal/storage"
)

// storageCmd represents the storage command
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理存储和数据库",
	Long:  `提供查看数据库概况和清理审计记录的命令。`,
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	RunE:  runInfo,
}

// pruneAuditCmd represents the prune-audit command
var pruneAuditCmd = &cobra.Command{
	Use:   "prune-audit",
	Short: "清理工具调用审计记录",
	Long:  `根据用户指定的保留条数或天数，清理旧的审计记录。`,
	RunE:  runPruneAudit,
}

var (
	keepAuditCount int
	keepAuditDays  int
)

func init() {
	pruneAuditCmd.Flags().IntVar(&keepAuditCount, "keep", 0, "保留最近的 N 条记录")
	pruneAuditCmd.Flags().IntVar(&keepAuditDays, "days", 0, "保留最近 N 天的记录")

	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd)
	storageCmd.AddCommand(pruneAuditCmd)
}

func runPruneAudit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if keepAuditCount <= 0 && keepAuditDays <= 0 {
		_ = cmd.Usage()
		return fmt.Errorf("must specify either --keep or --days")
	}

	out := cmd.OutOrStdout()
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	var deletedCount int64

	if keepAuditCount > 0 {
		fmt.Fprintf(out, "Pruning audit records, keeping latest %d records...\n", keepAuditCount)
		count, err := store.DeleteAuditRecordsKeepLatest(ctx, keepAuditCount)
		if err != nil {
			return fmt.Errorf("prune by count: %w", err)
		}
		deletedCount += count
	}

	if keepAuditDays > 0 {
		before := time.Now().UTC().AddDate(0, 0, -keepAuditDays)
		fmt.Fprintf(out, "Pruning audit records older than %d days (before %s)...\n", keepAuditDays, before.Format(time.RFC3339))
		count, err := store.DeleteAuditRecordsBefore(ctx, before)
		if err != nil {
			return fmt.Errorf("prune by days: %w", err)
		}
		deletedCount += count
	}

	fmt.Fprintf(out, "Prune completed. Deleted %d records.\n", deletedCount)

	if count, err := store.CountAuditRecords(ctx); err == nil {
		fmt.Fprintf(out, "Remaining Audit Records: %d\n", count)
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	dbPath := cfg.Storage.Path
	if !filepath.IsAbs(dbPath) {
		if absPath, err := filepath.Abs(dbPath); err == nil {
			dbPath = absPath
		}
	}

	var dbSizeStr string
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			dbSizeStr = "Not Found (Will be created on first run)"
		} else {
			dbSizeStr = fmt.Sprintf("Error: %v", err)
		}
	} else {
		sizeMB := float64(info.Size()) / 1024 / 1024
		dbSizeStr = fmt.Sprintf("%.2f MB (%s)", sizeMB, dbPath)
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(out, "Database File: %s\n", dbSizeStr)
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	counters := []struct {
		table string
		count func(context.Context) (int64, error)
	}{
		{"Interviewees", store.CountInterviewees},
		{"Questions", store.CountQuestions},
		{"InterviewRecords", store.CountInterviewRecords},
		{"RegistrationDocuments", store.CountRegistrationDocuments},
		{"AuditRecords", store.CountAuditRecords},
	}

	fmt.Fprintf(out, "Database File: %s\n\n", dbSizeStr)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	for _, c := range counters {
		n, err := c.count(ctx)
		if err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", c.table, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\n", c.table, n)
	}
	return w.Flush()
}
