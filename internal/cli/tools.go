package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wwwzy/IntervAgent/internal/tools"
)

var toolsSchema bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "列出 Agent 可调用的工具",
	RunE: func(cmd *cobra.Command, args []string) error {
		dispatcher := tools.NewDispatcher(tools.NewCatalogRegistry(), nil,
			tools.WithTimeouts(cfg.Tools.DefaultTimeout, cfg.Tools.Timeouts))
		descs := dispatcher.Registry().Schemas()
		out := cmd.OutOrStdout()

		if toolsSchema {
			schemas := make(map[string]any, len(descs))
			for _, d := range descs {
				schemas[string(d.Name)] = map[string]any{
					"description": d.Purpose,
					"parameters":  d.JSONSchema(),
				}
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(schemas)
		}

		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "Tool\tTimeout\tScans\tPurpose")
		fmt.Fprintln(w, "----\t-------\t-----\t-------")
		for _, d := range descs {
			scans := ""
			if d.ScansExternalText {
				scans = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, dispatcher.Timeout(d), scans, d.Purpose)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().BoolVar(&toolsSchema, "schema", false, "输出每个工具的 JSON Schema")
}
