package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xyl2024/Mini-Agent-Web/unifiedllm"
)

var modelsProvider string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List known models",
	RunE: func(cmd *cobra.Command, args []string) error {
		models := unifiedllm.ListModels(modelsProvider)
		if len(models) == 0 {
			return fmt.Errorf("no known models for provider %q", modelsProvider)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROVIDER\tCONTEXT\tTOOLS\tREASONING")
		for _, m := range models {
			fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%v\n", m.ID, m.Provider, m.ContextWindow, m.SupportsTools, m.SupportsReasoning)
		}
		return w.Flush()
	},
}

func init() {
	modelsCmd.Flags().StringVarP(&modelsProvider, "provider", "p", "", "only list models of this provider")
	rootCmd.AddCommand(modelsCmd)
}
