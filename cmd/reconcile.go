package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one merge pass and exit",
	Long: `Run a single merge pass over the store: suppliers sharing a normalized
alias key, or whose aliases score at least MERGE_THRESHOLD, are folded into
the older supplier. The pass report is printed as JSON.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.reconciler.RunPass(cmd.Context())
	if err != nil {
		return fmt.Errorf("merge pass: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
