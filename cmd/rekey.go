package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var rekeyBatchSize int

var rekeyCmd = &cobra.Command{
	Use:   "rekey",
	Short: "Recompute stored alias keys after a normalization change",
	Long: `Alias keys are computed when an alias is first stored. After changing
the legal suffixes in RESOLVER_RULES_FILE or BLOCKING_PREFIX_LENGTH, run rekey so
older aliases are matched and blocked under the new rules, then run reconcile
to fold suppliers whose keys now coincide.`,
	Example: `  BLOCKING_PREFIX_LENGTH=4 supplierd rekey
  supplierd reconcile`,
	RunE: runRekey,
}

func init() {
	rekeyCmd.Flags().IntVar(&rekeyBatchSize, "batch-size", 500, "aliases rewritten per transaction")
	rootCmd.AddCommand(rekeyCmd)
}

func runRekey(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n := a.resolver.Normalizer()
	updated, err := a.aliases.Rekey(cmd.Context(), func(text string) (string, string) {
		key := n.Normalize(text)
		return key, n.BlockingKey(key)
	}, rekeyBatchSize)
	if err != nil {
		return fmt.Errorf("rekey aliases: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	return enc.Encode(map[string]int{"updated": updated})
}
