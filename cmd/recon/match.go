package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func matchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match <session-id>",
		Short: "Run a reconciliation pass over a session",
		Long: `Run the synchronous reconciliation pipeline: invalid checks, tolerance
matching, duplicate detection, and aggregation. The pass is deterministic;
running it twice on an unchanged session yields identical results.`,
		Args: cobra.ExactArgs(1),
		RunE: runMatchCmd,
	}
}

func runMatchCmd(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	eng, store, _, err := initEngine()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Reconciling"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)

	summary, err := eng.RunMatch(cmd.Context(), sessionID)
	_ = bar.Finish()
	if err != nil {
		return err
	}

	fmt.Printf("Session %s\n", sessionID)
	fmt.Printf("  Total records:  %d\n", summary.Total)
	fmt.Printf("  Matched:        %d (%.1f%%)\n", summary.MatchedCount, summary.MatchRate()*100)
	fmt.Printf("  Unmatched:      %d\n", summary.UnmatchedCount)
	fmt.Printf("  Duplicates:     %d\n", summary.DuplicateCount)
	fmt.Printf("  Invalid:        %d\n", summary.InvalidCount)
	fmt.Printf("  Matched amount: %s\n", summary.MatchedAmount.StringFixed(2))
	fmt.Printf("  Open amount:    %s\n", summary.UnmatchedAmount.StringFixed(2))
	return nil
}
