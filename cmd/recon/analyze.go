package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clearline/recon/internal/events"
)

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <session-id> [record-id...]",
		Short: "Submit unresolved records for root-cause analysis",
		Long: `Submit unmatched records to the asynchronous root-cause analysis
service. Without record ids, every unmatched record in the session is
submitted. Records already under analysis are rejected, not queued.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAnalyze,
	}

	cmd.Flags().Bool("wait", true, "Wait for the analysis to complete")
	_ = viper.BindPFlag("analyze.wait", cmd.Flags().Lookup("wait"))

	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	recordIDs := args[1:]

	eng, store, bus, err := initEngine()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	completed, cancelCompleted := bus.Subscribe(events.AnalysisCompleted)
	defer cancelCompleted()
	failed, cancelFailed := bus.Subscribe(events.AnalysisFailed)
	defer cancelFailed()

	taskID, err := eng.AnalyzeExceptions(cmd.Context(), sessionID, recordIDs...)
	if err != nil {
		return err
	}
	fmt.Printf("Submitted analysis task %s\n", taskID)

	if !viper.GetBool("analyze.wait") {
		return nil
	}

	timer := time.NewTimer(waitTimeout())
	defer timer.Stop()
	for {
		select {
		case e := <-completed:
			if e.TaskID != taskID {
				continue
			}
			fmt.Printf("Analysis complete: %d results\n", len(e.Results))
			for _, res := range e.Results {
				fmt.Printf("  %s: %s (%s, confidence %.2f) - %s\n",
					res.RecordID, res.Category, res.Severity, res.Confidence, res.SuggestedAction)
			}
			return nil
		case e := <-failed:
			if e.TaskID != taskID {
				continue
			}
			return fmt.Errorf("analysis task %s failed: %s", taskID, e.Reason)
		case <-timer.C:
			return fmt.Errorf("gave up waiting for analysis task %s", taskID)
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
	}
}
