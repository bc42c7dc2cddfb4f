package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage reconciliation sessions",
	}

	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsCloseCmd())
	cmd.AddCommand(sessionsApplyCmd())
	cmd.AddCommand(sessionsDismissCmd())
	cmd.AddCommand(sessionsReopenCmd())

	return cmd
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's records and statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := initStorage()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			session, err := store.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			records, err := store.ListRecords(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Session %s (%s), created %s\n", session.ID, session.Status, session.CreatedAt.Format("2006-01-02 15:04"))
			for _, r := range records {
				line := fmt.Sprintf("  [%s] %-10s %s %s %s %s",
					r.Source, r.Status, r.ID, r.Date.Format("2006-01-02"), r.Amount.StringFixed(2), r.Description)
				if r.StatusReason != "" {
					line += fmt.Sprintf(" (%s)", r.StatusReason)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func sessionsCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <session-id>",
		Short: "Close a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, store, _, err := initEngine()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			force := viper.GetBool("sessions.force")
			if err := eng.CloseSession(cmd.Context(), args[0], force); err != nil {
				return err
			}
			fmt.Printf("Closed session %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Close even with non-terminal records (audit-logged)")
	_ = viper.BindPFlag("sessions.force", cmd.Flags().Lookup("force"))
	return cmd
}

func sessionsApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <session-id> <record-id> <action>",
		Short: "Apply a suggested action, resolving the record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, store, _, err := initEngine()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rec, err := eng.ApplyAction(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Printf("Record %s is now %s\n", rec.ID, rec.Status)
			return nil
		},
	}
}

func sessionsDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <session-id> <record-id>",
		Short: "Dismiss an analysis suggestion, returning the record to unmatched",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, store, _, err := initEngine()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rec, err := eng.DismissAnalysis(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Record %s is now %s\n", rec.ID, rec.Status)
			return nil
		},
	}
}

func sessionsReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <session-id> <record-id>",
		Short: "Reopen a resolved record (audit-logged)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, store, _, err := initEngine()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			operator := "cli"
			if user := viper.GetString("operator"); user != "" {
				operator = user
			}
			rec, err := eng.ReopenRecord(cmd.Context(), args[0], args[1], operator)
			if err != nil {
				return err
			}
			fmt.Printf("Record %s is now %s\n", rec.ID, rec.Status)
			return nil
		},
	}
}
