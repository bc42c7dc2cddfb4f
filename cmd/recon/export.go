package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session's exceptions as CSV",
		Long: `Export every record that did not cleanly match, one CSV row per
exception, with enough detail (record id, field, reason) to drive
downstream reporting.`,
		Args: cobra.ExactArgs(1),
		RunE: runExport,
	}

	cmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	_ = viper.BindPFlag("export.output", cmd.Flags().Lookup("output"))

	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	eng, store, _, err := initEngine()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	out := os.Stdout
	if path := viper.GetString("export.output"); path != "" {
		file, createErr := os.Create(path)
		if createErr != nil {
			return fmt.Errorf("failed to create %s: %w", path, createErr)
		}
		defer func() { _ = file.Close() }()
		out = file
	}

	return eng.ExportExceptions(cmd.Context(), sessionID, out)
}
