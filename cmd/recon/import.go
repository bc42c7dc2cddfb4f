package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clearline/recon/internal/importer"
	"github.com/clearline/recon/internal/model"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import ledger or statement records into a session",
		Long: `Import records from a CSV or OFX/QFX file.

CSV files need the columns date, description, amount, currency, and
optionally type and id. Malformed rows are reported and skipped; they
never abort the import.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().StringP("session", "s", "", "Session to import into (default: start a new session)")
	cmd.Flags().String("source", "ledger", "Which side the records belong to (ledger, statement)")

	_ = viper.BindPFlag("import.session", cmd.Flags().Lookup("session"))
	_ = viper.BindPFlag("import.source", cmd.Flags().Lookup("source"))

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	sessionID := viper.GetString("import.session")

	var source model.RecordSource
	switch viper.GetString("import.source") {
	case "ledger":
		source = model.SourceLedger
	case "statement":
		source = model.SourceStatement
	default:
		return fmt.Errorf("invalid source: %s", viper.GetString("import.source"))
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	var parsed *importer.Result
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		parsed, err = importer.NewCSVParser(source).Parse(file)
	case ".ofx", ".qfx":
		parsed, err = importer.NewOFXParser(source).Parse(file)
	default:
		return fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
	if err != nil {
		return err
	}

	eng, store, _, err := initEngine()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	result, err := eng.ImportRecords(cmd.Context(), sessionID, parsed.Records, parsed.RowErrors)
	if err != nil {
		return err
	}

	for _, rowErr := range result.RowErrors {
		slog.Warn("Skipped malformed row",
			"line", rowErr.Line,
			"field", rowErr.Field,
			"reason", rowErr.Reason)
	}

	fmt.Printf("Imported %d %s records into session %s (%d rows skipped)\n",
		len(result.Records), source, result.SessionID, len(result.RowErrors))
	return nil
}
