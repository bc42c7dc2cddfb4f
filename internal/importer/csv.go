// Package importer converts raw statement and ledger files into canonical
// records. Malformed rows are collected as row errors and never abort an
// import.
package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearline/recon/internal/model"
)

// Result holds the outcome of parsing one input file.
type Result struct {
	Records   []model.Record
	RowErrors []model.RowError
}

// dateFormats are tried in order when parsing the date column.
var dateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"2006-01-02T15:04:05Z07:00",
}

// CSVParser parses header-mapped CSV files with the canonical columns
// date, description, amount, currency, type, and an optional id.
type CSVParser struct {
	source model.RecordSource
}

// NewCSVParser creates a CSV parser tagging records with the given source.
func NewCSVParser(source model.RecordSource) *CSVParser {
	return &CSVParser{source: source}
}

// Parse reads the CSV stream into canonical records.
func (p *CSVParser) Parse(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"date", "description", "amount", "currency"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	result := &Result{}
	line := 1
	for {
		line++
		row, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			result.RowErrors = append(result.RowErrors, model.RowError{
				Line:   line,
				Reason: readErr.Error(),
			})
			continue
		}

		rec, rowErr := p.parseRow(cols, row)
		if rowErr != nil {
			rowErr.Line = line
			result.RowErrors = append(result.RowErrors, *rowErr)
			continue
		}
		result.Records = append(result.Records, *rec)
	}
	return result, nil
}

func field(cols map[string]int, row []string, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (p *CSVParser) parseRow(cols map[string]int, row []string) (*model.Record, *model.RowError) {
	date, err := parseDate(field(cols, row, "date"))
	if err != nil {
		return nil, &model.RowError{Field: "date", Reason: err.Error()}
	}

	amount, err := decimal.NewFromString(field(cols, row, "amount"))
	if err != nil {
		return nil, &model.RowError{Field: "amount", Reason: "not a valid amount"}
	}

	id := field(cols, row, "id")
	if id == "" {
		id = uuid.New().String()
	}

	return &model.Record{
		ID:          id,
		Date:        date,
		Description: field(cols, row, "description"),
		Amount:      amount,
		Currency:    strings.ToUpper(field(cols, row, "currency")),
		Type:        parseType(field(cols, row, "type")),
		Source:      p.source,
		Status:      model.StatusUnmatched,
	}, nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, value); err == nil {
			// Normalize to a date-only UTC timestamp.
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", value)
}

func parseType(value string) model.RecordType {
	switch strings.ToLower(value) {
	case "debit", "withdrawal", "payment":
		return model.TypeDebit
	case "credit", "deposit":
		return model.TypeCredit
	default:
		return model.TypeUnknown
	}
}
