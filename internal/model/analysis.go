package model

import (
	"fmt"
	"time"
)

// RootCauseCategory classifies why a record failed to reconcile cleanly.
type RootCauseCategory string

// Root cause category constants.
const (
	CauseMissingCounterparty RootCauseCategory = "missing_counterparty"
	CauseAmountMismatch      RootCauseCategory = "amount_mismatch"
	CauseDateLag             RootCauseCategory = "date_lag"
	CauseDuplicateEntry      RootCauseCategory = "duplicate_entry"
	CauseDataQuality         RootCauseCategory = "data_quality"
	CauseUnknown             RootCauseCategory = "unknown"
)

// Severity represents the severity level of an analysis finding.
type Severity string

// Severity constants.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Order returns the numeric priority of a severity (lower is more severe).
func (s Severity) Order() int {
	switch s {
	case SeverityCritical:
		return 1
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 4
	default:
		return 5
	}
}

// AnalysisResult is the structured output of the external root-cause
// analysis service, attached to a record exactly once.
type AnalysisResult struct {
	Timestamp        time.Time         `json:"timestamp"`
	ID               string            `json:"id"`
	RecordID         string            `json:"record_id"`
	Category         RootCauseCategory `json:"root_cause_category"`
	Severity         Severity          `json:"severity"`
	SuggestedAction  string            `json:"suggested_action"`
	RelatedRecordIDs []string          `json:"related_record_ids"`
	Confidence       float64           `json:"confidence"`
}

// Validate ensures the analysis result satisfies the service contract.
func (a *AnalysisResult) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("analysis result ID is required")
	}
	if a.RecordID == "" {
		return fmt.Errorf("analysis result record ID is required")
	}
	if a.Confidence < 0.0 || a.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0 and 1")
	}
	switch a.Category {
	case CauseMissingCounterparty, CauseAmountMismatch, CauseDateLag,
		CauseDuplicateEntry, CauseDataQuality, CauseUnknown:
	default:
		return fmt.Errorf("unknown root cause category: %s", a.Category)
	}
	switch a.Severity {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
	default:
		return fmt.Errorf("unknown severity: %s", a.Severity)
	}
	return nil
}
