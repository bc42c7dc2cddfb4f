// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RecordSource identifies which side of the reconciliation a record came from.
type RecordSource string

// Record source constants.
const (
	SourceLedger    RecordSource = "ledger"
	SourceStatement RecordSource = "statement"
)

// RecordType is the transaction type reported by the source system.
type RecordType string

// Record type constants.
const (
	TypeDebit   RecordType = "debit"
	TypeCredit  RecordType = "credit"
	TypeUnknown RecordType = "unknown"
)

// RecordStatus is the classification state of a record within a session.
type RecordStatus string

// Record status constants.
const (
	StatusUnmatched RecordStatus = "unmatched"
	StatusMatched   RecordStatus = "matched"
	StatusDuplicate RecordStatus = "duplicate"
	StatusInvalid   RecordStatus = "invalid"
	StatusAnalyzing RecordStatus = "analyzing"
	StatusResolved  RecordStatus = "resolved"
)

// IsTerminal returns true if the status represents a final state for a
// completed reconciliation pass.
func (s RecordStatus) IsTerminal() bool {
	switch s {
	case StatusMatched, StatusDuplicate, StatusInvalid, StatusResolved:
		return true
	default:
		return false
	}
}

// Status reasons attached alongside transitions.
const (
	ReasonAnalysisTimeout = "analysis_timeout"
	ReasonDismissed       = "dismissed"
	ReasonReopened        = "reopened"
)

// Record represents a single transaction entry from either side of a
// reconciliation. Identity fields are immutable once created; only the
// status-bearing fields and the attached analysis mutate, guarded by
// Version.
type Record struct {
	Date         time.Time
	Analysis     *AnalysisResult
	ID           string
	Description  string
	Currency     string
	Type         RecordType
	Source       RecordSource
	Status       RecordStatus
	StatusReason string
	MatchedWith  string // counterpart record id when Status == matched
	DuplicateOf  string // canonical record id when Status == duplicate
	Amount       decimal.Decimal
	Version      int64
	ImportSeq    int
}

// NormalizeDescription lowercases a description and collapses runs of
// whitespace to single spaces, for matching and fingerprinting.
func NormalizeDescription(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Fingerprint returns the duplicate-detection fingerprint for the record:
// a hash over (amount, date, normalized description).
func (r *Record) Fingerprint() string {
	data := fmt.Sprintf("%s:%s:%s",
		r.Amount.StringFixed(4),
		r.Date.Format("2006-01-02"),
		NormalizeDescription(r.Description))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// InvalidReason reports why a record cannot participate in matching, or
// false if the record is well formed. Checked before matching is attempted.
func (r *Record) InvalidReason() (string, bool) {
	if r.Date.IsZero() {
		return "missing date", true
	}
	if r.Currency == "" {
		return "missing currency", true
	}
	if r.Amount.IsZero() && (r.Type == TypeUnknown || r.Type == "") {
		return "zero amount with unknown type", true
	}
	return "", false
}

// DateDeltaDays returns the absolute difference in calendar days between
// the record's date and the other record's date.
func (r *Record) DateDeltaDays(other *Record) int {
	a := r.Date.Truncate(24 * time.Hour)
	b := other.Date.Truncate(24 * time.Hour)
	delta := int(a.Sub(b).Hours() / 24)
	if delta < 0 {
		delta = -delta
	}
	return delta
}

// AmountDelta returns the absolute difference between the record's amount
// and the other record's amount.
func (r *Record) AmountDelta(other *Record) decimal.Decimal {
	return r.Amount.Sub(other.Amount).Abs()
}
