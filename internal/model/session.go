package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a reconciliation session.
type SessionStatus string

// Session status constants.
const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// Session is a bounded unit of work pairing two record sets under one
// rule configuration. It owns all of its records and is the unit of
// concurrency control.
type Session struct {
	CreatedAt time.Time
	ClosedAt  *time.Time
	ID        string
	Status    SessionStatus
	Rules     RuleConfig
}

// IsClosed reports whether the session no longer accepts mutation.
func (s *Session) IsClosed() bool {
	return s.Status == SessionClosed
}

// MatchCandidate is a transient pairing produced during matching and
// discarded after classification.
type MatchCandidate struct {
	SourceID      string
	TargetID      string
	AmountDelta   decimal.Decimal
	DateDeltaDays int
}

// Summary holds session-level statistics derived from the full record
// set. It is never stored independently.
type Summary struct {
	Total           int
	MatchedCount    int
	UnmatchedCount  int
	DuplicateCount  int
	InvalidCount    int
	AnalyzingCount  int
	ResolvedCount   int
	MatchedAmount   decimal.Decimal
	UnmatchedAmount decimal.Decimal
}

// MatchRate returns the fraction of records that paired cleanly, in [0,1].
func (s Summary) MatchRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.MatchedCount) / float64(s.Total)
}

// RowError reports a single malformed input row. Row errors are collected
// and returned alongside successfully imported records; they never abort
// an import.
type RowError struct {
	Line   int
	Field  string
	Reason string
}

// ExceptionRow is one line of the exception export consumed by the
// reporting UI.
type ExceptionRow struct {
	RecordID    string
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Currency    string
	Status      RecordStatus
	Issue       string
}

// AuditEntry records an operator override, such as reopening a resolved
// record or force-closing a session.
type AuditEntry struct {
	Timestamp time.Time
	SessionID string
	RecordID  string
	Action    string
	Detail    string
}
