// Package storage provides durable session storage with read-your-writes
// consistency and optimistic record versioning.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/clearline/recon/internal/model"
)

// RecordUpdate is one status change produced by a reconciliation pass.
type RecordUpdate struct {
	RecordID        string
	Status          model.RecordStatus
	Reason          string
	MatchedWith     string
	DuplicateOf     string
	ExpectedVersion int64
}

// ExportFilter narrows the exception export. Zero value exports every
// exception (any record not cleanly matched).
type ExportFilter struct {
	Statuses []model.RecordStatus
}

func (f ExportFilter) matches(s model.RecordStatus) bool {
	if len(f.Statuses) == 0 {
		return s != model.StatusMatched
	}
	for _, want := range f.Statuses {
		if s == want {
			return true
		}
	}
	return false
}

// SessionStore is the durable collection of sessions, records, statuses,
// and analysis results per reconciliation run.
type SessionStore interface {
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	CloseSession(ctx context.Context, sessionID string, at time.Time) error

	SaveRecords(ctx context.Context, sessionID string, records []model.Record) error
	GetRecord(ctx context.Context, sessionID, recordID string) (*model.Record, error)
	ListRecords(ctx context.Context, sessionID string) ([]model.Record, error)

	// ApplyPass persists the status changes of a completed reconciliation
	// pass. Every update carries the version the pass observed; a mismatch
	// fails the whole batch with a StateError.
	ApplyPass(ctx context.Context, sessionID string, updates []RecordUpdate) error

	// TransitionRecord applies a single optimistic status change.
	TransitionRecord(ctx context.Context, sessionID, recordID string, from, to model.RecordStatus, reason string, version int64) (*model.Record, error)

	// AttachAnalysis stores an analysis result against a record without
	// changing its status.
	AttachAnalysis(ctx context.Context, sessionID, recordID string, result model.AnalysisResult) (*model.Record, error)

	AppendAudit(ctx context.Context, entry model.AuditEntry) error
	ListAudit(ctx context.Context, sessionID string) ([]model.AuditEntry, error)

	ExportExceptions(ctx context.Context, sessionID string, filter ExportFilter) ([]model.ExceptionRow, error)

	Close() error
}

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	return nil
}

func validateString(value, name string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

// issueFor renders the export issue column for an exception record.
func issueFor(r model.Record) string {
	switch r.Status {
	case model.StatusDuplicate:
		return fmt.Sprintf("duplicate of %s", r.DuplicateOf)
	case model.StatusInvalid:
		return r.StatusReason
	case model.StatusUnmatched:
		if r.StatusReason != "" {
			return r.StatusReason
		}
		return "no counterpart found"
	case model.StatusAnalyzing:
		return "root-cause analysis pending"
	case model.StatusResolved:
		if r.Analysis != nil {
			return fmt.Sprintf("resolved: %s", r.Analysis.Category)
		}
		return "resolved"
	default:
		return string(r.Status)
	}
}
