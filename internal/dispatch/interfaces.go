// Package dispatch submits unresolved records to the external root-cause
// analysis service, tracks in-flight requests, and merges completion
// events back into record state.
package dispatch

import (
	"context"

	"github.com/clearline/recon/internal/events"
	"github.com/clearline/recon/internal/model"
)

// RecordStore is the subset of session storage the dispatcher needs.
type RecordStore interface {
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	GetRecord(ctx context.Context, sessionID, recordID string) (*model.Record, error)
	ListRecords(ctx context.Context, sessionID string) ([]model.Record, error)
	// TransitionRecord applies a status change only if the record's current
	// status and version match the expected values.
	TransitionRecord(ctx context.Context, sessionID, recordID string, from, to model.RecordStatus, reason string, version int64) (*model.Record, error)
	// AttachAnalysis stores an analysis result against a record without
	// changing its status.
	AttachAnalysis(ctx context.Context, sessionID, recordID string, result model.AnalysisResult) (*model.Record, error)
}

// Analyzer is the client contract for the external analysis service. The
// natural-language generation inside the service is not modeled here; the
// dispatcher only consumes its structured output.
type Analyzer interface {
	Analyze(ctx context.Context, session *model.Session, records []model.Record) ([]model.AnalysisResult, error)
}

// Publisher delivers analysis lifecycle events.
type Publisher interface {
	Publish(e events.Event)
}
