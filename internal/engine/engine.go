// Package engine orchestrates reconciliation sessions: importing records,
// running matching passes, dispatching exceptions for analysis, and
// exporting results.
package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clearline/recon/internal/classify"
	"github.com/clearline/recon/internal/common"
	"github.com/clearline/recon/internal/dedupe"
	"github.com/clearline/recon/internal/dispatch"
	"github.com/clearline/recon/internal/matcher"
	"github.com/clearline/recon/internal/model"
	"github.com/clearline/recon/internal/stats"
	"github.com/clearline/recon/internal/storage"
)

// Submitter is the slice of the dispatcher the engine needs.
type Submitter interface {
	Submit(ctx context.Context, sessionID string, recordIDs ...string) (*dispatch.Task, error)
}

// Engine exposes the reconciliation operation set.
type Engine struct {
	store        storage.SessionStore
	submitter    Submitter
	defaultRules model.RuleConfig
}

// New creates an engine. The default rules apply to sessions created
// implicitly by ImportRecords and are validated on first use.
func New(store storage.SessionStore, submitter Submitter, defaultRules model.RuleConfig) *Engine {
	return &Engine{
		store:        store,
		submitter:    submitter,
		defaultRules: defaultRules,
	}
}

// ImportResult is the outcome of an import operation.
type ImportResult struct {
	SessionID string
	Records   []model.Record
	RowErrors []model.RowError
}

// StartSession validates the rule configuration and creates a session.
// An invalid config rejects the whole session.
func (e *Engine) StartSession(ctx context.Context, rules model.RuleConfig) (*model.Session, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	session := &model.Session{
		ID:        uuid.New().String(),
		Rules:     rules,
		Status:    model.SessionOpen,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("Started reconciliation session",
		"session_id", session.ID,
		"amount_tolerance", rules.AmountTolerance.String(),
		"date_tolerance_days", rules.DateToleranceDays)
	return session, nil
}

// ImportRecords hands parsed records to a session, creating one with the
// default rules when sessionID is empty. Row errors from parsing are
// passed through; they never abort the import.
func (e *Engine) ImportRecords(ctx context.Context, sessionID string, records []model.Record, rowErrors []model.RowError) (*ImportResult, error) {
	var session *model.Session
	var err error
	if sessionID == "" {
		session, err = e.StartSession(ctx, e.defaultRules)
	} else {
		session, err = e.store.GetSession(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}
	if session.IsClosed() {
		return nil, common.ErrSessionClosed
	}

	existing, err := e.store.ListRecords(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	prepared := make([]model.Record, 0, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		rec.Status = model.StatusUnmatched
		rec.StatusReason = ""
		rec.Version = 0
		rec.ImportSeq = len(existing) + i
		prepared = append(prepared, rec)
	}

	if err := e.store.SaveRecords(ctx, session.ID, prepared); err != nil {
		return nil, fmt.Errorf("failed to save records: %w", err)
	}

	slog.Info("Imported records",
		"session_id", session.ID,
		"imported", len(prepared),
		"row_errors", len(rowErrors))
	return &ImportResult{
		SessionID: session.ID,
		Records:   prepared,
		RowErrors: rowErrors,
	}, nil
}

// RunMatch executes a full synchronous reconciliation pass over a
// snapshot of the session's records: invalid checks, matching, duplicate
// detection, classification, and aggregation. The pass is deterministic;
// re-running it on an unchanged session yields identical statuses.
func (e *Engine) RunMatch(ctx context.Context, sessionID string) (model.Summary, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.Summary{}, err
	}
	if session.IsClosed() {
		return model.Summary{}, common.ErrSessionClosed
	}
	if err := session.Rules.Validate(); err != nil {
		return model.Summary{}, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	snapshot, err := e.store.ListRecords(ctx, sessionID)
	if err != nil {
		return model.Summary{}, err
	}
	if len(snapshot) == 0 {
		return model.Summary{}, common.ErrNoRecords
	}

	observed := make(map[string]model.Record, len(snapshot))
	for _, r := range snapshot {
		observed[r.ID] = r
	}

	final := runPass(snapshot, session.Rules)

	// Persist only the deltas, carrying the versions the pass observed so
	// concurrent transitions fail the batch instead of being overwritten.
	var updates []storage.RecordUpdate
	for _, r := range final {
		before := observed[r.ID]
		if before.Status == r.Status && before.StatusReason == r.StatusReason &&
			before.MatchedWith == r.MatchedWith && before.DuplicateOf == r.DuplicateOf {
			continue
		}
		updates = append(updates, storage.RecordUpdate{
			RecordID:        r.ID,
			Status:          r.Status,
			Reason:          r.StatusReason,
			MatchedWith:     r.MatchedWith,
			DuplicateOf:     r.DuplicateOf,
			ExpectedVersion: before.Version,
		})
	}
	if len(updates) > 0 {
		if err := e.store.ApplyPass(ctx, sessionID, updates); err != nil {
			return model.Summary{}, err
		}
	}

	summary := stats.Summarize(final)
	slog.Info("Reconciliation pass complete",
		"session_id", sessionID,
		"total", summary.Total,
		"matched", summary.MatchedCount,
		"unmatched", summary.UnmatchedCount,
		"duplicates", summary.DuplicateCount,
		"invalid", summary.InvalidCount)
	return summary, nil
}

// runPass computes the classification outcome of one pass over a record
// snapshot. Pure function; the caller persists the result.
func runPass(snapshot []model.Record, rules model.RuleConfig) []model.Record {
	p := classify.PartitionSnapshot(snapshot)

	var source, target []model.Record
	for _, r := range p.Eligible {
		if r.Source == model.SourceLedger {
			source = append(source, r)
		} else {
			target = append(target, r)
		}
	}

	matchResult := matcher.Match(source, target, rules)

	byID := make(map[string]*model.Record, len(snapshot))
	final := make([]model.Record, 0, len(snapshot))
	final = append(final, p.Carried...)
	final = append(final, p.Invalid...)
	final = append(final, p.Eligible...)
	for i := range final {
		byID[final[i].ID] = &final[i]
	}

	var matched []model.Record
	for _, pair := range matchResult.Pairs {
		src, tgt := byID[pair.SourceID], byID[pair.TargetID]
		src.Status = model.StatusMatched
		src.MatchedWith = tgt.ID
		tgt.Status = model.StatusMatched
		tgt.MatchedWith = src.ID
		matched = append(matched, *src, *tgt)
	}

	var leftovers []model.Record
	leftovers = append(leftovers, matchResult.UnmatchedSource...)
	leftovers = append(leftovers, matchResult.UnmatchedTarget...)

	for _, pair := range dedupe.Detect(leftovers, matched, rules) {
		dup := byID[pair.DuplicateID]
		dup.Status = model.StatusDuplicate
		dup.DuplicateOf = pair.CanonicalID
		dup.StatusReason = ""
	}

	return final
}

// AnalyzeExceptions submits unresolved records for root-cause analysis.
// With no explicit record ids, every unmatched record is submitted.
func (e *Engine) AnalyzeExceptions(ctx context.Context, sessionID string, recordIDs ...string) (string, error) {
	task, err := e.submitter.Submit(ctx, sessionID, recordIDs...)
	if err != nil {
		return "", err
	}
	if len(task.Rejected) > 0 {
		slog.Warn("Some records were not submitted for analysis",
			"session_id", sessionID,
			"task_id", task.ID,
			"rejected", task.Rejected)
	}
	return task.ID, nil
}

// ApplyAction accepts an analysis suggestion, moving the record from
// analyzing to resolved.
func (e *Engine) ApplyAction(ctx context.Context, sessionID, recordID, action string) (*model.Record, error) {
	rec, err := e.store.GetRecord(ctx, sessionID, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusAnalyzing {
		return nil, common.NewStateError(recordID, string(rec.Status), string(model.StatusResolved), "record is not under analysis")
	}
	if rec.Analysis == nil {
		return nil, common.NewStateError(recordID, string(rec.Status), string(model.StatusResolved), "no analysis result attached")
	}

	updated, err := e.store.TransitionRecord(ctx, sessionID, recordID,
		model.StatusAnalyzing, model.StatusResolved, action, rec.Version)
	if err != nil {
		return nil, err
	}

	slog.Info("Applied analysis action",
		"session_id", sessionID,
		"record_id", recordID,
		"action", action)
	return updated, nil
}

// DismissAnalysis rejects an analysis suggestion, returning the record to
// unmatched.
func (e *Engine) DismissAnalysis(ctx context.Context, sessionID, recordID string) (*model.Record, error) {
	rec, err := e.store.GetRecord(ctx, sessionID, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusAnalyzing {
		return nil, common.NewStateError(recordID, string(rec.Status), string(model.StatusUnmatched), "record is not under analysis")
	}
	return e.store.TransitionRecord(ctx, sessionID, recordID,
		model.StatusAnalyzing, model.StatusUnmatched, model.ReasonDismissed, rec.Version)
}

// ReopenRecord moves a resolved record back to unmatched. The override is
// audit-logged.
func (e *Engine) ReopenRecord(ctx context.Context, sessionID, recordID, operator string) (*model.Record, error) {
	rec, err := e.store.GetRecord(ctx, sessionID, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusResolved {
		return nil, common.NewStateError(recordID, string(rec.Status), string(model.StatusUnmatched), "only resolved records can be reopened")
	}

	updated, err := e.store.TransitionRecord(ctx, sessionID, recordID,
		model.StatusResolved, model.StatusUnmatched, model.ReasonReopened, rec.Version)
	if err != nil {
		return nil, err
	}

	if err := e.store.AppendAudit(ctx, model.AuditEntry{
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		RecordID:  recordID,
		Action:    "reopen",
		Detail:    fmt.Sprintf("reopened by %s", operator),
	}); err != nil {
		slog.Warn("Failed to write audit entry", "record_id", recordID, "error", err)
	}
	return updated, nil
}

// CloseSession stops new analysis submissions for the session. Results of
// requests already in flight are discarded when they arrive.
func (e *Engine) CloseSession(ctx context.Context, sessionID string, force bool) error {
	records, err := e.store.ListRecords(ctx, sessionID)
	if err != nil {
		return err
	}

	if !force {
		for _, r := range records {
			if !r.Status.IsTerminal() {
				return common.NewStateError(r.ID, string(r.Status), "", "session has non-terminal records; use force to close anyway")
			}
		}
	}

	if err := e.store.CloseSession(ctx, sessionID, time.Now().UTC()); err != nil {
		return err
	}
	if force {
		if err := e.store.AppendAudit(ctx, model.AuditEntry{
			Timestamp: time.Now().UTC(),
			SessionID: sessionID,
			Action:    "force_close",
		}); err != nil {
			slog.Warn("Failed to write audit entry", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// ExportExceptions writes the session's exceptions as CSV rows with the
// columns recordId, date, description, amount, currency, status, issue.
func (e *Engine) ExportExceptions(ctx context.Context, sessionID string, w io.Writer) error {
	rows, err := e.store.ExportExceptions(ctx, sessionID, storage.ExportFilter{})
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"recordId", "date", "description", "amount", "currency", "status", "issue"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.RecordID,
			row.Date.Format("2006-01-02"),
			row.Description,
			row.Amount.String(),
			row.Currency,
			string(row.Status),
			row.Issue,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
