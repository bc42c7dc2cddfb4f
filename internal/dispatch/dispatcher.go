package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearline/recon/internal/common"
	"github.com/clearline/recon/internal/events"
	"github.com/clearline/recon/internal/model"
)

// Config tunes dispatcher behavior.
type Config struct {
	// Timeout bounds how long a task waits for the analysis service before
	// reverting its records to unmatched.
	Timeout time.Duration
	// Retry configures backoff for analyzer calls within the timeout.
	Retry common.RetryOptions
}

// DefaultConfig returns the dispatcher configuration used when none is
// provided.
func DefaultConfig() Config {
	return Config{
		Timeout: 2 * time.Minute,
		Retry: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
		},
	}
}

// Task identifies one submission to the analysis service.
type Task struct {
	ID        string
	SessionID string
	RecordIDs []string
	// Rejected lists record ids that could not be submitted, typically
	// because an analysis request was already in flight for them.
	Rejected []string
}

// Dispatcher enforces at most one in-flight analysis request per record
// and merges asynchronous completion events back into record state.
type Dispatcher struct {
	store    RecordStore
	analyzer Analyzer
	bus      Publisher
	inflight map[string]string // session/record key -> task id
	cfg      Config
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// New creates a dispatcher.
func New(store RecordStore, analyzer Analyzer, bus Publisher, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Dispatcher{
		store:    store,
		analyzer: analyzer,
		bus:      bus,
		cfg:      cfg,
		inflight: make(map[string]string),
	}
}

func lockKey(sessionID, recordID string) string {
	return sessionID + "/" + recordID
}

// Submit sends the given unmatched records for root-cause analysis and
// returns the tracking task. Records already under analysis are rejected,
// not queued; the remaining eligible records still go out. When recordIDs
// is empty, every unmatched record in the session is submitted.
func (d *Dispatcher) Submit(ctx context.Context, sessionID string, recordIDs ...string) (*Task, error) {
	session, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.IsClosed() {
		return nil, common.ErrSessionClosed
	}

	if len(recordIDs) == 0 {
		records, listErr := d.store.ListRecords(ctx, sessionID)
		if listErr != nil {
			return nil, fmt.Errorf("failed to list records: %w", listErr)
		}
		for _, r := range records {
			if r.Status == model.StatusUnmatched {
				recordIDs = append(recordIDs, r.ID)
			}
		}
	}

	task := &Task{
		ID:        uuid.New().String(),
		SessionID: sessionID,
	}

	var accepted []model.Record
	for _, id := range recordIDs {
		rec, acceptErr := d.accept(ctx, sessionID, id, task.ID)
		if acceptErr != nil {
			slog.Warn("Rejecting analysis submission",
				"session_id", sessionID,
				"record_id", id,
				"error", acceptErr)
			task.Rejected = append(task.Rejected, id)
			continue
		}
		accepted = append(accepted, *rec)
		task.RecordIDs = append(task.RecordIDs, id)
	}

	if len(accepted) == 0 {
		return nil, common.NewAnalysisError(task.ID, "no eligible records", common.ErrInFlight)
	}

	d.bus.Publish(events.Event{
		Type:             events.AnalysisStarted,
		ReconciliationID: sessionID,
		TaskID:           task.ID,
	})

	d.wg.Add(1)
	go d.run(task, session, accepted)

	return task, nil
}

// accept claims the per-record in-flight lock and moves the record to
// analyzing. Both must succeed for the record to join the task.
func (d *Dispatcher) accept(ctx context.Context, sessionID, recordID, taskID string) (*model.Record, error) {
	rec, err := d.store.GetRecord(ctx, sessionID, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusUnmatched {
		return nil, common.NewStateError(recordID, string(rec.Status), string(model.StatusAnalyzing), "only unmatched records can be analyzed")
	}

	key := lockKey(sessionID, recordID)
	d.mu.Lock()
	if owner, held := d.inflight[key]; held {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: record %s held by task %s", common.ErrInFlight, recordID, owner)
	}
	d.inflight[key] = taskID
	d.mu.Unlock()

	updated, err := d.store.TransitionRecord(ctx, sessionID, recordID, model.StatusUnmatched, model.StatusAnalyzing, "", rec.Version)
	if err != nil {
		d.release(sessionID, recordID)
		return nil, err
	}
	return updated, nil
}

func (d *Dispatcher) release(sessionID string, recordIDs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range recordIDs {
		delete(d.inflight, lockKey(sessionID, id))
	}
}

type outcome struct {
	err     error
	results []model.AnalysisResult
}

// run executes one task: it calls the analyzer with retry, bounded by the
// configured timeout. On success the results are merged; on failure or
// timeout every submitted record falls back to unmatched with reason
// analysis_timeout. A result arriving after the timeout is discarded and
// logged, never reapplied.
func (d *Dispatcher) run(task *Task, session *model.Session, records []model.Record) {
	defer d.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outcomeCh := make(chan outcome, 1)
	go func() {
		var results []model.AnalysisResult
		err := common.WithRetry(ctx, func() error {
			var analyzeErr error
			results, analyzeErr = d.analyzer.Analyze(ctx, session, records)
			return analyzeErr
		}, d.cfg.Retry)
		outcomeCh <- outcome{results: results, err: err}
	}()

	timer := time.NewTimer(d.cfg.Timeout)
	defer timer.Stop()

	select {
	case out := <-outcomeCh:
		if out.err != nil {
			d.fail(ctx, task, records, out.err)
			return
		}
		d.complete(ctx, task, out.results)
	case <-timer.C:
		d.fail(ctx, task, records, common.ErrAnalysisTimeout)
		// The analyzer call may still return; its result must be discarded.
		go func() {
			out := <-outcomeCh
			slog.Warn("Discarding late analysis result",
				"task_id", task.ID,
				"session_id", task.SessionID,
				"results", len(out.results),
				"error", out.err)
		}()
	}
}

// complete attaches results to records still under analysis. Results for
// records no longer analyzing, or for a session closed in the meantime,
// are discarded and logged.
func (d *Dispatcher) complete(ctx context.Context, task *Task, results []model.AnalysisResult) {
	defer d.release(task.SessionID, task.RecordIDs...)

	session, err := d.store.GetSession(ctx, task.SessionID)
	if err == nil && session.IsClosed() {
		slog.Warn("Discarding analysis results for closed session",
			"task_id", task.ID,
			"session_id", task.SessionID,
			"results", len(results))
		d.bus.Publish(events.Event{
			Type:             events.AnalysisFailed,
			ReconciliationID: task.SessionID,
			TaskID:           task.ID,
			Reason:           "session closed",
		})
		return
	}

	var attached []model.AnalysisResult
	for _, res := range results {
		if err := res.Validate(); err != nil {
			slog.Warn("Discarding invalid analysis result",
				"task_id", task.ID,
				"record_id", res.RecordID,
				"error", err)
			continue
		}
		rec, getErr := d.store.GetRecord(ctx, task.SessionID, res.RecordID)
		if getErr != nil {
			slog.Warn("Discarding analysis result for unknown record",
				"task_id", task.ID,
				"record_id", res.RecordID,
				"error", getErr)
			continue
		}
		if rec.Status != model.StatusAnalyzing || !d.owns(task, res.RecordID) {
			slog.Warn("Discarding late analysis result for record no longer analyzing",
				"task_id", task.ID,
				"record_id", res.RecordID,
				"status", rec.Status)
			continue
		}
		if _, attachErr := d.store.AttachAnalysis(ctx, task.SessionID, res.RecordID, res); attachErr != nil {
			slog.Warn("Failed to attach analysis result",
				"task_id", task.ID,
				"record_id", res.RecordID,
				"error", attachErr)
			continue
		}
		attached = append(attached, res)
	}

	d.bus.Publish(events.Event{
		Type:             events.AnalysisCompleted,
		ReconciliationID: task.SessionID,
		TaskID:           task.ID,
		Results:          attached,
	})
}

// fail reverts every record in the task to unmatched with the timeout
// reason code and publishes the failure.
func (d *Dispatcher) fail(ctx context.Context, task *Task, records []model.Record, cause error) {
	defer d.release(task.SessionID, task.RecordIDs...)

	for _, rec := range records {
		current, err := d.store.GetRecord(ctx, task.SessionID, rec.ID)
		if err != nil || current.Status != model.StatusAnalyzing {
			continue
		}
		if _, err := d.store.TransitionRecord(ctx, task.SessionID, rec.ID,
			model.StatusAnalyzing, model.StatusUnmatched, model.ReasonAnalysisTimeout, current.Version); err != nil {
			slog.Warn("Failed to revert record after analysis failure",
				"task_id", task.ID,
				"record_id", rec.ID,
				"error", err)
		}
	}

	reason := model.ReasonAnalysisTimeout
	if !errors.Is(cause, common.ErrAnalysisTimeout) {
		reason = cause.Error()
	}
	d.bus.Publish(events.Event{
		Type:             events.AnalysisFailed,
		ReconciliationID: task.SessionID,
		TaskID:           task.ID,
		Reason:           reason,
	})
}

// owns reports whether the task still holds the in-flight lock for the
// record.
func (d *Dispatcher) owns(task *Task, recordID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight[lockKey(task.SessionID, recordID)] == task.ID
}

// InFlight reports whether any analysis request is outstanding for the
// record.
func (d *Dispatcher) InFlight(sessionID, recordID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, held := d.inflight[lockKey(sessionID, recordID)]
	return held
}

// Wait blocks until all in-flight tasks have finished. Intended for
// shutdown and tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
