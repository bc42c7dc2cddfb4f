package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearline/recon/internal/common"
	"github.com/clearline/recon/internal/events"
	"github.com/clearline/recon/internal/model"
	"github.com/clearline/recon/internal/storage"
)

type stubAnalyzer struct {
	fn func(ctx context.Context, session *model.Session, records []model.Record) ([]model.AnalysisResult, error)
}

func (s *stubAnalyzer) Analyze(ctx context.Context, session *model.Session, records []model.Record) ([]model.AnalysisResult, error) {
	return s.fn(ctx, session, records)
}

func resultFor(recordID string) model.AnalysisResult {
	return model.AnalysisResult{
		ID:              "res-" + recordID,
		RecordID:        recordID,
		Category:        model.CauseMissingCounterparty,
		Severity:        model.SeverityMedium,
		SuggestedAction: "check counterparty feed",
		Confidence:      0.8,
		Timestamp:       time.Now().UTC(),
	}
}

func seedSession(t *testing.T, store *storage.MemoryStore, recordIDs ...string) *model.Session {
	t.Helper()
	ctx := context.Background()

	session := &model.Session{
		ID:        "sess-1",
		Status:    model.SessionOpen,
		CreatedAt: time.Now().UTC(),
		Rules:     model.DefaultRuleConfig(),
	}
	require.NoError(t, store.CreateSession(ctx, session))

	var records []model.Record
	for i, id := range recordIDs {
		records = append(records, model.Record{
			ID:        id,
			ImportSeq: i,
			Date:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			Amount:    decimal.NewFromInt(100),
			Currency:  "USD",
			Type:      model.TypeDebit,
			Source:    model.SourceLedger,
			Status:    model.StatusUnmatched,
		})
	}
	require.NoError(t, store.SaveRecords(ctx, session.ID, records))
	return session
}

func testConfig(timeout time.Duration) Config {
	return Config{
		Timeout: timeout,
		Retry: common.RetryOptions{
			MaxAttempts:  1,
			InitialDelay: time.Millisecond,
		},
	}
}

func TestSubmitAndComplete(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedSession(t, store, "R1", "R2")

	analyzer := &stubAnalyzer{fn: func(_ context.Context, _ *model.Session, records []model.Record) ([]model.AnalysisResult, error) {
		var results []model.AnalysisResult
		for _, r := range records {
			results = append(results, resultFor(r.ID))
		}
		return results, nil
	}}

	bus := events.NewBus()
	started, cancelStarted := bus.Subscribe(events.AnalysisStarted)
	defer cancelStarted()
	completed, cancelCompleted := bus.Subscribe(events.AnalysisCompleted)
	defer cancelCompleted()

	d := New(store, analyzer, bus, testConfig(5*time.Second))

	task, err := d.Submit(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, task.RecordIDs, 2)
	assert.Empty(t, task.Rejected)

	select {
	case e := <-started:
		assert.Equal(t, task.ID, e.TaskID)
	case <-time.After(time.Second):
		t.Fatal("expected started event")
	}

	d.Wait()

	select {
	case e := <-completed:
		assert.Equal(t, task.ID, e.TaskID)
		assert.Len(t, e.Results, 2)
	case <-time.After(time.Second):
		t.Fatal("expected completed event")
	}

	for _, id := range []string{"R1", "R2"} {
		rec, err := store.GetRecord(ctx, "sess-1", id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusAnalyzing, rec.Status)
		require.NotNil(t, rec.Analysis)
		assert.Equal(t, id, rec.Analysis.RecordID)
		assert.False(t, d.InFlight("sess-1", id), "lock for %s not released", id)
	}
}

func TestSubmitDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedSession(t, store, "R1", "R2")

	gate := make(chan struct{})
	analyzer := &stubAnalyzer{fn: func(_ context.Context, _ *model.Session, records []model.Record) ([]model.AnalysisResult, error) {
		<-gate
		var results []model.AnalysisResult
		for _, r := range records {
			results = append(results, resultFor(r.ID))
		}
		return results, nil
	}}

	d := New(store, analyzer, events.NewBus(), testConfig(5*time.Second))

	first, err := d.Submit(ctx, "sess-1", "R1")
	require.NoError(t, err)
	require.Len(t, first.RecordIDs, 1)
	assert.True(t, d.InFlight("sess-1", "R1"))

	// R1 is already in flight: it is rejected, not queued, while R2 still
	// goes out.
	second, err := d.Submit(ctx, "sess-1", "R1", "R2")
	require.NoError(t, err)
	assert.Equal(t, []string{"R2"}, second.RecordIDs)
	assert.Equal(t, []string{"R1"}, second.Rejected)

	// A submission with no eligible records fails outright.
	_, err = d.Submit(ctx, "sess-1", "R1")
	require.Error(t, err)
	var analysisErr *common.AnalysisError
	assert.ErrorAs(t, err, &analysisErr)

	close(gate)
	d.Wait()
}

func TestSubmitClosedSession(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedSession(t, store, "R1")
	require.NoError(t, store.CloseSession(ctx, "sess-1", time.Now().UTC()))

	d := New(store, &stubAnalyzer{}, events.NewBus(), testConfig(time.Second))

	_, err := d.Submit(ctx, "sess-1")
	assert.ErrorIs(t, err, common.ErrSessionClosed)
}

func TestTimeoutRevertsAndDiscardsLateResult(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedSession(t, store, "R1")

	gate := make(chan struct{})
	analyzer := &stubAnalyzer{fn: func(_ context.Context, _ *model.Session, _ []model.Record) ([]model.AnalysisResult, error) {
		<-gate
		return []model.AnalysisResult{resultFor("R1")}, nil
	}}

	bus := events.NewBus()
	failed, cancelFailed := bus.Subscribe(events.AnalysisFailed)
	defer cancelFailed()

	d := New(store, analyzer, bus, testConfig(50*time.Millisecond))

	task, err := d.Submit(ctx, "sess-1", "R1")
	require.NoError(t, err)

	d.Wait()

	select {
	case e := <-failed:
		assert.Equal(t, task.ID, e.TaskID)
		assert.Equal(t, model.ReasonAnalysisTimeout, e.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected failed event")
	}

	rec, err := store.GetRecord(ctx, "sess-1", "R1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnmatched, rec.Status)
	assert.Equal(t, model.ReasonAnalysisTimeout, rec.StatusReason)
	assert.False(t, d.InFlight("sess-1", "R1"))

	// Let the analyzer finish after the timeout; its late result must be
	// discarded, never attached.
	close(gate)
	time.Sleep(50 * time.Millisecond)

	rec, err = store.GetRecord(ctx, "sess-1", "R1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnmatched, rec.Status)
	assert.Nil(t, rec.Analysis)
}

func TestAnalyzerFailureReverts(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedSession(t, store, "R1")

	analyzer := &stubAnalyzer{fn: func(_ context.Context, _ *model.Session, _ []model.Record) ([]model.AnalysisResult, error) {
		return nil, errors.New("service unavailable")
	}}

	bus := events.NewBus()
	failed, cancelFailed := bus.Subscribe(events.AnalysisFailed)
	defer cancelFailed()

	d := New(store, analyzer, bus, testConfig(5*time.Second))

	_, err := d.Submit(ctx, "sess-1", "R1")
	require.NoError(t, err)
	d.Wait()

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("expected failed event")
	}

	rec, err := store.GetRecord(ctx, "sess-1", "R1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnmatched, rec.Status)
	assert.Equal(t, model.ReasonAnalysisTimeout, rec.StatusReason)
}

func TestAnalyzerRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedSession(t, store, "R1")

	attempts := 0
	analyzer := &stubAnalyzer{fn: func(_ context.Context, _ *model.Session, _ []model.Record) ([]model.AnalysisResult, error) {
		attempts++
		if attempts < 3 {
			return nil, fmt.Errorf("transient failure %d", attempts)
		}
		return []model.AnalysisResult{resultFor("R1")}, nil
	}}

	cfg := testConfig(5 * time.Second)
	cfg.Retry.MaxAttempts = 3

	d := New(store, analyzer, events.NewBus(), cfg)

	_, err := d.Submit(ctx, "sess-1", "R1")
	require.NoError(t, err)
	d.Wait()

	assert.Equal(t, 3, attempts)
	rec, err := store.GetRecord(ctx, "sess-1", "R1")
	require.NoError(t, err)
	require.NotNil(t, rec.Analysis)
}

func TestCompleteDiscardsForClosedSession(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedSession(t, store, "R1")

	gate := make(chan struct{})
	analyzer := &stubAnalyzer{fn: func(_ context.Context, _ *model.Session, _ []model.Record) ([]model.AnalysisResult, error) {
		<-gate
		return []model.AnalysisResult{resultFor("R1")}, nil
	}}

	bus := events.NewBus()
	failed, cancelFailed := bus.Subscribe(events.AnalysisFailed)
	defer cancelFailed()

	d := New(store, analyzer, bus, testConfig(5*time.Second))

	_, err := d.Submit(ctx, "sess-1", "R1")
	require.NoError(t, err)

	// Force-close the session while the task is in flight, then let the
	// analyzer return.
	require.NoError(t, store.CloseSession(ctx, "sess-1", time.Now().UTC()))
	close(gate)
	d.Wait()

	select {
	case e := <-failed:
		assert.Equal(t, "session closed", e.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected failed event")
	}

	rec, err := store.GetRecord(ctx, "sess-1", "R1")
	require.NoError(t, err)
	assert.Nil(t, rec.Analysis)
}
