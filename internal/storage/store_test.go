package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearline/recon/internal/common"
	"github.com/clearline/recon/internal/model"
)

// runStoreTests exercises the SessionStore contract against each
// implementation, so memory and SQLite cannot drift apart.
func runStoreTests(t *testing.T, open func(t *testing.T) SessionStore) {
	t.Helper()

	newSession := func(id string) *model.Session {
		return &model.Session{
			ID:        id,
			Status:    model.SessionOpen,
			CreatedAt: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
			Rules:     model.DefaultRuleConfig(),
		}
	}

	record := func(id string, seq int) model.Record {
		return model.Record{
			ID:          id,
			ImportSeq:   seq,
			Date:        time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			Description: "wire transfer",
			Amount:      decimal.RequireFromString("1250.75"),
			Currency:    "USD",
			Type:        model.TypeDebit,
			Source:      model.SourceLedger,
			Status:      model.StatusUnmatched,
		}
	}

	t.Run("session round trip", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		session := newSession("sess-1")
		session.Rules.AmountTolerance = decimal.RequireFromString("0.05")
		session.Rules.DateToleranceDays = 3
		require.NoError(t, store.CreateSession(ctx, session))

		got, err := store.GetSession(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, model.SessionOpen, got.Status)
		assert.True(t, got.Rules.AmountTolerance.Equal(decimal.RequireFromString("0.05")))
		assert.Equal(t, 3, got.Rules.DateToleranceDays)
		assert.Equal(t, session.Rules.MatchFields, got.Rules.MatchFields)
		assert.Nil(t, got.ClosedAt)

		err = store.CreateSession(ctx, newSession("sess-1"))
		assert.ErrorIs(t, err, common.ErrDuplicateEntry)

		_, err = store.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("close session", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.CreateSession(ctx, newSession("sess-1")))

		at := time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)
		require.NoError(t, store.CloseSession(ctx, "sess-1", at))

		got, err := store.GetSession(ctx, "sess-1")
		require.NoError(t, err)
		assert.True(t, got.IsClosed())
		require.NotNil(t, got.ClosedAt)

		assert.ErrorIs(t, store.CloseSession(ctx, "sess-1", at), common.ErrSessionClosed)
		assert.ErrorIs(t, store.SaveRecords(ctx, "sess-1", []model.Record{record("R1", 0)}), common.ErrSessionClosed)
	})

	t.Run("record round trip", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.CreateSession(ctx, newSession("sess-1")))

		recs := []model.Record{record("R1", 0), record("R2", 1)}
		require.NoError(t, store.SaveRecords(ctx, "sess-1", recs))

		got, err := store.GetRecord(ctx, "sess-1", "R1")
		require.NoError(t, err)
		assert.Equal(t, "wire transfer", got.Description)
		assert.True(t, got.Amount.Equal(decimal.RequireFromString("1250.75")))
		assert.Equal(t, model.StatusUnmatched, got.Status)
		assert.Equal(t, model.SourceLedger, got.Source)

		err = store.SaveRecords(ctx, "sess-1", []model.Record{record("R1", 2)})
		assert.ErrorIs(t, err, common.ErrDuplicateEntry)

		_, err = store.GetRecord(ctx, "sess-1", "missing")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("list records in import order", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.CreateSession(ctx, newSession("sess-1")))

		require.NoError(t, store.SaveRecords(ctx, "sess-1", []model.Record{
			record("ZULU", 0), record("ALPHA", 1), record("MIKE", 2),
		}))

		records, err := store.ListRecords(ctx, "sess-1")
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "ZULU", records[0].ID)
		assert.Equal(t, "ALPHA", records[1].ID)
		assert.Equal(t, "MIKE", records[2].ID)
	})

	t.Run("transition record", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.CreateSession(ctx, newSession("sess-1")))
		require.NoError(t, store.SaveRecords(ctx, "sess-1", []model.Record{record("R1", 0)}))

		updated, err := store.TransitionRecord(ctx, "sess-1", "R1",
			model.StatusUnmatched, model.StatusAnalyzing, "", 0)
		require.NoError(t, err)
		assert.Equal(t, model.StatusAnalyzing, updated.Status)
		assert.EqualValues(t, 1, updated.Version)

		// Stale version fails.
		_, err = store.TransitionRecord(ctx, "sess-1", "R1",
			model.StatusAnalyzing, model.StatusResolved, "", 0)
		var stateErr *common.StateError
		require.ErrorAs(t, err, &stateErr)

		// Wrong observed status fails even with the right version.
		_, err = store.TransitionRecord(ctx, "sess-1", "R1",
			model.StatusUnmatched, model.StatusMatched, "", 1)
		require.ErrorAs(t, err, &stateErr)
	})

	t.Run("apply pass", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.CreateSession(ctx, newSession("sess-1")))
		require.NoError(t, store.SaveRecords(ctx, "sess-1", []model.Record{
			record("L1", 0), record("B1", 1),
		}))

		updates := []RecordUpdate{
			{RecordID: "L1", Status: model.StatusMatched, MatchedWith: "B1", ExpectedVersion: 0},
			{RecordID: "B1", Status: model.StatusMatched, MatchedWith: "L1", ExpectedVersion: 0},
		}
		require.NoError(t, store.ApplyPass(ctx, "sess-1", updates))

		got, err := store.GetRecord(ctx, "sess-1", "L1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusMatched, got.Status)
		assert.Equal(t, "B1", got.MatchedWith)
		assert.EqualValues(t, 1, got.Version)

		// A stale version anywhere in the batch fails the whole pass.
		err = store.ApplyPass(ctx, "sess-1", []RecordUpdate{
			{RecordID: "L1", Status: model.StatusUnmatched, ExpectedVersion: 0},
		})
		var stateErr *common.StateError
		require.ErrorAs(t, err, &stateErr)
	})

	t.Run("attach analysis", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.CreateSession(ctx, newSession("sess-1")))
		require.NoError(t, store.SaveRecords(ctx, "sess-1", []model.Record{record("R1", 0)}))

		result := model.AnalysisResult{
			ID:               "res-1",
			RecordID:         "R1",
			Category:         model.CauseDateLag,
			Severity:         model.SeverityLow,
			SuggestedAction:  "wait for settlement",
			RelatedRecordIDs: []string{"B7", "B8"},
			Confidence:       0.9,
			Timestamp:        time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		}
		updated, err := store.AttachAnalysis(ctx, "sess-1", "R1", result)
		require.NoError(t, err)
		require.NotNil(t, updated.Analysis)
		assert.Equal(t, model.CauseDateLag, updated.Analysis.Category)
		assert.Equal(t, []string{"B7", "B8"}, updated.Analysis.RelatedRecordIDs)
		assert.Equal(t, model.StatusUnmatched, updated.Status, "attach must not change status")

		bad := result
		bad.Confidence = 1.5
		_, err = store.AttachAnalysis(ctx, "sess-1", "R1", bad)
		assert.Error(t, err)
	})

	t.Run("audit trail", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.CreateSession(ctx, newSession("sess-1")))

		entry := model.AuditEntry{
			SessionID: "sess-1",
			RecordID:  "R1",
			Action:    "reopen",
			Detail:    "operator override",
			Timestamp: time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC),
		}
		require.NoError(t, store.AppendAudit(ctx, entry))

		entries, err := store.ListAudit(ctx, "sess-1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "reopen", entries[0].Action)
		assert.Equal(t, "R1", entries[0].RecordID)

		other, err := store.ListAudit(ctx, "sess-2")
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("export exceptions", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.CreateSession(ctx, newSession("sess-1")))

		matched := record("L1", 0)
		matched.Status = model.StatusMatched
		matched.MatchedWith = "B1"
		unmatched := record("L2", 1)
		dup := record("B2", 2)
		dup.Status = model.StatusDuplicate
		dup.DuplicateOf = "B1"
		require.NoError(t, store.SaveRecords(ctx, "sess-1", []model.Record{matched, unmatched, dup}))

		rows, err := store.ExportExceptions(ctx, "sess-1", ExportFilter{})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "L2", rows[0].RecordID)
		assert.Equal(t, "no counterpart found", rows[0].Issue)
		assert.Equal(t, "B2", rows[1].RecordID)
		assert.Equal(t, "duplicate of B1", rows[1].Issue)

		only, err := store.ExportExceptions(ctx, "sess-1", ExportFilter{
			Statuses: []model.RecordStatus{model.StatusDuplicate},
		})
		require.NoError(t, err)
		require.Len(t, only, 1)
		assert.Equal(t, "B2", only[0].RecordID)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) SessionStore {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) SessionStore {
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "recon.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "recon.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	session := &model.Session{
		ID:        "sess-1",
		Status:    model.SessionOpen,
		CreatedAt: time.Now().UTC(),
		Rules:     model.DefaultRuleConfig(),
	}
	require.NoError(t, store.CreateSession(ctx, session))
	require.NoError(t, store.SaveRecords(ctx, "sess-1", []model.Record{{
		ID:       "R1",
		Date:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Amount:   decimal.NewFromInt(10),
		Currency: "USD",
		Type:     model.TypeDebit,
		Source:   model.SourceLedger,
		Status:   model.StatusUnmatched,
	}}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	records, err := reopened.ListRecords(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "R1", records[0].ID)
}
