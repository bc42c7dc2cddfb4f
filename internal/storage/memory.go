package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clearline/recon/internal/common"
	"github.com/clearline/recon/internal/model"
)

// MemoryStore implements SessionStore using in-memory storage. It is
// suitable for single-instance runs and tests; use SQLiteStore for
// durable sessions.
type MemoryStore struct {
	sessions map[string]*model.Session
	records  map[string]map[string]*model.Record // sessionID -> recordID -> record
	audit    []model.AuditEntry
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		records:  make(map[string]map[string]*model.Record),
	}
}

// CreateSession creates a new reconciliation session.
func (s *MemoryStore) CreateSession(ctx context.Context, session *model.Session) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if err := validateString(session.ID, "session ID"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("%w: session %s", common.ErrDuplicateEntry, session.ID)
	}

	sessionCopy := *session
	s.sessions[session.ID] = &sessionCopy
	s.records[session.ID] = make(map[string]*model.Record)
	return nil
}

// GetSession retrieves a session by ID.
func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(sessionID, "session ID"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: session %s", common.ErrNotFound, sessionID)
	}
	sessionCopy := *session
	return &sessionCopy, nil
}

// CloseSession marks a session closed. No further record mutation is
// permitted afterwards except audit-logged overrides.
func (s *MemoryStore) CloseSession(ctx context.Context, sessionID string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return fmt.Errorf("%w: session %s", common.ErrNotFound, sessionID)
	}
	if session.Status == model.SessionClosed {
		return common.ErrSessionClosed
	}
	session.Status = model.SessionClosed
	session.ClosedAt = &at
	return nil
}

// SaveRecords stores records into a session.
func (s *MemoryStore) SaveRecords(ctx context.Context, sessionID string, records []model.Record) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return fmt.Errorf("%w: session %s", common.ErrNotFound, sessionID)
	}
	if session.Status == model.SessionClosed {
		return common.ErrSessionClosed
	}

	byID := s.records[sessionID]
	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record ID is required")
		}
		if _, dup := byID[rec.ID]; dup {
			return fmt.Errorf("%w: record %s", common.ErrDuplicateEntry, rec.ID)
		}
	}
	for _, rec := range records {
		recCopy := rec
		byID[rec.ID] = &recCopy
	}
	return nil
}

// GetRecord retrieves a single record.
func (s *MemoryStore) GetRecord(ctx context.Context, sessionID, recordID string) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(recordID, "record ID"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getRecordLocked(sessionID, recordID)
}

func (s *MemoryStore) getRecordLocked(sessionID, recordID string) (*model.Record, error) {
	byID, exists := s.records[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: session %s", common.ErrNotFound, sessionID)
	}
	rec, exists := byID[recordID]
	if !exists {
		return nil, fmt.Errorf("%w: record %s", common.ErrNotFound, recordID)
	}
	recCopy := *rec
	return &recCopy, nil
}

// ListRecords returns all records of a session in import order.
func (s *MemoryStore) ListRecords(ctx context.Context, sessionID string) ([]model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	byID, exists := s.records[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: session %s", common.ErrNotFound, sessionID)
	}

	records := make([]model.Record, 0, len(byID))
	for _, rec := range byID {
		records = append(records, *rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ImportSeq < records[j].ImportSeq
	})
	return records, nil
}

// ApplyPass persists the status changes of a reconciliation pass. The
// whole batch is checked against the observed versions before anything is
// written, so a concurrent transition fails the pass cleanly.
func (s *MemoryStore) ApplyPass(ctx context.Context, sessionID string, updates []RecordUpdate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return fmt.Errorf("%w: session %s", common.ErrNotFound, sessionID)
	}
	if session.Status == model.SessionClosed {
		return common.ErrSessionClosed
	}

	byID := s.records[sessionID]
	for _, u := range updates {
		rec, recExists := byID[u.RecordID]
		if !recExists {
			return fmt.Errorf("%w: record %s", common.ErrNotFound, u.RecordID)
		}
		if rec.Version != u.ExpectedVersion {
			return common.NewStateError(u.RecordID, string(rec.Status), string(u.Status), "version mismatch")
		}
	}
	for _, u := range updates {
		rec := byID[u.RecordID]
		rec.Status = u.Status
		rec.StatusReason = u.Reason
		rec.MatchedWith = u.MatchedWith
		rec.DuplicateOf = u.DuplicateOf
		rec.Version++
	}
	return nil
}

// TransitionRecord applies a single optimistic status change.
func (s *MemoryStore) TransitionRecord(ctx context.Context, sessionID, recordID string, from, to model.RecordStatus, reason string, version int64) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: session %s", common.ErrNotFound, sessionID)
	}
	if session.Status == model.SessionClosed {
		return nil, common.ErrSessionClosed
	}

	byID := s.records[sessionID]
	rec, recExists := byID[recordID]
	if !recExists {
		return nil, fmt.Errorf("%w: record %s", common.ErrNotFound, recordID)
	}
	if rec.Status != from || rec.Version != version {
		return nil, common.NewStateError(recordID, string(rec.Status), string(to), "observed state is stale")
	}

	rec.Status = to
	rec.StatusReason = reason
	rec.Version++
	recCopy := *rec
	return &recCopy, nil
}

// AttachAnalysis stores an analysis result on a record without changing
// its status.
func (s *MemoryStore) AttachAnalysis(ctx context.Context, sessionID, recordID string, result model.AnalysisResult) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID, exists := s.records[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: session %s", common.ErrNotFound, sessionID)
	}
	rec, recExists := byID[recordID]
	if !recExists {
		return nil, fmt.Errorf("%w: record %s", common.ErrNotFound, recordID)
	}

	resultCopy := result
	rec.Analysis = &resultCopy
	rec.Version++
	recCopy := *rec
	return &recCopy, nil
}

// AppendAudit records an operator override.
func (s *MemoryStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// ListAudit returns the audit trail for a session.
func (s *MemoryStore) ListAudit(ctx context.Context, sessionID string) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.AuditEntry
	for _, e := range s.audit {
		if e.SessionID == sessionID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// ExportExceptions returns the exception rows for a session in import
// order.
func (s *MemoryStore) ExportExceptions(ctx context.Context, sessionID string, filter ExportFilter) ([]model.ExceptionRow, error) {
	records, err := s.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var rows []model.ExceptionRow
	for _, r := range records {
		if !filter.matches(r.Status) {
			continue
		}
		rows = append(rows, model.ExceptionRow{
			RecordID:    r.ID,
			Date:        r.Date,
			Description: r.Description,
			Amount:      r.Amount,
			Currency:    r.Currency,
			Status:      r.Status,
			Issue:       issueFor(r),
		})
	}
	return rows, nil
}

// Close releases the store. It is a no-op for the memory implementation.
func (s *MemoryStore) Close() error {
	return nil
}
