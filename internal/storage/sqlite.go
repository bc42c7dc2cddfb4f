package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearline/recon/internal/common"
	"github.com/clearline/recon/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements SessionStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite store and migrates its schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, dbPath: dbPath}
	if err := store.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func joinMatchFields(fields []model.MatchField) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}

func splitMatchFields(joined string) []model.MatchField {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	fields := make([]model.MatchField, len(parts))
	for i, p := range parts {
		fields[i] = model.MatchField(p)
	}
	return fields
}

// CreateSession creates a new reconciliation session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *model.Session) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if err := validateString(session.ID, "session ID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, status, amount_tolerance, date_tolerance_days, match_fields, duplicate_strictness, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		string(session.Status),
		session.Rules.AmountTolerance.String(),
		session.Rules.DateToleranceDays,
		joinMatchFields(session.Rules.MatchFields),
		string(session.Rules.DuplicateStrictness),
		session.CreatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: session %s", common.ErrDuplicateEntry, session.ID)
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(sessionID, "session ID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, amount_tolerance, date_tolerance_days, match_fields, duplicate_strictness, created_at, closed_at
		FROM sessions WHERE id = ?`, sessionID)

	var session model.Session
	var tolerance, fields, strictness, status string
	var closedAt sql.NullTime
	err := row.Scan(&session.ID, &status, &tolerance, &session.Rules.DateToleranceDays, &fields, &strictness, &session.CreatedAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", common.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	session.Status = model.SessionStatus(status)
	session.Rules.AmountTolerance, err = decimal.NewFromString(tolerance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount tolerance: %w", err)
	}
	session.Rules.MatchFields = splitMatchFields(fields)
	session.Rules.DuplicateStrictness = model.DuplicateStrictness(strictness)
	if closedAt.Valid {
		t := closedAt.Time
		session.ClosedAt = &t
	}
	return &session, nil
}

// CloseSession marks a session closed.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, closed_at = ? WHERE id = ? AND status = ?`,
		string(model.SessionClosed), at.UTC(), sessionID, string(model.SessionOpen))
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check close result: %w", err)
	}
	if affected == 0 {
		session, getErr := s.GetSession(ctx, sessionID)
		if getErr != nil {
			return getErr
		}
		if session.IsClosed() {
			return common.ErrSessionClosed
		}
		return fmt.Errorf("%w: session %s", common.ErrNotFound, sessionID)
	}
	return nil
}

func (s *SQLiteStore) sessionOpen(ctx context.Context, sessionID string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.IsClosed() {
		return common.ErrSessionClosed
	}
	return nil
}

// SaveRecords stores records into a session.
func (s *SQLiteStore) SaveRecords(ctx context.Context, sessionID string, records []model.Record) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := s.sessionOpen(ctx, sessionID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (session_id, id, date, description, amount, currency, type, source, status, status_reason, matched_with, duplicate_of, version, import_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record ID is required")
		}
		_, err := stmt.ExecContext(ctx,
			sessionID, rec.ID, rec.Date.UTC(), rec.Description, rec.Amount.String(),
			rec.Currency, string(rec.Type), string(rec.Source), string(rec.Status),
			rec.StatusReason, rec.MatchedWith, rec.DuplicateOf, rec.Version, rec.ImportSeq)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint") {
				return fmt.Errorf("%w: record %s", common.ErrDuplicateEntry, rec.ID)
			}
			return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

const recordColumns = `session_id, id, date, description, amount, currency, type, source, status, status_reason, matched_with, duplicate_of, version, import_seq`

func scanRecord(scanner interface{ Scan(...any) error }) (*model.Record, error) {
	var rec model.Record
	var sessionID, amount, recType, source, status string
	if err := scanner.Scan(&sessionID, &rec.ID, &rec.Date, &rec.Description, &amount,
		&rec.Currency, &recType, &source, &status, &rec.StatusReason,
		&rec.MatchedWith, &rec.DuplicateOf, &rec.Version, &rec.ImportSeq); err != nil {
		return nil, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount for record %s: %w", rec.ID, err)
	}
	rec.Amount = parsed
	rec.Type = model.RecordType(recType)
	rec.Source = model.RecordSource(source)
	rec.Status = model.RecordStatus(status)
	return &rec, nil
}

// GetRecord retrieves a single record with its latest analysis result.
func (s *SQLiteStore) GetRecord(ctx context.Context, sessionID, recordID string) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(recordID, "record ID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE session_id = ? AND id = ?`, sessionID, recordID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s", common.ErrNotFound, recordID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}

	if err := s.loadAnalysis(ctx, sessionID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) loadAnalysis(ctx context.Context, sessionID string, rec *model.Record) error {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, record_id, confidence, category, severity, suggested_action, related_record_ids, created_at
		FROM analysis_results WHERE session_id = ? AND record_id = ?
		ORDER BY created_at DESC LIMIT 1`, sessionID, rec.ID)

	var res model.AnalysisResult
	var category, severity, related string
	err := row.Scan(&res.ID, &res.RecordID, &res.Confidence, &category, &severity, &res.SuggestedAction, &related, &res.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query analysis result: %w", err)
	}
	res.Category = model.RootCauseCategory(category)
	res.Severity = model.Severity(severity)
	if related != "" {
		res.RelatedRecordIDs = strings.Split(related, ",")
	}
	rec.Analysis = &res
	return nil
}

// ListRecords returns all records of a session in import order.
func (s *SQLiteStore) ListRecords(ctx context.Context, sessionID string) ([]model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE session_id = ? ORDER BY import_seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.Record
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan record: %w", scanErr)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	for i := range records {
		if err := s.loadAnalysis(ctx, sessionID, &records[i]); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// ApplyPass persists the status changes of a reconciliation pass in one
// transaction. A version mismatch on any record fails the whole batch.
func (s *SQLiteStore) ApplyPass(ctx context.Context, sessionID string, updates []RecordUpdate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := s.sessionOpen(ctx, sessionID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range updates {
		res, execErr := tx.ExecContext(ctx, `
			UPDATE records
			SET status = ?, status_reason = ?, matched_with = ?, duplicate_of = ?, version = version + 1
			WHERE session_id = ? AND id = ? AND version = ?`,
			string(u.Status), u.Reason, u.MatchedWith, u.DuplicateOf,
			sessionID, u.RecordID, u.ExpectedVersion)
		if execErr != nil {
			return fmt.Errorf("failed to update record %s: %w", u.RecordID, execErr)
		}
		affected, raErr := res.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("failed to check update result: %w", raErr)
		}
		if affected == 0 {
			return common.NewStateError(u.RecordID, "", string(u.Status), "version mismatch")
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pass: %w", err)
	}
	return nil
}

// TransitionRecord applies a single optimistic status change.
func (s *SQLiteStore) TransitionRecord(ctx context.Context, sessionID, recordID string, from, to model.RecordStatus, reason string, version int64) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := s.sessionOpen(ctx, sessionID); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET status = ?, status_reason = ?, version = version + 1
		WHERE session_id = ? AND id = ? AND status = ? AND version = ?`,
		string(to), reason, sessionID, recordID, string(from), version)
	if err != nil {
		return nil, fmt.Errorf("failed to transition record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check transition result: %w", err)
	}
	if affected == 0 {
		current, getErr := s.GetRecord(ctx, sessionID, recordID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, common.NewStateError(recordID, string(current.Status), string(to), "observed state is stale")
	}
	return s.GetRecord(ctx, sessionID, recordID)
}

// AttachAnalysis stores an analysis result on a record without changing
// its status.
func (s *SQLiteStore) AttachAnalysis(ctx context.Context, sessionID, recordID string, result model.AnalysisResult) (*model.Record, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.GetRecord(ctx, sessionID, recordID); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_results (id, session_id, record_id, confidence, category, severity, suggested_action, related_record_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, sessionID, recordID, result.Confidence, string(result.Category),
		string(result.Severity), result.SuggestedAction,
		strings.Join(result.RelatedRecordIDs, ","), result.Timestamp.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to insert analysis result: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE records SET version = version + 1 WHERE session_id = ? AND id = ?`,
		sessionID, recordID); err != nil {
		return nil, fmt.Errorf("failed to bump record version: %w", err)
	}
	return s.GetRecord(ctx, sessionID, recordID)
}

// AppendAudit records an operator override.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (session_id, record_id, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.SessionID, entry.RecordID, entry.Action, entry.Detail, entry.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the audit trail for a session.
func (s *SQLiteStore) ListAudit(ctx context.Context, sessionID string) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COALESCE(record_id, ''), action, detail, created_at
		FROM audit_log WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.SessionID, &e.RecordID, &e.Action, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit log: %w", err)
	}
	return entries, nil
}

// ExportExceptions returns the exception rows for a session in import
// order.
func (s *SQLiteStore) ExportExceptions(ctx context.Context, sessionID string, filter ExportFilter) ([]model.ExceptionRow, error) {
	records, err := s.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var exportRows []model.ExceptionRow
	for _, r := range records {
		if !filter.matches(r.Status) {
			continue
		}
		exportRows = append(exportRows, model.ExceptionRow{
			RecordID:    r.ID,
			Date:        r.Date,
			Description: r.Description,
			Amount:      r.Amount,
			Currency:    r.Currency,
			Status:      r.Status,
			Issue:       issueFor(r),
		})
	}
	return exportRows, nil
}
