package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clearline/recon/internal/model"
)

// HeuristicAnalyzer is a local, deterministic Analyzer. It stands in for
// the external service in offline runs and tests, producing structured
// results from simple rules over the submitted records.
type HeuristicAnalyzer struct {
	now func() time.Time
}

// NewHeuristicAnalyzer creates a heuristic analyzer.
func NewHeuristicAnalyzer() *HeuristicAnalyzer {
	return &HeuristicAnalyzer{now: time.Now}
}

var largeAmount = decimal.NewFromInt(10000)

// Analyze produces one result per submitted record.
func (a *HeuristicAnalyzer) Analyze(ctx context.Context, session *model.Session, records []model.Record) ([]model.AnalysisResult, error) {
	results := make([]model.AnalysisResult, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, a.classify(session, rec))
	}
	return results, nil
}

func (a *HeuristicAnalyzer) classify(session *model.Session, rec model.Record) model.AnalysisResult {
	res := model.AnalysisResult{
		ID:         uuid.New().String(),
		RecordID:   rec.ID,
		Timestamp:  a.now(),
		Category:   model.CauseMissingCounterparty,
		Severity:   model.SeverityMedium,
		Confidence: 0.6,
	}

	switch {
	case model.NormalizeDescription(rec.Description) == "":
		res.Category = model.CauseDataQuality
		res.Severity = model.SeverityLow
		res.SuggestedAction = "enrich the record description and re-import"
		res.Confidence = 0.8
	case session != nil && session.CreatedAt.Sub(rec.Date) > 30*24*time.Hour:
		res.Category = model.CauseDateLag
		res.SuggestedAction = "check for a delayed posting on the counterparty side"
		res.Confidence = 0.5
	default:
		res.SuggestedAction = "search the counterparty system for a missing entry"
	}

	if rec.Amount.Abs().Cmp(largeAmount) >= 0 {
		res.Severity = model.SeverityHigh
	}
	return res
}
