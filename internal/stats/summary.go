// Package stats derives session-level statistics from a record set.
package stats

import (
	"github.com/shopspring/decimal"

	"github.com/clearline/recon/internal/model"
)

// Summarize reduces the full record set to a Summary. It is a pure
// function and always recomputes from scratch; there is no incremental
// cache to drift. MatchedAmount sums the ledger side of each matched pair
// so pairs are not double counted; UnmatchedAmount sums every unmatched
// record on either side, since each one is a real exception.
func Summarize(records []model.Record) model.Summary {
	s := model.Summary{
		MatchedAmount:   decimal.Zero,
		UnmatchedAmount: decimal.Zero,
	}
	for _, r := range records {
		s.Total++
		switch r.Status {
		case model.StatusMatched:
			s.MatchedCount++
			if r.Source == model.SourceLedger {
				s.MatchedAmount = s.MatchedAmount.Add(r.Amount.Abs())
			}
		case model.StatusUnmatched:
			s.UnmatchedCount++
			s.UnmatchedAmount = s.UnmatchedAmount.Add(r.Amount.Abs())
		case model.StatusDuplicate:
			s.DuplicateCount++
		case model.StatusInvalid:
			s.InvalidCount++
		case model.StatusAnalyzing:
			s.AnalyzingCount++
		case model.StatusResolved:
			s.ResolvedCount++
		}
	}
	return s
}
