// Package matcher pairs ledger records against statement records under a
// session's rule configuration. Matching is fully deterministic: sources
// are processed in ascending (date, amount, id) order and the candidate
// selection order is part of the public contract, not an implementation
// detail.
package matcher

import (
	"sort"

	"github.com/clearline/recon/internal/model"
)

// Result holds the outcome of a matching pass over a record snapshot.
type Result struct {
	Pairs           []model.MatchCandidate
	UnmatchedSource []model.Record
	UnmatchedTarget []model.Record
}

// Match pairs source records against target records. Each record is
// claimed by at most one pair. Records with no qualifying candidate are
// returned in UnmatchedSource/UnmatchedTarget.
func Match(source, target []model.Record, rules model.RuleConfig) Result {
	ordered := make([]model.Record, len(source))
	copy(ordered, source)
	sortForProcessing(ordered)

	idx := newTargetIndex(target, rules)
	claimed := make(map[string]bool, len(target))

	var result Result
	for i := range ordered {
		src := &ordered[i]
		best := idx.bestCandidate(src, rules, claimed)
		if best == nil {
			result.UnmatchedSource = append(result.UnmatchedSource, *src)
			continue
		}
		claimed[best.ID] = true
		result.Pairs = append(result.Pairs, model.MatchCandidate{
			SourceID:      src.ID,
			TargetID:      best.ID,
			AmountDelta:   src.AmountDelta(best),
			DateDeltaDays: src.DateDeltaDays(best),
		})
	}

	for i := range target {
		if !claimed[target[i].ID] {
			result.UnmatchedTarget = append(result.UnmatchedTarget, target[i])
		}
	}
	return result
}

// sortForProcessing orders source records by ascending date, then
// ascending amount, then ascending id.
func sortForProcessing(records []model.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		if cmp := records[i].Amount.Cmp(records[j].Amount); cmp != 0 {
			return cmp < 0
		}
		return records[i].ID < records[j].ID
	})
}

// qualifies checks the tolerance constraints for the fields selected by
// the rule configuration.
func qualifies(src, tgt *model.Record, rules model.RuleConfig) bool {
	if rules.HasField(model.FieldAmount) {
		if src.AmountDelta(tgt).Cmp(rules.AmountTolerance) > 0 {
			return false
		}
	}
	if rules.HasField(model.FieldDate) {
		if src.DateDeltaDays(tgt) > rules.DateToleranceDays {
			return false
		}
	}
	if rules.HasField(model.FieldDescription) {
		if model.NormalizeDescription(src.Description) != model.NormalizeDescription(tgt.Description) {
			return false
		}
	}
	return true
}

// better reports whether candidate a beats candidate b for the given
// source: smallest date delta first, then smallest amount delta, then
// lexically smallest target id.
func better(src, a, b *model.Record) bool {
	da, db := src.DateDeltaDays(a), src.DateDeltaDays(b)
	if da != db {
		return da < db
	}
	if cmp := src.AmountDelta(a).Cmp(src.AmountDelta(b)); cmp != 0 {
		return cmp < 0
	}
	return a.ID < b.ID
}
