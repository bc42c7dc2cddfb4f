package matcher

import (
	"time"

	"github.com/clearline/recon/internal/model"
)

// targetIndex buckets target records by calendar day so a source record
// only scans targets inside its date tolerance window. When date is not a
// match field the index degenerates to a full scan; either way the match
// outcomes are identical to the naive search.
type targetIndex struct {
	byDay   map[int64][]*model.Record
	all     []*model.Record
	indexed bool
}

func dayKey(t time.Time) int64 {
	return t.Truncate(24 * time.Hour).Unix() / 86400
}

func newTargetIndex(target []model.Record, rules model.RuleConfig) *targetIndex {
	idx := &targetIndex{
		all:     make([]*model.Record, 0, len(target)),
		indexed: rules.HasField(model.FieldDate),
	}
	if idx.indexed {
		idx.byDay = make(map[int64][]*model.Record)
	}
	for i := range target {
		rec := &target[i]
		idx.all = append(idx.all, rec)
		if idx.indexed {
			key := dayKey(rec.Date)
			idx.byDay[key] = append(idx.byDay[key], rec)
		}
	}
	return idx
}

// bestCandidate returns the winning unclaimed target for the source
// record, or nil when no target qualifies.
func (idx *targetIndex) bestCandidate(src *model.Record, rules model.RuleConfig, claimed map[string]bool) *model.Record {
	var best *model.Record
	consider := func(tgt *model.Record) {
		if claimed[tgt.ID] {
			return
		}
		if !qualifies(src, tgt, rules) {
			return
		}
		if best == nil || better(src, tgt, best) {
			best = tgt
		}
	}

	if !idx.indexed {
		for _, tgt := range idx.all {
			consider(tgt)
		}
		return best
	}

	base := dayKey(src.Date)
	for offset := int64(-rules.DateToleranceDays); offset <= int64(rules.DateToleranceDays); offset++ {
		for _, tgt := range idx.byDay[base+offset] {
			consider(tgt)
		}
	}
	return best
}
