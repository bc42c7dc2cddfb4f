// Package dedupe flags records that collide on a fingerprint after
// matching. The later record by import order is flagged; the earlier,
// canonical record is never altered by duplicate detection.
package dedupe

import (
	"sort"

	"github.com/clearline/recon/internal/model"
)

// Pair links a flagged duplicate to its surviving canonical record.
type Pair struct {
	DuplicateID string
	CanonicalID string
}

// Detect scans candidate records for fingerprint collisions against the
// given reference set (matched or earlier-seen records) and against
// earlier candidates. Candidates are considered in import order. Only
// candidate records are ever flagged.
func Detect(candidates, reference []model.Record, rules model.RuleConfig) []Pair {
	ordered := make([]model.Record, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ImportSeq < ordered[j].ImportSeq
	})

	// Seen holds the surviving records a later candidate can collide with.
	seen := make([]model.Record, 0, len(reference)+len(ordered))
	seen = append(seen, reference...)

	var pairs []Pair
	for _, cand := range ordered {
		canonical, found := collide(cand, seen, rules)
		if found && canonical.ID != cand.ID {
			pairs = append(pairs, Pair{DuplicateID: cand.ID, CanonicalID: canonical.ID})
			continue
		}
		seen = append(seen, cand)
	}
	return pairs
}

// collide returns the earliest surviving record sharing the candidate's
// fingerprint under the active strictness.
func collide(cand model.Record, seen []model.Record, rules model.RuleConfig) (model.Record, bool) {
	for _, s := range seen {
		if sameFingerprint(cand, s, rules) {
			return s, true
		}
	}
	return model.Record{}, false
}

// sameFingerprint compares two records under the configured strictness:
// strict requires exact fingerprint equality; moderate allows the active
// amount tolerance; loose additionally ignores the description.
func sameFingerprint(a, b model.Record, rules model.RuleConfig) bool {
	switch rules.DuplicateStrictness {
	case model.StrictnessStrict:
		return a.Fingerprint() == b.Fingerprint()
	case model.StrictnessModerate:
		return a.DateDeltaDays(&b) == 0 &&
			model.NormalizeDescription(a.Description) == model.NormalizeDescription(b.Description) &&
			a.AmountDelta(&b).Cmp(rules.AmountTolerance) <= 0
	case model.StrictnessLoose:
		return a.DateDeltaDays(&b) == 0 &&
			a.AmountDelta(&b).Cmp(rules.AmountTolerance) <= 0
	default:
		return a.Fingerprint() == b.Fingerprint()
	}
}
