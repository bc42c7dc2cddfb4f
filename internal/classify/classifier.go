// Package classify implements the record status state machine. Transitions
// are monotone: once a record reaches a terminal status, the only path out
// is an explicit operator reopen.
package classify

import (
	"github.com/clearline/recon/internal/common"
	"github.com/clearline/recon/internal/model"
)

// allowed maps each status to the set of statuses reachable from it.
var allowed = map[model.RecordStatus]map[model.RecordStatus]bool{
	model.StatusUnmatched: {
		model.StatusMatched:   true,
		model.StatusDuplicate: true,
		model.StatusInvalid:   true,
		model.StatusAnalyzing: true,
	},
	model.StatusAnalyzing: {
		model.StatusResolved:  true,
		model.StatusUnmatched: true,
	},
	// Reopen only: requires an audit-logged operator action.
	model.StatusResolved: {
		model.StatusUnmatched: true,
	},
}

// CanTransition reports whether a record may move from one status to
// another. Self-transitions are permitted so that a deterministic re-run
// of a matching pass is a no-op.
func CanTransition(from, to model.RecordStatus) bool {
	if from == to {
		return true
	}
	return allowed[from][to]
}

// Transition applies a status change to the record in place, or returns a
// StateError if the change is not permitted. The record's version is
// incremented only when something actually changes.
func Transition(r *model.Record, to model.RecordStatus, reason string) error {
	if !CanTransition(r.Status, to) {
		return common.NewStateError(r.ID, string(r.Status), string(to), "transition not permitted")
	}
	if r.Status == to && r.StatusReason == reason {
		return nil
	}
	r.Status = to
	r.StatusReason = reason
	r.Version++
	return nil
}

// Partition splits a session snapshot ahead of a matching pass.
//
// Records under analysis, resolved, or already invalid are carried
// unchanged; a pass never disturbs them. Records failing the pre-matching
// invalid checks are marked invalid. Everything else is eligible for
// matching with its pass-derived state cleared, so that re-running an
// unchanged snapshot reproduces identical outcomes.
type Partition struct {
	Eligible []model.Record
	Invalid  []model.Record
	Carried  []model.Record
}

// PartitionSnapshot applies classification rule one (invalid checks before
// matching) and separates the records a pass may touch from those it must
// not.
func PartitionSnapshot(records []model.Record) Partition {
	var p Partition
	for _, r := range records {
		switch r.Status {
		case model.StatusAnalyzing, model.StatusResolved, model.StatusInvalid:
			p.Carried = append(p.Carried, r)
			continue
		}
		if reason, bad := r.InvalidReason(); bad {
			r.Status = model.StatusInvalid
			r.StatusReason = reason
			r.Version++
			p.Invalid = append(p.Invalid, r)
			continue
		}
		if r.Status != model.StatusUnmatched || r.MatchedWith != "" || r.DuplicateOf != "" {
			r.Status = model.StatusUnmatched
			r.StatusReason = ""
			r.MatchedWith = ""
			r.DuplicateOf = ""
		}
		p.Eligible = append(p.Eligible, r)
	}
	return p
}
