package model

import (
	"github.com/shopspring/decimal"

	"github.com/clearline/recon/internal/common"
)

// MatchField selects a record field that must agree for two records to pair.
type MatchField string

// Match field constants.
const (
	FieldAmount      MatchField = "amount"
	FieldDate        MatchField = "date"
	FieldDescription MatchField = "description"
)

// DuplicateStrictness controls how aggressively duplicate detection
// collapses records onto the same fingerprint.
type DuplicateStrictness string

// Duplicate strictness constants.
const (
	// StrictnessStrict requires exact fingerprint equality.
	StrictnessStrict DuplicateStrictness = "strict"
	// StrictnessModerate allows the active amount tolerance.
	StrictnessModerate DuplicateStrictness = "moderate"
	// StrictnessLoose additionally ignores the description.
	StrictnessLoose DuplicateStrictness = "loose"
)

// RuleConfig holds the matching parameters for a reconciliation session.
// It is validated before a session starts; an invalid config rejects the
// whole session.
type RuleConfig struct {
	DuplicateStrictness DuplicateStrictness
	MatchFields         []MatchField
	AmountTolerance     decimal.Decimal
	DateToleranceDays   int
}

// DefaultRuleConfig returns the rule configuration used when a session is
// started without explicit overrides.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		AmountTolerance:     decimal.Zero,
		DateToleranceDays:   0,
		MatchFields:         []MatchField{FieldAmount, FieldDate},
		DuplicateStrictness: StrictnessStrict,
	}
}

// HasField reports whether the given field participates in matching.
func (c RuleConfig) HasField(f MatchField) bool {
	for _, mf := range c.MatchFields {
		if mf == f {
			return true
		}
	}
	return false
}

// Validate ensures the rule configuration is usable. Failure is fatal for
// the session that requested it.
func (c RuleConfig) Validate() error {
	if c.AmountTolerance.IsNegative() {
		return common.NewValidationError("amountTolerance", "must be non-negative")
	}
	if c.DateToleranceDays < 0 {
		return common.NewValidationError("dateToleranceDays", "must be non-negative")
	}
	if len(c.MatchFields) == 0 {
		return common.NewValidationError("matchFields", "must not be empty")
	}
	seen := make(map[MatchField]bool, len(c.MatchFields))
	for _, f := range c.MatchFields {
		switch f {
		case FieldAmount, FieldDate, FieldDescription:
		default:
			return common.NewValidationError("matchFields", "unknown field "+string(f))
		}
		if seen[f] {
			return common.NewValidationError("matchFields", "duplicate field "+string(f))
		}
		seen[f] = true
	}
	// Pure description matching leaves the delta tie-breaks meaningless, so
	// at least one of amount/date must participate.
	if !c.HasField(FieldAmount) && !c.HasField(FieldDate) {
		return common.NewValidationError("matchFields", "must include amount or date")
	}
	switch c.DuplicateStrictness {
	case StrictnessStrict, StrictnessModerate, StrictnessLoose:
	default:
		return common.NewValidationError("duplicateStrictness", "unknown strictness "+string(c.DuplicateStrictness))
	}
	return nil
}
