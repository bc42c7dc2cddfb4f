package classify

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearline/recon/internal/common"
	"github.com/clearline/recon/internal/model"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from model.RecordStatus
		to   model.RecordStatus
		want bool
	}{
		{model.StatusUnmatched, model.StatusMatched, true},
		{model.StatusUnmatched, model.StatusDuplicate, true},
		{model.StatusUnmatched, model.StatusInvalid, true},
		{model.StatusUnmatched, model.StatusAnalyzing, true},
		{model.StatusUnmatched, model.StatusResolved, false},
		{model.StatusAnalyzing, model.StatusResolved, true},
		{model.StatusAnalyzing, model.StatusUnmatched, true},
		{model.StatusAnalyzing, model.StatusMatched, false},
		{model.StatusResolved, model.StatusUnmatched, true},
		{model.StatusResolved, model.StatusMatched, false},
		{model.StatusMatched, model.StatusUnmatched, false},
		{model.StatusDuplicate, model.StatusUnmatched, false},
		{model.StatusInvalid, model.StatusUnmatched, false},
		{model.StatusMatched, model.StatusMatched, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTransition(t *testing.T) {
	rec := model.Record{ID: "R1", Status: model.StatusUnmatched}

	require.NoError(t, Transition(&rec, model.StatusAnalyzing, ""))
	assert.Equal(t, model.StatusAnalyzing, rec.Status)
	assert.EqualValues(t, 1, rec.Version)

	err := Transition(&rec, model.StatusMatched, "")
	require.Error(t, err)
	var stateErr *common.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "R1", stateErr.RecordID)

	// No-op transition does not bump the version.
	require.NoError(t, Transition(&rec, model.StatusAnalyzing, ""))
	assert.EqualValues(t, 1, rec.Version)

	require.NoError(t, Transition(&rec, model.StatusUnmatched, model.ReasonAnalysisTimeout))
	assert.Equal(t, model.ReasonAnalysisTimeout, rec.StatusReason)
}

func TestPartitionSnapshot(t *testing.T) {
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	records := []model.Record{
		{ID: "OK", Date: now, Currency: "USD", Amount: decimal.NewFromInt(5), Type: model.TypeDebit, Status: model.StatusUnmatched},
		{ID: "BAD", Currency: "USD", Amount: decimal.NewFromInt(5), Status: model.StatusUnmatched},
		{ID: "ZERO", Date: now, Currency: "USD", Amount: decimal.Zero, Type: model.TypeUnknown, Status: model.StatusUnmatched},
		{ID: "BUSY", Date: now, Currency: "USD", Amount: decimal.NewFromInt(5), Type: model.TypeDebit, Status: model.StatusAnalyzing},
		{ID: "DONE", Date: now, Currency: "USD", Amount: decimal.NewFromInt(5), Type: model.TypeDebit, Status: model.StatusResolved},
		{ID: "WASMATCHED", Date: now, Currency: "USD", Amount: decimal.NewFromInt(5), Type: model.TypeDebit, Status: model.StatusMatched, MatchedWith: "X"},
	}

	p := PartitionSnapshot(records)

	require.Len(t, p.Invalid, 2)
	assert.Equal(t, model.StatusInvalid, p.Invalid[0].Status)
	assert.Equal(t, "missing date", p.Invalid[0].StatusReason)

	require.Len(t, p.Carried, 2)

	require.Len(t, p.Eligible, 2)
	for _, r := range p.Eligible {
		assert.Equal(t, model.StatusUnmatched, r.Status)
		assert.Empty(t, r.MatchedWith)
	}
}
