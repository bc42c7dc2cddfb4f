package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func day(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func TestNormalizeDescription(t *testing.T) {
	assert.Equal(t, "acme corp invoice", NormalizeDescription("  ACME   Corp\tInvoice "))
	assert.Equal(t, "", NormalizeDescription("   "))
}

func TestFingerprintIgnoresAmountRepresentation(t *testing.T) {
	a := Record{
		Date:        day("2024-01-15"),
		Description: "Acme Corp",
		Amount:      decimal.RequireFromString("15000"),
	}
	b := Record{
		Date:        day("2024-01-15"),
		Description: "ACME  corp",
		Amount:      decimal.RequireFromString("15000.00"),
	}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := b
	c.Amount = decimal.RequireFromString("15000.01")
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestInvalidReason(t *testing.T) {
	valid := Record{
		Date:     day("2024-01-15"),
		Currency: "USD",
		Amount:   decimal.NewFromInt(10),
		Type:     TypeDebit,
	}
	_, bad := valid.InvalidReason()
	assert.False(t, bad)

	t.Run("missing date", func(t *testing.T) {
		r := valid
		r.Date = time.Time{}
		reason, bad := r.InvalidReason()
		assert.True(t, bad)
		assert.Equal(t, "missing date", reason)
	})

	t.Run("missing currency", func(t *testing.T) {
		r := valid
		r.Currency = ""
		reason, bad := r.InvalidReason()
		assert.True(t, bad)
		assert.Equal(t, "missing currency", reason)
	})

	t.Run("zero amount with unknown type", func(t *testing.T) {
		r := valid
		r.Amount = decimal.Zero
		r.Type = TypeUnknown
		_, bad := r.InvalidReason()
		assert.True(t, bad)
	})

	t.Run("zero amount with known type is fine", func(t *testing.T) {
		r := valid
		r.Amount = decimal.Zero
		_, bad := r.InvalidReason()
		assert.False(t, bad)
	})
}

func TestDeltas(t *testing.T) {
	a := Record{Date: day("2024-01-15"), Amount: decimal.RequireFromString("100.00")}
	b := Record{Date: day("2024-01-18"), Amount: decimal.RequireFromString("100.25")}

	assert.Equal(t, 3, a.DateDeltaDays(&b))
	assert.Equal(t, 3, b.DateDeltaDays(&a))
	assert.True(t, a.AmountDelta(&b).Equal(decimal.RequireFromString("0.25")))
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusMatched.IsTerminal())
	assert.True(t, StatusResolved.IsTerminal())
	assert.True(t, StatusDuplicate.IsTerminal())
	assert.True(t, StatusInvalid.IsTerminal())
	assert.False(t, StatusUnmatched.IsTerminal())
	assert.False(t, StatusAnalyzing.IsTerminal())
}
