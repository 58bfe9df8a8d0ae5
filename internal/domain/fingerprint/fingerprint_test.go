package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompute_StableAcrossIngestions(t *testing.T) {
	date := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	a := Compute(date, -1250.50, "MXN", "PAYMENT TO ACME CORP", "acct-1")
	b := Compute(date, -1250.50, "MXN", "PAYMENT TO ACME CORP", "acct-1")

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestCompute_IgnoresTimeOfDay(t *testing.T) {
	morning := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2025, 3, 14, 22, 45, 0, 0, time.UTC)

	a := Compute(morning, -100, "MXN", "COFFEE", "acct-1")
	b := Compute(evening, -100, "MXN", "COFFEE", "acct-1")

	assert.Equal(t, a, b)
}

func TestCompute_NormalizesDescription(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	a := Compute(date, -100, "MXN", "  payment   to ACME  ", "acct-1")
	b := Compute(date, -100, "MXN", "PAYMENT TO ACME", "acct-1")

	assert.Equal(t, a, b)
}

func TestCompute_DistinguishesAccounts(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	a := Compute(date, -100, "MXN", "PAYMENT", "acct-1")
	b := Compute(date, -100, "MXN", "PAYMENT", "acct-2")

	assert.NotEqual(t, a, b)
}

func TestCompute_RoundsToMinorUnit(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	// Sub-cent noise from float arithmetic must not change the identity.
	a := Compute(date, -100.004, "MXN", "PAYMENT", "acct-1")
	b := Compute(date, -100.0041, "MXN", "PAYMENT", "acct-1")
	assert.Equal(t, a, b)

	// A real cent difference does.
	c := Compute(date, -100.01, "MXN", "PAYMENT", "acct-1")
	assert.NotEqual(t, a, c)
}

func TestCompute_ZeroDecimalCurrency(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	a := Compute(date, -1000.4, "JPY", "PAYMENT", "acct-1")
	b := Compute(date, -1000.3, "JPY", "PAYMENT", "acct-1")

	// Both round to 1000 yen.
	assert.Equal(t, a, b)
}

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already normalized", "PAYMENT TO ACME", "PAYMENT TO ACME"},
		{"lowercase", "payment to acme", "PAYMENT TO ACME"},
		{"extra whitespace", "  payment \t to\n acme ", "PAYMENT TO ACME"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeDescription(tt.input))
		})
	}
}
