// Package matching pairs outflow transactions with the invoices they most
// plausibly pay. Candidate generation filters by tolerance, the scorer
// ranks survivors deterministically, and the decision step turns the best
// score into a reconciliation state.
package matching

import (
	"math"
	"time"

	"github.com/contaflow/recon-backend/internal/domain/model"
)

// Candidate is one plausible (transaction, invoice) pairing.
type Candidate struct {
	Invoice    model.Invoice
	AmountDiff float64 // absolute difference between magnitudes
	DayDiff    int     // absolute calendar-day difference
}

// GenerateCandidates returns the invoices that could plausibly be paid by
// the given transaction. An empty result is a valid outcome: the
// transaction simply stays pending.
//
// Filters applied, in order: the transaction must be an outflow; the
// invoice must belong to the same tenant, be valid (not canceled), and not
// already be linked to an expense; amount and date differences must fall
// within the configured tolerances.
func GenerateCandidates(tx model.Transaction, invoices []model.Invoice, cfg Config) []Candidate {
	if tx.Amount >= 0 {
		return nil
	}

	magnitude := math.Abs(tx.Amount)
	amountTol := cfg.effectiveAmountTolerance(magnitude)

	var candidates []Candidate
	for _, inv := range invoices {
		if inv.TenantID != tx.TenantID {
			continue
		}
		if inv.Status == model.InvoiceCanceled {
			continue
		}
		if inv.LinkedExpenseID != "" {
			continue
		}

		amountDiff := math.Abs(magnitude - inv.Total)
		if amountDiff > amountTol {
			continue
		}

		dayDiff := dayDelta(tx.Date, inv.IssuedAt)
		if dayDiff > cfg.DateWindowDays {
			continue
		}

		candidates = append(candidates, Candidate{
			Invoice:    inv,
			AmountDiff: amountDiff,
			DayDiff:    dayDiff,
		})
	}

	return candidates
}

// dayDelta returns the absolute calendar-day difference between two dates.
func dayDelta(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	diff := int(ad.Sub(bd).Hours() / 24)
	if diff < 0 {
		diff = -diff
	}
	return diff
}
