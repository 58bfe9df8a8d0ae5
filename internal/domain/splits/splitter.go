// Package splits validates one-to-many and many-to-one allocations.
//
// A split group links one transaction to several invoices (or several
// transactions to one invoice) when no single pair reconciles exactly.
// The validators here are pure; persistence and the atomic undo live in
// the storage layer.
package splits

import (
	"fmt"
	"math"

	"github.com/contaflow/recon-backend/internal/domain/model"
)

// DefaultRoundingTolerance absorbs cent-level rounding drift when
// comparing allocation sums against the split target.
const DefaultRoundingTolerance = 0.01

// Entry is one proposed allocation: how much of the target a participant
// carries. For one-to-many splits the participant is an invoice; for
// many-to-one it is a transaction.
type Entry struct {
	ParticipantID string
	Amount        float64
}

// Validate checks proposed allocations against the split target and each
// participant's remaining capacity.
//
// Rules:
//   - at least two entries (a single entry is an ordinary 1:1 match)
//   - every amount strictly positive
//   - every amount within the participant's remaining capacity
//   - the sum never exceeds the target beyond the rounding tolerance
func Validate(entries []Entry, target float64, capacity map[string]float64, tolerance float64) error {
	if tolerance <= 0 {
		tolerance = DefaultRoundingTolerance
	}
	if len(entries) < 2 {
		return model.NewValidationError("split_size", "a split needs at least two allocations")
	}
	if target <= 0 {
		return model.NewValidationError("split_target", "split target must be positive")
	}

	seen := make(map[string]bool, len(entries))
	var sum float64
	for _, e := range entries {
		if e.ParticipantID == "" {
			return model.NewValidationError("participant_missing", "allocation without a participant id")
		}
		if seen[e.ParticipantID] {
			return model.NewValidationError("participant_duplicated",
				"participant allocated twice in the same group", e.ParticipantID)
		}
		seen[e.ParticipantID] = true

		if e.Amount <= 0 {
			return model.NewValidationError("allocation_not_positive",
				fmt.Sprintf("allocation %.2f must be positive", e.Amount), e.ParticipantID)
		}

		remaining, known := capacity[e.ParticipantID]
		if !known {
			return model.NewValidationError("participant_unknown",
				"allocation references an unknown participant", e.ParticipantID)
		}
		if e.Amount > remaining+tolerance {
			return model.NewValidationError("allocation_exceeds_capacity",
				fmt.Sprintf("allocation %.2f exceeds remaining capacity %.2f", e.Amount, remaining),
				e.ParticipantID)
		}

		sum = roundToCents(sum + e.Amount)
	}

	if sum > target+tolerance {
		return model.NewValidationError("allocation_sum_exceeds_target",
			fmt.Sprintf("allocations sum to %.2f, exceeding the target %.2f", sum, target))
	}

	return nil
}

// BuildAllocations converts validated entries into persistable allocations
// with their percentage of the target total.
func BuildAllocations(groupID string, entries []Entry, target float64) []model.SplitAllocation {
	allocations := make([]model.SplitAllocation, 0, len(entries))
	for _, e := range entries {
		allocations = append(allocations, model.SplitAllocation{
			GroupID:       groupID,
			ParticipantID: e.ParticipantID,
			Amount:        e.Amount,
			Percent:       roundTo(e.Amount/target, 4),
		})
	}
	return allocations
}

// Sum totals a set of entries with cent rounding.
func Sum(entries []Entry) float64 {
	var sum float64
	for _, e := range entries {
		sum = roundToCents(sum + e.Amount)
	}
	return sum
}

// StatusFor derives the group lifecycle state from the allocated sum:
// nothing allocated is pending, an incomplete sum is partial, and a sum
// matching the target within tolerance is complete.
func StatusFor(sum, target, tolerance float64) model.SplitStatus {
	if tolerance <= 0 {
		tolerance = DefaultRoundingTolerance
	}
	switch {
	case sum <= 0:
		return model.SplitPending
	case math.Abs(sum-target) <= tolerance:
		return model.SplitComplete
	default:
		return model.SplitPartial
	}
}

// roundToCents rounds a float to 2 decimal places.
func roundToCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// roundTo rounds to the given number of decimal places.
func roundTo(v float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(v*scale) / scale
}
