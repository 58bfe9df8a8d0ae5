package splits

import "github.com/contaflow/recon-backend/internal/domain/model"

// ProRata distributes target across participants proportionally to their
// weights (typically invoice totals):
//
//	multiplier = target / sum(weights)
//	allocation = weight * multiplier
//
// Rounding drift is folded into the largest allocation so the result sums
// to the target exactly. Used when a caller creates a split without
// spelling out per-participant amounts.
func ProRata(participantIDs []string, weights []float64, target float64) ([]Entry, error) {
	if len(participantIDs) == 0 {
		return nil, model.NewValidationError("split_size", "no participants to allocate")
	}
	if len(participantIDs) != len(weights) {
		return nil, model.NewValidationError("split_weights",
			"participant and weight counts differ")
	}
	if target <= 0 {
		return nil, model.NewValidationError("split_target", "split target must be positive")
	}

	var totalWeight float64
	for i, w := range weights {
		if w <= 0 {
			return nil, model.NewValidationError("split_weights",
				"weights must be positive", participantIDs[i])
		}
		totalWeight += w
	}

	multiplier := target / totalWeight

	entries := make([]Entry, len(participantIDs))
	var allocated float64
	for i, id := range participantIDs {
		amount := roundToCents(weights[i] * multiplier)
		entries[i] = Entry{ParticipantID: id, Amount: amount}
		allocated = roundToCents(allocated + amount)
	}

	// Fold rounding drift into the largest allocation.
	if diff := roundToCents(target - allocated); diff != 0 {
		maxIdx := 0
		for i, e := range entries {
			if e.Amount > entries[maxIdx].Amount {
				maxIdx = i
			}
		}
		entries[maxIdx].Amount = roundToCents(entries[maxIdx].Amount + diff)
	}

	return entries, nil
}
