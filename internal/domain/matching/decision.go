package matching

import "github.com/contaflow/recon-backend/internal/domain/model"

// Decision is the outcome of the auto-match state machine for one
// transaction.
type Decision struct {
	Status model.TransactionStatus

	// Best is the winning candidate when Status is auto_matched or
	// suggested, nil otherwise.
	Best *ScoredCandidate

	// Excluded records that the exclusion list capped the outcome.
	Excluded bool
}

// Decide turns the ranked candidates into a reconciliation state.
//
// The persisted exclusion list has absolute precedence: an excluded
// transaction never exceeds suggested, whatever its score. Otherwise a
// score at or above the auto threshold commits the match, a score at or
// above the suggest floor surfaces it for review, and anything lower (or
// an empty candidate list) leaves the transaction pending.
//
// non_reconcilable is never produced here; it is a manual-review verdict.
func Decide(scored []ScoredCandidate, excluded bool, cfg Config) Decision {
	if len(scored) == 0 {
		return Decision{Status: model.TxPending, Excluded: excluded}
	}

	best := scored[0]
	if best.Score < cfg.SuggestFloor {
		return Decision{Status: model.TxPending, Excluded: excluded}
	}

	if excluded {
		return Decision{Status: model.TxSuggested, Best: &best, Excluded: true}
	}

	if best.Score >= cfg.AutoMatchThreshold {
		return Decision{Status: model.TxAutoMatched, Best: &best}
	}
	return Decision{Status: model.TxSuggested, Best: &best}
}
