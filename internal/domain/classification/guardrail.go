// Package classification guards writes to accounting classifications.
//
// Classifications arrive from rules, models, and humans with very
// different trust levels. The guardrail enforces a fixed priority order so
// trusted state is never silently downgraded: a human correction always
// outranks a model guess, whatever the model's confidence.
package classification

import (
	"fmt"
	"regexp"

	"github.com/contaflow/recon-backend/internal/domain/model"
)

// ReviewThreshold is the confidence below which a classification is
// flagged for mandatory human review. The flag is an outcome, not an
// error: the write still proceeds.
const ReviewThreshold = 0.30

// DefaultAutoApproveThreshold is the confidence at or above which a
// classification may be auto-approved, absent a tenant override.
const DefaultAutoApproveThreshold = 0.90

// Account codes are digits and dot separators: 1-3 digits per segment, at
// most 3 segments (e.g. "601", "601.84", "601.84.1").
var accountCodePattern = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){0,2}$`)

// statusPriority is the fixed trust order. Absent records rank 0.
var statusPriority = map[model.ClassificationStatus]int{
	model.ClassNotClassified:       1,
	model.ClassPending:             2,
	model.ClassPendingConfirmation: 3,
	model.ClassConfirmed:           4,
	model.ClassCorrected:           5,
}

// Priority returns the trust rank of a status. nil stands for "absent".
func Priority(status *model.ClassificationStatus) int {
	if status == nil {
		return 0
	}
	return statusPriority[*status]
}

// Validate checks a proposed classification and reports whether it needs
// human review. Malformed codes and out-of-range confidence are rejected;
// low confidence is only flagged.
func Validate(proposed model.Classification) (needsReview bool, err error) {
	if proposed.AccountCode == "" {
		return false, model.NewValidationError("account_code_missing",
			"classification has no account code", proposed.EntityID)
	}
	if !accountCodePattern.MatchString(proposed.AccountCode) {
		return false, model.NewValidationError("account_code_malformed",
			fmt.Sprintf("account code %q must be 1-3 dot-separated segments of 1-3 digits", proposed.AccountCode),
			proposed.EntityID)
	}
	if proposed.Confidence < 0 || proposed.Confidence > 1 {
		return false, model.NewValidationError("confidence_out_of_range",
			fmt.Sprintf("confidence %.2f must be within [0,1]", proposed.Confidence),
			proposed.EntityID)
	}

	return proposed.Confidence < ReviewThreshold, nil
}

// ValidateWrite runs Validate and additionally hard-blocks any write that
// would replace a corrected record with something lower priority. Only an
// explicit re-correction may touch a corrected record.
func ValidateWrite(existing *model.Classification, proposed model.Classification) (needsReview bool, err error) {
	needsReview, err = Validate(proposed)
	if err != nil {
		return false, err
	}

	if existing != nil && existing.Status == model.ClassCorrected && proposed.Status != model.ClassCorrected {
		return false, model.NewValidationError("corrected_downgrade",
			"a corrected classification can only be replaced by another correction",
			proposed.EntityID)
	}

	return needsReview, nil
}

// MergeOutcome is the result of merging a proposed classification into an
// existing record.
type MergeOutcome struct {
	Result model.Classification

	// Applied is true when the proposed record won; false when the
	// existing record was kept (the proposal was superseded).
	Applied bool
}

// Merge resolves a proposed classification against the existing record.
//
// The proposal wins outright when nothing exists yet or override is set.
// Otherwise the strictly-higher-priority record is kept; at equal priority
// the fresher proposal wins. When the existing record is kept, explanatory
// metadata the existing record lacks is copied over from the proposal —
// enrichment only, never replacement.
func Merge(existing *model.Classification, proposed model.Classification, override bool) MergeOutcome {
	if existing == nil || override {
		return MergeOutcome{Result: proposed, Applied: true}
	}

	existingPriority := statusPriority[existing.Status]
	proposedPriority := statusPriority[proposed.Status]

	if proposedPriority >= existingPriority {
		return MergeOutcome{Result: proposed, Applied: true}
	}

	kept := *existing
	if kept.Explanation == "" && proposed.Explanation != "" {
		kept.Explanation = proposed.Explanation
	}
	if len(kept.Alternatives) == 0 && len(proposed.Alternatives) > 0 {
		kept.Alternatives = append([]string(nil), proposed.Alternatives...)
	}

	return MergeOutcome{Result: kept, Applied: false}
}

// ShouldAutoApprove reports whether the classification clears the
// tenant's auto-approval threshold. A non-positive threshold falls back to
// the default.
func ShouldAutoApprove(c model.Classification, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultAutoApproveThreshold
	}
	return c.Confidence >= threshold
}
