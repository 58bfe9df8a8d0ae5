package matching

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/contaflow/recon-backend/internal/domain/fingerprint"
	"github.com/contaflow/recon-backend/internal/domain/model"
)

// SimilarityProvider returns a [0,1] semantic similarity for two
// description strings. Implementations may call out to an embedding
// service; the scorer falls back to token heuristics when the provider is
// nil or fails.
type SimilarityProvider interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// ScoredCandidate is a candidate with its composite confidence score.
type ScoredCandidate struct {
	Candidate
	Score float64
}

// Scorer assigns deterministic confidence scores to candidates.
type Scorer struct {
	config   Config
	provider SimilarityProvider // optional
}

// NewScorer creates a scorer. provider may be nil.
func NewScorer(cfg Config, provider SimilarityProvider) *Scorer {
	return &Scorer{config: cfg, provider: provider}
}

// Score computes the composite confidence for one candidate as a weighted
// sum of amount closeness, date closeness, and identity closeness. Each
// dimension is 1.0 at an exact match and degrades linearly to 0 at its
// tolerance boundary. Repeated calls with identical input return the
// identical score.
func (s *Scorer) Score(ctx context.Context, tx model.Transaction, cand Candidate) float64 {
	magnitude := math.Abs(tx.Amount)

	amountTol := s.config.effectiveAmountTolerance(magnitude)
	amountScore := boundaryScore(cand.AmountDiff, amountTol)
	dateScore := boundaryScore(float64(cand.DayDiff), float64(s.config.DateWindowDays))
	identityScore := s.identityScore(ctx, tx.Description, cand.Invoice.IssuerName)

	w := s.config.Weights
	return clamp01(w.Amount*amountScore + w.Date*dateScore + w.Identity*identityScore)
}

// ScoreAll scores every candidate and sorts the result by
// (score desc, amount difference asc, day difference asc), so the least
// ambiguous pairing comes first. Invoice id is the final tie-break to keep
// the ordering total.
func (s *Scorer) ScoreAll(ctx context.Context, tx model.Transaction, candidates []Candidate) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(candidates))
	for _, cand := range candidates {
		scored = append(scored, ScoredCandidate{
			Candidate: cand,
			Score:     s.Score(ctx, tx, cand),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].AmountDiff != scored[j].AmountDiff {
			return scored[i].AmountDiff < scored[j].AmountDiff
		}
		if scored[i].DayDiff != scored[j].DayDiff {
			return scored[i].DayDiff < scored[j].DayDiff
		}
		return scored[i].Invoice.ID < scored[j].Invoice.ID
	})

	return scored
}

// identityScore compares the transaction description with the invoice
// issuer name. The semantic provider is preferred; token containment is
// the fallback.
func (s *Scorer) identityScore(ctx context.Context, description, issuer string) float64 {
	if s.provider != nil {
		if sim, err := s.provider.Similarity(ctx, description, issuer); err == nil {
			return clamp01(sim)
		}
	}
	return TokenSimilarity(description, issuer)
}

// TokenSimilarity measures how much of the issuer name appears in the
// description: the fraction of issuer tokens present among the
// description's tokens. "PAYMENT TO ACME" vs issuer "ACME" scores 1.0.
func TokenSimilarity(description, issuer string) float64 {
	descTokens := strings.Fields(fingerprint.NormalizeDescription(description))
	issuerTokens := strings.Fields(fingerprint.NormalizeDescription(issuer))
	if len(descTokens) == 0 || len(issuerTokens) == 0 {
		return 0
	}

	present := make(map[string]bool, len(descTokens))
	for _, tok := range descTokens {
		present[tok] = true
	}

	matched := 0
	for _, tok := range issuerTokens {
		if present[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(issuerTokens))
}

// boundaryScore maps a difference to [0,1]: 1 at zero difference, 0 at or
// past the tolerance boundary.
func boundaryScore(diff, tolerance float64) float64 {
	if diff <= 0 {
		return 1
	}
	if tolerance <= 0 || diff >= tolerance {
		return 0
	}
	return 1 - diff/tolerance
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
