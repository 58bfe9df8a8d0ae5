package matching

// Config holds the tenant reconciliation policy for candidate generation
// and scoring. Historically these tolerances were hardcoded per call site;
// they are now one configurable policy.
type Config struct {
	// AmountTolerance is the absolute amount difference allowed, in
	// currency units.
	AmountTolerance float64

	// AmountToleranceRel is a relative tolerance as a fraction of the
	// transaction magnitude. The effective tolerance is the larger of the
	// absolute and relative bounds.
	AmountToleranceRel float64

	// DateWindowDays is how many days (either direction) an invoice date
	// may differ from the transaction date.
	DateWindowDays int

	// AutoMatchThreshold is the score at or above which a match commits
	// without human confirmation.
	AutoMatchThreshold float64

	// SuggestFloor is the minimum score for a candidate to be surfaced as
	// a suggestion. Below it the transaction stays pending.
	SuggestFloor float64

	// Weights control the composite score. They should sum to 1.
	Weights Weights
}

// Weights are the scoring dimension weights.
type Weights struct {
	Amount   float64
	Date     float64
	Identity float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AmountTolerance:    0.01,
		AmountToleranceRel: 0.01,
		DateWindowDays:     5,
		AutoMatchThreshold: 0.90,
		SuggestFloor:       0.50,
		Weights: Weights{
			Amount:   0.5,
			Date:     0.25,
			Identity: 0.25,
		},
	}
}

// effectiveAmountTolerance returns the tolerance applicable to a
// transaction of the given magnitude.
func (c Config) effectiveAmountTolerance(magnitude float64) float64 {
	rel := c.AmountToleranceRel * magnitude
	if rel > c.AmountTolerance {
		return rel
	}
	return c.AmountTolerance
}
