// Package transfers collapses internal transfer artifacts.
//
// When one instant transfer is recorded by two feeds it shows up as a
// same-day pair of equal-and-opposite transactions. Neither leg pays an
// invoice, so the detector removes the offsetting leg before candidate
// generation ever sees it.
package transfers

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/contaflow/recon-backend/internal/domain/model"
)

// DefaultPairTolerance is how close to zero a pair must sum to be treated
// as two legs of the same transfer.
const DefaultPairTolerance = 0.01

// Pair is one collapsed transfer: the retained leg and the removed leg.
type Pair struct {
	KeptID    string
	RemovedID string
	Amount    float64 // absolute amount of the transfer
}

// AmbiguityWarning is emitted when an offset group holds more members than
// can be resolved pairwise. It is non-fatal: resolved pairs stand, the
// remainder stays pending.
type AmbiguityWarning struct {
	Date          time.Time
	Amount        float64
	UnresolvedIDs []string
}

func (w AmbiguityWarning) String() string {
	return fmt.Sprintf("ambiguous transfer group on %s for %.2f: %d unresolved legs",
		w.Date.Format("2006-01-02"), w.Amount, len(w.UnresolvedIDs))
}

// Result holds the outcome of a detection run.
type Result struct {
	Pairs    []Pair
	Warnings []AmbiguityWarning
}

// RemovedIDs returns the ids of all legs the detector collapsed.
func (r *Result) RemovedIDs() []string {
	ids := make([]string, 0, len(r.Pairs))
	for _, p := range r.Pairs {
		ids = append(ids, p.RemovedID)
	}
	return ids
}

// Detector finds offsetting instant-transfer pairs.
type Detector struct {
	tolerance float64
}

// NewDetector creates a detector with the given pair tolerance.
// A non-positive tolerance falls back to DefaultPairTolerance.
func NewDetector(tolerance float64) *Detector {
	if tolerance <= 0 {
		tolerance = DefaultPairTolerance
	}
	return &Detector{tolerance: tolerance}
}

type offsetKey struct {
	date   string
	amount int64 // absolute amount in cents
}

// Detect groups instant-transfer transactions by (date, absolute amount)
// and pairs off legs whose amounts cancel within tolerance. The positive
// (inbound) leg is kept, the negative leg removed. Groups with more than
// two members are resolved pairwise greedily; leftovers produce an
// AmbiguityWarning.
func (d *Detector) Detect(transactions []model.Transaction) *Result {
	groups := make(map[offsetKey][]model.Transaction)
	var keys []offsetKey
	for _, tx := range transactions {
		if !tx.InstantTransfer || tx.TransferCollapsed {
			continue
		}
		key := offsetKey{
			date:   tx.Date.Format("2006-01-02"),
			amount: int64(math.Round(math.Abs(tx.Amount) * 100)),
		}
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], tx)
	}

	// Deterministic group order regardless of input order.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		return keys[i].amount < keys[j].amount
	})

	result := &Result{}
	for _, key := range keys {
		d.resolveGroup(groups[key], result)
	}
	return result
}

// resolveGroup pairs positive legs against negative legs greedily.
func (d *Detector) resolveGroup(group []model.Transaction, result *Result) {
	if len(group) < 2 {
		return
	}

	// Earlier-created legs pair first so repeated runs resolve identically.
	sort.Slice(group, func(i, j int) bool {
		if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		}
		return group[i].ID < group[j].ID
	})

	used := make([]bool, len(group))
	for i := range group {
		if used[i] || group[i].Amount <= 0 {
			continue
		}
		for j := range group {
			if used[j] || j == i || group[j].Amount >= 0 {
				continue
			}
			if math.Abs(group[i].Amount+group[j].Amount) <= d.tolerance {
				used[i], used[j] = true, true
				result.Pairs = append(result.Pairs, Pair{
					KeptID:    group[i].ID,
					RemovedID: group[j].ID,
					Amount:    math.Abs(group[i].Amount),
				})
				break
			}
		}
	}

	var unresolved []string
	for i := range group {
		if !used[i] {
			unresolved = append(unresolved, group[i].ID)
		}
	}
	if len(group) > 2 && len(unresolved) > 0 {
		result.Warnings = append(result.Warnings, AmbiguityWarning{
			Date:          group[0].Date,
			Amount:        math.Abs(group[0].Amount),
			UnresolvedIDs: unresolved,
		})
	}
}
