package transfers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contaflow/recon-backend/internal/domain/model"
)

func makeLeg(id string, amount float64, date time.Time, createdAt time.Time) model.Transaction {
	return model.Transaction{
		ID:              id,
		TenantID:        "t1",
		Date:            date,
		Amount:          amount,
		InstantTransfer: true,
		CreatedAt:       createdAt,
	}
}

func TestDetect_CollapsesOffsettingPair(t *testing.T) {
	// Arrange
	day := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	legs := []model.Transaction{
		makeLeg("out", -5000.00, day, day.Add(1*time.Minute)),
		makeLeg("in", 5000.00, day, day.Add(2*time.Minute)),
	}

	// Act
	result := NewDetector(0).Detect(legs)

	// Assert
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, "in", result.Pairs[0].KeptID)
	assert.Equal(t, "out", result.Pairs[0].RemovedID)
	assert.InDelta(t, 5000.00, result.Pairs[0].Amount, 0.001)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, []string{"out"}, result.RemovedIDs())
}

func TestDetect_IgnoresNonInstantTransfers(t *testing.T) {
	day := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	legs := []model.Transaction{
		{ID: "a", Amount: -100, Date: day},
		{ID: "b", Amount: 100, Date: day},
	}

	result := NewDetector(0).Detect(legs)

	assert.Empty(t, result.Pairs)
}

func TestDetect_IgnoresAlreadyCollapsedLegs(t *testing.T) {
	day := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	collapsed := makeLeg("a", -100, day, day)
	collapsed.TransferCollapsed = true
	legs := []model.Transaction{collapsed, makeLeg("b", 100, day, day)}

	result := NewDetector(0).Detect(legs)

	assert.Empty(t, result.Pairs)
}

func TestDetect_DifferentDaysDoNotPair(t *testing.T) {
	d1 := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC)
	legs := []model.Transaction{
		makeLeg("out", -100, d1, d1),
		makeLeg("in", 100, d2, d2),
	}

	result := NewDetector(0).Detect(legs)

	assert.Empty(t, result.Pairs)
}

func TestDetect_WithinTolerance(t *testing.T) {
	day := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	legs := []model.Transaction{
		makeLeg("out", -100.00, day, day),
		makeLeg("in", 100.00, day, day.Add(time.Minute)),
	}
	// Same |amount| key, pair sums to zero exactly.
	result := NewDetector(0.01).Detect(legs)

	require.Len(t, result.Pairs, 1)
}

func TestDetect_AmbiguousGroupEmitsWarning(t *testing.T) {
	// Arrange: three legs of the same magnitude on one day. One pair
	// resolves, the third leg stays unresolved.
	day := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	legs := []model.Transaction{
		makeLeg("out1", -200, day, day.Add(1*time.Minute)),
		makeLeg("in1", 200, day, day.Add(2*time.Minute)),
		makeLeg("out2", -200, day, day.Add(3*time.Minute)),
	}

	// Act
	result := NewDetector(0).Detect(legs)

	// Assert
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, "in1", result.Pairs[0].KeptID)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, []string{"out2"}, result.Warnings[0].UnresolvedIDs)
	assert.Contains(t, result.Warnings[0].String(), "1 unresolved")
}

func TestDetect_DeterministicAcrossInputOrder(t *testing.T) {
	day := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	legs := []model.Transaction{
		makeLeg("out1", -200, day, day.Add(1*time.Minute)),
		makeLeg("in1", 200, day, day.Add(2*time.Minute)),
		makeLeg("out2", -200, day, day.Add(3*time.Minute)),
		makeLeg("in2", 200, day, day.Add(4*time.Minute)),
	}
	reversed := []model.Transaction{legs[3], legs[2], legs[1], legs[0]}

	a := NewDetector(0).Detect(legs)
	b := NewDetector(0).Detect(reversed)

	require.Equal(t, len(a.Pairs), len(b.Pairs))
	for i := range a.Pairs {
		assert.Equal(t, a.Pairs[i], b.Pairs[i])
	}
}

func TestDetect_SingleLegStaysPending(t *testing.T) {
	day := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	legs := []model.Transaction{makeLeg("lonely", -300, day, day)}

	result := NewDetector(0).Detect(legs)

	assert.Empty(t, result.Pairs)
	assert.Empty(t, result.Warnings)
}
