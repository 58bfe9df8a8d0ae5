package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contaflow/recon-backend/internal/domain/fingerprint"
	"github.com/contaflow/recon-backend/internal/domain/model"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	store, err := NewStorage(filepath.Join(t.TempDir(), "recon-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testTx(id, tenantID string, amount float64, date time.Time, description string) *model.Transaction {
	return &model.Transaction{
		ID:          id,
		AccountID:   "acct-1",
		TenantID:    tenantID,
		Date:        date,
		Amount:      amount,
		Description: description,
		Currency:    "MXN",
		Status:      model.TxPending,
		Fingerprint: fingerprint.Compute(date, amount, "MXN", description, "acct-1"),
	}
}

func testInvoice(id, tenantID string, total float64, issuedAt time.Time) *model.Invoice {
	return &model.Invoice{
		ID:         id,
		TenantID:   tenantID,
		IssuerName: "ACME",
		Total:      total,
		IssuedAt:   issuedAt,
		DocumentID: "doc-" + id,
		Status:     model.InvoiceValid,
	}
}

func TestSaveTransaction_DuplicateFingerprintRejected(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	first := testTx("tx1", "t1", -100, day, "PAYMENT")
	require.NoError(t, store.SaveTransaction(first))

	// Same logical movement under a different id.
	duplicate := testTx("tx2", "t1", -100, day, "PAYMENT")
	err := store.SaveTransaction(duplicate)

	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "duplicate_transaction", ve.Rule)
}

func TestGetTransaction_CrossTenantIsNotFound(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransaction(testTx("tx1", "t1", -100, day, "PAYMENT")))

	_, err := store.GetTransaction("t2", "tx1")

	assert.True(t, model.IsNotFound(err))
}

func TestApplyMatch_CommitsAndRecordsActor(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransaction(testTx("tx1", "t1", -100, day, "PAYMENT")))
	require.NoError(t, store.SaveInvoice(testInvoice("inv1", "t1", 100, day)))

	applied, err := store.ApplyMatch("t1", "tx1", "inv1", 0.97, model.TxAutoMatched, "auto")

	require.NoError(t, err)
	assert.True(t, applied)

	tx, err := store.GetTransaction("t1", "tx1")
	require.NoError(t, err)
	assert.Equal(t, model.TxAutoMatched, tx.Status)
	assert.Equal(t, "inv1", tx.InvoiceID)
	assert.InDelta(t, 0.97, tx.MatchConfidence, 0.0001)
}

func TestApplyMatch_ReapplyIsIdempotentNoOp(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransaction(testTx("tx1", "t1", -100, day, "PAYMENT")))
	require.NoError(t, store.SaveInvoice(testInvoice("inv1", "t1", 100, day)))

	applied, err := store.ApplyMatch("t1", "tx1", "inv1", 0.97, model.TxAutoMatched, "auto")
	require.NoError(t, err)
	require.True(t, applied)

	// Second apply reports no_op without touching the row.
	applied, err = store.ApplyMatch("t1", "tx1", "inv1", 0.50, model.TxManuallyMatched, "human")
	require.NoError(t, err)
	assert.False(t, applied)

	tx, err := store.GetTransaction("t1", "tx1")
	require.NoError(t, err)
	assert.Equal(t, model.TxAutoMatched, tx.Status)
	assert.InDelta(t, 0.97, tx.MatchConfidence, 0.0001)
}

func TestApplyMatch_GuardMissOnMovedRowIsConflict(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransaction(testTx("tx1", "t1", -100, day, "PAYMENT")))
	require.NoError(t, store.SaveInvoice(testInvoice("inv1", "t1", 100, day)))
	require.NoError(t, store.TransitionStatus("t1", "tx1",
		[]model.TransactionStatus{model.TxPending}, model.TxNonReconcilable, "reviewer"))

	_, err := store.ApplyMatch("t1", "tx1", "inv1", 0.97, model.TxAutoMatched, "auto")

	assert.True(t, model.IsConflict(err))
}

func TestApplyMatch_RejectsNonReconciledStatus(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.ApplyMatch("t1", "tx1", "inv1", 0.5, model.TxSuggested, "auto")

	assert.True(t, model.IsValidation(err))
}

func TestApplyMatch_UnknownInvoiceIsNotFound(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransaction(testTx("tx1", "t1", -100, day, "PAYMENT")))

	_, err := store.ApplyMatch("t1", "tx1", "ghost", 0.9, model.TxAutoMatched, "auto")

	assert.True(t, model.IsNotFound(err))
}

func TestSuggestMatch_PersistsSuggestion(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransaction(testTx("tx1", "t1", -100, day, "PAYMENT")))
	require.NoError(t, store.SaveInvoice(testInvoice("inv1", "t1", 100, day)))

	applied, err := store.SuggestMatch("t1", "tx1", "inv1", 0.75)

	require.NoError(t, err)
	assert.True(t, applied)

	tx, err := store.GetTransaction("t1", "tx1")
	require.NoError(t, err)
	assert.Equal(t, model.TxSuggested, tx.Status)
	assert.Equal(t, "inv1", tx.InvoiceID)
}

func TestListSuggestions_OrderedByAmbiguity(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveInvoice(testInvoice("inv-close", "t1", 100.00, day)))
	require.NoError(t, store.SaveInvoice(testInvoice("inv-far", "t1", 200.00, day.AddDate(0, 0, -3))))

	require.NoError(t, store.SaveTransaction(testTx("tx-far", "t1", -200.50, day, "PAYMENT FAR")))
	require.NoError(t, store.SaveTransaction(testTx("tx-close", "t1", -100.00, day, "PAYMENT CLOSE")))

	_, err := store.SuggestMatch("t1", "tx-far", "inv-far", 0.6)
	require.NoError(t, err)
	_, err = store.SuggestMatch("t1", "tx-close", "inv-close", 0.8)
	require.NoError(t, err)

	suggestions, err := store.ListSuggestions("t1", 10)
	require.NoError(t, err)

	require.Len(t, suggestions, 2)
	assert.Equal(t, "tx-close", suggestions[0].TransactionID)
	assert.Equal(t, "tx-far", suggestions[1].TransactionID)
	assert.InDelta(t, 0.0, suggestions[0].AmountDiff, 0.001)
	assert.Equal(t, 3, suggestions[1].DayDiff)
}

func TestDedupTransactions_KeepsEarliestRow(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// Same identity, different fingerprints (simulates a feed that salted
	// the raw payload differently across ingestions).
	first := testTx("tx1", "t1", -100, day, "PAYMENT")
	first.CreatedAt = day
	second := testTx("tx2", "t1", -100, day, "payment")
	second.Fingerprint = "different-fp"
	second.CreatedAt = day.Add(time.Hour)

	require.NoError(t, store.SaveTransaction(first))
	require.NoError(t, store.SaveTransaction(second))

	removed, err := store.DedupTransactions("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetTransaction("t1", "tx1")
	assert.NoError(t, err)
	_, err = store.GetTransaction("t1", "tx2")
	assert.True(t, model.IsNotFound(err))

	// Re-running is safe.
	removed, err = store.DedupTransactions("t1")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestMarkTransferCollapsed_HidesFromUnreconciled(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	leg := testTx("leg1", "t1", -500, day, "SPEI OUT")
	leg.InstantTransfer = true
	require.NoError(t, store.SaveTransaction(leg))

	require.NoError(t, store.MarkTransferCollapsed("t1", []string{"leg1"}))

	unreconciled, err := store.ListUnreconciled("t1")
	require.NoError(t, err)
	assert.Empty(t, unreconciled)

	transfersLeft, err := store.ListInstantTransfers("t1")
	require.NoError(t, err)
	assert.Empty(t, transfersLeft)
}

func TestListOpenInvoices_ExcludesReconciledAndLinked(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveInvoice(testInvoice("inv-open", "t1", 100, day)))
	require.NoError(t, store.SaveInvoice(testInvoice("inv-matched", "t1", 200, day)))

	linked := testInvoice("inv-card", "t1", 300, day)
	linked.LinkedExpenseID = model.LinkedExpensePaidByCard
	require.NoError(t, store.SaveInvoice(linked))

	canceled := testInvoice("inv-canceled", "t1", 400, day)
	canceled.Status = model.InvoiceCanceled
	require.NoError(t, store.SaveInvoice(canceled))

	require.NoError(t, store.SaveTransaction(testTx("tx1", "t1", -200, day, "PAYMENT")))
	_, err := store.ApplyMatch("t1", "tx1", "inv-matched", 1.0, model.TxManuallyMatched, "human")
	require.NoError(t, err)

	open, err := store.ListOpenInvoices("t1")
	require.NoError(t, err)

	require.Len(t, open, 1)
	assert.Equal(t, "inv-open", open[0].ID)
}

func TestCreateSplitGroup_MarksParticipantsMatched(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveTransaction(testTx("tx1", "t1", -1000, day, "BULK PAYMENT")))
	require.NoError(t, store.SaveInvoice(testInvoice("inv1", "t1", 600, day)))
	require.NoError(t, store.SaveInvoice(testInvoice("inv2", "t1", 400, day)))

	group := &model.SplitGroup{
		ID:             "g1",
		TenantID:       "t1",
		Direction:      model.OneToMany,
		Status:         model.SplitComplete,
		TransactionIDs: []string{"tx1"},
		InvoiceIDs:     []string{"inv1", "inv2"},
	}
	allocations := []model.SplitAllocation{
		{GroupID: "g1", ParticipantID: "inv1", Amount: 600, Percent: 0.6},
		{GroupID: "g1", ParticipantID: "inv2", Amount: 400, Percent: 0.4},
	}

	require.NoError(t, store.CreateSplitGroup(group, allocations, "human"))

	tx, err := store.GetTransaction("t1", "tx1")
	require.NoError(t, err)
	assert.Equal(t, model.TxManuallyMatched, tx.Status)

	got, gotAllocs, err := store.GetSplitGroup("t1", "g1")
	require.NoError(t, err)
	assert.Equal(t, model.SplitComplete, got.Status)
	assert.Equal(t, []string{"tx1"}, got.TransactionIDs)
	assert.Len(t, gotAllocs, 2)

	allocated, err := store.AllocatedTotal("inv1")
	require.NoError(t, err)
	assert.InDelta(t, 600, allocated, 0.001)
}

func TestCreateSplitGroup_DoubleAllocationConflicts(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveTransaction(testTx("tx1", "t1", -1000, day, "BULK")))
	require.NoError(t, store.SaveInvoice(testInvoice("inv1", "t1", 600, day)))
	require.NoError(t, store.SaveInvoice(testInvoice("inv2", "t1", 400, day)))

	group := &model.SplitGroup{
		ID: "g1", TenantID: "t1", Direction: model.OneToMany,
		Status:         model.SplitComplete,
		TransactionIDs: []string{"tx1"}, InvoiceIDs: []string{"inv1", "inv2"},
	}
	require.NoError(t, store.CreateSplitGroup(group, []model.SplitAllocation{
		{GroupID: "g1", ParticipantID: "inv1", Amount: 600, Percent: 0.6},
		{GroupID: "g1", ParticipantID: "inv2", Amount: 400, Percent: 0.4},
	}, "human"))

	second := &model.SplitGroup{
		ID: "g2", TenantID: "t1", Direction: model.OneToMany,
		Status:         model.SplitComplete,
		TransactionIDs: []string{"tx1"}, InvoiceIDs: []string{"inv1", "inv2"},
	}
	err := store.CreateSplitGroup(second, nil, "human")

	assert.True(t, model.IsConflict(err))
}

func TestCancelSplitGroup_RestoresParticipantsAtomically(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveTransaction(testTx("tx1", "t1", -1000, day, "BULK")))
	require.NoError(t, store.SaveInvoice(testInvoice("inv1", "t1", 600, day)))
	require.NoError(t, store.SaveInvoice(testInvoice("inv2", "t1", 400, day)))

	group := &model.SplitGroup{
		ID: "g1", TenantID: "t1", Direction: model.OneToMany,
		Status:         model.SplitComplete,
		TransactionIDs: []string{"tx1"}, InvoiceIDs: []string{"inv1", "inv2"},
	}
	require.NoError(t, store.CreateSplitGroup(group, []model.SplitAllocation{
		{GroupID: "g1", ParticipantID: "inv1", Amount: 600, Percent: 0.6},
		{GroupID: "g1", ParticipantID: "inv2", Amount: 400, Percent: 0.4},
	}, "human"))

	require.NoError(t, store.CancelSplitGroup("t1", "g1"))

	tx, err := store.GetTransaction("t1", "tx1")
	require.NoError(t, err)
	assert.Equal(t, model.TxPending, tx.Status)
	assert.Empty(t, tx.InvoiceID)

	allocated, err := store.AllocatedTotal("inv1")
	require.NoError(t, err)
	assert.Zero(t, allocated)

	// A second cancel is a conflict, not a silent repeat.
	err = store.CancelSplitGroup("t1", "g1")
	assert.True(t, model.IsConflict(err))
}

func TestClassification_UpsertAndGet(t *testing.T) {
	store := newTestStorage(t)

	missing, err := store.GetClassification("t1", "tx1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	record := &model.Classification{
		TenantID:     "t1",
		EntityID:     "tx1",
		AccountCode:  "601.84",
		Confidence:   0.85,
		Status:       model.ClassPendingConfirmation,
		Source:       model.SourceModel,
		Explanation:  "recurring vendor",
		Alternatives: []string{"601", "702"},
	}
	require.NoError(t, store.UpsertClassification(record))

	got, err := store.GetClassification("t1", "tx1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "601.84", got.AccountCode)
	assert.Equal(t, model.ClassPendingConfirmation, got.Status)
	assert.Equal(t, []string{"601", "702"}, got.Alternatives)
}

func TestExclusionList_AddCheckRemove(t *testing.T) {
	store := newTestStorage(t)

	excluded, err := store.IsExcluded("t1", "tx1")
	require.NoError(t, err)
	assert.False(t, excluded)

	require.NoError(t, store.AddExclusion(&model.ExclusionEntry{
		TenantID: "t1", TransactionID: "tx1", AddedBy: "compliance",
	}))

	excluded, err = store.IsExcluded("t1", "tx1")
	require.NoError(t, err)
	assert.True(t, excluded)

	entries, err := store.ListExclusions("t1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "compliance", entries[0].AddedBy)

	// Tenant scoping.
	excluded, err = store.IsExcluded("t2", "tx1")
	require.NoError(t, err)
	assert.False(t, excluded)

	require.NoError(t, store.RemoveExclusion("t1", "tx1"))
	excluded, err = store.IsExcluded("t1", "tx1")
	require.NoError(t, err)
	assert.False(t, excluded)
}

func TestRuns_StartCompleteAndList(t *testing.T) {
	store := newTestStorage(t)

	runID, err := store.StartRun("t1")
	require.NoError(t, err)
	require.NoError(t, store.CompleteRun(runID, 10, 4, 3, 2, 1))

	run, err := store.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, 10, run.Processed)
	assert.Equal(t, 4, run.AutoMatched)
	assert.Equal(t, "completed_with_errors", run.Status)
	assert.NotEmpty(t, run.CompletedAt)

	runs, err := store.ListRuns("t1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
}

func TestGetStats_CountsByStatus(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveTransaction(testTx("tx1", "t1", -100, day, "A")))
	require.NoError(t, store.SaveTransaction(testTx("tx2", "t1", -200, day, "B")))
	require.NoError(t, store.SaveInvoice(testInvoice("inv1", "t1", 100, day)))

	_, err := store.ApplyMatch("t1", "tx1", "inv1", 0.95, model.TxAutoMatched, "auto")
	require.NoError(t, err)

	stats, err := store.GetStats("t1")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalTransactions)
	assert.Equal(t, 1, stats.ByStatus["auto_matched"])
	assert.Equal(t, 1, stats.ByStatus["pending"])
	assert.InDelta(t, 0.5, stats.ReconciledRate, 0.0001)
	assert.InDelta(t, 0.95, stats.AverageConfidence, 0.0001)
}
