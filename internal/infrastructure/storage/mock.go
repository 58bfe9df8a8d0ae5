package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/contaflow/recon-backend/internal/domain/model"
)

// MockRepository is an in-memory Repository for tests.
type MockRepository struct {
	mu sync.Mutex

	transactions    map[string]*model.Transaction
	invoices        map[string]*model.Invoice
	groups          map[string]*model.SplitGroup
	allocations     map[string][]model.SplitAllocation
	classifications map[string]*model.Classification
	exclusions      map[string]*model.ExclusionEntry
	runs            map[int64]*ReconRun
	nextRunID       int64

	// Error injection for failure-path tests.
	SaveTransactionErr error
	ApplyMatchErr      error
	SuggestMatchErr    error
}

// Compile-time interface check.
var _ Repository = (*MockRepository)(nil)

// NewMockRepository creates an empty in-memory repository.
func NewMockRepository() *MockRepository {
	return &MockRepository{
		transactions:    make(map[string]*model.Transaction),
		invoices:        make(map[string]*model.Invoice),
		groups:          make(map[string]*model.SplitGroup),
		allocations:     make(map[string][]model.SplitAllocation),
		classifications: make(map[string]*model.Classification),
		exclusions:      make(map[string]*model.ExclusionEntry),
		runs:            make(map[int64]*ReconRun),
	}
}

func (m *MockRepository) key(tenantID, id string) string {
	return tenantID + "/" + id
}

// SaveTransaction stores a transaction, rejecting fingerprint duplicates.
func (m *MockRepository) SaveTransaction(tx *model.Transaction) error {
	if m.SaveTransactionErr != nil {
		return m.SaveTransactionErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.transactions {
		if existing.Fingerprint == tx.Fingerprint {
			return model.NewValidationError("duplicate_transaction",
				fmt.Sprintf("fingerprint already ingested: %s", tx.Fingerprint))
		}
	}

	cp := *tx
	if cp.Status == "" {
		cp.Status = model.TxPending
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.transactions[m.key(tx.TenantID, tx.ID)] = &cp
	return nil
}

// GetTransaction retrieves a transaction scoped to a tenant.
func (m *MockRepository) GetTransaction(tenantID, id string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[m.key(tenantID, id)]
	if !ok {
		return nil, &model.NotFoundError{Entity: "transaction", ID: id}
	}
	cp := *tx
	return &cp, nil
}

// ListUnreconciled returns pending and suggested outflows.
func (m *MockRepository) ListUnreconciled(tenantID string) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Transaction
	for _, tx := range m.transactions {
		if tx.TenantID != tenantID || tx.TransferCollapsed {
			continue
		}
		if tx.Status != model.TxPending && tx.Status != model.TxSuggested {
			continue
		}
		if tx.Amount >= 0 {
			continue
		}
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListInstantTransfers returns not-yet-collapsed instant transfers.
func (m *MockRepository) ListInstantTransfers(tenantID string) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Transaction
	for _, tx := range m.transactions {
		if tx.TenantID == tenantID && tx.InstantTransfer && !tx.TransferCollapsed {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MarkTransferCollapsed flags the given transactions as collapsed legs.
func (m *MockRepository) MarkTransferCollapsed(tenantID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if tx, ok := m.transactions[m.key(tenantID, id)]; ok {
			tx.TransferCollapsed = true
		}
	}
	return nil
}

// ApplyMatch commits a match with the unreconciled guard.
func (m *MockRepository) ApplyMatch(tenantID, txID, invoiceID string, confidence float64, status model.TransactionStatus, actor string) (bool, error) {
	if m.ApplyMatchErr != nil {
		return false, m.ApplyMatchErr
	}
	if !status.Reconciled() {
		return false, model.NewValidationError("invalid_match_status",
			fmt.Sprintf("status %q does not represent a committed match", status))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invoices[m.key(tenantID, invoiceID)]; !ok {
		return false, &model.NotFoundError{Entity: "invoice", ID: invoiceID}
	}
	tx, ok := m.transactions[m.key(tenantID, txID)]
	if !ok {
		return false, &model.NotFoundError{Entity: "transaction", ID: txID}
	}
	if tx.Status.Reconciled() {
		return false, nil
	}
	if tx.Status != model.TxPending && tx.Status != model.TxSuggested {
		return false, &model.ConflictError{Entity: "transaction", ID: txID}
	}

	tx.Status = status
	tx.InvoiceID = invoiceID
	tx.MatchConfidence = confidence
	return true, nil
}

// SuggestMatch records a suggestion without committing it.
func (m *MockRepository) SuggestMatch(tenantID, txID, invoiceID string, confidence float64) (bool, error) {
	if m.SuggestMatchErr != nil {
		return false, m.SuggestMatchErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[m.key(tenantID, txID)]
	if !ok {
		return false, &model.NotFoundError{Entity: "transaction", ID: txID}
	}
	if tx.Status != model.TxPending && tx.Status != model.TxSuggested {
		return false, nil
	}

	tx.Status = model.TxSuggested
	tx.InvoiceID = invoiceID
	tx.MatchConfidence = confidence
	return true, nil
}

// TransitionStatus moves a transaction between states with a guard.
func (m *MockRepository) TransitionStatus(tenantID, txID string, from []model.TransactionStatus, to model.TransactionStatus, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[m.key(tenantID, txID)]
	if !ok {
		return &model.NotFoundError{Entity: "transaction", ID: txID}
	}
	for _, s := range from {
		if tx.Status == s {
			tx.Status = to
			return nil
		}
	}
	return &model.ConflictError{Entity: "transaction", ID: txID}
}

// DedupTransactions removes later duplicates sharing a fingerprint identity.
func (m *MockRepository) DedupTransactions(tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type slot struct {
		key string
		tx  *model.Transaction
	}
	keep := make(map[string]slot)
	var removed []string

	var keys []string
	for k := range m.transactions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		tx := m.transactions[k]
		if tx.TenantID != tenantID {
			continue
		}
		identity := fmt.Sprintf("%s|%.2f|%s|%s",
			tx.Date.Format("2006-01-02"), tx.Amount,
			strings.ToUpper(strings.TrimSpace(tx.Description)), tx.AccountID)
		existing, ok := keep[identity]
		if !ok {
			keep[identity] = slot{key: k, tx: tx}
			continue
		}
		// Keep the earliest-created row.
		if tx.CreatedAt.Before(existing.tx.CreatedAt) {
			if existing.tx.Status == model.TxPending || existing.tx.Status == model.TxSuggested {
				removed = append(removed, existing.key)
				keep[identity] = slot{key: k, tx: tx}
			}
			continue
		}
		if tx.Status == model.TxPending || tx.Status == model.TxSuggested {
			removed = append(removed, k)
		}
	}

	for _, k := range removed {
		delete(m.transactions, k)
	}
	return len(removed), nil
}

// GetStats returns reconciliation statistics.
func (m *MockRepository) GetStats(tenantID string) (*ReconStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &ReconStats{ByStatus: make(map[string]int)}
	reconciled := 0
	for _, tx := range m.transactions {
		if tx.TenantID != tenantID {
			continue
		}
		stats.ByStatus[string(tx.Status)]++
		stats.TotalTransactions++
		if tx.Status.Reconciled() {
			reconciled++
		}
	}
	if stats.TotalTransactions > 0 {
		stats.ReconciledRate = float64(reconciled) / float64(stats.TotalTransactions)
	}
	return stats, nil
}

// ListSuggestions returns suggested matches ordered least-ambiguous first.
func (m *MockRepository) ListSuggestions(tenantID string, limit int) ([]Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Suggestion
	for _, tx := range m.transactions {
		if tx.TenantID != tenantID || tx.Status != model.TxSuggested || tx.InvoiceID == "" {
			continue
		}
		inv, ok := m.invoices[m.key(tenantID, tx.InvoiceID)]
		if !ok {
			continue
		}
		amountDiff := tx.Amount
		if amountDiff < 0 {
			amountDiff = -amountDiff
		}
		amountDiff -= inv.Total
		if amountDiff < 0 {
			amountDiff = -amountDiff
		}
		dayDiff := int(tx.Date.Sub(inv.IssuedAt).Hours() / 24)
		if dayDiff < 0 {
			dayDiff = -dayDiff
		}
		out = append(out, Suggestion{
			TransactionID:     tx.ID,
			TransactionAmount: tx.Amount,
			TransactionDate:   tx.Date,
			Description:       tx.Description,
			InvoiceID:         inv.ID,
			InvoiceTotal:      inv.Total,
			IssuerName:        inv.IssuerName,
			AmountDiff:        amountDiff,
			DayDiff:           dayDiff,
			Confidence:        tx.MatchConfidence,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AmountDiff != out[j].AmountDiff {
			return out[i].AmountDiff < out[j].AmountDiff
		}
		if out[i].DayDiff != out[j].DayDiff {
			return out[i].DayDiff < out[j].DayDiff
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveInvoice stores an invoice, rejecting duplicate document identifiers.
func (m *MockRepository) SaveInvoice(inv *model.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.invoices {
		if existing.DocumentID == inv.DocumentID {
			return model.NewValidationError("duplicate_invoice",
				fmt.Sprintf("document already ingested: %s", inv.DocumentID))
		}
	}

	cp := *inv
	if cp.Status == "" {
		cp.Status = model.InvoiceValid
	}
	m.invoices[m.key(inv.TenantID, inv.ID)] = &cp
	return nil
}

// GetInvoice retrieves an invoice scoped to a tenant.
func (m *MockRepository) GetInvoice(tenantID, id string) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[m.key(tenantID, id)]
	if !ok {
		return nil, &model.NotFoundError{Entity: "invoice", ID: id}
	}
	cp := *inv
	return &cp, nil
}

// ListOpenInvoices returns valid, unreconciled, not fully allocated invoices.
func (m *MockRepository) ListOpenInvoices(tenantID string) ([]model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Invoice
	for _, inv := range m.invoices {
		if inv.TenantID != tenantID || inv.Status != model.InvoiceValid || inv.LinkedExpenseID != "" {
			continue
		}
		if m.invoiceReconciledLocked(tenantID, inv.ID) {
			continue
		}
		if m.allocatedTotalLocked(inv.ID) >= inv.Total-0.005 {
			continue
		}
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockRepository) invoiceReconciledLocked(tenantID, invoiceID string) bool {
	for _, tx := range m.transactions {
		if tx.TenantID == tenantID && tx.InvoiceID == invoiceID && tx.Status.Reconciled() {
			return true
		}
	}
	return false
}

func (m *MockRepository) allocatedTotalLocked(invoiceID string) float64 {
	total := 0.0
	for groupID, allocs := range m.allocations {
		group, ok := m.groups[groupID]
		if !ok || group.Status == model.SplitCancelled {
			continue
		}
		for _, alloc := range allocs {
			if alloc.ParticipantID == invoiceID {
				total += alloc.Amount
			}
		}
	}
	return total
}

// AllocatedTotal sums the invoice's active split allocations.
func (m *MockRepository) AllocatedTotal(invoiceID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocatedTotalLocked(invoiceID), nil
}

// CreateSplitGroup stores a group and marks participants matched.
func (m *MockRepository) CreateSplitGroup(group *model.SplitGroup, allocations []model.SplitAllocation, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, txID := range group.TransactionIDs {
		if m.transactionAllocatedLocked(txID) {
			return &model.ConflictError{Entity: "transaction", ID: txID}
		}
	}
	for _, txID := range group.TransactionIDs {
		tx, ok := m.transactions[m.key(group.TenantID, txID)]
		if !ok {
			return &model.NotFoundError{Entity: "transaction", ID: txID}
		}
		if tx.Status != model.TxPending && tx.Status != model.TxSuggested {
			return &model.ConflictError{Entity: "transaction", ID: txID}
		}
	}

	cp := *group
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.groups[group.ID] = &cp
	m.allocations[group.ID] = append([]model.SplitAllocation(nil), allocations...)

	for _, txID := range group.TransactionIDs {
		m.transactions[m.key(group.TenantID, txID)].Status = model.TxManuallyMatched
	}
	return nil
}

// GetSplitGroup retrieves a group and its allocations.
func (m *MockRepository) GetSplitGroup(tenantID, id string) (*model.SplitGroup, []model.SplitAllocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.groups[id]
	if !ok || group.TenantID != tenantID {
		return nil, nil, &model.NotFoundError{Entity: "split group", ID: id}
	}
	cp := *group
	return &cp, append([]model.SplitAllocation(nil), m.allocations[id]...), nil
}

// CancelSplitGroup reverts a group and its participants.
func (m *MockRepository) CancelSplitGroup(tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.groups[id]
	if !ok || group.TenantID != tenantID {
		return &model.NotFoundError{Entity: "split group", ID: id}
	}
	if group.Status == model.SplitCancelled {
		return &model.ConflictError{Entity: "split group", ID: id}
	}

	group.Status = model.SplitCancelled
	delete(m.allocations, id)
	for _, txID := range group.TransactionIDs {
		if tx, ok := m.transactions[m.key(tenantID, txID)]; ok && tx.Status == model.TxManuallyMatched {
			tx.Status = model.TxPending
			tx.InvoiceID = ""
			tx.MatchConfidence = 0
		}
	}
	return nil
}

// TransactionAllocated reports split participation.
func (m *MockRepository) TransactionAllocated(txID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactionAllocatedLocked(txID), nil
}

func (m *MockRepository) transactionAllocatedLocked(txID string) bool {
	for groupID, group := range m.groups {
		if group.Status == model.SplitCancelled {
			continue
		}
		for _, id := range group.TransactionIDs {
			if id == txID {
				return true
			}
		}
		for _, alloc := range m.allocations[groupID] {
			if alloc.ParticipantID == txID {
				return true
			}
		}
	}
	return false
}

// GetClassification returns the stored record, or nil when absent.
func (m *MockRepository) GetClassification(tenantID, entityID string) (*model.Classification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.classifications[m.key(tenantID, entityID)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// UpsertClassification writes a classification record.
func (m *MockRepository) UpsertClassification(c *model.Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	cp.UpdatedAt = time.Now()
	m.classifications[m.key(c.TenantID, c.EntityID)] = &cp
	return nil
}

// IsExcluded reports exclusion list membership.
func (m *MockRepository) IsExcluded(tenantID, txID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.exclusions[m.key(tenantID, txID)]
	return ok, nil
}

// AddExclusion records an exclusion entry.
func (m *MockRepository) AddExclusion(entry *model.ExclusionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	if cp.AddedAt.IsZero() {
		cp.AddedAt = time.Now()
	}
	m.exclusions[m.key(entry.TenantID, entry.TransactionID)] = &cp
	return nil
}

// RemoveExclusion lifts an exclusion.
func (m *MockRepository) RemoveExclusion(tenantID, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.exclusions, m.key(tenantID, txID))
	return nil
}

// ListExclusions returns the tenant's exclusion entries.
func (m *MockRepository) ListExclusions(tenantID string) ([]model.ExclusionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.ExclusionEntry
	for _, e := range m.exclusions {
		if e.TenantID == tenantID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out, nil
}

// StartRun records the start of a run.
func (m *MockRepository) StartRun(tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextRunID++
	m.runs[m.nextRunID] = &ReconRun{
		ID:        m.nextRunID,
		TenantID:  tenantID,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Status:    "running",
	}
	return m.nextRunID, nil
}

// CompleteRun records the outcome counters of a run.
func (m *MockRepository) CompleteRun(runID int64, processed, autoMatched, suggested, skipped, errored int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return &model.NotFoundError{Entity: "run", ID: fmt.Sprintf("%d", runID)}
	}
	run.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	run.Processed = processed
	run.AutoMatched = autoMatched
	run.Suggested = suggested
	run.Skipped = skipped
	run.Errored = errored
	run.Status = "completed"
	if errored > 0 {
		run.Status = "completed_with_errors"
	}
	return nil
}

// ListRuns returns recent runs, newest first.
func (m *MockRepository) ListRuns(tenantID string, limit int) ([]ReconRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ReconRun
	for _, run := range m.runs {
		if run.TenantID == tenantID {
			out = append(out, *run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetRun retrieves a run by id.
func (m *MockRepository) GetRun(runID int64) (*ReconRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, &model.NotFoundError{Entity: "run", ID: fmt.Sprintf("%d", runID)}
	}
	cp := *run
	return &cp, nil
}

// Close is a no-op for the in-memory repository.
func (m *MockRepository) Close() error {
	return nil
}
