package storage

import "github.com/contaflow/recon-backend/internal/domain/model"

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, PostgreSQL, etc.)
// and makes testing with mocks straightforward.
type Repository interface {
	TransactionRepository
	InvoiceRepository
	SplitRepository
	ClassificationRepository
	ExclusionRepository
	RunRepository
	Close() error
}

// TransactionRepository handles bank transaction persistence.
type TransactionRepository interface {
	// SaveTransaction stores an ingested transaction. A transaction whose
	// fingerprint already exists is rejected with a ValidationError:
	// duplicate ingestion must never create a second row.
	SaveTransaction(tx *model.Transaction) error

	// GetTransaction retrieves a transaction scoped to a tenant. Ids that
	// exist under another tenant report NotFoundError.
	GetTransaction(tenantID, id string) (*model.Transaction, error)

	// ListUnreconciled returns the tenant's pending and suggested outflow
	// transactions, excluding collapsed transfer legs.
	ListUnreconciled(tenantID string) ([]model.Transaction, error)

	// ListInstantTransfers returns the tenant's not-yet-collapsed
	// instant-transfer transactions for pair detection.
	ListInstantTransfers(tenantID string) ([]model.Transaction, error)

	// MarkTransferCollapsed flags the given transactions as collapsed
	// transfer legs so they never reach candidate generation.
	MarkTransferCollapsed(tenantID string, ids []string) error

	// ApplyMatch commits a match with an "only if still unreconciled"
	// guard. It returns applied=false (and no error) when the transaction
	// is already reconciled, making re-application an idempotent no-op.
	ApplyMatch(tenantID, txID, invoiceID string, confidence float64, status model.TransactionStatus, actor string) (applied bool, err error)

	// SuggestMatch records a suggested invoice and confidence without
	// committing the match, guarded the same way as ApplyMatch.
	SuggestMatch(tenantID, txID, invoiceID string, confidence float64) (applied bool, err error)

	// TransitionStatus moves a transaction between lifecycle states only
	// if it currently is in one of the expected states; otherwise it
	// reports ConflictError.
	TransitionStatus(tenantID, txID string, from []model.TransactionStatus, to model.TransactionStatus, actor string) error

	// DedupTransactions groups stored rows by fingerprint identity, keeps
	// the earliest-created row of each group, and deletes the rest.
	// Safe to re-invoke indefinitely.
	DedupTransactions(tenantID string) (removed int, err error)

	// GetStats returns reconciliation statistics for a tenant.
	GetStats(tenantID string) (*ReconStats, error)

	// ListSuggestions returns committed suggestions ordered by
	// (amount difference asc, day difference asc) — least ambiguous first.
	ListSuggestions(tenantID string, limit int) ([]Suggestion, error)
}

// InvoiceRepository handles invoice persistence.
type InvoiceRepository interface {
	// SaveInvoice stores an ingested invoice. Duplicate document
	// identifiers are rejected with a ValidationError.
	SaveInvoice(inv *model.Invoice) error

	// GetInvoice retrieves an invoice scoped to a tenant.
	GetInvoice(tenantID, id string) (*model.Invoice, error)

	// ListOpenInvoices returns valid, unreconciled invoices available for
	// matching: not canceled, not linked to an expense, not referenced by
	// a reconciled transaction, and not fully allocated by active splits.
	ListOpenInvoices(tenantID string) ([]model.Invoice, error)

	// AllocatedTotal sums the invoice's allocations across active (not
	// cancelled) split groups.
	AllocatedTotal(invoiceID string) (float64, error)
}

// SplitRepository handles split group persistence.
type SplitRepository interface {
	// CreateSplitGroup stores a group with its allocations in one
	// transaction and marks the participant transactions matched. A
	// transaction already carrying an allocation in another active group
	// is rejected with a ConflictError.
	CreateSplitGroup(group *model.SplitGroup, allocations []model.SplitAllocation, actor string) error

	// GetSplitGroup retrieves a group and its allocations.
	GetSplitGroup(tenantID, id string) (*model.SplitGroup, []model.SplitAllocation, error)

	// CancelSplitGroup reverts a group atomically: the group becomes
	// cancelled and every participant transaction returns to pending.
	// Partial undo is not a legal state; any failure rolls the whole
	// revert back.
	CancelSplitGroup(tenantID, id string) error

	// TransactionAllocated reports whether a transaction participates in
	// any active split group.
	TransactionAllocated(txID string) (bool, error)
}

// ClassificationRepository handles classification persistence.
type ClassificationRepository interface {
	// GetClassification returns the stored record for an entity, or nil
	// when the entity has never been classified.
	GetClassification(tenantID, entityID string) (*model.Classification, error)

	// UpsertClassification writes the record produced by the merge
	// guardrail.
	UpsertClassification(c *model.Classification) error
}

// ExclusionRepository handles the persisted exclusion list.
type ExclusionRepository interface {
	// IsExcluded reports whether a transaction is barred from automatic
	// reconciliation.
	IsExcluded(tenantID, txID string) (bool, error)

	// AddExclusion records who excluded a transaction and when.
	AddExclusion(entry *model.ExclusionEntry) error

	// RemoveExclusion lifts an exclusion.
	RemoveExclusion(tenantID, txID string) error

	// ListExclusions returns the tenant's exclusion entries.
	ListExclusions(tenantID string) ([]model.ExclusionEntry, error)
}

// RunRepository tracks batch reconciliation runs.
type RunRepository interface {
	// StartRun records the start of a reconciliation run and returns its id.
	StartRun(tenantID string) (int64, error)

	// CompleteRun records the outcome counters of a run.
	CompleteRun(runID int64, processed, autoMatched, suggested, skipped, errored int) error

	// ListRuns returns recent runs, newest first.
	ListRuns(tenantID string, limit int) ([]ReconRun, error)

	// GetRun retrieves a run by id.
	GetRun(runID int64) (*ReconRun, error)
}
