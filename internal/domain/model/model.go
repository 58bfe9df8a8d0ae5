// Package model defines the core records the reconciliation engine operates
// on: bank transactions, tax invoices, split groups, and classifications.
//
// Upstream ingestion (statement parsers, invoice parsers) is expected to
// convert its loosely-typed output into these records at the boundary.
// The engine never consumes untyped data.
package model

import "time"

// TransactionStatus is the reconciliation lifecycle state of a transaction.
type TransactionStatus string

const (
	TxPending         TransactionStatus = "pending"
	TxSuggested       TransactionStatus = "suggested"
	TxAutoMatched     TransactionStatus = "auto_matched"
	TxManuallyMatched TransactionStatus = "manually_matched"
	TxReviewed        TransactionStatus = "reviewed"
	TxNonReconcilable TransactionStatus = "non_reconcilable"
)

// Reconciled reports whether the status represents a committed match.
func (s TransactionStatus) Reconciled() bool {
	return s == TxAutoMatched || s == TxManuallyMatched || s == TxReviewed
}

// Transaction is a single bank ledger movement.
// Amount is signed: negative means outflow.
type Transaction struct {
	ID              string            `json:"id"`
	AccountID       string            `json:"account_id"`
	TenantID        string            `json:"tenant_id"`
	Date            time.Time         `json:"date"`
	Amount          float64           `json:"amount"`
	Description     string            `json:"description"`
	Currency        string            `json:"currency"`
	Status          TransactionStatus `json:"status"`
	InvoiceID       string            `json:"invoice_id,omitempty"` // set once reconciled
	MatchConfidence float64           `json:"match_confidence"`
	Fingerprint     string            `json:"fingerprint"`

	// InstantTransfer marks transactions recorded by an instant-transfer
	// feed; only these are considered by the transfer pair detector.
	InstantTransfer bool `json:"instant_transfer"`

	// TransferCollapsed is set when the pair detector identified this
	// transaction as one leg of an internal transfer. Collapsed legs are
	// excluded from candidate generation.
	TransferCollapsed bool `json:"transfer_collapsed"`

	CreatedAt time.Time `json:"created_at"`
}

// InvoiceStatus is the fiscal validity of an invoice.
type InvoiceStatus string

const (
	InvoiceValid    InvoiceStatus = "valid"
	InvoiceCanceled InvoiceStatus = "canceled"
)

// LinkedExpensePaidByCard is the sentinel LinkedExpenseID meaning the
// invoice was paid by card and has no direct bank leg to reconcile.
const LinkedExpensePaidByCard = "paid_by_card"

// Invoice is a tax-compliant billing document.
type Invoice struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	IssuerTaxID     string        `json:"issuer_tax_id"`
	IssuerName      string        `json:"issuer_name"`
	Total           float64       `json:"total"`
	IssuedAt        time.Time     `json:"issued_at"`
	DocumentID      string        `json:"document_id"` // unique fiscal identifier
	Status          InvoiceStatus `json:"status"`
	LinkedExpenseID string        `json:"linked_expense_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// SplitDirection distinguishes the two split shapes.
type SplitDirection string

const (
	// OneToMany distributes one transaction across several invoices.
	OneToMany SplitDirection = "one_to_many"
	// ManyToOne funds one invoice from several transactions.
	ManyToOne SplitDirection = "many_to_one"
)

// SplitStatus is the lifecycle state of a split group.
type SplitStatus string

const (
	SplitPending   SplitStatus = "pending"
	SplitPartial   SplitStatus = "partial"
	SplitComplete  SplitStatus = "complete"
	SplitCancelled SplitStatus = "cancelled"
)

// SplitGroup bundles allocations linking one transaction to many invoices
// or many transactions to one invoice.
type SplitGroup struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	Direction      SplitDirection `json:"direction"`
	Status         SplitStatus    `json:"status"`
	TransactionIDs []string       `json:"transaction_ids"`
	InvoiceIDs     []string       `json:"invoice_ids"`
	CreatedAt      time.Time      `json:"created_at"`
}

// SplitAllocation assigns part of the split target to one participant.
// For one-to-many groups the participant is an invoice; for many-to-one
// groups it is a transaction.
type SplitAllocation struct {
	GroupID       string  `json:"group_id"`
	ParticipantID string  `json:"participant_id"`
	Amount        float64 `json:"amount"`
	Percent       float64 `json:"percent"` // amount / target total
}

// ClassificationStatus orders classification trust from weakest to
// strongest. The merge guardrail never lets a weaker write replace a
// stronger record.
type ClassificationStatus string

const (
	ClassNotClassified       ClassificationStatus = "not_classified"
	ClassPending             ClassificationStatus = "pending"
	ClassPendingConfirmation ClassificationStatus = "pending_confirmation"
	ClassConfirmed           ClassificationStatus = "confirmed"
	ClassCorrected           ClassificationStatus = "corrected"
)

// ClassificationSource identifies what produced a classification.
type ClassificationSource string

const (
	SourceRule   ClassificationSource = "rule"
	SourceModel  ClassificationSource = "model"
	SourceManual ClassificationSource = "manual"
)

// Classification is a proposed or confirmed accounting code for an entity.
type Classification struct {
	EntityID     string               `json:"entity_id"`
	TenantID     string               `json:"tenant_id"`
	AccountCode  string               `json:"account_code"`
	Confidence   float64              `json:"confidence"`
	Status       ClassificationStatus `json:"status"`
	Source       ClassificationSource `json:"source"`
	Explanation  string               `json:"explanation,omitempty"`
	Alternatives []string             `json:"alternatives,omitempty"`
	NeedsReview  bool                 `json:"needs_review"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// ExclusionEntry bars a transaction from automatic reconciliation.
// Entries are tenant-scoped and auditable: they record who added the
// exclusion and when.
type ExclusionEntry struct {
	TenantID      string    `json:"tenant_id"`
	TransactionID string    `json:"transaction_id"`
	AddedBy       string    `json:"added_by"`
	AddedAt       time.Time `json:"added_at"`
}
