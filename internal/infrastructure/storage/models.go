package storage

import "time"

// Suggestion is a surfaced match awaiting human confirmation, with the
// differences that determine its ambiguity ordering.
type Suggestion struct {
	TransactionID     string    `json:"transaction_id"`
	TransactionAmount float64   `json:"transaction_amount"`
	TransactionDate   time.Time `json:"transaction_date"`
	Description       string    `json:"description"`
	InvoiceID         string    `json:"invoice_id"`
	InvoiceTotal      float64   `json:"invoice_total"`
	IssuerName        string    `json:"issuer_name"`
	AmountDiff        float64   `json:"amount_diff"`
	DayDiff           int       `json:"day_diff"`
	Confidence        float64   `json:"confidence"`
}

// ReconStats contains per-tenant reconciliation statistics.
type ReconStats struct {
	TotalTransactions int            `json:"total_transactions"`
	ByStatus          map[string]int `json:"by_status"`
	ReconciledRate    float64        `json:"reconciled_rate"`
	AverageConfidence float64        `json:"average_confidence"`
	OpenInvoices      int            `json:"open_invoices"`
	ActiveSplits      int            `json:"active_splits"`
}

// ReconRun is one batch reconciliation run record.
type ReconRun struct {
	ID          int64  `json:"id"`
	TenantID    string `json:"tenant_id"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Processed   int    `json:"processed"`
	AutoMatched int    `json:"auto_matched"`
	Suggested   int    `json:"suggested"`
	Skipped     int    `json:"skipped"`
	Errored     int    `json:"errored"`
	Status      string `json:"status"`
}
