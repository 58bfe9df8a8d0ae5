package dto

// MatchRequest commits a manual match.
type MatchRequest struct {
	TransactionID string  `json:"transaction_id" binding:"required"`
	InvoiceID     string  `json:"invoice_id" binding:"required"`
	Confidence    float64 `json:"confidence"`
	Actor         string  `json:"actor"`
}

// SplitRequest creates a split group. Allocations may be omitted; amounts
// are then distributed pro rata by participant capacity.
type SplitRequest struct {
	Direction      string            `json:"direction" binding:"required"`
	TransactionIDs []string          `json:"transaction_ids" binding:"required"`
	InvoiceIDs     []string          `json:"invoice_ids" binding:"required"`
	Allocations    []AllocationEntry `json:"allocations"`
	Actor          string            `json:"actor"`
}

// AllocationEntry is one explicit allocation in a split request.
type AllocationEntry struct {
	ParticipantID string  `json:"participant_id" binding:"required"`
	Amount        float64 `json:"amount" binding:"required"`
}

// ClassificationRequest proposes a classification write.
type ClassificationRequest struct {
	EntityID     string   `json:"entity_id" binding:"required"`
	AccountCode  string   `json:"account_code" binding:"required"`
	Confidence   float64  `json:"confidence"`
	Status       string   `json:"status"`
	Source       string   `json:"source"`
	Explanation  string   `json:"explanation"`
	Alternatives []string `json:"alternatives"`
	Override     bool     `json:"override"`
}

// ReconcileRequest starts a batch reconciliation job.
type ReconcileRequest struct {
	Dedup           bool `json:"dedup"`
	MaxTransactions int  `json:"max_transactions"`
}

// ExclusionRequest adds a transaction to the exclusion list.
type ExclusionRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Actor         string `json:"actor"`
}
