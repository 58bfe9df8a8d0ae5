package dto

import (
	"time"

	"github.com/contaflow/recon-backend/internal/application/reconciler"
	"github.com/contaflow/recon-backend/internal/domain/model"
)

// MatchResponse reports what a match command did.
type MatchResponse struct {
	Outcome       string `json:"outcome"` // "applied" or "no_op"
	TransactionID string `json:"transaction_id"`
	InvoiceID     string `json:"invoice_id"`
}

// SplitResponse returns the created split group.
type SplitResponse struct {
	GroupID     string               `json:"group_id"`
	Direction   string               `json:"direction"`
	Status      string               `json:"status"`
	Allocations []AllocationResponse `json:"allocations"`
}

// AllocationResponse is one persisted allocation.
type AllocationResponse struct {
	ParticipantID string  `json:"participant_id"`
	Amount        float64 `json:"amount"`
	Percent       float64 `json:"percent"`
}

// NewSplitResponse builds a SplitResponse from the persisted group.
func NewSplitResponse(group *model.SplitGroup, allocations []model.SplitAllocation) SplitResponse {
	resp := SplitResponse{
		GroupID:   group.ID,
		Direction: string(group.Direction),
		Status:    string(group.Status),
	}
	for _, alloc := range allocations {
		resp.Allocations = append(resp.Allocations, AllocationResponse{
			ParticipantID: alloc.ParticipantID,
			Amount:        alloc.Amount,
			Percent:       alloc.Percent,
		})
	}
	return resp
}

// ClassificationResponse returns the merged classification record.
type ClassificationResponse struct {
	EntityID     string   `json:"entity_id"`
	AccountCode  string   `json:"account_code"`
	Confidence   float64  `json:"confidence"`
	Status       string   `json:"status"`
	Source       string   `json:"source"`
	Applied      bool     `json:"applied"`
	NeedsReview  bool     `json:"needs_review"`
	Explanation  string   `json:"explanation,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// NewClassificationResponse builds a response from a merge result.
func NewClassificationResponse(res *reconciler.MergeResult) ClassificationResponse {
	return ClassificationResponse{
		EntityID:     res.Record.EntityID,
		AccountCode:  res.Record.AccountCode,
		Confidence:   res.Record.Confidence,
		Status:       string(res.Record.Status),
		Source:       string(res.Record.Source),
		Applied:      res.Applied,
		NeedsReview:  res.NeedsReview,
		Explanation:  res.Record.Explanation,
		Alternatives: res.Record.Alternatives,
	}
}

// JobResponse describes a batch reconciliation job.
type JobResponse struct {
	JobID       string             `json:"job_id"`
	TenantID    string             `json:"tenant_id"`
	Status      string             `json:"status"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Progress    JobProgress        `json:"progress"`
	Result      *reconciler.Result `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// JobProgress is the progress section of a job response.
type JobProgress struct {
	Phase       string `json:"phase"`
	Total       int    `json:"total"`
	Processed   int    `json:"processed"`
	AutoMatched int    `json:"auto_matched"`
	Suggested   int    `json:"suggested"`
	Skipped     int    `json:"skipped"`
	Errored     int    `json:"errored"`
}

// NewJobResponse builds a JobResponse from a job snapshot.
func NewJobResponse(job *reconciler.Job) JobResponse {
	resp := JobResponse{
		JobID:       job.ID,
		TenantID:    job.TenantID,
		Status:      string(job.Status),
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Progress: JobProgress{
			Phase:       job.Progress.Phase,
			Total:       job.Progress.Total,
			Processed:   job.Progress.Processed,
			AutoMatched: job.Progress.AutoMatched,
			Suggested:   job.Progress.Suggested,
			Skipped:     job.Progress.Skipped,
			Errored:     job.Progress.Errored,
		},
		Result: job.Result,
	}
	if job.Error != nil {
		resp.Error = job.Error.Error()
	}
	return resp
}

// ExclusionResponse is one exclusion list entry.
type ExclusionResponse struct {
	TransactionID string    `json:"transaction_id"`
	AddedBy       string    `json:"added_by"`
	AddedAt       time.Time `json:"added_at"`
}
