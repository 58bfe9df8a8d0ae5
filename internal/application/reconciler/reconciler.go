// Package reconciler orchestrates the reconciliation engine against
// storage: batch pipeline runs, manual match commands, split management,
// and classification writes. Domain packages stay pure; every state
// change goes through the guarded storage layer.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/contaflow/recon-backend/internal/domain/classification"
	"github.com/contaflow/recon-backend/internal/domain/matching"
	"github.com/contaflow/recon-backend/internal/domain/model"
	"github.com/contaflow/recon-backend/internal/domain/splits"
	"github.com/contaflow/recon-backend/internal/infrastructure/config"
	"github.com/contaflow/recon-backend/internal/infrastructure/storage"
)

// Reconciler wires the domain engine to storage and configuration.
type Reconciler struct {
	cfg        *config.Config
	store      storage.Repository
	logger     *slog.Logger
	similarity matching.SimilarityProvider // optional
}

// NewReconciler creates a reconciler. similarity may be nil; the scorer
// then falls back to token heuristics.
func NewReconciler(cfg *config.Config, store storage.Repository, logger *slog.Logger, similarity matching.SimilarityProvider) *Reconciler {
	return &Reconciler{
		cfg:        cfg,
		store:      store,
		logger:     logger,
		similarity: similarity,
	}
}

// matchingConfigFor resolves the tenant's effective matching policy.
func (r *Reconciler) matchingConfigFor(tenantID string) matching.Config {
	policy := r.cfg.PolicyFor(tenantID)
	cfg := matching.DefaultConfig()
	cfg.AmountTolerance = policy.AmountTolerance
	cfg.AmountToleranceRel = policy.AmountToleranceRel
	cfg.DateWindowDays = policy.DateWindowDays
	cfg.AutoMatchThreshold = policy.AutoMatchThreshold
	cfg.SuggestFloor = policy.SuggestFloor
	return cfg
}

// Suggestions returns committed suggestions, least ambiguous first.
func (r *Reconciler) Suggestions(tenantID string, limit int) ([]storage.Suggestion, error) {
	return r.store.ListSuggestions(tenantID, limit)
}

// Stats returns reconciliation statistics for a tenant.
func (r *Reconciler) Stats(tenantID string) (*storage.ReconStats, error) {
	return r.store.GetStats(tenantID)
}

// MatchOutcome reports what a manual match command did.
type MatchOutcome string

const (
	MatchApplied MatchOutcome = "applied"
	MatchNoOp    MatchOutcome = "no_op"
)

// ApplyMatch commits a manual match. Re-applying to an already reconciled
// transaction is a no_op, not an error.
func (r *Reconciler) ApplyMatch(ctx context.Context, tenantID, txID, invoiceID string, confidence float64, actor string) (MatchOutcome, error) {
	if confidence <= 0 || confidence > 1 {
		confidence = 1.0 // a human said so
	}

	applied, err := r.store.ApplyMatch(tenantID, txID, invoiceID, confidence, model.TxManuallyMatched, actor)
	if err != nil {
		return "", err
	}
	if !applied {
		r.logger.Info("match already applied", "tenant_id", tenantID, "transaction_id", txID)
		return MatchNoOp, nil
	}

	r.logger.Info("manual match applied",
		"tenant_id", tenantID,
		"transaction_id", txID,
		"invoice_id", invoiceID,
		"actor", actor,
	)
	return MatchApplied, nil
}

// ConfirmSuggestion promotes a suggested match to reviewed.
func (r *Reconciler) ConfirmSuggestion(tenantID, txID, actor string) error {
	tx, err := r.store.GetTransaction(tenantID, txID)
	if err != nil {
		return err
	}
	if tx.InvoiceID == "" {
		return model.NewValidationError("no_suggestion",
			"transaction carries no suggested invoice", txID)
	}

	return r.store.TransitionStatus(tenantID, txID,
		[]model.TransactionStatus{model.TxSuggested}, model.TxReviewed, actor)
}

// MarkNonReconcilable is the manual-review verdict that takes a
// transaction out of the matching pool permanently.
func (r *Reconciler) MarkNonReconcilable(tenantID, txID, actor string) error {
	return r.store.TransitionStatus(tenantID, txID,
		[]model.TransactionStatus{model.TxPending, model.TxSuggested},
		model.TxNonReconcilable, actor)
}

// Exclude adds a transaction to the exclusion list, capping its automatic
// outcome at suggested.
func (r *Reconciler) Exclude(tenantID, txID, actor string) error {
	if _, err := r.store.GetTransaction(tenantID, txID); err != nil {
		return err
	}
	return r.store.AddExclusion(&model.ExclusionEntry{
		TenantID:      tenantID,
		TransactionID: txID,
		AddedBy:       actor,
		AddedAt:       time.Now(),
	})
}

// Unexclude lifts an exclusion.
func (r *Reconciler) Unexclude(tenantID, txID string) error {
	return r.store.RemoveExclusion(tenantID, txID)
}

// Exclusions lists the tenant's exclusion entries.
func (r *Reconciler) Exclusions(tenantID string) ([]model.ExclusionEntry, error) {
	return r.store.ListExclusions(tenantID)
}

// SplitRequest describes a split group to create. Entries may be empty,
// in which case amounts are allocated pro rata by participant capacity.
type SplitRequest struct {
	TenantID       string
	Direction      model.SplitDirection
	TransactionIDs []string
	InvoiceIDs     []string
	Entries        []splits.Entry
	Actor          string
}

// CreateSplit validates and persists a split group.
//
// one_to_many: one transaction funds several invoices; participants are
// invoices, target is the transaction magnitude, capacity is each
// invoice's unallocated remainder.
//
// many_to_one: several transactions fund one invoice; participants are
// transactions, target is the invoice total, capacity is each
// transaction's magnitude.
func (r *Reconciler) CreateSplit(ctx context.Context, req SplitRequest) (*model.SplitGroup, []model.SplitAllocation, error) {
	target, capacity, participantIDs, err := r.resolveSplitShape(req)
	if err != nil {
		return nil, nil, err
	}

	entries := req.Entries
	if len(entries) == 0 {
		weights := make([]float64, len(participantIDs))
		for i, id := range participantIDs {
			weights[i] = capacity[id]
		}
		entries, err = splits.ProRata(participantIDs, weights, target)
		if err != nil {
			return nil, nil, err
		}
	}

	tolerance := r.cfg.Reconciliation.SplitTolerance
	if err := splits.Validate(entries, target, capacity, tolerance); err != nil {
		return nil, nil, err
	}

	group := &model.SplitGroup{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		Direction:      req.Direction,
		Status:         splits.StatusFor(splits.Sum(entries), target, tolerance),
		TransactionIDs: req.TransactionIDs,
		InvoiceIDs:     req.InvoiceIDs,
		CreatedAt:      time.Now(),
	}
	allocations := splits.BuildAllocations(group.ID, entries, target)

	if err := r.store.CreateSplitGroup(group, allocations, req.Actor); err != nil {
		return nil, nil, err
	}

	r.logger.Info("split group created",
		"tenant_id", req.TenantID,
		"group_id", group.ID,
		"direction", group.Direction,
		"status", group.Status,
		"allocations", len(allocations),
	)
	return group, allocations, nil
}

// resolveSplitShape loads the participants and derives target and
// capacities from the split direction.
func (r *Reconciler) resolveSplitShape(req SplitRequest) (target float64, capacity map[string]float64, participantIDs []string, err error) {
	capacity = make(map[string]float64)

	switch req.Direction {
	case model.OneToMany:
		if len(req.TransactionIDs) != 1 || len(req.InvoiceIDs) < 2 {
			return 0, nil, nil, model.NewValidationError("split_shape",
				"one_to_many needs exactly one transaction and at least two invoices")
		}
		tx, err := r.store.GetTransaction(req.TenantID, req.TransactionIDs[0])
		if err != nil {
			return 0, nil, nil, err
		}
		target = math.Abs(tx.Amount)

		for _, invID := range req.InvoiceIDs {
			inv, err := r.store.GetInvoice(req.TenantID, invID)
			if err != nil {
				return 0, nil, nil, err
			}
			if inv.Status == model.InvoiceCanceled {
				return 0, nil, nil, model.NewValidationError("invoice_canceled",
					"a canceled invoice cannot join a split", invID)
			}
			allocated, err := r.store.AllocatedTotal(invID)
			if err != nil {
				return 0, nil, nil, err
			}
			capacity[invID] = inv.Total - allocated
		}
		participantIDs = req.InvoiceIDs

	case model.ManyToOne:
		if len(req.InvoiceIDs) != 1 || len(req.TransactionIDs) < 2 {
			return 0, nil, nil, model.NewValidationError("split_shape",
				"many_to_one needs exactly one invoice and at least two transactions")
		}
		inv, err := r.store.GetInvoice(req.TenantID, req.InvoiceIDs[0])
		if err != nil {
			return 0, nil, nil, err
		}
		if inv.Status == model.InvoiceCanceled {
			return 0, nil, nil, model.NewValidationError("invoice_canceled",
				"a canceled invoice cannot be a split target", inv.ID)
		}
		target = inv.Total

		for _, txID := range req.TransactionIDs {
			tx, err := r.store.GetTransaction(req.TenantID, txID)
			if err != nil {
				return 0, nil, nil, err
			}
			capacity[txID] = math.Abs(tx.Amount)
		}
		participantIDs = req.TransactionIDs

	default:
		return 0, nil, nil, model.NewValidationError("split_direction",
			fmt.Sprintf("unknown split direction %q", req.Direction))
	}

	return target, capacity, participantIDs, nil
}

// UndoSplit reverts a split group atomically.
func (r *Reconciler) UndoSplit(tenantID, groupID string) error {
	if err := r.store.CancelSplitGroup(tenantID, groupID); err != nil {
		return err
	}
	r.logger.Info("split group cancelled", "tenant_id", tenantID, "group_id", groupID)
	return nil
}

// GetSplit retrieves a split group with its allocations.
func (r *Reconciler) GetSplit(tenantID, groupID string) (*model.SplitGroup, []model.SplitAllocation, error) {
	return r.store.GetSplitGroup(tenantID, groupID)
}

// MergeResult is the outcome of a classification write.
type MergeResult struct {
	Record      model.Classification
	Applied     bool
	NeedsReview bool
}

// MergeClassification validates a proposed classification, merges it
// against the stored record under the trust guardrail, and persists the
// winner.
func (r *Reconciler) MergeClassification(tenantID string, proposed model.Classification, override bool) (*MergeResult, error) {
	proposed.TenantID = tenantID

	existing, err := r.store.GetClassification(tenantID, proposed.EntityID)
	if err != nil {
		return nil, err
	}

	// Override bypasses the corrected-downgrade block, not the shape and
	// confidence checks.
	var needsReview bool
	if override {
		needsReview, err = classification.Validate(proposed)
	} else {
		needsReview, err = classification.ValidateWrite(existing, proposed)
	}
	if err != nil {
		return nil, err
	}
	proposed.NeedsReview = needsReview

	outcome := classification.Merge(existing, proposed, override)
	if err := r.store.UpsertClassification(&outcome.Result); err != nil {
		return nil, err
	}

	r.logger.Info("classification merged",
		"tenant_id", tenantID,
		"entity_id", proposed.EntityID,
		"account_code", outcome.Result.AccountCode,
		"applied", outcome.Applied,
		"needs_review", needsReview,
	)
	return &MergeResult{
		Record:      outcome.Result,
		Applied:     outcome.Applied,
		NeedsReview: needsReview,
	}, nil
}

// ShouldAutoApprove reports whether a classification clears the tenant's
// auto-approval threshold.
func (r *Reconciler) ShouldAutoApprove(tenantID string, c model.Classification) bool {
	return classification.ShouldAutoApprove(c, r.cfg.PolicyFor(tenantID).AutoApproveThreshold)
}

// Runs lists recent batch runs.
func (r *Reconciler) Runs(tenantID string, limit int) ([]storage.ReconRun, error) {
	return r.store.ListRuns(tenantID, limit)
}

// Dedup removes stored duplicate transactions, keeping the earliest row
// of each identity group.
func (r *Reconciler) Dedup(tenantID string) (int, error) {
	removed, err := r.store.DedupTransactions(tenantID)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.logger.Info("duplicate transactions removed", "tenant_id", tenantID, "removed", removed)
	}
	return removed, nil
}
