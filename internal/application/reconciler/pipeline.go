package reconciler

import (
	"context"

	"github.com/contaflow/recon-backend/internal/domain/matching"
	"github.com/contaflow/recon-backend/internal/domain/model"
	"github.com/contaflow/recon-backend/internal/domain/transfers"
)

// Options controls one batch pipeline run.
type Options struct {
	// Dedup runs the duplicate cleanup before matching.
	Dedup bool

	// MaxTransactions caps how many transactions the run processes.
	// Zero means no cap.
	MaxTransactions int

	// ProgressCallback, when set, receives progress after each processed
	// transaction.
	ProgressCallback func(ProgressUpdate)
}

// ProgressUpdate is a point-in-time snapshot of a running pipeline.
type ProgressUpdate struct {
	Phase       string
	Total       int
	Processed   int
	AutoMatched int
	Suggested   int
	Skipped     int
	Errored     int
}

// ItemOutcome is the per-transaction result of a pipeline run.
type ItemOutcome struct {
	TransactionID string                  `json:"transaction_id"`
	Status        model.TransactionStatus `json:"status"`
	InvoiceID     string                  `json:"invoice_id,omitempty"`
	Score         float64                 `json:"score,omitempty"`
	Excluded      bool                    `json:"excluded,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// Result is the batch summary of one pipeline run.
type Result struct {
	RunID              int64         `json:"run_id"`
	TenantID           string        `json:"tenant_id"`
	Processed          int           `json:"processed"`
	AutoMatched        int           `json:"auto_matched"`
	Suggested          int           `json:"suggested"`
	Skipped            int           `json:"skipped"`
	Errored            int           `json:"errored"`
	DuplicatesRemoved  int           `json:"duplicates_removed"`
	TransfersCollapsed int           `json:"transfers_collapsed"`
	Warnings           []string      `json:"warnings,omitempty"`
	Items              []ItemOutcome `json:"items"`
}

// Reconcile runs the full pipeline for one tenant: dedup guard, transfer
// pair collapse, candidate generation, scoring, decision, guarded
// persistence. Each transaction is processed in isolation; one failure
// never aborts the batch. Cancellation stops submitting further items,
// already committed items stand.
func (r *Reconciler) Reconcile(ctx context.Context, tenantID string, opts Options) (*Result, error) {
	policy := r.cfg.PolicyFor(tenantID)
	matchCfg := r.matchingConfigFor(tenantID)
	scorer := matching.NewScorer(matchCfg, r.similarity)

	runID, err := r.store.StartRun(tenantID)
	if err != nil {
		return nil, err
	}

	result := &Result{RunID: runID, TenantID: tenantID}
	defer func() {
		if err := r.store.CompleteRun(runID, result.Processed, result.AutoMatched,
			result.Suggested, result.Skipped, result.Errored); err != nil {
			r.logger.Error("failed to record run completion", "run_id", runID, "error", err)
		}
	}()

	if opts.Dedup {
		removed, err := r.store.DedupTransactions(tenantID)
		if err != nil {
			return nil, err
		}
		result.DuplicatesRemoved = removed
	}

	if err := r.collapseTransfers(tenantID, policy.TransferTolerance, result); err != nil {
		return nil, err
	}

	invoices, err := r.store.ListOpenInvoices(tenantID)
	if err != nil {
		return nil, err
	}
	transactions, err := r.store.ListUnreconciled(tenantID)
	if err != nil {
		return nil, err
	}
	if opts.MaxTransactions > 0 && len(transactions) > opts.MaxTransactions {
		transactions = transactions[:opts.MaxTransactions]
	}

	r.logger.Info("reconciliation run started",
		"tenant_id", tenantID,
		"run_id", runID,
		"transactions", len(transactions),
		"open_invoices", len(invoices),
	)

	// Invoices committed during this run must not be offered to later
	// transactions.
	taken := make(map[string]bool)

	for _, tx := range transactions {
		if ctx.Err() != nil {
			r.logger.Warn("reconciliation run cancelled",
				"tenant_id", tenantID, "run_id", runID, "processed", result.Processed)
			break
		}

		item := r.reconcileOne(ctx, scorer, matchCfg, tx, invoices, taken)
		result.Items = append(result.Items, item)
		result.Processed++

		switch {
		case item.Error != "":
			result.Errored++
		case item.Status == model.TxAutoMatched:
			result.AutoMatched++
		case item.Status == model.TxSuggested:
			result.Suggested++
		default:
			result.Skipped++
		}

		if opts.ProgressCallback != nil {
			opts.ProgressCallback(ProgressUpdate{
				Phase:       "processing",
				Total:       len(transactions),
				Processed:   result.Processed,
				AutoMatched: result.AutoMatched,
				Suggested:   result.Suggested,
				Skipped:     result.Skipped,
				Errored:     result.Errored,
			})
		}
	}

	r.logger.Info("reconciliation run completed",
		"tenant_id", tenantID,
		"run_id", runID,
		"processed", result.Processed,
		"auto_matched", result.AutoMatched,
		"suggested", result.Suggested,
		"skipped", result.Skipped,
		"errored", result.Errored,
	)
	return result, nil
}

// collapseTransfers removes offsetting instant-transfer legs before
// matching and folds detector warnings into the run summary.
func (r *Reconciler) collapseTransfers(tenantID string, tolerance float64, result *Result) error {
	candidates, err := r.store.ListInstantTransfers(tenantID)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	detection := transfers.NewDetector(tolerance).Detect(candidates)
	if removed := detection.RemovedIDs(); len(removed) > 0 {
		if err := r.store.MarkTransferCollapsed(tenantID, removed); err != nil {
			return err
		}
		result.TransfersCollapsed = len(removed)
		r.logger.Info("transfer pairs collapsed",
			"tenant_id", tenantID, "pairs", len(detection.Pairs))
	}
	for _, w := range detection.Warnings {
		result.Warnings = append(result.Warnings, w.String())
		r.logger.Warn("ambiguous transfer group",
			"tenant_id", tenantID,
			"date", w.Date.Format("2006-01-02"),
			"amount", w.Amount,
			"unresolved", len(w.UnresolvedIDs),
		)
	}
	return nil
}

// reconcileOne processes a single transaction. Errors are captured in the
// item outcome, never propagated.
func (r *Reconciler) reconcileOne(
	ctx context.Context,
	scorer *matching.Scorer,
	cfg matching.Config,
	tx model.Transaction,
	invoices []model.Invoice,
	taken map[string]bool,
) ItemOutcome {
	item := ItemOutcome{TransactionID: tx.ID, Status: tx.Status}

	excluded, err := r.store.IsExcluded(tx.TenantID, tx.ID)
	if err != nil {
		item.Error = err.Error()
		return item
	}

	available := invoices
	if len(taken) > 0 {
		available = make([]model.Invoice, 0, len(invoices))
		for _, inv := range invoices {
			if !taken[inv.ID] {
				available = append(available, inv)
			}
		}
	}

	candidates := matching.GenerateCandidates(tx, available, cfg)
	scored := scorer.ScoreAll(ctx, tx, candidates)
	decision := matching.Decide(scored, excluded, cfg)

	item.Status = decision.Status
	item.Excluded = decision.Excluded
	if decision.Best == nil {
		return item
	}

	item.InvoiceID = decision.Best.Invoice.ID
	item.Score = decision.Best.Score

	switch decision.Status {
	case model.TxAutoMatched:
		applied, err := r.store.ApplyMatch(tx.TenantID, tx.ID, decision.Best.Invoice.ID,
			decision.Best.Score, model.TxAutoMatched, "auto")
		if err != nil {
			item.Error = err.Error()
			return item
		}
		if applied {
			taken[decision.Best.Invoice.ID] = true
		} else {
			// Raced against a concurrent reconciliation; the committed
			// match stands.
			item.Status = model.TxPending
			item.InvoiceID = ""
			item.Score = 0
		}
	case model.TxSuggested:
		if _, err := r.store.SuggestMatch(tx.TenantID, tx.ID,
			decision.Best.Invoice.ID, decision.Best.Score); err != nil {
			item.Error = err.Error()
		}
	}

	return item
}
