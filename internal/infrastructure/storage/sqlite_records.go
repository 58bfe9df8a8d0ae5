package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"math"

	"github.com/contaflow/recon-backend/internal/domain/model"
)

// GetClassification returns the stored record for an entity, or nil when
// the entity has never been classified.
func (s *Storage) GetClassification(tenantID, entityID string) (*model.Classification, error) {
	query := `
	SELECT tenant_id, entity_id, account_code, confidence, status, source,
	       explanation, alternatives_json, needs_review, updated_at
	FROM classifications WHERE tenant_id = ? AND entity_id = ?
	`

	c := &model.Classification{}
	var alternatives string
	err := s.db.QueryRow(query, tenantID, entityID).Scan(
		&c.TenantID,
		&c.EntityID,
		&c.AccountCode,
		&c.Confidence,
		&c.Status,
		&c.Source,
		&c.Explanation,
		&alternatives,
		&c.NeedsReview,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if alternatives != "" {
		_ = json.Unmarshal([]byte(alternatives), &c.Alternatives)
	}
	return c, nil
}

// UpsertClassification writes the record produced by the merge guardrail.
func (s *Storage) UpsertClassification(c *model.Classification) error {
	alternatives, _ := json.Marshal(c.Alternatives)

	query := `
	INSERT OR REPLACE INTO classifications
	(tenant_id, entity_id, account_code, confidence, status, source,
	 explanation, alternatives_json, needs_review, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`

	_, err := s.db.Exec(query,
		c.TenantID,
		c.EntityID,
		c.AccountCode,
		c.Confidence,
		c.Status,
		c.Source,
		c.Explanation,
		string(alternatives),
		c.NeedsReview,
	)
	return err
}

// IsExcluded reports whether a transaction is on the exclusion list.
func (s *Storage) IsExcluded(tenantID, txID string) (bool, error) {
	var excluded bool
	query := `SELECT EXISTS (SELECT 1 FROM exclusion_list WHERE tenant_id = ? AND transaction_id = ?)`
	err := s.db.QueryRow(query, tenantID, txID).Scan(&excluded)
	return excluded, err
}

// AddExclusion records who excluded a transaction and when.
func (s *Storage) AddExclusion(entry *model.ExclusionEntry) error {
	query := `
	INSERT OR REPLACE INTO exclusion_list (tenant_id, transaction_id, added_by, added_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	`
	_, err := s.db.Exec(query, entry.TenantID, entry.TransactionID, entry.AddedBy)
	return err
}

// RemoveExclusion lifts an exclusion.
func (s *Storage) RemoveExclusion(tenantID, txID string) error {
	_, err := s.db.Exec(`DELETE FROM exclusion_list WHERE tenant_id = ? AND transaction_id = ?`, tenantID, txID)
	return err
}

// ListExclusions returns the tenant's exclusion entries.
func (s *Storage) ListExclusions(tenantID string) ([]model.ExclusionEntry, error) {
	query := `
	SELECT tenant_id, transaction_id, added_by, added_at
	FROM exclusion_list WHERE tenant_id = ?
	ORDER BY added_at, transaction_id
	`

	rows, err := s.db.Query(query, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []model.ExclusionEntry
	for rows.Next() {
		var e model.ExclusionEntry
		if err := rows.Scan(&e.TenantID, &e.TransactionID, &e.AddedBy, &e.AddedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// StartRun records the start of a reconciliation run.
func (s *Storage) StartRun(tenantID string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO recon_runs (tenant_id, status) VALUES (?, 'running')`, tenantID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CompleteRun records the outcome counters of a run.
func (s *Storage) CompleteRun(runID int64, processed, autoMatched, suggested, skipped, errored int) error {
	query := `
	UPDATE recon_runs
	SET completed_at = CURRENT_TIMESTAMP,
	    processed = ?,
	    auto_matched = ?,
	    suggested = ?,
	    skipped = ?,
	    errored = ?,
	    status = CASE WHEN ? > 0 THEN 'completed_with_errors' ELSE 'completed' END
	WHERE id = ?
	`

	_, err := s.db.Exec(query, processed, autoMatched, suggested, skipped, errored, errored, runID)
	return err
}

const runColumns = `
	id, tenant_id, started_at, COALESCE(completed_at, ''),
	processed, auto_matched, suggested, skipped, errored, status`

func scanRun(row interface{ Scan(...any) error }) (*ReconRun, error) {
	run := &ReconRun{}
	err := row.Scan(
		&run.ID,
		&run.TenantID,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Processed,
		&run.AutoMatched,
		&run.Suggested,
		&run.Skipped,
		&run.Errored,
		&run.Status,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns recent runs, newest first.
func (s *Storage) ListRuns(tenantID string, limit int) ([]ReconRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT` + runColumns + `
	FROM recon_runs WHERE tenant_id = ?
	ORDER BY id DESC LIMIT ?`

	rows, err := s.db.Query(query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []ReconRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun retrieves a run by id.
func (s *Storage) GetRun(runID int64) (*ReconRun, error) {
	query := `SELECT` + runColumns + ` FROM recon_runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRow(query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Entity: "run", ID: ""}
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetStats returns reconciliation statistics for a tenant.
func (s *Storage) GetStats(tenantID string) (*ReconStats, error) {
	stats := &ReconStats{
		ByStatus: make(map[string]int),
	}

	rows, err := s.db.Query(`
		SELECT status, COUNT(*) FROM transactions
		WHERE tenant_id = ? GROUP BY status`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	reconciled := 0
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.TotalTransactions += count
		if model.TransactionStatus(status).Reconciled() {
			reconciled += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.TotalTransactions > 0 {
		stats.ReconciledRate = roundRate(float64(reconciled) / float64(stats.TotalTransactions))
	}

	err = s.db.QueryRow(`
		SELECT COALESCE(AVG(match_confidence), 0) FROM transactions
		WHERE tenant_id = ? AND status IN ('auto_matched', 'manually_matched', 'reviewed', 'suggested')`,
		tenantID,
	).Scan(&stats.AverageConfidence)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM invoices
		WHERE tenant_id = ? AND status = 'valid' AND linked_expense_id = ''
		  AND NOT EXISTS (
			SELECT 1 FROM transactions t
			WHERE t.invoice_id = invoices.id
			  AND t.status IN ('auto_matched', 'manually_matched', 'reviewed')
		  )`, tenantID,
	).Scan(&stats.OpenInvoices)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM split_groups
		WHERE tenant_id = ? AND status NOT IN ('cancelled')`, tenantID,
	).Scan(&stats.ActiveSplits)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// ListSuggestions returns committed suggestions ordered least-ambiguous
// first: smallest amount difference, then smallest day difference.
func (s *Storage) ListSuggestions(tenantID string, limit int) ([]Suggestion, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
	SELECT t.id, t.amount, t.date, t.description,
	       i.id, i.total, i.issuer_name,
	       ABS(ABS(t.amount) - i.total) AS amount_diff,
	       ABS(julianday(date(t.date)) - julianday(date(i.issued_at))) AS day_diff,
	       t.match_confidence
	FROM transactions t
	JOIN invoices i ON i.id = t.invoice_id AND i.tenant_id = t.tenant_id
	WHERE t.tenant_id = ? AND t.status = 'suggested'
	ORDER BY amount_diff ASC, day_diff ASC, t.id
	LIMIT ?
	`

	rows, err := s.db.Query(query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var suggestions []Suggestion
	for rows.Next() {
		var sug Suggestion
		var dayDiff float64
		err := rows.Scan(
			&sug.TransactionID,
			&sug.TransactionAmount,
			&sug.TransactionDate,
			&sug.Description,
			&sug.InvoiceID,
			&sug.InvoiceTotal,
			&sug.IssuerName,
			&sug.AmountDiff,
			&dayDiff,
			&sug.Confidence,
		)
		if err != nil {
			return nil, err
		}
		sug.DayDiff = int(math.Round(dayDiff))
		suggestions = append(suggestions, sug)
	}
	return suggestions, rows.Err()
}

// roundRate rounds a ratio to 4 decimal places.
func roundRate(v float64) float64 {
	return math.Round(v*10000) / 10000
}
