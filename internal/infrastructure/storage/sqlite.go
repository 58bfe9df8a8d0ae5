package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/contaflow/recon-backend/internal/domain/model"
)

// Storage provides SQLite database access for the reconciliation engine.
// It implements the Repository interface.
type Storage struct {
	db *sql.DB
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage creates a new storage instance with SQLite database.
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db}

	// Run all pending migrations
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// isConstraintViolation reports whether err is a SQLite unique or primary
// key constraint failure.
func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

const transactionColumns = `
	id, account_id, tenant_id, date, amount, description, currency, status,
	COALESCE(invoice_id, ''), match_confidence, fingerprint,
	instant_transfer, transfer_collapsed, created_at`

// scanTransaction scans one transaction row.
func scanTransaction(row interface{ Scan(...any) error }) (*model.Transaction, error) {
	tx := &model.Transaction{}
	err := row.Scan(
		&tx.ID,
		&tx.AccountID,
		&tx.TenantID,
		&tx.Date,
		&tx.Amount,
		&tx.Description,
		&tx.Currency,
		&tx.Status,
		&tx.InvoiceID,
		&tx.MatchConfidence,
		&tx.Fingerprint,
		&tx.InstantTransfer,
		&tx.TransferCollapsed,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// SaveTransaction stores an ingested transaction. The unique fingerprint
// index is the duplicate guard: re-ingesting the same logical movement is
// rejected, never stored twice.
func (s *Storage) SaveTransaction(tx *model.Transaction) error {
	query := `
	INSERT INTO transactions
	(id, account_id, tenant_id, date, amount, description, currency, status,
	 match_confidence, fingerprint, instant_transfer, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`

	var createdAt any
	if !tx.CreatedAt.IsZero() {
		createdAt = tx.CreatedAt
	}

	status := tx.Status
	if status == "" {
		status = model.TxPending
	}

	_, err := s.db.Exec(query,
		tx.ID,
		tx.AccountID,
		tx.TenantID,
		tx.Date,
		tx.Amount,
		tx.Description,
		tx.Currency,
		status,
		tx.MatchConfidence,
		tx.Fingerprint,
		tx.InstantTransfer,
		createdAt,
	)
	if isConstraintViolation(err) {
		return model.NewValidationError("duplicate_transaction",
			"a transaction with this fingerprint already exists", tx.ID)
	}
	return err
}

// GetTransaction retrieves a transaction scoped to a tenant.
func (s *Storage) GetTransaction(tenantID, id string) (*model.Transaction, error) {
	query := `SELECT` + transactionColumns + `
	FROM transactions WHERE id = ? AND tenant_id = ?`

	tx, err := scanTransaction(s.db.QueryRow(query, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Entity: "transaction", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListUnreconciled returns pending and suggested transactions that have
// not been collapsed as transfer legs.
func (s *Storage) ListUnreconciled(tenantID string) ([]model.Transaction, error) {
	query := `SELECT` + transactionColumns + `
	FROM transactions
	WHERE tenant_id = ? AND status IN ('pending', 'suggested') AND transfer_collapsed = 0
	ORDER BY date, id`

	return s.queryTransactions(query, tenantID)
}

// ListInstantTransfers returns not-yet-collapsed instant-transfer
// transactions for pair detection.
func (s *Storage) ListInstantTransfers(tenantID string) ([]model.Transaction, error) {
	query := `SELECT` + transactionColumns + `
	FROM transactions
	WHERE tenant_id = ? AND instant_transfer = 1 AND transfer_collapsed = 0
	  AND status IN ('pending', 'suggested')
	ORDER BY date, id`

	return s.queryTransactions(query, tenantID)
}

func (s *Storage) queryTransactions(query string, args ...any) ([]model.Transaction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

// MarkTransferCollapsed flags collapsed transfer legs.
func (s *Storage) MarkTransferCollapsed(tenantID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE transactions SET transfer_collapsed = 1 WHERE tenant_id = ? AND id = ?`
	dbTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := dbTx.Exec(query, tenantID, id); err != nil {
			_ = dbTx.Rollback()
			return err
		}
	}
	return dbTx.Commit()
}

// ApplyMatch commits a match only if the transaction is still
// unreconciled. Re-applying to an already-reconciled transaction is a
// reported no-op, not an error and not a second write.
func (s *Storage) ApplyMatch(tenantID, txID, invoiceID string, confidence float64, status model.TransactionStatus, actor string) (bool, error) {
	if !status.Reconciled() {
		return false, model.NewValidationError("invalid_match_status",
			fmt.Sprintf("status %s does not represent a committed match", status), txID)
	}

	if _, err := s.GetInvoice(tenantID, invoiceID); err != nil {
		return false, err
	}

	query := `
	UPDATE transactions
	SET status = ?, invoice_id = ?, match_confidence = ?, matched_by = ?, matched_at = CURRENT_TIMESTAMP
	WHERE id = ? AND tenant_id = ? AND status IN ('pending', 'suggested')
	`

	res, err := s.db.Exec(query, status, invoiceID, confidence, actor, txID, tenantID)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	// Guard did not fire: distinguish missing, already-reconciled, and
	// concurrently-moved rows.
	current, err := s.GetTransaction(tenantID, txID)
	if err != nil {
		return false, err
	}
	if current.Status.Reconciled() {
		return false, nil // idempotent no-op
	}
	return false, &model.ConflictError{Entity: "transaction", ID: txID}
}

// SuggestMatch records a suggested invoice without committing the match.
func (s *Storage) SuggestMatch(tenantID, txID, invoiceID string, confidence float64) (bool, error) {
	query := `
	UPDATE transactions
	SET status = 'suggested', invoice_id = ?, match_confidence = ?
	WHERE id = ? AND tenant_id = ? AND status IN ('pending', 'suggested')
	`

	res, err := s.db.Exec(query, invoiceID, confidence, txID, tenantID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// TransitionStatus moves a transaction between lifecycle states with an
// expected-state guard. A guard miss on an existing row is a conflict the
// caller must resolve against fresh state.
func (s *Storage) TransitionStatus(tenantID, txID string, from []model.TransactionStatus, to model.TransactionStatus, actor string) error {
	if len(from) == 0 {
		return model.NewValidationError("missing_expected_state",
			"a transition needs at least one expected current state", txID)
	}

	placeholders := ""
	args := []any{to, actor, txID, tenantID}
	for i, st := range from {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, st)
	}

	query := fmt.Sprintf(`
	UPDATE transactions
	SET status = ?, matched_by = ?, matched_at = CURRENT_TIMESTAMP
	WHERE id = ? AND tenant_id = ? AND status IN (%s)`, placeholders)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	if _, err := s.GetTransaction(tenantID, txID); err != nil {
		return err
	}
	return &model.ConflictError{Entity: "transaction", ID: txID}
}

// DedupTransactions keeps the earliest-created row of each fingerprint
// identity group and removes the rest. Only unreconciled rows are ever
// deleted.
func (s *Storage) DedupTransactions(tenantID string) (int, error) {
	query := `
	DELETE FROM transactions
	WHERE tenant_id = ?
	  AND status IN ('pending', 'suggested')
	  AND id NOT IN (
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY date(date), ROUND(amount, 2), UPPER(TRIM(description)), account_id
				ORDER BY created_at, id
			) AS rn
			FROM transactions
			WHERE tenant_id = ?
		) WHERE rn = 1
	  )
	`

	res, err := s.db.Exec(query, tenantID, tenantID)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	return int(removed), err
}

// SaveInvoice stores an ingested invoice. The document identifier is
// unique; re-ingesting the same document is rejected.
func (s *Storage) SaveInvoice(inv *model.Invoice) error {
	query := `
	INSERT INTO invoices
	(id, tenant_id, issuer_tax_id, issuer_name, total, issued_at, document_id,
	 status, linked_expense_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`

	var createdAt any
	if !inv.CreatedAt.IsZero() {
		createdAt = inv.CreatedAt
	}

	status := inv.Status
	if status == "" {
		status = model.InvoiceValid
	}

	_, err := s.db.Exec(query,
		inv.ID,
		inv.TenantID,
		inv.IssuerTaxID,
		inv.IssuerName,
		inv.Total,
		inv.IssuedAt,
		inv.DocumentID,
		status,
		inv.LinkedExpenseID,
		createdAt,
	)
	if isConstraintViolation(err) {
		return model.NewValidationError("duplicate_invoice",
			"an invoice with this document identifier already exists", inv.ID)
	}
	return err
}

const invoiceColumns = `
	id, tenant_id, issuer_tax_id, issuer_name, total, issued_at, document_id,
	status, linked_expense_id, created_at`

func scanInvoice(row interface{ Scan(...any) error }) (*model.Invoice, error) {
	inv := &model.Invoice{}
	err := row.Scan(
		&inv.ID,
		&inv.TenantID,
		&inv.IssuerTaxID,
		&inv.IssuerName,
		&inv.Total,
		&inv.IssuedAt,
		&inv.DocumentID,
		&inv.Status,
		&inv.LinkedExpenseID,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// GetInvoice retrieves an invoice scoped to a tenant.
func (s *Storage) GetInvoice(tenantID, id string) (*model.Invoice, error) {
	query := `SELECT` + invoiceColumns + ` FROM invoices WHERE id = ? AND tenant_id = ?`

	inv, err := scanInvoice(s.db.QueryRow(query, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Entity: "invoice", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListOpenInvoices returns invoices still available for matching.
func (s *Storage) ListOpenInvoices(tenantID string) ([]model.Invoice, error) {
	query := `SELECT` + invoiceColumns + `
	FROM invoices i
	WHERE i.tenant_id = ?
	  AND i.status = 'valid'
	  AND i.linked_expense_id = ''
	  AND NOT EXISTS (
		SELECT 1 FROM transactions t
		WHERE t.invoice_id = i.id
		  AND t.status IN ('auto_matched', 'manually_matched', 'reviewed')
	  )
	  AND COALESCE((
		SELECT SUM(a.amount) FROM split_allocations a
		JOIN split_groups g ON g.id = a.group_id
		WHERE a.participant_id = i.id AND g.status != 'cancelled'
	  ), 0) < i.total - 0.005
	ORDER BY i.issued_at, i.id`

	rows, err := s.db.Query(query, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var invoices []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// AllocatedTotal sums the invoice's allocations across active split groups.
func (s *Storage) AllocatedTotal(invoiceID string) (float64, error) {
	query := `
	SELECT COALESCE(SUM(a.amount), 0)
	FROM split_allocations a
	JOIN split_groups g ON g.id = a.group_id
	WHERE a.participant_id = ? AND g.status != 'cancelled'
	`

	var total float64
	err := s.db.QueryRow(query, invoiceID).Scan(&total)
	return total, err
}
