package storage

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/contaflow/recon-backend/internal/domain/model"
)

// CreateSplitGroup stores a group, its allocations, and the participant
// transaction state changes in one database transaction. Nothing is
// written when any step fails.
func (s *Storage) CreateSplitGroup(group *model.SplitGroup, allocations []model.SplitAllocation, actor string) error {
	dbTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = dbTx.Rollback() }()

	// A transaction funding one active split must not fund another;
	// concurrent groups over the same transaction would double-count it.
	for _, txID := range group.TransactionIDs {
		allocated, err := transactionAllocatedTx(dbTx, txID)
		if err != nil {
			return err
		}
		if allocated {
			return &model.ConflictError{Entity: "transaction", ID: txID}
		}
	}

	txIDs, err := json.Marshal(group.TransactionIDs)
	if err != nil {
		return err
	}
	invIDs, err := json.Marshal(group.InvoiceIDs)
	if err != nil {
		return err
	}

	_, err = dbTx.Exec(`
		INSERT INTO split_groups
		(id, tenant_id, direction, status, transaction_ids_json, invoice_ids_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		group.ID, group.TenantID, group.Direction, group.Status, string(txIDs), string(invIDs),
	)
	if err != nil {
		return err
	}

	for _, alloc := range allocations {
		_, err = dbTx.Exec(`
			INSERT INTO split_allocations (group_id, participant_id, amount, percent)
			VALUES (?, ?, ?, ?)`,
			alloc.GroupID, alloc.ParticipantID, alloc.Amount, alloc.Percent,
		)
		if err != nil {
			return err
		}
	}

	// Participant transactions become matched-by-split. The guard keeps a
	// concurrently reconciled transaction out of the group.
	for _, txID := range group.TransactionIDs {
		res, err := dbTx.Exec(`
			UPDATE transactions
			SET status = ?, matched_by = ?, matched_at = CURRENT_TIMESTAMP
			WHERE id = ? AND tenant_id = ? AND status IN ('pending', 'suggested')`,
			model.TxManuallyMatched, actor, txID, group.TenantID,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return &model.ConflictError{Entity: "transaction", ID: txID}
		}
	}

	return dbTx.Commit()
}

// GetSplitGroup retrieves a group and its allocations.
func (s *Storage) GetSplitGroup(tenantID, id string) (*model.SplitGroup, []model.SplitAllocation, error) {
	group := &model.SplitGroup{}
	var txIDs, invIDs string

	err := s.db.QueryRow(`
		SELECT id, tenant_id, direction, status, transaction_ids_json, invoice_ids_json, created_at
		FROM split_groups WHERE id = ? AND tenant_id = ?`, id, tenantID,
	).Scan(&group.ID, &group.TenantID, &group.Direction, &group.Status, &txIDs, &invIDs, &group.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, &model.NotFoundError{Entity: "split group", ID: id}
	}
	if err != nil {
		return nil, nil, err
	}

	if err := json.Unmarshal([]byte(txIDs), &group.TransactionIDs); err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal([]byte(invIDs), &group.InvoiceIDs); err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(`
		SELECT group_id, participant_id, amount, percent
		FROM split_allocations WHERE group_id = ?
		ORDER BY participant_id`, id)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	var allocations []model.SplitAllocation
	for rows.Next() {
		var alloc model.SplitAllocation
		if err := rows.Scan(&alloc.GroupID, &alloc.ParticipantID, &alloc.Amount, &alloc.Percent); err != nil {
			return nil, nil, err
		}
		allocations = append(allocations, alloc)
	}
	return group, allocations, rows.Err()
}

// CancelSplitGroup reverts a group atomically: the group becomes
// cancelled, its allocations are removed, and every participant
// transaction returns to pending. Partial undo never survives — any
// failure rolls the whole revert back.
func (s *Storage) CancelSplitGroup(tenantID, id string) error {
	group, _, err := s.GetSplitGroup(tenantID, id)
	if err != nil {
		return err
	}
	if group.Status == model.SplitCancelled {
		return &model.ConflictError{Entity: "split group", ID: id}
	}

	dbTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = dbTx.Rollback() }()

	res, err := dbTx.Exec(`
		UPDATE split_groups SET status = ? WHERE id = ? AND tenant_id = ? AND status != ?`,
		model.SplitCancelled, id, tenantID, model.SplitCancelled,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Lost the race against another cancel.
		return &model.ConflictError{Entity: "split group", ID: id}
	}

	if _, err := dbTx.Exec(`DELETE FROM split_allocations WHERE group_id = ?`, id); err != nil {
		return err
	}

	for _, txID := range group.TransactionIDs {
		_, err := dbTx.Exec(`
			UPDATE transactions
			SET status = ?, invoice_id = NULL, match_confidence = 0, matched_by = '', matched_at = NULL
			WHERE id = ? AND tenant_id = ? AND status = ?`,
			model.TxPending, txID, tenantID, model.TxManuallyMatched,
		)
		if err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// TransactionAllocated reports whether a transaction participates in any
// active split group.
func (s *Storage) TransactionAllocated(txID string) (bool, error) {
	return transactionAllocatedQuerier(s.db, txID)
}

func transactionAllocatedTx(tx *sql.Tx, txID string) (bool, error) {
	return transactionAllocatedQuerier(tx, txID)
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func transactionAllocatedQuerier(q querier, txID string) (bool, error) {
	query := `
	SELECT EXISTS (
		SELECT 1 FROM split_allocations a
		JOIN split_groups g ON g.id = a.group_id
		WHERE a.participant_id = ? AND g.status != 'cancelled'
	) OR EXISTS (
		SELECT 1 FROM split_groups g
		WHERE g.status != 'cancelled'
		  AND g.transaction_ids_json LIKE '%"' || ? || '"%'
	)`

	var allocated bool
	err := q.QueryRow(query, txID, txID).Scan(&allocated)
	return allocated, err
}
