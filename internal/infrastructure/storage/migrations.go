package storage

import (
	"database/sql"
	"fmt"
)

// Migration represents a database schema migration.
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order.
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_split_tables",
		Up:      migration002AddSplitTables,
	},
	{
		Version: 3,
		Name:    "add_classifications_and_exclusions",
		Up:      migration003AddClassificationsAndExclusions,
	},
	{
		Version: 4,
		Name:    "add_recon_runs_table",
		Up:      migration004AddReconRunsTable,
	},
}

// runMigrations executes all pending migrations.
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue // Already applied
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		_, err = tx.Exec(`
			INSERT INTO schema_migrations (version, name) VALUES (?, ?)
		`, migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table.
func (s *Storage) ensureMigrationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := s.db.Exec(query)
	return err
}

// getAppliedMigrations returns a set of applied migration versions.
func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// migration001InitialSchema creates the transaction and invoice tables.
func migration001InitialSchema(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE transactions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			date TIMESTAMP NOT NULL,
			amount REAL NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT 'MXN',
			status TEXT NOT NULL DEFAULT 'pending',
			invoice_id TEXT,
			match_confidence REAL NOT NULL DEFAULT 0,
			fingerprint TEXT NOT NULL,
			instant_transfer INTEGER NOT NULL DEFAULT 0,
			transfer_collapsed INTEGER NOT NULL DEFAULT 0,
			matched_by TEXT NOT NULL DEFAULT '',
			matched_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX idx_transactions_fingerprint ON transactions(fingerprint)`,
		`CREATE INDEX idx_transactions_tenant_status ON transactions(tenant_id, status)`,
		`CREATE TABLE invoices (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			issuer_tax_id TEXT NOT NULL DEFAULT '',
			issuer_name TEXT NOT NULL DEFAULT '',
			total REAL NOT NULL,
			issued_at TIMESTAMP NOT NULL,
			document_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'valid',
			linked_expense_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX idx_invoices_document ON invoices(document_id)`,
		`CREATE INDEX idx_invoices_tenant_status ON invoices(tenant_id, status)`,
	}

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// migration002AddSplitTables creates split groups and allocations.
func migration002AddSplitTables(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE split_groups (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			transaction_ids_json TEXT NOT NULL DEFAULT '[]',
			invoice_ids_json TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX idx_split_groups_tenant ON split_groups(tenant_id, status)`,
		`CREATE TABLE split_allocations (
			group_id TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			amount REAL NOT NULL,
			percent REAL NOT NULL,
			PRIMARY KEY (group_id, participant_id),
			FOREIGN KEY (group_id) REFERENCES split_groups(id)
		)`,
		`CREATE INDEX idx_split_allocations_participant ON split_allocations(participant_id)`,
	}

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// migration003AddClassificationsAndExclusions creates classification and
// exclusion list tables.
func migration003AddClassificationsAndExclusions(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE classifications (
			tenant_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			account_code TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			source TEXT NOT NULL DEFAULT 'model',
			explanation TEXT NOT NULL DEFAULT '',
			alternatives_json TEXT NOT NULL DEFAULT '[]',
			needs_review INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, entity_id)
		)`,
		`CREATE TABLE exclusion_list (
			tenant_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			added_by TEXT NOT NULL DEFAULT '',
			added_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, transaction_id)
		)`,
	}

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// migration004AddReconRunsTable creates batch run bookkeeping.
func migration004AddReconRunsTable(tx *sql.Tx) error {
	query := `
	CREATE TABLE recon_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		processed INTEGER NOT NULL DEFAULT 0,
		auto_matched INTEGER NOT NULL DEFAULT 0,
		suggested INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		errored INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running'
	)`

	_, err := tx.Exec(query)
	return err
}
