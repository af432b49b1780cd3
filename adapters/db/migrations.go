package db

import (
	_ "embed"
	"fmt"
)

//go:embed migrations/01_create_account_links.up.sql
var createAccountLinksUp string

//go:embed migrations/02_create_reminder_ledger.up.sql
var createReminderLedgerUp string

// Migrate applies the relay schema. One statement per file keeps the
// migrations valid under pgx's extended protocol, and every statement is
// idempotent so re-running on boot is safe.
func (db *DB) Migrate() error {
	db.log.Debug("running relay store migrations")

	if _, err := db.conn.Exec(createAccountLinksUp); err != nil {
		return fmt.Errorf("apply account_links migration: %w", err)
	}

	if _, err := db.conn.Exec(createReminderLedgerUp); err != nil {
		return fmt.Errorf("apply reminder_ledger migration: %w", err)
	}

	db.log.Debug("relay store migrations finished")
	return nil
}
