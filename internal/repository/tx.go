package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// withTx runs fn inside a transaction, committing on nil and rolling back otherwise.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// bumpCampaignCounter adds one to a campaign aggregate. column is always a
// package constant, never caller input.
func bumpCampaignCounter(ctx context.Context, tx *sql.Tx, campaignID int, column string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET `+column+` = `+column+` + 1, updated_at = NOW() WHERE id = $1`, campaignID)
	return err
}

const (
	colSent         = "sent_count"
	colDelivered    = "delivered_count"
	colFailed       = "failed_count"
	colOpened       = "opened_count"
	colClicked      = "clicked_count"
	colUnsubscribed = "unsubscribed_count"
)
