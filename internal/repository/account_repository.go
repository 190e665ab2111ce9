package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

type AccountRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Account, error)

	// Deduct removes entry.Credits from the balance, adds usage to the current
	// period counters and writes the ledger row, all or nothing. It charges for
	// work already done, so the balance may go negative. Replaying an entry
	// with an idempotency key that was already recorded is a no-op.
	Deduct(ctx context.Context, entry *model.LedgerEntry, usage model.UsageDelta) error
}

type AccountRepository struct {
	DB *sql.DB
}

func (r *AccountRepository) GetByID(ctx context.Context, id int) (*model.Account, error) {
	var a model.Account
	err := r.DB.QueryRowContext(ctx, `
        SELECT id, name, owner_email, plan, credits,
               email_monthly_limit, email_sent_this_period, sms_monthly_limit, sms_sent_this_period,
               period_start, email_verification, sms_verification
        FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.OwnerEmail, &a.Plan, &a.Credits,
		&a.EmailMonthlyLimit, &a.EmailSentThisPeriod, &a.SMSMonthlyLimit, &a.SMSSentThisPeriod,
		&a.PeriodStart, &a.EmailVerification, &a.SMSVerification)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepository) Deduct(ctx context.Context, entry *model.LedgerEntry, usage model.UsageDelta) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return withTx(ctx, r.DB, func(tx *sql.Tx) error {
		inserted, err := insertLedgerEntry(ctx, tx, entry)
		if err != nil || !inserted {
			return err
		}
		return deductCredits(ctx, tx, entry.AccountID, entry.Credits, usage, model.PeriodOf(entry.CreatedAt), false)
	})
}

func insertLedgerEntry(ctx context.Context, tx *sql.Tx, e *model.LedgerEntry) (bool, error) {
	err := tx.QueryRowContext(ctx, `
        INSERT INTO ledger_entries (account_id, operation, units, credits, reference, idempotency_key, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (idempotency_key) DO NOTHING
        RETURNING id`,
		e.AccountID, e.Operation, e.Units, e.Credits, e.Reference, e.IdempotencyKey, e.CreatedAt,
	).Scan(&e.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// deductCredits subtracts n from the balance. With requireBalance the update
// only applies when the balance covers n. Usage counters restart from zero
// when the stored period is older than period.
func deductCredits(ctx context.Context, tx *sql.Tx, accountID, n int, usage model.UsageDelta, period time.Time, requireBalance bool) error {
	query := `
        UPDATE accounts SET
            credits = credits - $2,
            email_sent_this_period = CASE WHEN period_start < $3 THEN $4 ELSE email_sent_this_period + $4 END,
            sms_sent_this_period   = CASE WHEN period_start < $3 THEN $5 ELSE sms_sent_this_period + $5 END,
            period_start           = GREATEST(period_start, $3)
        WHERE id = $1`
	if requireBalance {
		query += ` AND credits >= $2`
	}
	res, err := tx.ExecContext(ctx, query, accountID, n, period, usage.Email, usage.SMS)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err != nil || affected == 1 {
		return err
	}
	if !requireBalance {
		return appErrors.ErrAccountNotFound
	}

	var balance int
	err = tx.QueryRowContext(ctx, `SELECT credits FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	return &appErrors.QuotaError{Resource: "credits", Needed: n, Remaining: balance}
}

var _ AccountRepositoryInterface = (*AccountRepository)(nil)
