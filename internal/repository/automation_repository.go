package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/campaign-engine/internal/model"
)

// ErrLeaseLost means another runner advanced the automation after it was claimed.
var ErrLeaseLost = errors.New("automation lease lost")

type AutomationRepositoryInterface interface {
	ListActive(ctx context.Context, now time.Time) ([]*model.Automation, error)

	// Claim takes the trigger lease by bumping the version and stamping
	// last_triggered_at, provided nobody else bumped it first.
	Claim(ctx context.Context, id, version int, at time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id, claimedVersion int, previous *time.Time) error
	CommitGeneration(ctx context.Context, commit *model.GenerationCommit) error
}

type AutomationRepository struct {
	DB *sql.DB
}

func (r *AutomationRepository) ListActive(ctx context.Context, now time.Time) ([]*model.Automation, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, account_id, name, enabled, channel, contact_list_id, prompt, subject, generate_media,
               COALESCE(frequency, ''), day_of_week, COALESCE(time_of_day, ''), last_triggered_at,
               start_date, end_date, generated_count, credits_spent, version
        FROM automations
        WHERE enabled
          AND (start_date IS NULL OR start_date <= $1)
          AND (end_date IS NULL OR end_date >= $1)
        ORDER BY id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Automation
	for rows.Next() {
		var a model.Automation
		var listID, dow sql.NullInt64
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Name, &a.Enabled, &a.Channel, &listID, &a.Prompt,
			&a.Subject, &a.GenerateMedia, &a.Frequency, &dow, &a.TimeOfDay, &a.LastTriggeredAt,
			&a.StartDate, &a.EndDate, &a.GeneratedCount, &a.CreditsSpent, &a.Version); err != nil {
			return nil, err
		}
		a.ContactListID = intPtr(listID)
		a.DayOfWeek = intPtr(dow)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *AutomationRepository) Claim(ctx context.Context, id, version int, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE automations SET version = version + 1, last_triggered_at = $3 WHERE id = $1 AND version = $2`,
		id, version, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseClaim restores last_triggered_at so the automation is due again.
// The version stays bumped.
func (r *AutomationRepository) ReleaseClaim(ctx context.Context, id, claimedVersion int, previous *time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE automations SET last_triggered_at = $3 WHERE id = $1 AND version = $2`,
		id, claimedVersion, previous)
	return err
}

func (r *AutomationRepository) CommitGeneration(ctx context.Context, commit *model.GenerationCommit) error {
	c := commit.Campaign
	entry := &commit.Entry
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return withTx(ctx, r.DB, func(tx *sql.Tx) error {
		if err := deductCredits(ctx, tx, entry.AccountID, entry.Credits, model.UsageDelta{}, model.PeriodOf(entry.CreatedAt), true); err != nil {
			return err
		}
		if err := insertCampaign(ctx, tx, c); err != nil {
			return fmt.Errorf("insert generated campaign: %w", err)
		}
		if entry.Reference == "" {
			entry.Reference = fmt.Sprintf("campaign:%d", c.ID)
		}
		if _, err := insertLedgerEntry(ctx, tx, entry); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
            UPDATE automations
            SET generated_count = generated_count + 1, credits_spent = credits_spent + $3
            WHERE id = $1 AND version = $2`,
			commit.AutomationID, commit.Version, entry.Credits)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return ErrLeaseLost
		}
		return nil
	})
}

var _ AutomationRepositoryInterface = (*AutomationRepository)(nil)
