package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type CampaignSendRepositoryInterface interface {
	// CreatePending inserts a pending record for the pair. created is false when
	// a record already existed, in which case the returned send is nil.
	CreatePending(ctx context.Context, campaignID, contactID int) (send *model.CampaignSend, created bool, err error)
	ContactIDsForCampaign(ctx context.Context, campaignID int) (map[int]bool, error)
	CountForCampaign(ctx context.Context, campaignID int) (int, error)
	GetByID(ctx context.Context, id int) (*model.CampaignSend, error)

	MarkSent(ctx context.Context, id int, providerMessageID, rendered string, at time.Time) error
	MarkFailed(ctx context.Context, id int, reason string, at time.Time) error

	ApplyDeliveryStatus(ctx context.Context, providerMessageID string, to model.SendStatus, reason string, at time.Time) (model.DeliveryChange, error)

	RecordOpen(ctx context.Context, id int, at time.Time) (model.Engagement, error)
	RecordClick(ctx context.Context, id int, at time.Time) (model.Engagement, error)
	RecordUnsubscribe(ctx context.Context, id int, at time.Time) (model.Engagement, error)
}

type CampaignSendRepository struct {
	DB *sql.DB
}

const sendColumns = `id, campaign_id, contact_id, status, provider_message_id, rendered_content, failure_reason,
	sent_at, delivered_at, opened_at, clicked_at, unsubscribed_at, open_count, click_count, created_at, updated_at`

func (r *CampaignSendRepository) CreatePending(ctx context.Context, campaignID, contactID int) (*model.CampaignSend, bool, error) {
	now := time.Now()
	send := &model.CampaignSend{
		CampaignID: campaignID,
		ContactID:  contactID,
		Status:     model.SendPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	query := `
        INSERT INTO campaign_sends (campaign_id, contact_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (campaign_id, contact_id) DO NOTHING
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query, campaignID, contactID, send.Status, now, now).Scan(&send.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return send, true, nil
}

func (r *CampaignSendRepository) ContactIDsForCampaign(ctx context.Context, campaignID int) (map[int]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT contact_id FROM campaign_sends WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := map[int]bool{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (r *CampaignSendRepository) CountForCampaign(ctx context.Context, campaignID int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_sends WHERE campaign_id = $1`, campaignID).Scan(&n)
	return n, err
}

// GetByID returns nil, nil when the record does not exist.
func (r *CampaignSendRepository) GetByID(ctx context.Context, id int) (*model.CampaignSend, error) {
	var s model.CampaignSend
	err := r.DB.QueryRowContext(ctx, `SELECT `+sendColumns+` FROM campaign_sends WHERE id = $1`, id).Scan(
		&s.ID, &s.CampaignID, &s.ContactID, &s.Status, &s.ProviderMessageID, &s.RenderedContent, &s.FailureReason,
		&s.SentAt, &s.DeliveredAt, &s.OpenedAt, &s.ClickedAt, &s.UnsubscribedAt, &s.OpenCount, &s.ClickCount,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ====================== Dispatch outcome ======================

func (r *CampaignSendRepository) MarkSent(ctx context.Context, id int, providerMessageID, rendered string, at time.Time) error {
	return withTx(ctx, r.DB, func(tx *sql.Tx) error {
		var campaignID int
		err := tx.QueryRowContext(ctx, `
            UPDATE campaign_sends
            SET status = $2, provider_message_id = $3, rendered_content = $4, sent_at = $5, updated_at = $5
            WHERE id = $1 AND status = $6
            RETURNING campaign_id`,
			id, model.SendSent, providerMessageID, rendered, at, model.SendPending,
		).Scan(&campaignID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		return bumpCampaignCounter(ctx, tx, campaignID, colSent)
	})
}

func (r *CampaignSendRepository) MarkFailed(ctx context.Context, id int, reason string, at time.Time) error {
	return withTx(ctx, r.DB, func(tx *sql.Tx) error {
		var campaignID int
		err := tx.QueryRowContext(ctx, `
            UPDATE campaign_sends
            SET status = $2, failure_reason = $3, updated_at = $4
            WHERE id = $1 AND status = $5
            RETURNING campaign_id`,
			id, model.SendFailed, reason, at, model.SendPending,
		).Scan(&campaignID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		return bumpCampaignCounter(ctx, tx, campaignID, colFailed)
	})
}

// ====================== Provider callbacks ======================

// ApplyDeliveryStatus moves a sent record to delivered or failed. Records that
// are unknown or already past sent are left alone and reported as not applied.
func (r *CampaignSendRepository) ApplyDeliveryStatus(ctx context.Context, providerMessageID string, to model.SendStatus, reason string, at time.Time) (model.DeliveryChange, error) {
	change := model.DeliveryChange{From: model.SendSent, To: to}
	if providerMessageID == "" || !model.CanTransition(model.SendSent, to) {
		return change, nil
	}

	var query, column string
	args := []any{providerMessageID, to, at, model.SendSent}
	switch to {
	case model.SendDelivered:
		query = `UPDATE campaign_sends SET status = $2, delivered_at = $3, updated_at = $3
                 WHERE provider_message_id = $1 AND status = $4 RETURNING campaign_id`
		column = colDelivered
	case model.SendFailed:
		query = `UPDATE campaign_sends SET status = $2, failure_reason = $5, updated_at = $3
                 WHERE provider_message_id = $1 AND status = $4 RETURNING campaign_id`
		args = append(args, reason)
		column = colFailed
	default:
		return change, nil
	}

	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, query, args...).Scan(&change.CampaignID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		change.Applied = true
		return bumpCampaignCounter(ctx, tx, change.CampaignID, column)
	})
	if err != nil {
		return model.DeliveryChange{}, err
	}
	return change, nil
}

// ====================== Engagement ======================

type engagementRow struct {
	campaignID int
	contactID  int
	status     model.SendStatus
	opened     bool
	clicked    bool
	unsub      bool
}

// lockForEngagement reads the record under a row lock. ok is false for
// unknown records and for records the provider never accepted.
func lockForEngagement(ctx context.Context, tx *sql.Tx, id int, e *model.Engagement) (engagementRow, bool, error) {
	var row engagementRow
	err := tx.QueryRowContext(ctx, `
        SELECT campaign_id, contact_id, status,
               opened_at IS NOT NULL, clicked_at IS NOT NULL, unsubscribed_at IS NOT NULL
        FROM campaign_sends WHERE id = $1 FOR UPDATE`, id,
	).Scan(&row.campaignID, &row.contactID, &row.status, &row.opened, &row.clicked, &row.unsub)
	if errors.Is(err, sql.ErrNoRows) {
		return row, false, nil
	}
	if err != nil {
		return row, false, err
	}
	e.Known = true
	e.CampaignID = row.campaignID
	e.ContactID = row.contactID
	return row, row.status.Engaged(), nil
}

func (r *CampaignSendRepository) RecordOpen(ctx context.Context, id int, at time.Time) (model.Engagement, error) {
	var e model.Engagement
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		row, ok, err := lockForEngagement(ctx, tx, id, &e)
		if err != nil || !ok {
			return err
		}
		if row.opened {
			_, err = tx.ExecContext(ctx,
				`UPDATE campaign_sends SET open_count = open_count + 1, updated_at = $2 WHERE id = $1`, id, at)
			return err
		}
		status := row.status
		if model.CanTransition(status, model.SendOpened) {
			status = model.SendOpened
		}
		if _, err = tx.ExecContext(ctx, `
            UPDATE campaign_sends
            SET opened_at = $2, open_count = open_count + 1, status = $3, updated_at = $2
            WHERE id = $1`, id, at, status); err != nil {
			return err
		}
		e.FirstOpen = true
		return bumpCampaignCounter(ctx, tx, row.campaignID, colOpened)
	})
	if err != nil {
		return model.Engagement{}, err
	}
	return e, nil
}

// RecordClick counts a click. A first click on a record that was never opened
// records the open as well.
func (r *CampaignSendRepository) RecordClick(ctx context.Context, id int, at time.Time) (model.Engagement, error) {
	var e model.Engagement
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		row, ok, err := lockForEngagement(ctx, tx, id, &e)
		if err != nil || !ok {
			return err
		}
		if row.clicked {
			_, err = tx.ExecContext(ctx,
				`UPDATE campaign_sends SET click_count = click_count + 1, updated_at = $2 WHERE id = $1`, id, at)
			return err
		}
		if !row.opened {
			if _, err = tx.ExecContext(ctx,
				`UPDATE campaign_sends SET opened_at = $2, open_count = open_count + 1 WHERE id = $1`, id, at); err != nil {
				return err
			}
			if err = bumpCampaignCounter(ctx, tx, row.campaignID, colOpened); err != nil {
				return err
			}
			e.FirstOpen = true
		}
		if _, err = tx.ExecContext(ctx, `
            UPDATE campaign_sends
            SET clicked_at = $2, click_count = click_count + 1, status = $3, updated_at = $2
            WHERE id = $1`, id, at, model.SendClicked); err != nil {
			return err
		}
		e.FirstClick = true
		return bumpCampaignCounter(ctx, tx, row.campaignID, colClicked)
	})
	if err != nil {
		return model.Engagement{}, err
	}
	return e, nil
}

func (r *CampaignSendRepository) RecordUnsubscribe(ctx context.Context, id int, at time.Time) (model.Engagement, error) {
	var e model.Engagement
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		row, ok, err := lockForEngagement(ctx, tx, id, &e)
		if err != nil || !ok {
			return err
		}
		if row.unsub {
			e.Unsubscribed = true
			return nil
		}
		if _, err = tx.ExecContext(ctx,
			`UPDATE campaign_sends SET unsubscribed_at = $2, updated_at = $2 WHERE id = $1`, id, at); err != nil {
			return err
		}
		e.FirstUnsub, e.Unsubscribed = true, true
		return bumpCampaignCounter(ctx, tx, row.campaignID, colUnsubscribed)
	})
	if err != nil {
		return model.Engagement{}, err
	}
	return e, nil
}

var _ CampaignSendRepositoryInterface = (*CampaignSendRepository)(nil)
