package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error)

	// TransitionStatus moves the campaign to `to` only if its current status is
	// one of `from`. It reports whether the row changed.
	TransitionStatus(ctx context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error)
	Schedule(ctx context.Context, id int, at time.Time) error
	Complete(ctx context.Context, id int, at time.Time) error
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error)

	GetStats(ctx context.Context, campaignID int) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, account_id, name, channel, status, subject, base_template, media_url,
	contact_list_id, automation_id, scheduled_at, sent_at,
	sent_count, delivered_count, failed_count, opened_count, clicked_count, unsubscribed_count,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	var listID, automationID sql.NullInt64
	err := row.Scan(
		&c.ID, &c.AccountID, &c.Name, &c.Channel, &c.Status, &c.Subject, &c.BaseTemplate, &c.MediaURL,
		&listID, &automationID, &c.ScheduledAt, &c.SentAt,
		&c.SentCount, &c.DeliveredCount, &c.FailedCount, &c.OpenedCount, &c.ClickedCount, &c.UnsubscribedCount,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ContactListID = intPtr(listID)
	c.AutomationID = intPtr(automationID)
	return &c, nil
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	return insertCampaign(ctx, r.DB, c)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertCampaign is shared with the automation commit, which runs it inside a transaction.
func insertCampaign(ctx context.Context, q queryRower, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (account_id, name, channel, status, subject, base_template, media_url,
                               contact_list_id, automation_id, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id
    `
	return q.QueryRowContext(ctx, query,
		c.AccountID, c.Name, c.Channel, c.Status, c.Subject, c.BaseTemplate, c.MediaURL,
		c.ContactListID, c.AutomationID, c.ScheduledAt, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if channel != "" {
		where += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

// ====================== Lifecycle ======================

func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status = ANY($3)`,
		to, id, pq.Array(states),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *CampaignRepository) Schedule(ctx context.Context, id int, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET status=$1, scheduled_at=$2, updated_at=NOW() WHERE id=$3`,
		model.CampaignScheduled, at, id,
	)
	return err
}

func (r *CampaignRepository) Complete(ctx context.Context, id int, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET status=$1, sent_at=$2, updated_at=NOW() WHERE id=$3`,
		model.CampaignSent, at, id,
	)
	return err
}

func (r *CampaignRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns
         WHERE status=$1 AND scheduled_at <= $2
         ORDER BY scheduled_at, id LIMIT $3`,
		model.CampaignScheduled, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CampaignRepository) GetStats(ctx context.Context, campaignID int) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM campaign_sends WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := emptyStats()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

func emptyStats() map[string]int {
	return map[string]int{
		"total":                     0,
		string(model.SendPending):   0,
		string(model.SendSent):      0,
		string(model.SendFailed):    0,
		string(model.SendDelivered): 0,
		string(model.SendOpened):    0,
		string(model.SendClicked):   0,
	}
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
