package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/unclebandit/campaign-engine/internal/model"
)

// ContactRepositoryInterface defines methods used by service
type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Contact, error)
	ListByList(ctx context.Context, listID int) ([]model.Contact, error)
	Unsubscribe(ctx context.Context, contactID int, channel string) error
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, account_id, list_id, email, phone, first_name, last_name, location, preferred_product,
	email_opt_in, sms_opt_in, status`

func scanContact(row rowScanner) (model.Contact, error) {
	var c model.Contact
	err := row.Scan(&c.ID, &c.AccountID, &c.ListID, &c.Email, &c.Phone, &c.FirstName, &c.LastName,
		&c.Location, &c.PreferredProduct, &c.EmailOptIn, &c.SMSOptIn, &c.Status)
	return c, err
}

// GetByID fetches a contact by ID. Returns nil, nil when not found.
func (r *ContactRepository) GetByID(ctx context.Context, id int) (*model.Contact, error) {
	c, err := scanContact(r.DB.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListByList returns every contact on the list in id order, whatever its status.
func (r *ContactRepository) ListByList(ctx context.Context, listID int) ([]model.Contact, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE list_id = $1 ORDER BY id`, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Unsubscribe clears the contact's opt-in for channel.
func (r *ContactRepository) Unsubscribe(ctx context.Context, contactID int, channel string) error {
	var column string
	switch channel {
	case model.ChannelEmail:
		column = "email_opt_in"
	case model.ChannelSMS:
		column = "sms_opt_in"
	default:
		return fmt.Errorf("unsubscribe: unknown channel %q", channel)
	}
	_, err := r.DB.ExecContext(ctx, `UPDATE contacts SET `+column+` = FALSE WHERE id = $1`, contactID)
	return err
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
