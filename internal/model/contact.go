// internal/model/contact.go
package model

const (
	ContactActive       = "active"
	ContactInactive     = "inactive"
	ContactUnsubscribed = "unsubscribed"
)

type Contact struct {
	ID               int    `db:"id" json:"id"`
	AccountID        int    `db:"account_id" json:"account_id"`
	ListID           int    `db:"list_id" json:"list_id"`
	Email            string `db:"email" json:"email,omitempty"`
	Phone            string `db:"phone" json:"phone,omitempty"`
	FirstName        string `db:"first_name" json:"first_name"`
	LastName         string `db:"last_name" json:"last_name"`
	Location         string `db:"location" json:"location"`
	PreferredProduct string `db:"preferred_product" json:"preferred_product"`
	EmailOptIn       bool   `db:"email_opt_in" json:"email_opt_in"`
	SMSOptIn         bool   `db:"sms_opt_in" json:"sms_opt_in"`
	Status           string `db:"status" json:"status"`
}

// OptedIn reports the contact's opt-in flag for channel.
func (c *Contact) OptedIn(channel string) bool {
	switch channel {
	case ChannelEmail:
		return c.EmailOptIn
	case ChannelSMS:
		return c.SMSOptIn
	}
	return false
}

// Address returns the channel identifier messages are delivered to.
func (c *Contact) Address(channel string) string {
	if channel == ChannelSMS {
		return c.Phone
	}
	return c.Email
}

// MergeFields are the values available to message templates.
func (c *Contact) MergeFields() map[string]string {
	return map[string]string{
		"first_name":        c.FirstName,
		"last_name":         c.LastName,
		"location":          c.Location,
		"preferred_product": c.PreferredProduct,
		"email":             c.Email,
		"phone":             c.Phone,
	}
}
