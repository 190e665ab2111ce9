// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// ValidChannel reports whether ch is a channel the engine can dispatch on.
func ValidChannel(ch string) bool {
	return ch == ChannelEmail || ch == ChannelSMS
}

type Campaign struct {
	ID            int            `db:"id" json:"id"`
	AccountID     int            `db:"account_id" json:"account_id"`
	Name          string         `db:"name" json:"name"`
	Channel       string         `db:"channel" json:"channel"`
	Status        CampaignStatus `db:"status" json:"status"`
	Subject       string         `db:"subject" json:"subject,omitempty"`
	BaseTemplate  string         `db:"base_template" json:"base_template"`
	MediaURL      string         `db:"media_url" json:"media_url,omitempty"`
	ContactListID *int           `db:"contact_list_id" json:"contact_list_id,omitempty"`
	AutomationID  *int           `db:"automation_id" json:"automation_id,omitempty"`
	ScheduledAt   *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	SentAt        *time.Time     `db:"sent_at" json:"sent_at,omitempty"`

	SentCount         int `db:"sent_count" json:"sent_count"`
	DeliveredCount    int `db:"delivered_count" json:"delivered_count"`
	FailedCount       int `db:"failed_count" json:"failed_count"`
	OpenedCount       int `db:"opened_count" json:"opened_count"`
	ClickedCount      int `db:"clicked_count" json:"clicked_count"`
	UnsubscribedCount int `db:"unsubscribed_count" json:"unsubscribed_count"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// HasMedia is true for SMS campaigns that go out as MMS.
func (c *Campaign) HasMedia() bool {
	return c.MediaURL != ""
}
