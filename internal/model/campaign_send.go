// internal/model/campaign_send.go
package model

import "time"

type SendStatus string

const (
	SendPending   SendStatus = "pending"
	SendSent      SendStatus = "sent"
	SendFailed    SendStatus = "failed"
	SendDelivered SendStatus = "delivered"
	SendOpened    SendStatus = "opened"
	SendClicked   SendStatus = "clicked"
)

// CampaignSend is the per-recipient delivery record. At most one exists per
// (CampaignID, ContactID).
type CampaignSend struct {
	ID                int        `db:"id" json:"id"`
	CampaignID        int        `db:"campaign_id" json:"campaign_id"`
	ContactID         int        `db:"contact_id" json:"contact_id"`
	Status            SendStatus `db:"status" json:"status"`
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
	RenderedContent   string     `db:"rendered_content" json:"rendered_content,omitempty"`
	FailureReason     string     `db:"failure_reason" json:"failure_reason,omitempty"`
	SentAt            *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	OpenedAt          *time.Time `db:"opened_at" json:"opened_at,omitempty"`
	ClickedAt         *time.Time `db:"clicked_at" json:"clicked_at,omitempty"`
	UnsubscribedAt    *time.Time `db:"unsubscribed_at" json:"unsubscribed_at,omitempty"`
	OpenCount         int        `db:"open_count" json:"open_count"`
	ClickCount        int        `db:"click_count" json:"click_count"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

var sendTransitions = map[SendStatus][]SendStatus{
	SendPending:   {SendSent, SendFailed},
	SendSent:      {SendDelivered, SendOpened, SendClicked, SendFailed},
	SendDelivered: {SendOpened, SendClicked},
	SendOpened:    {SendClicked},
}

// CanTransition reports whether a record in state from may move to state to.
func CanTransition(from, to SendStatus) bool {
	for _, s := range sendTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal is true for states with no outgoing transition.
func (s SendStatus) IsTerminal() bool {
	return len(sendTransitions[s]) == 0
}

// Engaged is true once the provider accepted the message, which is the
// precondition for any open, click or unsubscribe to count.
func (s SendStatus) Engaged() bool {
	switch s {
	case SendSent, SendDelivered, SendOpened, SendClicked:
		return true
	}
	return false
}

// Engagement is what a tracking update did to a record.
type Engagement struct {
	Known      bool
	CampaignID int
	ContactID  int
	FirstOpen  bool
	FirstClick bool
	FirstUnsub bool
	// Unsubscribed is set when the record carries an unsubscribe, new or old.
	Unsubscribed bool
}

// DeliveryChange is the outcome of applying a provider status callback.
type DeliveryChange struct {
	Applied    bool
	CampaignID int
	From       SendStatus
	To         SendStatus
}
