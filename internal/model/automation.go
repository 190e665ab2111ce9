// internal/model/automation.go
package model

import "time"

const (
	FrequencyDaily   = "DAILY"
	FrequencyWeekly  = "WEEKLY"
	FrequencyMonthly = "MONTHLY"
)

type Automation struct {
	ID              int        `db:"id" json:"id"`
	AccountID       int        `db:"account_id" json:"account_id"`
	Name            string     `db:"name" json:"name"`
	Enabled         bool       `db:"enabled" json:"enabled"`
	Channel         string     `db:"channel" json:"channel"`
	ContactListID   *int       `db:"contact_list_id" json:"contact_list_id,omitempty"`
	Prompt          string     `db:"prompt" json:"prompt"`
	Subject         string     `db:"subject" json:"subject,omitempty"`
	GenerateMedia   bool       `db:"generate_media" json:"generate_media"`
	Frequency       string     `db:"frequency" json:"frequency"`
	DayOfWeek       *int       `db:"day_of_week" json:"day_of_week,omitempty"`
	TimeOfDay       string     `db:"time_of_day" json:"time_of_day"`
	LastTriggeredAt *time.Time `db:"last_triggered_at" json:"last_triggered_at,omitempty"`
	StartDate       *time.Time `db:"start_date" json:"start_date,omitempty"`
	EndDate         *time.Time `db:"end_date" json:"end_date,omitempty"`
	GeneratedCount  int        `db:"generated_count" json:"generated_count"`
	CreditsSpent    int        `db:"credits_spent" json:"credits_spent"`
	Version         int        `db:"version" json:"version"`
}

// ActiveAt reports whether the automation is enabled and inside its
// validity window at t.
func (a *Automation) ActiveAt(t time.Time) bool {
	if !a.Enabled {
		return false
	}
	if a.StartDate != nil && t.Before(*a.StartDate) {
		return false
	}
	if a.EndDate != nil && t.After(*a.EndDate) {
		return false
	}
	return true
}

// GenerationCommit is everything written when an automation fires.
type GenerationCommit struct {
	AutomationID int
	Version      int
	Campaign     *Campaign
	Entry        LedgerEntry
}
