// internal/model/account.go
package model

import "time"

const (
	PlanFree    = "free"
	PlanStarter = "starter"
	PlanPro     = "pro"

	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
)

// Account carries the quota and credit state the ledger works against.
type Account struct {
	ID                  int       `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	OwnerEmail          string    `db:"owner_email" json:"owner_email"`
	Plan                string    `db:"plan" json:"plan"`
	Credits             int       `db:"credits" json:"credits"`
	EmailMonthlyLimit   int       `db:"email_monthly_limit" json:"email_monthly_limit"`
	EmailSentThisPeriod int       `db:"email_sent_this_period" json:"email_sent_this_period"`
	SMSMonthlyLimit     int       `db:"sms_monthly_limit" json:"sms_monthly_limit"`
	SMSSentThisPeriod   int       `db:"sms_sent_this_period" json:"sms_sent_this_period"`
	PeriodStart         time.Time `db:"period_start" json:"period_start"`
	EmailVerification   string    `db:"email_verification" json:"email_verification"`
	SMSVerification     string    `db:"sms_verification" json:"sms_verification"`
}

// PeriodOf returns the first instant of the month containing t, in UTC.
func PeriodOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// QuotaRemaining is the monthly allowance left on channel as of now. A stale
// period counts as fully unused.
func (a *Account) QuotaRemaining(channel string, now time.Time) int {
	limit, used := a.EmailMonthlyLimit, a.EmailSentThisPeriod
	if channel == ChannelSMS {
		limit, used = a.SMSMonthlyLimit, a.SMSSentThisPeriod
	}
	if a.PeriodStart.Before(PeriodOf(now)) {
		used = 0
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// Verification returns the compliance status gating channel.
func (a *Account) Verification(channel string) string {
	if channel == ChannelSMS {
		return a.SMSVerification
	}
	return a.EmailVerification
}

// PlanAllows reports whether the account's plan includes channel.
func (a *Account) PlanAllows(channel string) bool {
	if channel == ChannelSMS {
		return a.Plan == PlanStarter || a.Plan == PlanPro
	}
	return true
}

type LedgerEntry struct {
	ID             int       `db:"id" json:"id"`
	AccountID      int       `db:"account_id" json:"account_id"`
	Operation      string    `db:"operation" json:"operation"`
	Units          int       `db:"units" json:"units"`
	Credits        int       `db:"credits" json:"credits"`
	Reference      string    `db:"reference" json:"reference"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// UsageDelta is added to the period usage counters together with a deduction.
type UsageDelta struct {
	Email int
	SMS   int
}
