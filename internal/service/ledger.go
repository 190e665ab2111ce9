package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/metrics"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

type OperationType string

const (
	OpEmail             OperationType = "email"
	OpSMS               OperationType = "sms"
	OpMMS               OperationType = "mms"
	OpContentGeneration OperationType = "content_generation"
	OpMediaGeneration   OperationType = "media_generation"
)

var defaultPrices = map[OperationType]int{
	OpEmail:             1,
	OpSMS:               1,
	OpMMS:               3,
	OpContentGeneration: 5,
	OpMediaGeneration:   10,
}

// Pricing returns the credit cost of one unit of op.
type Pricing func(op OperationType) int

// NewPricing applies per-operation overrides on top of the default price list.
func NewPricing(overrides map[string]int) Pricing {
	prices := make(map[OperationType]int, len(defaultPrices))
	for op, p := range defaultPrices {
		prices[op] = p
	}
	for op, p := range overrides {
		prices[OperationType(op)] = p
	}
	return func(op OperationType) int { return prices[op] }
}

// OperationFor is the billable operation of one recipient of c.
func OperationFor(c *model.Campaign) OperationType {
	switch {
	case c.Channel == model.ChannelSMS && c.HasMedia():
		return OpMMS
	case c.Channel == model.ChannelSMS:
		return OpSMS
	}
	return OpEmail
}

func (op OperationType) channel() string {
	switch op {
	case OpEmail:
		return model.ChannelEmail
	case OpSMS, OpMMS:
		return model.ChannelSMS
	}
	return ""
}

// Ledger checks and charges credits and monthly quota.
type Ledger struct {
	Accounts repository.AccountRepositoryInterface
	Price    Pricing
	Now      func() time.Time
	Log      *zap.Logger
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Preflight reports whether units of op fit in the account's remaining quota
// and credits. Nothing is written.
func (l *Ledger) Preflight(ctx context.Context, accountID int, op OperationType, units int) error {
	acct, err := l.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if ch := op.channel(); ch != "" {
		if remaining := acct.QuotaRemaining(ch, l.now()); remaining < units {
			return &appErrors.QuotaError{Resource: ch + " quota", Needed: units, Remaining: remaining}
		}
	}
	if needed := l.Price(op) * units; acct.Credits < needed {
		return &appErrors.QuotaError{Resource: "credits", Needed: needed, Remaining: acct.Credits}
	}
	return nil
}

// EnsureBalance checks the balance covers credits without touching quota.
func (l *Ledger) EnsureBalance(ctx context.Context, accountID, credits int) error {
	acct, err := l.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acct.Credits < credits {
		return &appErrors.QuotaError{Resource: "credits", Needed: credits, Remaining: acct.Credits}
	}
	return nil
}

// Charge deducts price(op)*units and records a single ledger entry, adding
// units to the period usage in the same write. It bills messages that are
// already out, so it never refuses for lack of credits and the balance may
// go negative. It returns the credits taken.
func (l *Ledger) Charge(ctx context.Context, accountID int, op OperationType, units int, reference string) (int, error) {
	if units <= 0 {
		return 0, nil
	}
	credits := l.Price(op) * units
	entry := &model.LedgerEntry{
		AccountID:      accountID,
		Operation:      string(op),
		Units:          units,
		Credits:        credits,
		Reference:      reference,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      l.now(),
	}
	var usage model.UsageDelta
	switch op.channel() {
	case model.ChannelEmail:
		usage.Email = units
	case model.ChannelSMS:
		usage.SMS = units
	}

	if err := l.Accounts.Deduct(ctx, entry, usage); err != nil {
		return 0, fmt.Errorf("charge %d %s: %w", units, op, err)
	}
	metrics.CreditsDeducted.WithLabelValues(string(op)).Add(float64(credits))
	if l.Log != nil {
		l.Log.Debug("credits charged",
			zap.Int("account_id", accountID),
			zap.String("operation", string(op)),
			zap.Int("units", units),
			zap.Int("credits", credits),
			zap.String("reference", reference),
		)
	}
	return credits, nil
}
