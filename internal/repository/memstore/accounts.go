package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

// ====================== Contacts ======================

type ContactRepo struct{ s *Store }

func (r *ContactRepo) GetByID(_ context.Context, id int) (*model.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *ContactRepo) ListByList(_ context.Context, listID int) ([]model.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.Contact{}
	for _, c := range r.s.contacts {
		if c.ListID == listID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ContactRepo) Unsubscribe(_ context.Context, contactID int, channel string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[contactID]
	if !ok {
		return nil
	}
	switch channel {
	case model.ChannelEmail:
		c.EmailOptIn = false
	case model.ChannelSMS:
		c.SMSOptIn = false
	default:
		return fmt.Errorf("unsubscribe: unknown channel %q", channel)
	}
	return nil
}

// ====================== Accounts ======================

type AccountRepo struct{ s *Store }

func (r *AccountRepo) GetByID(_ context.Context, id int) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, appErrors.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *AccountRepo) Deduct(_ context.Context, entry *model.LedgerEntry, usage model.UsageDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.ledgerKeys[entry.IdempotencyKey] {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := r.s.deduct(entry.AccountID, entry.Credits, usage, model.PeriodOf(entry.CreatedAt), false); err != nil {
		return err
	}
	r.s.appendLedger(entry)
	return nil
}

// deduct must be called with mu held. Without requireBalance the balance may
// go negative.
func (s *Store) deduct(accountID, n int, usage model.UsageDelta, period time.Time, requireBalance bool) error {
	a, ok := s.accounts[accountID]
	if !ok {
		return appErrors.ErrAccountNotFound
	}
	if requireBalance && a.Credits < n {
		return &appErrors.QuotaError{Resource: "credits", Needed: n, Remaining: a.Credits}
	}
	a.Credits -= n
	if a.PeriodStart.Before(period) {
		a.PeriodStart = period
		a.EmailSentThisPeriod = 0
		a.SMSSentThisPeriod = 0
	}
	a.EmailSentThisPeriod += usage.Email
	a.SMSSentThisPeriod += usage.SMS
	return nil
}

func (s *Store) appendLedger(entry *model.LedgerEntry) {
	entry.ID = s.id("ledger_entries")
	s.ledgerKeys[entry.IdempotencyKey] = true
	s.ledger = append(s.ledger, *entry)
}

// ====================== Automations ======================

type AutomationRepo struct{ s *Store }

func (r *AutomationRepo) ListActive(_ context.Context, now time.Time) ([]*model.Automation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Automation
	for _, a := range r.s.automations {
		if a.ActiveAt(now) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *AutomationRepo) Claim(_ context.Context, id, version int, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.automations[id]
	if !ok || a.Version != version {
		return false, nil
	}
	a.Version++
	a.LastTriggeredAt = &at
	return true, nil
}

func (r *AutomationRepo) ReleaseClaim(_ context.Context, id, claimedVersion int, previous *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.automations[id]; ok && a.Version == claimedVersion {
		a.LastTriggeredAt = previous
	}
	return nil
}

func (r *AutomationRepo) CommitGeneration(_ context.Context, commit *model.GenerationCommit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.automations[commit.AutomationID]
	if !ok || a.Version != commit.Version {
		return repository.ErrLeaseLost
	}
	entry := &commit.Entry
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := r.s.deduct(entry.AccountID, entry.Credits, model.UsageDelta{}, model.PeriodOf(entry.CreatedAt), true); err != nil {
		return err
	}
	r.s.insertCampaign(commit.Campaign)
	if entry.Reference == "" {
		entry.Reference = fmt.Sprintf("campaign:%d", commit.Campaign.ID)
	}
	r.s.appendLedger(entry)
	a.GeneratedCount++
	a.CreditsSpent += entry.Credits
	return nil
}
