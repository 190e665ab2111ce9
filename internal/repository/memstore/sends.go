package memstore

import (
	"context"
	"time"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type SendRepo struct{ s *Store }

func (r *SendRepo) CreatePending(_ context.Context, campaignID, contactID int) (*model.CampaignSend, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := [2]int{campaignID, contactID}
	if _, exists := r.s.sendPairs[key]; exists {
		return nil, false, nil
	}
	now := time.Now()
	send := &model.CampaignSend{
		ID:         r.s.id("campaign_sends"),
		CampaignID: campaignID,
		ContactID:  contactID,
		Status:     model.SendPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.s.sends[send.ID] = send
	r.s.sendPairs[key] = send.ID
	cp := *send
	return &cp, true, nil
}

func (r *SendRepo) ContactIDsForCampaign(_ context.Context, campaignID int) (map[int]bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := map[int]bool{}
	for key := range r.s.sendPairs {
		if key[0] == campaignID {
			ids[key[1]] = true
		}
	}
	return ids, nil
}

func (r *SendRepo) CountForCampaign(ctx context.Context, campaignID int) (int, error) {
	ids, err := r.ContactIDsForCampaign(ctx, campaignID)
	return len(ids), err
}

func (r *SendRepo) GetByID(_ context.Context, id int) (*model.CampaignSend, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	send, ok := r.s.sends[id]
	if !ok {
		return nil, nil
	}
	cp := *send
	return &cp, nil
}

// bump must be called with mu held.
func (s *Store) bump(campaignID int, field func(c *model.Campaign) *int) {
	if c, ok := s.campaigns[campaignID]; ok {
		*field(c)++
	}
}

func (r *SendRepo) MarkSent(_ context.Context, id int, providerMessageID, rendered string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	send, ok := r.s.sends[id]
	if !ok || send.Status != model.SendPending {
		return nil
	}
	send.Status = model.SendSent
	send.ProviderMessageID = providerMessageID
	send.RenderedContent = rendered
	send.SentAt = &at
	send.UpdatedAt = at
	r.s.bump(send.CampaignID, func(c *model.Campaign) *int { return &c.SentCount })
	return nil
}

func (r *SendRepo) MarkFailed(_ context.Context, id int, reason string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	send, ok := r.s.sends[id]
	if !ok || send.Status != model.SendPending {
		return nil
	}
	send.Status = model.SendFailed
	send.FailureReason = reason
	send.UpdatedAt = at
	r.s.bump(send.CampaignID, func(c *model.Campaign) *int { return &c.FailedCount })
	return nil
}

func (r *SendRepo) ApplyDeliveryStatus(_ context.Context, providerMessageID string, to model.SendStatus, reason string, at time.Time) (model.DeliveryChange, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	change := model.DeliveryChange{From: model.SendSent, To: to}
	if providerMessageID == "" || (to != model.SendDelivered && to != model.SendFailed) {
		return change, nil
	}
	for _, send := range r.s.sends {
		if send.ProviderMessageID != providerMessageID {
			continue
		}
		change.CampaignID = send.CampaignID
		if send.Status != model.SendSent {
			return change, nil
		}
		send.Status = to
		send.UpdatedAt = at
		if to == model.SendDelivered {
			send.DeliveredAt = &at
			r.s.bump(send.CampaignID, func(c *model.Campaign) *int { return &c.DeliveredCount })
		} else {
			send.FailureReason = reason
			r.s.bump(send.CampaignID, func(c *model.Campaign) *int { return &c.FailedCount })
		}
		change.Applied = true
		return change, nil
	}
	return change, nil
}

// engaged must be called with mu held.
func (s *Store) engaged(id int, e *model.Engagement) (*model.CampaignSend, bool) {
	send, ok := s.sends[id]
	if !ok {
		return nil, false
	}
	e.Known = true
	e.CampaignID = send.CampaignID
	e.ContactID = send.ContactID
	return send, send.Status.Engaged()
}

func (r *SendRepo) RecordOpen(_ context.Context, id int, at time.Time) (model.Engagement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var e model.Engagement
	send, ok := r.s.engaged(id, &e)
	if !ok {
		return e, nil
	}
	send.OpenCount++
	send.UpdatedAt = at
	if send.OpenedAt != nil {
		return e, nil
	}
	send.OpenedAt = &at
	if model.CanTransition(send.Status, model.SendOpened) {
		send.Status = model.SendOpened
	}
	r.s.bump(send.CampaignID, func(c *model.Campaign) *int { return &c.OpenedCount })
	e.FirstOpen = true
	return e, nil
}

func (r *SendRepo) RecordClick(_ context.Context, id int, at time.Time) (model.Engagement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var e model.Engagement
	send, ok := r.s.engaged(id, &e)
	if !ok {
		return e, nil
	}
	send.ClickCount++
	send.UpdatedAt = at
	if send.ClickedAt != nil {
		return e, nil
	}
	if send.OpenedAt == nil {
		send.OpenedAt = &at
		send.OpenCount++
		r.s.bump(send.CampaignID, func(c *model.Campaign) *int { return &c.OpenedCount })
		e.FirstOpen = true
	}
	send.ClickedAt = &at
	send.Status = model.SendClicked
	r.s.bump(send.CampaignID, func(c *model.Campaign) *int { return &c.ClickedCount })
	e.FirstClick = true
	return e, nil
}

func (r *SendRepo) RecordUnsubscribe(_ context.Context, id int, at time.Time) (model.Engagement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var e model.Engagement
	send, ok := r.s.engaged(id, &e)
	if !ok {
		return e, nil
	}
	if send.UnsubscribedAt != nil {
		e.Unsubscribed = true
		return e, nil
	}
	send.UnsubscribedAt = &at
	send.UpdatedAt = at
	r.s.bump(send.CampaignID, func(c *model.Campaign) *int { return &c.UnsubscribedCount })
	e.FirstUnsub, e.Unsubscribed = true, true
	return e, nil
}
