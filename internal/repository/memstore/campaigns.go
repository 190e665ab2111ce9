package memstore

import (
	"context"
	"sort"
	"time"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

type CampaignRepo struct{ s *Store }

func (r *CampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.insertCampaign(c)
	return nil
}

func (s *Store) insertCampaign(c *model.Campaign) {
	c.ID = s.id("campaigns")
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	cp := *c
	s.campaigns[c.ID] = &cp
}

func (r *CampaignRepo) GetByID(_ context.Context, id int) (*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepo) ListCampaigns(_ context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*model.Campaign
	for _, c := range r.s.campaigns {
		if channel != "" && c.Channel != channel {
			continue
		}
		if status != "" && string(c.Status) != status {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := len(all)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total || limit <= 0 {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *CampaignRepo) TransitionStatus(_ context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			now := time.Now()
			c.UpdatedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (r *CampaignRepo) Schedule(_ context.Context, id int, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = model.CampaignScheduled
	c.ScheduledAt = &at
	return nil
}

func (r *CampaignRepo) Complete(_ context.Context, id int, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = model.CampaignSent
	c.SentAt = &at
	return nil
}

func (r *CampaignRepo) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []*model.Campaign
	for _, c := range r.s.campaigns {
		if c.Status == model.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			cp := *c
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(*due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(*due[j].ScheduledAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *CampaignRepo) GetStats(_ context.Context, campaignID int) (map[string]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stats := map[string]int{
		"total":                     0,
		string(model.SendPending):   0,
		string(model.SendSent):      0,
		string(model.SendFailed):    0,
		string(model.SendDelivered): 0,
		string(model.SendOpened):    0,
		string(model.SendClicked):   0,
	}
	for _, send := range r.s.sends {
		if send.CampaignID == campaignID {
			stats[string(send.Status)]++
			stats["total"]++
		}
	}
	return stats, nil
}
