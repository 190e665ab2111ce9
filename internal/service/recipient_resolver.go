package service

import (
	"context"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

// RecipientResolver turns a campaign's contact list into the contacts that
// should receive it now.
type RecipientResolver struct {
	Contacts      repository.ContactRepositoryInterface
	Sends         repository.CampaignSendRepositoryInterface
	DefaultRegion string
	Log           *zap.Logger
}

// Resolve keeps active, opted-in contacts with a usable address who have no
// delivery record for the campaign yet, in list order. Phone numbers come back
// in E.164.
func (r *RecipientResolver) Resolve(ctx context.Context, c *model.Campaign) ([]model.Contact, error) {
	if c.ContactListID == nil {
		return nil, appErrors.ErrNoValidContacts
	}
	contacts, err := r.Contacts.ListByList(ctx, *c.ContactListID)
	if err != nil {
		return nil, err
	}
	already, err := r.Sends.ContactIDsForCampaign(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	var out []model.Contact
	dropped := 0
	for _, contact := range contacts {
		if contact.Status != model.ContactActive || !contact.OptedIn(c.Channel) || already[contact.ID] {
			continue
		}
		addr, ok := r.normalize(c.Channel, contact.Address(c.Channel))
		if !ok {
			dropped++
			continue
		}
		if c.Channel == model.ChannelSMS {
			contact.Phone = addr
		} else {
			contact.Email = addr
		}
		out = append(out, contact)
	}
	if dropped > 0 && r.Log != nil {
		r.Log.Info("dropped contacts with unusable addresses",
			zap.Int("campaign_id", c.ID), zap.Int("dropped", dropped))
	}
	if len(out) == 0 {
		return nil, appErrors.ErrNoValidContacts
	}
	return out, nil
}

func (r *RecipientResolver) normalize(channel, addr string) (string, bool) {
	addr = strings.TrimSpace(addr)
	if channel == model.ChannelSMS {
		return NormalizePhone(addr, r.DefaultRegion)
	}
	at := strings.Index(addr, "@")
	return addr, at > 0 && at < len(addr)-1
}

// NormalizePhone parses number and formats it as E.164 when it is a valid
// number. region applies to numbers without a leading +.
func NormalizePhone(number, region string) (string, bool) {
	if number == "" {
		return "", false
	}
	if region == "" {
		region = "US"
	}
	parsed, err := phonenumbers.Parse(number, region)
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return "", false
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), true
}
