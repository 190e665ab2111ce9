// Package provider holds the outbound channel integrations and the parsers
// for their delivery-status callbacks.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Message is one fully personalised outbound message.
type Message struct {
	Channel    string
	To         string
	Subject    string
	Body       string
	MediaURL   string
	CampaignID int
	SendID     int
}

// Result carries the provider-assigned id used to correlate callbacks.
type Result struct {
	MessageID string
}

type Provider interface {
	Send(ctx context.Context, msg Message) (Result, error)
	Channel() string
}

// Delivery statuses reported by providers after normalisation.
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// StatusEvent is a provider callback reduced to what reconciliation needs.
type StatusEvent struct {
	Provider          string
	ProviderMessageID string
	Status            string
	Reason            string
	At                time.Time
}

// Registry maps a channel to the provider that serves it.
type Registry map[string]Provider

func NewRegistry(providers ...Provider) Registry {
	r := Registry{}
	for _, p := range providers {
		r[p.Channel()] = p
	}
	return r
}

func (r Registry) For(channel string) (Provider, error) {
	p, ok := r[channel]
	if !ok {
		return nil, fmt.Errorf("no provider configured for channel %q", channel)
	}
	return p, nil
}
