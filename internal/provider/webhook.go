package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NormalizeStatus maps a provider status word to StatusDelivered or
// StatusFailed. Anything else returns "" and is not reconciled.
func NormalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "delivered", "delivery":
		return StatusDelivered
	case "failed", "bounce", "bounced", "undelivered", "undeliverable", "dropped", "reject", "rejected":
		return StatusFailed
	}
	return ""
}

// ====================== SES via SNS ======================

type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

type sesNotification struct {
	NotificationType string `json:"notificationType"`
	EventType        string `json:"eventType"`
	Mail             struct {
		MessageID string `json:"messageId"`
	} `json:"mail"`
	Bounce *struct {
		BounceType        string    `json:"bounceType"`
		BounceSubType     string    `json:"bounceSubType"`
		Timestamp         time.Time `json:"timestamp"`
		BouncedRecipients []struct {
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce,omitempty"`
	Delivery *struct {
		Timestamp time.Time `json:"timestamp"`
	} `json:"delivery,omitempty"`
	Reject *struct {
		Reason string `json:"reason"`
	} `json:"reject,omitempty"`
}

// SESWebhook is a parsed SNS delivery to the SES endpoint. SubscribeURL is set
// only for subscription confirmations.
type SESWebhook struct {
	SubscribeURL string
	Events       []StatusEvent
}

func ParseSES(body []byte) (SESWebhook, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return SESWebhook{}, fmt.Errorf("invalid SNS envelope: %w", err)
	}
	switch env.Type {
	case "SubscriptionConfirmation":
		return SESWebhook{SubscribeURL: env.SubscribeURL}, nil
	case "Notification":
	default:
		return SESWebhook{}, nil
	}

	var n sesNotification
	if err := json.Unmarshal([]byte(env.Message), &n); err != nil {
		return SESWebhook{}, fmt.Errorf("invalid SES notification: %w", err)
	}
	kind := n.NotificationType
	if kind == "" {
		kind = n.EventType
	}

	ev := StatusEvent{Provider: "ses", ProviderMessageID: n.Mail.MessageID, At: time.Now().UTC()}
	switch kind {
	case "Delivery":
		ev.Status = StatusDelivered
		if n.Delivery != nil && !n.Delivery.Timestamp.IsZero() {
			ev.At = n.Delivery.Timestamp
		}
	case "Bounce":
		if n.Bounce == nil || n.Bounce.BounceType != "Permanent" {
			return SESWebhook{}, nil
		}
		ev.Status = StatusFailed
		ev.Reason = n.Bounce.BounceSubType
		if len(n.Bounce.BouncedRecipients) > 0 && n.Bounce.BouncedRecipients[0].DiagnosticCode != "" {
			ev.Reason = n.Bounce.BouncedRecipients[0].DiagnosticCode
		}
		if !n.Bounce.Timestamp.IsZero() {
			ev.At = n.Bounce.Timestamp
		}
	case "Reject":
		ev.Status = StatusFailed
		if n.Reject != nil {
			ev.Reason = n.Reject.Reason
		}
	default:
		return SESWebhook{}, nil
	}
	return SESWebhook{Events: []StatusEvent{ev}}, nil
}

// ====================== SendGrid ======================

type sendGridEvent struct {
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
	Reason      string `json:"reason"`
	Timestamp   int64  `json:"timestamp"`
}

// ParseSendGrid reads an event-webhook batch. Only delivery and failure
// events are returned.
func ParseSendGrid(body []byte) ([]StatusEvent, error) {
	var batch []sendGridEvent
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("invalid SendGrid batch: %w", err)
	}
	var out []StatusEvent
	for _, e := range batch {
		status := NormalizeStatus(e.Event)
		if status == "" || e.SGMessageID == "" {
			continue
		}
		// sg_message_id is the X-Message-Id returned at send time plus a
		// per-recipient suffix after the first dot.
		id, _, _ := strings.Cut(e.SGMessageID, ".")
		at := time.Now().UTC()
		if e.Timestamp > 0 {
			at = time.Unix(e.Timestamp, 0).UTC()
		}
		out = append(out, StatusEvent{Provider: "sendgrid", ProviderMessageID: id, Status: status, Reason: e.Reason, At: at})
	}
	return out, nil
}

// ====================== SMS ======================

type smsStatus struct {
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseSMS accepts one status object or an array of them.
func ParseSMS(body []byte) ([]StatusEvent, error) {
	var batch []smsStatus
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("invalid SMS status batch: %w", err)
		}
	} else {
		var one smsStatus
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("invalid SMS status: %w", err)
		}
		batch = append(batch, one)
	}

	var out []StatusEvent
	for _, s := range batch {
		status := NormalizeStatus(s.Status)
		if status == "" || s.MessageID == "" {
			continue
		}
		at := s.Timestamp
		if at.IsZero() {
			at = time.Now().UTC()
		}
		out = append(out, StatusEvent{Provider: "sms", ProviderMessageID: s.MessageID, Status: status, Reason: s.Error, At: at})
	}
	return out, nil
}
