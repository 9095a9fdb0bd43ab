package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookPublisher sends outbox events to a configured HTTP endpoint.
// Each request is signed with HMAC-SHA256 so the receiver can verify authenticity.
// Non-2xx responses are errors, so the outbox dispatcher retries and
// eventually dead-letters them.
type WebhookPublisher struct {
	url    string
	secret []byte
	client *resty.Client
}

// NewWebhookPublisher returns a WebhookPublisher that POSTs events to url and
// signs them with secret. A zero or negative timeout falls back to
// defaultWebhookTimeout.
func NewWebhookPublisher(url, secret string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookPublisher{
		url:    url,
		secret: []byte(secret),
		client: resty.New().SetTimeout(timeout),
	}
}

// Publish POSTs the JSON envelope with these headers:
//
//	Content-Type:            application/json
//	X-Rentdesk-Topic:        <topic>
//	X-Rentdesk-Event-Type:   <event.EventType>
//	X-Rentdesk-Owner:        <event.OwnerID>
//	X-Hub-Signature-256:     sha256=<hex-encoded HMAC-SHA256>
func (p *WebhookPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Rentdesk-Topic", topic).
		SetHeader("X-Rentdesk-Event-Type", event.EventType).
		SetHeader("X-Rentdesk-Owner", event.OwnerID).
		SetHeader("X-Hub-Signature-256", "sha256="+p.sign(payload)).
		SetBody(payload).
		Post(p.url)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

func (p *WebhookPublisher) sign(payload []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
