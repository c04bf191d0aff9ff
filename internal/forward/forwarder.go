// Package forward delivers enriched notification payloads to downstream
// processing endpoints.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/mailbox-monitor/internal/config"
	"github.com/ignite/mailbox-monitor/internal/domain"
)

// Payload is the JSON body sent to a downstream sink.
type Payload struct {
	SubscriptionID string              `json:"subscription_id"`
	Mailbox        string              `json:"mailbox"`
	MessageID      string              `json:"message_id"`
	Sender         string              `json:"sender"`
	Subject        string              `json:"subject"`
	Supplier       domain.Supplier     `json:"supplier"`
	DocumentType   domain.DocumentType `json:"document_type"`
	AttachmentURLs []string            `json:"attachment_urls"`
	RuleID         string              `json:"rule_id"`
	RuleName       string              `json:"rule_name"`
	ReceivedAt     time.Time           `json:"received_at"`
}

// Forwarder posts payloads to the fixed automation endpoint or to a rule's
// custom URL. The HTTP client carries a long timeout to accommodate slow
// downstream processing. There is no inline retry; a timeout is a
// per-item failure recorded by the dispatcher.
type Forwarder struct {
	automationURL string
	client        *http.Client
}

// NewForwarder creates a forwarder from config.
func NewForwarder(cfg config.ForwardingConfig) *Forwarder {
	return &Forwarder{
		automationURL: cfg.AutomationURL,
		client:        &http.Client{Timeout: cfg.Timeout()},
	}
}

// ToAutomation posts the payload to the fixed automation endpoint.
func (f *Forwarder) ToAutomation(ctx context.Context, p Payload) error {
	if f.automationURL == "" {
		return fmt.Errorf("forward: no automation endpoint configured")
	}
	return f.send(ctx, http.MethodPost, f.automationURL, p)
}

// ToCustom posts the payload to the rule's configured URL using the rule's
// configured method (POST, PUT, or PATCH).
func (f *Forwarder) ToCustom(ctx context.Context, rule domain.MonitoringRule, p Payload) error {
	switch rule.Method() {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return fmt.Errorf("forward: rule %q: unsupported method %q", rule.Name, rule.Method())
	}
	return f.send(ctx, rule.Method(), rule.CustomURL, p)
}

func (f *Forwarder) send(ctx context.Context, method, url string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("forward: encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("forward: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("forward: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("forward: %s %s: status %d: %s", method, url, resp.StatusCode, string(detail))
	}
	return nil
}
