package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ignite/mailbox-monitor/internal/config"
	"github.com/ignite/mailbox-monitor/internal/domain"
	"github.com/ignite/mailbox-monitor/internal/pkg/httpretry"
)

// Client talks to the mail provider's REST API: subscription lifecycle
// calls and message summary reads.
//
// Subscription mutations use a plain short-timeout client: a transient
// failure there is handled by the next scheduled renewal cycle, never by
// an inline retry. Message summary reads are side-effect free and go
// through the retrying client.
type Client struct {
	baseURL     string
	httpClient  httpretry.HTTPDoer // mutations: no inline retry
	fetchClient httpretry.HTTPDoer // reads: retry on 429/5xx
}

// NewClient creates a provider client authenticated via the OAuth2 client
// credentials flow.
func NewClient(cfg config.GraphConfig) *Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	base := cc.Client(context.Background())
	base.Timeout = cfg.Timeout()

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  base,
		fetchClient: httpretry.NewRetryClient(base, 3),
	}
}

// CreateSubscription registers a push subscription with the provider and
// returns the provider's record, including the authoritative expiration.
func (c *Client) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResponse, error) {
	body, err := c.doJSON(ctx, c.httpClient, http.MethodPost, "/subscriptions", req)
	if err != nil {
		return nil, err
	}
	var sub SubscriptionResponse
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("graph: decoding subscription response: %w", err)
	}
	return &sub, nil
}

// RenewSubscription extends a subscription's expiration. The returned
// expiration is whatever the provider actually granted, which may differ
// from the requested value.
func (c *Client) RenewSubscription(ctx context.Context, externalID string, expiresAt time.Time) (*SubscriptionResponse, error) {
	path := "/subscriptions/" + url.PathEscape(externalID)
	body, err := c.doJSON(ctx, c.httpClient, http.MethodPatch, path, renewRequest{ExpirationDateTime: expiresAt})
	if err != nil {
		return nil, err
	}
	var sub SubscriptionResponse
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("graph: decoding renewal response: %w", err)
	}
	return &sub, nil
}

// DeleteSubscription removes a provider subscription. Returns ErrNotFound
// when the provider no longer knows the subscription; callers treat that
// as success.
func (c *Client) DeleteSubscription(ctx context.Context, externalID string) error {
	path := "/subscriptions/" + url.PathEscape(externalID)
	_, err := c.doJSON(ctx, c.httpClient, http.MethodDelete, path, nil)
	return err
}

// GetMessageSummary fetches the sender, subject, body preview, and
// attachment list for the message at resourcePath. The resource path comes
// verbatim from the notification.
func (c *Client) GetMessageSummary(ctx context.Context, mailbox, resourcePath string) (*domain.MessageSummary, error) {
	path := "/" + strings.TrimLeft(resourcePath, "/")
	body, err := c.doJSON(ctx, c.fetchClient, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var msg message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("graph: decoding message: %w", err)
	}

	summary := &domain.MessageSummary{
		MessageID:   msg.ID,
		Sender:      msg.From.EmailAddress.Address,
		Subject:     msg.Subject,
		BodyPreview: msg.BodyPreview,
	}

	if msg.HasAttachments {
		attachments, err := c.getAttachments(ctx, path)
		if err != nil {
			// Attachment listing failure degrades the summary, it does
			// not make the message unreadable.
			return summary, nil
		}
		summary.Attachments = attachments
	}

	return summary, nil
}

func (c *Client) getAttachments(ctx context.Context, messagePath string) ([]domain.Attachment, error) {
	body, err := c.doJSON(ctx, c.fetchClient, http.MethodGet, messagePath+"/attachments", nil)
	if err != nil {
		return nil, err
	}
	var list attachmentList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("graph: decoding attachments: %w", err)
	}
	out := make([]domain.Attachment, 0, len(list.Value))
	for _, a := range list.Value {
		out = append(out, domain.Attachment{
			Name:        a.Name,
			ContentType: a.ContentType,
			Content:     a.ContentBytes,
		})
	}
	return out, nil
}

// doJSON executes a request against the provider API and classifies
// failures into the error taxonomy.
func (c *Client) doJSON(ctx context.Context, client httpretry.HTTPDoer, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("graph: encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("graph: creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransientError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Cause: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, classifyStatus(resp.StatusCode, body)
}

func classifyStatus(status int, body []byte) error {
	detail := errorDetail(body)
	switch {
	case status == http.StatusUnauthorized:
		return &AuthError{Status: status, Detail: detail}
	case status == http.StatusForbidden:
		return &PermissionError{Status: status, Detail: detail}
	case status == http.StatusNotFound || status == http.StatusGone:
		return fmt.Errorf("%w (status %d): %s", ErrNotFound, status, detail)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Status: status, Detail: detail}
	default:
		return fmt.Errorf("graph: API error (status %d): %s", status, detail)
	}
}

func errorDetail(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		if e.Error.Code != "" {
			return e.Error.Code + ": " + e.Error.Message
		}
		return e.Error.Message
	}
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
