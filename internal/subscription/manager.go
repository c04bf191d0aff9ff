// Package subscription owns the lifecycle of provider-side mailbox
// subscriptions: creation, renewal ahead of expiry, deletion, and the
// self-healing recreate path when a renewal finds the subscription gone.
package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/mailbox-monitor/internal/config"
	"github.com/ignite/mailbox-monitor/internal/domain"
	"github.com/ignite/mailbox-monitor/internal/graph"
	"github.com/ignite/mailbox-monitor/internal/pkg/logger"
)

// Provider is the slice of the provider API the lifecycle needs.
type Provider interface {
	CreateSubscription(ctx context.Context, req graph.SubscriptionRequest) (*graph.SubscriptionResponse, error)
	RenewSubscription(ctx context.Context, externalID string, expiresAt time.Time) (*graph.SubscriptionResponse, error)
	DeleteSubscription(ctx context.Context, externalID string) error
}

// Store is the persistence surface the lifecycle needs.
type Store interface {
	Create(ctx context.Context, sub *domain.Subscription) error
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	ListActive(ctx context.Context) ([]domain.Subscription, error)
	ListExpiringWithin(ctx context.Context, threshold time.Duration) ([]domain.Subscription, error)
	RecordRenewal(ctx context.Context, id string, expiresAt time.Time) error
	ReplaceExternal(ctx context.Context, id, externalID string, expiresAt time.Time) error
	SetStatus(ctx context.Context, id string, status domain.SubscriptionStatus) error
}

// Clock abstracts time for deterministic scheduler tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RecreateFunc replaces a dead provider subscription with a fresh one. The
// default implementation creates a new provider subscription and swaps its
// identity into the existing local record.
type RecreateFunc func(ctx context.Context, sub *domain.Subscription) error

// Manager drives subscription lifecycle transitions. All expirations stored
// locally are the provider's granted values, never the requested ones.
type Manager struct {
	provider Provider
	store    Store
	cfg      config.SubscriptionConfig
	webhook  config.WebhookConfig
	clock    Clock
	recreate RecreateFunc
}

// NewManager creates a subscription lifecycle manager.
func NewManager(provider Provider, store Store, cfg config.SubscriptionConfig, webhook config.WebhookConfig) *Manager {
	m := &Manager{
		provider: provider,
		store:    store,
		cfg:      cfg,
		webhook:  webhook,
		clock:    realClock{},
	}
	m.recreate = m.recreateSubscription
	return m
}

// SetClock overrides the time source.
func (m *Manager) SetClock(c Clock) { m.clock = c }

// SetRecreateFallback overrides the failed-renewal recovery strategy.
func (m *Manager) SetRecreateFallback(f RecreateFunc) { m.recreate = f }

// clampTTL bounds a requested lifetime to the provider's ceiling.
func clampTTL(d time.Duration) time.Duration {
	if d <= 0 || d > graph.MaxSubscriptionTTL {
		return graph.MaxSubscriptionTTL
	}
	return d
}

// resourcePath is the provider resource watched for a mailbox.
func resourcePath(mailbox string) string {
	return fmt.Sprintf("users/%s/mailFolders('inbox')/messages", mailbox)
}

// Create registers a push subscription on a mailbox. The local record is
// written first in the creating state so a crash mid-call leaves an
// auditable row, then flips to active with the provider's identifiers.
func (m *Manager) Create(ctx context.Context, mailbox, createdBy string) (*domain.Subscription, error) {
	sub := &domain.Subscription{
		Mailbox:      mailbox,
		ResourcePath: resourcePath(mailbox),
		ChangeType:   "created",
		NotifyURL:    m.webhook.PublicURL,
		ClientState:  m.webhook.ClientState,
		Status:       domain.SubscriptionCreating,
		CreatedBy:    createdBy,
	}
	if err := m.store.Create(ctx, sub); err != nil {
		return nil, err
	}

	requested := m.clock.Now().Add(clampTTL(m.cfg.DefaultTTL()))
	resp, err := m.provider.CreateSubscription(ctx, graph.SubscriptionRequest{
		ChangeType:         sub.ChangeType,
		NotificationURL:    sub.NotifyURL,
		Resource:           sub.ResourcePath,
		ExpirationDateTime: requested,
		ClientState:        sub.ClientState,
	})
	if err != nil {
		return nil, fmt.Errorf("creating provider subscription for %s: %w", mailbox, err)
	}

	if err := m.store.ReplaceExternal(ctx, sub.ID, resp.ID, resp.ExpirationDateTime); err != nil {
		return nil, fmt.Errorf("activating subscription %s: %w", sub.ID, err)
	}
	sub.ExternalID = resp.ID
	sub.ExpiresAt = resp.ExpirationDateTime
	sub.Status = domain.SubscriptionActive

	logger.Info("subscription created",
		"subscription", sub.ID, "mailbox", mailbox, "expires_at", sub.ExpiresAt.Format(time.RFC3339))
	return sub, nil
}

// Renew extends a subscription before it lapses. A renewal that finds the
// provider subscription gone falls through to the recreate path instead of
// failing. Transient failures leave the record in renewing; the next
// scheduler cycle retries.
func (m *Manager) Renew(ctx context.Context, sub *domain.Subscription) error {
	if sub.IsTerminal() {
		return fmt.Errorf("subscription %s is %s, not renewable", sub.ID, sub.Status)
	}
	if err := m.store.SetStatus(ctx, sub.ID, domain.SubscriptionRenewing); err != nil {
		return err
	}
	sub.Status = domain.SubscriptionRenewing

	requested := m.clock.Now().Add(clampTTL(m.cfg.DefaultTTL()))
	resp, err := m.provider.RenewSubscription(ctx, sub.ExternalID, requested)
	if err != nil {
		if graph.IsNotFound(err) {
			logger.Warn("provider lost subscription, recreating",
				"subscription", sub.ID, "mailbox", sub.Mailbox)
			return m.recreate(ctx, sub)
		}
		return fmt.Errorf("renewing subscription %s: %w", sub.ID, err)
	}

	if err := m.store.RecordRenewal(ctx, sub.ID, resp.ExpirationDateTime); err != nil {
		return fmt.Errorf("recording renewal of %s: %w", sub.ID, err)
	}
	sub.ExpiresAt = resp.ExpirationDateTime
	sub.Status = domain.SubscriptionActive
	sub.RenewalCount++

	logger.Info("subscription renewed",
		"subscription", sub.ID, "mailbox", sub.Mailbox,
		"expires_at", sub.ExpiresAt.Format(time.RFC3339), "renewals", sub.RenewalCount)
	return nil
}

// recreateSubscription is the default self-healing path: register a fresh
// provider subscription and swap its identity into the existing record, so
// the mailbox keeps its history and rule bindings.
func (m *Manager) recreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	requested := m.clock.Now().Add(clampTTL(m.cfg.DefaultTTL()))
	resp, err := m.provider.CreateSubscription(ctx, graph.SubscriptionRequest{
		ChangeType:         sub.ChangeType,
		NotificationURL:    sub.NotifyURL,
		Resource:           sub.ResourcePath,
		ExpirationDateTime: requested,
		ClientState:        sub.ClientState,
	})
	if err != nil {
		return fmt.Errorf("recreating subscription %s: %w", sub.ID, err)
	}

	if err := m.store.ReplaceExternal(ctx, sub.ID, resp.ID, resp.ExpirationDateTime); err != nil {
		return fmt.Errorf("swapping in recreated subscription %s: %w", sub.ID, err)
	}
	sub.ExternalID = resp.ID
	sub.ExpiresAt = resp.ExpirationDateTime
	sub.Status = domain.SubscriptionActive

	logger.Info("subscription recreated",
		"subscription", sub.ID, "mailbox", sub.Mailbox, "external_id", resp.ID)
	return nil
}

// Delete tears down a subscription. A provider-side not-found is success:
// the goal state is "gone" either way.
func (m *Manager) Delete(ctx context.Context, id string) error {
	sub, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sub.Status == domain.SubscriptionDeleted {
		return nil
	}

	if err := m.provider.DeleteSubscription(ctx, sub.ExternalID); err != nil && !graph.IsNotFound(err) {
		return fmt.Errorf("deleting provider subscription %s: %w", sub.ExternalID, err)
	}
	if err := m.store.SetStatus(ctx, sub.ID, domain.SubscriptionDeleted); err != nil {
		return err
	}

	logger.Info("subscription deleted", "subscription", sub.ID, "mailbox", sub.Mailbox)
	return nil
}

// MarkExpired moves a subscription whose expiry passed without a successful
// renewal into the expired state.
func (m *Manager) MarkExpired(ctx context.Context, id string) error {
	return m.store.SetStatus(ctx, id, domain.SubscriptionExpired)
}
