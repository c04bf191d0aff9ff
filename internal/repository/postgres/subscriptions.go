// Package postgres implements the durable stores over database/sql.
//
// Counter updates use conditional in-database increments rather than
// read-modify-write so concurrent dispatcher invocations never lose counts.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailbox-monitor/internal/domain"
)

// SubscriptionStore persists mailbox subscription records.
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore creates a subscription store.
func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionColumns = `id, external_id, mailbox, resource_path, change_type,
	notify_url, client_state, status, expires_at, renewal_count, created_by,
	created_at, updated_at`

// Create inserts a new subscription record. The ID is assigned here if the
// caller left it empty.
func (s *SubscriptionStore) Create(ctx context.Context, sub *domain.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_subscriptions
		(id, external_id, mailbox, resource_path, change_type, notify_url,
		 client_state, status, expires_at, renewal_count, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sub.ID, sub.ExternalID, sub.Mailbox, sub.ResourcePath, sub.ChangeType,
		sub.NotifyURL, sub.ClientState, sub.Status, sub.ExpiresAt,
		sub.RenewalCount, sub.CreatedBy, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

// GetByID returns the subscription with the given local ID.
func (s *SubscriptionStore) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM monitor_subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

// GetByExternalID resolves a subscription from the provider's identifier,
// which is what inbound notifications carry.
func (s *SubscriptionStore) GetByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM monitor_subscriptions WHERE external_id = $1`, externalID)
	return scanSubscription(row)
}

// ListActive returns all subscriptions still expected to receive
// notifications, soonest expiry first.
func (s *SubscriptionStore) ListActive(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM monitor_subscriptions
		WHERE status IN ('active', 'renewing')
		ORDER BY expires_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionRows(rows)
		if err != nil {
			continue
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ListExpiringWithin returns active subscriptions whose expiry falls inside
// the threshold window. Used by the safety sweep.
func (s *SubscriptionStore) ListExpiringWithin(ctx context.Context, threshold time.Duration) ([]domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM monitor_subscriptions
		WHERE status IN ('active', 'renewing')
		  AND expires_at <= $1
		ORDER BY expires_at ASC
	`, time.Now().UTC().Add(threshold))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscriptionRows(rows)
		if err != nil {
			continue
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// RecordRenewal adopts the provider-granted expiration and bumps the
// renewal counter in one statement.
func (s *SubscriptionStore) RecordRenewal(ctx context.Context, id string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE monitor_subscriptions
		SET expires_at = $2, status = 'active',
		    renewal_count = renewal_count + 1, updated_at = NOW()
		WHERE id = $1
	`, id, expiresAt)
	return err
}

// ReplaceExternal swaps in a freshly created provider subscription for a
// record whose renewal failed outright (the self-healing path).
func (s *SubscriptionStore) ReplaceExternal(ctx context.Context, id, externalID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE monitor_subscriptions
		SET external_id = $2, expires_at = $3, status = 'active', updated_at = NOW()
		WHERE id = $1
	`, id, externalID, expiresAt)
	return err
}

// SetStatus moves the subscription to the given lifecycle state.
func (s *SubscriptionStore) SetStatus(ctx context.Context, id string, status domain.SubscriptionStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE monitor_subscriptions SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}

func scanSubscription(row *sql.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(&sub.ID, &sub.ExternalID, &sub.Mailbox, &sub.ResourcePath,
		&sub.ChangeType, &sub.NotifyURL, &sub.ClientState, &sub.Status,
		&sub.ExpiresAt, &sub.RenewalCount, &sub.CreatedBy, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func scanSubscriptionRows(rows *sql.Rows) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := rows.Scan(&sub.ID, &sub.ExternalID, &sub.Mailbox, &sub.ResourcePath,
		&sub.ChangeType, &sub.NotifyURL, &sub.ClientState, &sub.Status,
		&sub.ExpiresAt, &sub.RenewalCount, &sub.CreatedBy, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
