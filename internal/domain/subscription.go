package domain

import (
	"time"
)

// SubscriptionStatus enumerates the lifecycle states of a mailbox subscription.
type SubscriptionStatus string

const (
	SubscriptionCreating SubscriptionStatus = "creating"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionRenewing SubscriptionStatus = "renewing"
	SubscriptionExpired  SubscriptionStatus = "expired"
	SubscriptionDeleted  SubscriptionStatus = "deleted"
)

// Subscription is the local record of a provider-side push subscription on a
// watched mailbox. ExternalID is the provider's subscription identifier and
// is what inbound notifications reference.
type Subscription struct {
	ID             string             `json:"id" db:"id"`
	ExternalID     string             `json:"external_id" db:"external_id"`
	Mailbox        string             `json:"mailbox" db:"mailbox"`
	ResourcePath   string             `json:"resource_path" db:"resource_path"`
	ChangeType     string             `json:"change_type" db:"change_type"`
	NotifyURL      string             `json:"notify_url" db:"notify_url"`
	ClientState    string             `json:"client_state" db:"client_state"`
	Status         SubscriptionStatus `json:"status" db:"status"`
	ExpiresAt      time.Time          `json:"expires_at" db:"expires_at"`
	RenewalCount   int                `json:"renewal_count" db:"renewal_count"`
	CreatedBy      string             `json:"created_by" db:"created_by"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the subscription should still receive
// notifications and be kept renewed.
func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionRenewing
}

// IsTerminal reports whether the subscription has reached a final state.
func (s Subscription) IsTerminal() bool {
	return s.Status == SubscriptionExpired || s.Status == SubscriptionDeleted
}
