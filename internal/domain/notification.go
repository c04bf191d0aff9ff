package domain

import (
	"time"
)

// Notification is one inbound change event referencing a subscription.
// It is the element shape inside the provider's webhook "value" array.
type Notification struct {
	SubscriptionID string `json:"subscriptionId"`
	Resource       string `json:"resource"`
	ChangeType     string `json:"changeType"`
	ClientState    string `json:"clientState"`
}

// MessageSummary is the slice of a mail message the pipeline needs:
// enough to match rules and build a forward payload, never the raw body.
type MessageSummary struct {
	MessageID   string       `json:"message_id"`
	Sender      string       `json:"sender"`
	Subject     string       `json:"subject"`
	BodyPreview string       `json:"body_preview"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment is a single mail attachment as reported by the provider.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"-"`
}

// NotificationRecord is the append-only audit trail of one inbound
// notification. Processed flips true exactly once a terminal outcome
// (forwarded, archived, or definitively skipped) is known.
type NotificationRecord struct {
	ID string `json:"id" db:"id"`
	// SubscriptionID is the local subscription record ID. ExternalID is
	// the provider's subscription ID as delivered on the notification; it
	// is all that is known when no local record matches.
	SubscriptionID string        `json:"subscription_id" db:"subscription_id"`
	ExternalID     string        `json:"external_id" db:"external_id"`
	Mailbox        string        `json:"mailbox" db:"mailbox"`
	MessageID      string        `json:"message_id" db:"message_id"`
	Resource       string        `json:"resource" db:"resource"`
	ReceivedAt     time.Time     `json:"received_at" db:"received_at"`
	Processed      bool          `json:"processed" db:"processed"`
	Skipped        bool          `json:"skipped" db:"skipped"`
	Reason         string        `json:"reason" db:"reason"`
	Target         TargetService `json:"target_service" db:"target_service"`
	Supplier       Supplier      `json:"supplier" db:"supplier"`
	MatchedRuleIDs []string      `json:"matched_rule_ids" db:"matched_rule_ids"`
	HasErrors      bool          `json:"has_errors" db:"has_errors"`
	ErrorDetail    string        `json:"error_detail" db:"error_detail"`
}

// DedupKey builds the cache key guarding against duplicate forwards of the
// same message to the same mailbox.
func DedupKey(mailbox, messageID string) string {
	return mailbox + ":" + messageID
}

// DocumentType is the coarse classification of a supplier message.
type DocumentType string

const (
	DocInvoice      DocumentType = "INVOICE"
	DocTracking     DocumentType = "TRACKING"
	DocDeliveryNote DocumentType = "DELIVERY_NOTE"
	DocOther        DocumentType = "OTHER"
)
