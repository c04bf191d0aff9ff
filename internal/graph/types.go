package graph

import "time"

// MaxSubscriptionTTL is the provider's hard ceiling on mail subscription
// lifetime (4230 minutes ≈ 70.5 hours). Requests beyond it are clamped.
const MaxSubscriptionTTL = 4230 * time.Minute

// SubscriptionRequest is the payload for creating a provider subscription.
type SubscriptionRequest struct {
	ChangeType         string    `json:"changeType"`
	NotificationURL    string    `json:"notificationUrl"`
	Resource           string    `json:"resource"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	ClientState        string    `json:"clientState,omitempty"`
}

// SubscriptionResponse is the provider's view of a subscription. The
// expiration it reports is authoritative; local records always adopt it.
type SubscriptionResponse struct {
	ID                 string    `json:"id"`
	Resource           string    `json:"resource"`
	ChangeType         string    `json:"changeType"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	ClientState        string    `json:"clientState"`
}

type renewRequest struct {
	ExpirationDateTime time.Time `json:"expirationDateTime"`
}

// apiError is the provider's error envelope.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// message is the provider's wire shape for a mail message summary.
type message struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	BodyPreview    string `json:"bodyPreview"`
	HasAttachments bool   `json:"hasAttachments"`
}

// attachmentList is the provider's wire shape for message attachments.
type attachmentList struct {
	Value []struct {
		Name         string `json:"name"`
		ContentType  string `json:"contentType"`
		ContentBytes []byte `json:"contentBytes"`
	} `json:"value"`
}
