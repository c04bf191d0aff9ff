// Package dispatch runs the notification processing pipeline: validate the
// inbound batch, match rules, dedup, and hand matched messages to the
// forwarder. Every item is processed independently so one bad notification
// never takes down its batch.
package dispatch

import (
	"encoding/json"
	"net/http"

	"github.com/ignite/mailbox-monitor/internal/domain"
)

// notificationBatch is the provider's webhook envelope.
type notificationBatch struct {
	Value []domain.Notification `json:"value"`
}

// ValidationToken extracts the handshake token from a webhook request.
// The provider probes new notification URLs with ?validationToken=... and
// expects the token echoed back verbatim before it will deliver anything.
func ValidationToken(r *http.Request) (string, bool) {
	token := r.URL.Query().Get("validationToken")
	return token, token != ""
}

// ParseBatch decodes a webhook body into notifications, dropping elements
// that are structurally unusable or carry the wrong client state. A dropped
// element is invisible to the rest of the batch. The returned count is how
// many elements were dropped.
func ParseBatch(body []byte, expectedClientState string) ([]domain.Notification, int, error) {
	var batch notificationBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, 0, err
	}

	var kept []domain.Notification
	dropped := 0
	for _, n := range batch.Value {
		if n.SubscriptionID == "" || n.Resource == "" || n.ChangeType == "" {
			dropped++
			continue
		}
		if expectedClientState != "" && n.ClientState != expectedClientState {
			dropped++
			continue
		}
		kept = append(kept, n)
	}
	return kept, dropped, nil
}
