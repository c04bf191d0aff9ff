// Package api exposes the HTTP surface: the provider webhook, subscription
// management, and a few operational endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/mailbox-monitor/internal/dispatch"
	"github.com/ignite/mailbox-monitor/internal/domain"
	"github.com/ignite/mailbox-monitor/internal/pkg/httputil"
)

// SubscriptionManager drives subscription lifecycle transitions.
type SubscriptionManager interface {
	Create(ctx context.Context, mailbox, createdBy string) (*domain.Subscription, error)
	Renew(ctx context.Context, sub *domain.Subscription) error
	Delete(ctx context.Context, id string) error
}

// SubscriptionReader reads subscription records.
type SubscriptionReader interface {
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	ListActive(ctx context.Context) ([]domain.Subscription, error)
}

// Tracker keeps the renewal schedule in sync with lifecycle changes.
type Tracker interface {
	Track(sub domain.Subscription)
	Forget(id string)
}

// Pipeline processes webhook batches.
type Pipeline interface {
	HandleBatch(ctx context.Context, batch []domain.Notification)
	Stats() dispatch.Stats
}

// ReprocessTrigger runs one reprocess cycle on demand.
type ReprocessTrigger interface {
	RunCycle(ctx context.Context) (int, error)
}

// Handlers holds the HTTP handlers and their collaborators.
type Handlers struct {
	manager     SubscriptionManager
	reader      SubscriptionReader
	tracker     Tracker
	pipeline    Pipeline
	reprocessor ReprocessTrigger
	clientState string
	startedAt   time.Time
}

// NewHandlers creates the API handler set.
func NewHandlers(manager SubscriptionManager, reader SubscriptionReader, tracker Tracker,
	pipeline Pipeline, reprocessor ReprocessTrigger, clientState string) *Handlers {
	return &Handlers{
		manager:     manager,
		reader:      reader,
		tracker:     tracker,
		pipeline:    pipeline,
		reprocessor: reprocessor,
		clientState: clientState,
		startedAt:   time.Now().UTC(),
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// GetStats returns pipeline counters.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.pipeline.Stats())
}

// TriggerReprocess runs a reprocess cycle outside the schedule.
func (h *Handlers) TriggerReprocess(w http.ResponseWriter, r *http.Request) {
	n, err := h.reprocessor.RunCycle(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"attempted": n})
}
