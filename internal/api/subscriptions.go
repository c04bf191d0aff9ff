package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailbox-monitor/internal/domain"
	"github.com/ignite/mailbox-monitor/internal/pkg/httputil"
)

type createSubscriptionRequest struct {
	Mailbox   string `json:"mailbox"`
	CreatedBy string `json:"created_by"`
}

// CreateSubscription registers monitoring on a mailbox.
func (h *Handlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.Mailbox = strings.TrimSpace(strings.ToLower(req.Mailbox))
	if req.Mailbox == "" || !strings.Contains(req.Mailbox, "@") {
		httputil.BadRequest(w, "mailbox must be an email address")
		return
	}

	sub, err := h.manager.Create(r.Context(), req.Mailbox, req.CreatedBy)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	h.tracker.Track(*sub)
	httputil.Created(w, sub)
}

// ListSubscriptions returns all active subscriptions.
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.reader.ListActive(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	httputil.OK(w, subs)
}

// GetSubscription returns one subscription record.
func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.reader.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.NotFound(w, "subscription not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, sub)
}

// RenewSubscription forces a renewal outside the schedule.
func (h *Handlers) RenewSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.reader.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.NotFound(w, "subscription not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	if err := h.manager.Renew(r.Context(), sub); err != nil {
		httputil.InternalError(w, err)
		return
	}
	h.tracker.Track(*sub)
	httputil.OK(w, sub)
}

// DeleteSubscription tears down monitoring on a mailbox.
func (h *Handlers) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.Delete(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.NotFound(w, "subscription not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	h.tracker.Forget(id)
	httputil.NoContent(w)
}
