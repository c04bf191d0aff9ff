package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ignite/mailbox-monitor/internal/dispatch"
	"github.com/ignite/mailbox-monitor/internal/pkg/httputil"
	"github.com/ignite/mailbox-monitor/internal/pkg/logger"
)

// maxWebhookBody bounds how much of a webhook body is read.
const maxWebhookBody = 1 << 20

// batchTimeout bounds background processing of one webhook batch.
const batchTimeout = 10 * time.Minute

// HandleWebhook receives provider notifications.
//
// Two contracts matter here. A request carrying ?validationToken is the
// provider probing the endpoint: the token goes back verbatim as text/plain
// within its timeout or the subscription is never created. Everything else
// is a notification batch and is answered 202 unconditionally; returning an
// error status would only make the provider redeliver the same batch, and
// per-item failures are already recorded for the reprocessor.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if token, ok := dispatch.ValidationToken(r); ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(token))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.Accepted(w, map[string]any{"accepted": 0})
		return
	}

	batch, dropped, err := dispatch.ParseBatch(body, h.clientState)
	if err != nil {
		logger.Warn("unparseable webhook body", "error", err.Error())
		httputil.Accepted(w, map[string]any{"accepted": 0})
		return
	}
	if dropped > 0 {
		logger.Warn("dropped webhook elements", "count", dropped)
	}

	if len(batch) > 0 {
		// Process after acknowledging; the provider's delivery timeout is
		// far shorter than a batch with forwards can take.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
			defer cancel()
			h.pipeline.HandleBatch(ctx, batch)
		}()
	}

	httputil.Accepted(w, map[string]any{"accepted": len(batch), "dropped": dropped})
}
