package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ignite/mailbox-monitor/internal/dedup"
	"github.com/ignite/mailbox-monitor/internal/domain"
	"github.com/ignite/mailbox-monitor/internal/forward"
	"github.com/ignite/mailbox-monitor/internal/graph"
	"github.com/ignite/mailbox-monitor/internal/pkg/logger"
	"github.com/ignite/mailbox-monitor/internal/rules"
)

// Skip reasons recorded on notifications that reach a terminal state
// without forwarding.
const (
	SkipSubscriptionNotFound = "subscription not found"
	SkipUnreadable           = "message unreadable"
	SkipNoActiveRules        = "no active monitoring rules"
	SkipNoMatchingRule       = "no matching rule"
	SkipUnsupportedSupplier  = "unsupported supplier"
	SkipDuplicate            = "duplicate"
)

// SubscriptionSource resolves local subscription records.
type SubscriptionSource interface {
	GetByID(ctx context.Context, id string) (*domain.Subscription, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error)
}

// RuleSource lists active rules and maintains their counters.
type RuleSource interface {
	ListActive(ctx context.Context) ([]domain.MonitoringRule, error)
	IncrementMatches(ctx context.Context, ruleIDs []string) error
	IncrementForwards(ctx context.Context, ruleIDs []string) error
}

// RecordStore persists the per-notification audit trail.
type RecordStore interface {
	Insert(ctx context.Context, rec *domain.NotificationRecord) error
	Finalize(ctx context.Context, rec *domain.NotificationRecord) error
	ListUnprocessed(ctx context.Context, limit int) ([]domain.NotificationRecord, error)
}

// MessageFetcher reads message summaries from the provider.
type MessageFetcher interface {
	GetMessageSummary(ctx context.Context, mailbox, resourcePath string) (*domain.MessageSummary, error)
}

// Sender delivers payloads downstream.
type Sender interface {
	ToAutomation(ctx context.Context, p forward.Payload) error
	ToCustom(ctx context.Context, rule domain.MonitoringRule, p forward.Payload) error
}

// Relocator moves attachments out of the mailbox into object storage.
type Relocator interface {
	UploadAll(ctx context.Context, mailbox string, atts []domain.Attachment) []string
}

// Deps are the dispatcher's collaborators.
type Deps struct {
	Subscriptions SubscriptionSource
	Rules         RuleSource
	Records       RecordStore
	Messages      MessageFetcher
	Dedup         dedup.Cache
	Forwarder     Sender
	Uploader      Relocator // optional; nil forwards without attachment URLs
	Engine        *rules.Engine
}

// Stats counts pipeline outcomes. All fields are updated atomically.
type Stats struct {
	Received   int64 `json:"received"`
	Forwarded  int64 `json:"forwarded"`
	Archived   int64 `json:"archived"`
	Skipped    int64 `json:"skipped"`
	Duplicates int64 `json:"duplicates"`
	Failures   int64 `json:"failures"`
}

// Dispatcher runs notifications through the processing pipeline.
type Dispatcher struct {
	deps Deps

	received   atomic.Int64
	forwarded  atomic.Int64
	archived   atomic.Int64
	skipped    atomic.Int64
	duplicates atomic.Int64
	failures   atomic.Int64
}

// New creates a dispatcher.
func New(deps Deps) *Dispatcher {
	return &Dispatcher{deps: deps}
}

// Stats returns a snapshot of the pipeline counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:   d.received.Load(),
		Forwarded:  d.forwarded.Load(),
		Archived:   d.archived.Load(),
		Skipped:    d.skipped.Load(),
		Duplicates: d.duplicates.Load(),
		Failures:   d.failures.Load(),
	}
}

// HandleBatch processes each notification of a webhook batch independently.
// A panic or failure in one item is contained to that item.
func (d *Dispatcher) HandleBatch(ctx context.Context, batch []domain.Notification) {
	for _, n := range batch {
		d.handleOne(ctx, n)
	}
}

func (d *Dispatcher) handleOne(ctx context.Context, n domain.Notification) {
	defer func() {
		if r := recover(); r != nil {
			d.failures.Add(1)
			logger.Error("panic processing notification",
				"subscription", n.SubscriptionID, "panic", fmt.Sprint(r))
		}
	}()

	d.received.Add(1)

	sub, err := d.deps.Subscriptions.GetByExternalID(ctx, n.SubscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No local record resolved, so only the provider's ID is known.
			rec := &domain.NotificationRecord{
				ExternalID: n.SubscriptionID,
				Resource:   n.Resource,
				ReceivedAt: time.Now().UTC(),
			}
			if err := d.deps.Records.Insert(ctx, rec); err != nil {
				logger.Error("inserting notification record", "error", err.Error())
			}
			d.finishSkip(ctx, rec, SkipSubscriptionNotFound)
			return
		}
		d.failures.Add(1)
		logger.Error("resolving subscription",
			"subscription", n.SubscriptionID, "error", err.Error())
		return
	}

	rec := &domain.NotificationRecord{
		SubscriptionID: sub.ID,
		ExternalID:     sub.ExternalID,
		Mailbox:        sub.Mailbox,
		Resource:       n.Resource,
		ReceivedAt:     time.Now().UTC(),
	}
	if err := d.deps.Records.Insert(ctx, rec); err != nil {
		logger.Error("inserting notification record", "error", err.Error())
	}

	d.process(ctx, rec, sub)
}

// Reprocess re-runs the pipeline over records that never reached a terminal
// outcome, oldest first. Returns how many records were attempted.
func (d *Dispatcher) Reprocess(ctx context.Context, limit int) (int, error) {
	recs, err := d.deps.Records.ListUnprocessed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("listing unprocessed notifications: %w", err)
	}

	for i := range recs {
		rec := &recs[i]
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.failures.Add(1)
					logger.Error("panic reprocessing notification",
						"record", rec.ID, "panic", fmt.Sprint(r))
				}
			}()

			sub, err := d.deps.Subscriptions.GetByID(ctx, rec.SubscriptionID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					d.finishSkip(ctx, rec, SkipSubscriptionNotFound)
					return
				}
				d.failures.Add(1)
				return
			}
			rec.HasErrors = false
			rec.ErrorDetail = ""
			d.process(ctx, rec, sub)
		}()
	}
	return len(recs), nil
}

// process runs one notification record through match, dedup, and forward,
// then finalizes it. The record is the source of truth for the outcome.
func (d *Dispatcher) process(ctx context.Context, rec *domain.NotificationRecord, sub *domain.Subscription) {
	summary, err := d.deps.Messages.GetMessageSummary(ctx, sub.Mailbox, rec.Resource)
	if err != nil {
		if graph.IsTransient(err) {
			d.finishFailure(ctx, rec, err)
			return
		}
		d.finishSkip(ctx, rec, SkipUnreadable)
		return
	}
	rec.MessageID = summary.MessageID

	ruleSet, err := d.deps.Rules.ListActive(ctx)
	if err != nil {
		d.finishFailure(ctx, rec, fmt.Errorf("listing rules: %w", err))
		return
	}
	if len(ruleSet) == 0 {
		d.finishSkip(ctx, rec, SkipNoActiveRules)
		return
	}

	matches := d.deps.Engine.FindMatching(ruleSet, summary.Sender, summary.Subject)
	if len(matches) == 0 {
		d.finishSkip(ctx, rec, SkipNoMatchingRule)
		return
	}

	winner := matches[0]
	matchedIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		matchedIDs = append(matchedIDs, m.ID)
	}
	rec.MatchedRuleIDs = matchedIDs
	rec.Target = winner.Target
	if err := d.deps.Rules.IncrementMatches(ctx, matchedIDs); err != nil {
		logger.Warn("incrementing rule match counters", "error", err.Error())
	}

	supplier := rules.ResolveSupplier(winner, summary.Sender, summary.Subject, summary.BodyPreview)
	rec.Supplier = supplier
	if supplier == domain.SupplierOther {
		d.finishSkip(ctx, rec, SkipUnsupportedSupplier)
		return
	}

	if winner.Target == domain.TargetArchive {
		rec.Processed = true
		d.archived.Add(1)
		d.finalize(ctx, rec)
		return
	}

	key := domain.DedupKey(sub.Mailbox, summary.MessageID)
	seen, err := d.deps.Dedup.Seen(ctx, key)
	if err != nil {
		logger.Warn("dedup check failed, proceeding", "error", err.Error())
	}
	if seen {
		rec.Processed = true
		rec.Skipped = true
		rec.Reason = SkipDuplicate
		d.duplicates.Add(1)
		d.finalize(ctx, rec)
		return
	}

	var attachmentURLs []string
	if d.deps.Uploader != nil && len(summary.Attachments) > 0 {
		attachmentURLs = d.deps.Uploader.UploadAll(ctx, sub.Mailbox, summary.Attachments)
	}

	payload := forward.Payload{
		SubscriptionID: sub.ID,
		Mailbox:        sub.Mailbox,
		MessageID:      summary.MessageID,
		Sender:         summary.Sender,
		Subject:        summary.Subject,
		Supplier:       supplier,
		DocumentType:   rules.DetectDocumentType(summary.Subject, summary.BodyPreview),
		AttachmentURLs: attachmentURLs,
		RuleID:         winner.ID,
		RuleName:       winner.Name,
		ReceivedAt:     rec.ReceivedAt,
	}

	if winner.Target == domain.TargetCustom {
		err = d.deps.Forwarder.ToCustom(ctx, winner, payload)
	} else {
		err = d.deps.Forwarder.ToAutomation(ctx, payload)
	}
	if err != nil {
		d.finishFailure(ctx, rec, err)
		return
	}

	if err := d.deps.Dedup.Mark(ctx, key); err != nil {
		logger.Warn("dedup mark failed", "error", err.Error())
	}
	if err := d.deps.Rules.IncrementForwards(ctx, []string{winner.ID}); err != nil {
		logger.Warn("incrementing forward counter", "error", err.Error())
	}
	rec.Processed = true
	d.forwarded.Add(1)
	d.finalize(ctx, rec)
}

// finishSkip records a terminal non-forward outcome.
func (d *Dispatcher) finishSkip(ctx context.Context, rec *domain.NotificationRecord, reason string) {
	rec.Processed = true
	rec.Skipped = true
	rec.Reason = reason
	d.skipped.Add(1)
	d.finalize(ctx, rec)
}

// finishFailure leaves the record unprocessed so the reprocessor picks it
// up on its next cycle.
func (d *Dispatcher) finishFailure(ctx context.Context, rec *domain.NotificationRecord, cause error) {
	rec.Processed = false
	rec.HasErrors = true
	rec.ErrorDetail = cause.Error()
	d.failures.Add(1)
	logger.Warn("notification processing failed",
		"record", rec.ID, "mailbox", rec.Mailbox, "error", cause.Error())
	d.finalize(ctx, rec)
}

func (d *Dispatcher) finalize(ctx context.Context, rec *domain.NotificationRecord) {
	if err := d.deps.Records.Finalize(ctx, rec); err != nil {
		logger.Error("finalizing notification record", "record", rec.ID, "error", err.Error())
	}
}
