package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailbox-monitor/internal/dedup"
	"github.com/ignite/mailbox-monitor/internal/domain"
	"github.com/ignite/mailbox-monitor/internal/forward"
	"github.com/ignite/mailbox-monitor/internal/graph"
	"github.com/ignite/mailbox-monitor/internal/rules"
)

type fakeSubs struct {
	subs map[string]*domain.Subscription // keyed by external ID and local ID
}

func (f *fakeSubs) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	return f.get(id)
}

func (f *fakeSubs) GetByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	return f.get(externalID)
}

func (f *fakeSubs) get(key string) (*domain.Subscription, error) {
	if sub, ok := f.subs[key]; ok {
		return sub, nil
	}
	return nil, sql.ErrNoRows
}

type fakeRules struct {
	rules    []domain.MonitoringRule
	listErr  error
	matches  [][]string
	forwards [][]string
}

func (f *fakeRules) ListActive(ctx context.Context) ([]domain.MonitoringRule, error) {
	return f.rules, f.listErr
}

func (f *fakeRules) IncrementMatches(ctx context.Context, ids []string) error {
	f.matches = append(f.matches, ids)
	return nil
}

func (f *fakeRules) IncrementForwards(ctx context.Context, ids []string) error {
	f.forwards = append(f.forwards, ids)
	return nil
}

type fakeRecords struct {
	inserted    int
	finalized   []domain.NotificationRecord
	unprocessed []domain.NotificationRecord
}

func (f *fakeRecords) Insert(ctx context.Context, rec *domain.NotificationRecord) error {
	f.inserted++
	if rec.ID == "" {
		rec.ID = "rec-generated"
	}
	return nil
}

func (f *fakeRecords) Finalize(ctx context.Context, rec *domain.NotificationRecord) error {
	f.finalized = append(f.finalized, *rec)
	return nil
}

func (f *fakeRecords) ListUnprocessed(ctx context.Context, limit int) ([]domain.NotificationRecord, error) {
	return f.unprocessed, nil
}

type fakeFetcher struct {
	summaries map[string]*domain.MessageSummary // keyed by resource path
	err       error
	panicOn   string
}

func (f *fakeFetcher) GetMessageSummary(ctx context.Context, mailbox, resource string) (*domain.MessageSummary, error) {
	if f.panicOn != "" && resource == f.panicOn {
		panic("fetcher exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.summaries[resource]; ok {
		return s, nil
	}
	return nil, errors.New("no such message")
}

type fakeSender struct {
	automation []forward.Payload
	custom     []forward.Payload
	err        error
}

func (f *fakeSender) ToAutomation(ctx context.Context, p forward.Payload) error {
	if f.err != nil {
		return f.err
	}
	f.automation = append(f.automation, p)
	return nil
}

func (f *fakeSender) ToCustom(ctx context.Context, rule domain.MonitoringRule, p forward.Payload) error {
	if f.err != nil {
		return f.err
	}
	f.custom = append(f.custom, p)
	return nil
}

type fakeUploader struct{ urls []string }

func (f *fakeUploader) UploadAll(ctx context.Context, mailbox string, atts []domain.Attachment) []string {
	return f.urls
}

func upsTrackingRule() domain.MonitoringRule {
	return domain.MonitoringRule{
		ID:              "rule-ups",
		Name:            "ups tracking",
		Supplier:        domain.SupplierUPS,
		SenderDomains:   []string{"ups.com"},
		SubjectKeywords: []string{"tracking"},
		Priority:        domain.PriorityHigh,
		Target:          domain.TargetAutomation,
		Active:          true,
	}
}

func testDeps() (Deps, *fakeSubs, *fakeRules, *fakeRecords, *fakeFetcher, *fakeSender) {
	subs := &fakeSubs{subs: map[string]*domain.Subscription{
		"ext-1": {ID: "sub-1", ExternalID: "ext-1", Mailbox: "ap@example.com", Status: domain.SubscriptionActive},
		"sub-1": {ID: "sub-1", ExternalID: "ext-1", Mailbox: "ap@example.com", Status: domain.SubscriptionActive},
	}}
	ruleStore := &fakeRules{rules: []domain.MonitoringRule{upsTrackingRule()}}
	records := &fakeRecords{}
	fetcher := &fakeFetcher{summaries: map[string]*domain.MessageSummary{
		"users/ap/messages/m1": {
			MessageID:   "m1",
			Sender:      "noreply@ups.com",
			Subject:     "Your Tracking Update 1Z999",
			BodyPreview: "package in transit",
			Attachments: []domain.Attachment{{Name: "a.pdf", ContentType: "application/pdf"}},
		},
	}}
	sender := &fakeSender{}

	deps := Deps{
		Subscriptions: subs,
		Rules:         ruleStore,
		Records:       records,
		Messages:      fetcher,
		Dedup:         dedup.NewMemoryCache(10 * time.Minute),
		Forwarder:     sender,
		Engine:        rules.NewEngine(),
	}
	return deps, subs, ruleStore, records, fetcher, sender
}

func notification(resource string) domain.Notification {
	return domain.Notification{SubscriptionID: "ext-1", Resource: resource, ChangeType: "created"}
}

func TestHandleBatch_ForwardsMatchedMessage(t *testing.T) {
	deps, _, ruleStore, records, _, sender := testDeps()
	deps.Uploader = &fakeUploader{urls: []string{"https://files.example.com/a.pdf"}}
	d := New(deps)

	d.HandleBatch(context.Background(), []domain.Notification{notification("users/ap/messages/m1")})

	require.Len(t, sender.automation, 1)
	p := sender.automation[0]
	assert.Equal(t, "m1", p.MessageID)
	assert.Equal(t, domain.SupplierUPS, p.Supplier)
	assert.Equal(t, domain.DocTracking, p.DocumentType)
	assert.Equal(t, []string{"https://files.example.com/a.pdf"}, p.AttachmentURLs)
	assert.Equal(t, "rule-ups", p.RuleID)

	assert.Equal(t, [][]string{{"rule-ups"}}, ruleStore.matches)
	assert.Equal(t, [][]string{{"rule-ups"}}, ruleStore.forwards)

	require.Len(t, records.finalized, 1)
	rec := records.finalized[0]
	assert.True(t, rec.Processed)
	assert.False(t, rec.Skipped)
	assert.Equal(t, domain.SupplierUPS, rec.Supplier)
	assert.Equal(t, []string{"rule-ups"}, rec.MatchedRuleIDs)
	assert.Equal(t, "sub-1", rec.SubscriptionID)
	assert.Equal(t, "ext-1", rec.ExternalID)

	assert.Equal(t, int64(1), d.Stats().Forwarded)
}

func TestHandleBatch_DuplicateIsNotForwardedTwice(t *testing.T) {
	deps, _, _, records, _, sender := testDeps()
	d := New(deps)

	n := notification("users/ap/messages/m1")
	d.HandleBatch(context.Background(), []domain.Notification{n})
	d.HandleBatch(context.Background(), []domain.Notification{n})

	assert.Len(t, sender.automation, 1)
	require.Len(t, records.finalized, 2)
	dup := records.finalized[1]
	assert.True(t, dup.Processed)
	assert.True(t, dup.Skipped)
	assert.Equal(t, SkipDuplicate, dup.Reason)
	assert.Equal(t, int64(1), d.Stats().Duplicates)
}

func TestHandleBatch_SubscriptionNotFound(t *testing.T) {
	deps, _, _, records, _, sender := testDeps()
	d := New(deps)

	d.HandleBatch(context.Background(), []domain.Notification{
		{SubscriptionID: "ext-unknown", Resource: "users/x/messages/m9"},
	})

	assert.Empty(t, sender.automation)
	require.Len(t, records.finalized, 1)
	rec := records.finalized[0]
	assert.Equal(t, SkipSubscriptionNotFound, rec.Reason)
	assert.True(t, rec.Processed)

	// The provider's ID lands in ExternalID; the local-ID column never
	// carries a provider identifier.
	assert.Equal(t, "ext-unknown", rec.ExternalID)
	assert.Empty(t, rec.SubscriptionID)
}

func TestHandleBatch_NoMatchingRule(t *testing.T) {
	deps, _, _, records, fetcher, sender := testDeps()
	fetcher.summaries["users/ap/messages/m1"] = &domain.MessageSummary{
		MessageID: "m1",
		Sender:    "news@letter.example",
		Subject:   "weekly digest",
	}
	d := New(deps)

	d.HandleBatch(context.Background(), []domain.Notification{notification("users/ap/messages/m1")})

	assert.Empty(t, sender.automation)
	require.Len(t, records.finalized, 1)
	assert.Equal(t, SkipNoMatchingRule, records.finalized[0].Reason)
}

func TestHandleBatch_NoActiveRules(t *testing.T) {
	deps, _, ruleStore, records, _, _ := testDeps()
	ruleStore.rules = nil
	d := New(deps)

	d.HandleBatch(context.Background(), []domain.Notification{notification("users/ap/messages/m1")})

	require.Len(t, records.finalized, 1)
	assert.Equal(t, SkipNoActiveRules, records.finalized[0].Reason)
}

func TestHandleBatch_UnsupportedSupplier(t *testing.T) {
	deps, _, ruleStore, records, fetcher, sender := testDeps()
	ruleStore.rules = []domain.MonitoringRule{{
		ID:       "rule-any",
		Name:     "catch all",
		Supplier: domain.SupplierOther,
		Priority: domain.PriorityNormal,
		Target:   domain.TargetAutomation,
		Active:   true,
	}}
	fetcher.summaries["users/ap/messages/m1"] = &domain.MessageSummary{
		MessageID: "m1",
		Sender:    "someone@unknown.example",
		Subject:   "hello",
	}
	d := New(deps)

	d.HandleBatch(context.Background(), []domain.Notification{notification("users/ap/messages/m1")})

	assert.Empty(t, sender.automation)
	require.Len(t, records.finalized, 1)
	assert.Equal(t, SkipUnsupportedSupplier, records.finalized[0].Reason)
}

func TestHandleBatch_ArchiveTargetRecordsWithoutForwarding(t *testing.T) {
	deps, _, ruleStore, records, _, sender := testDeps()
	rule := upsTrackingRule()
	rule.Target = domain.TargetArchive
	ruleStore.rules = []domain.MonitoringRule{rule}
	d := New(deps)

	d.HandleBatch(context.Background(), []domain.Notification{notification("users/ap/messages/m1")})

	assert.Empty(t, sender.automation)
	require.Len(t, records.finalized, 1)
	rec := records.finalized[0]
	assert.True(t, rec.Processed)
	assert.False(t, rec.Skipped)
	assert.Equal(t, domain.TargetArchive, rec.Target)
	assert.Equal(t, int64(1), d.Stats().Archived)
}

func TestHandleBatch_CustomTarget(t *testing.T) {
	deps, _, ruleStore, _, _, sender := testDeps()
	rule := upsTrackingRule()
	rule.Target = domain.TargetCustom
	rule.CustomURL = "https://erp.example.com/hook"
	ruleStore.rules = []domain.MonitoringRule{rule}
	d := New(deps)

	d.HandleBatch(context.Background(), []domain.Notification{notification("users/ap/messages/m1")})

	assert.Empty(t, sender.automation)
	assert.Len(t, sender.custom, 1)
}

func TestHandleBatch_ForwardFailureLeavesRecordUnprocessed(t *testing.T) {
	deps, _, ruleStore, records, _, sender := testDeps()
	sender.err = errors.New("downstream timeout")
	d := New(deps)

	d.HandleBatch(context.Background(), []domain.Notification{notification("users/ap/messages/m1")})

	require.Len(t, records.finalized, 1)
	rec := records.finalized[0]
	assert.False(t, rec.Processed)
	assert.True(t, rec.HasErrors)
	assert.Contains(t, rec.ErrorDetail, "downstream timeout")
	assert.Equal(t, int64(1), d.Stats().Failures)
	assert.Empty(t, ruleStore.forwards)
}

func TestHandleBatch_TransientFetchFailureLeftForReprocess(t *testing.T) {
	deps, _, _, records, fetcher, _ := testDeps()
	fetcher.err = &graph.TransientError{Status: 503}
	d := New(deps)

	d.HandleBatch(context.Background(), []domain.Notification{notification("users/ap/messages/m1")})

	require.Len(t, records.finalized, 1)
	assert.False(t, records.finalized[0].Processed)
	assert.True(t, records.finalized[0].HasErrors)
}

func TestHandleBatch_UnreadableMessageSkipped(t *testing.T) {
	deps, _, _, records, fetcher, _ := testDeps()
	fetcher.err = errors.New("message gone")
	d := New(deps)

	d.HandleBatch(context.Background(), []domain.Notification{notification("users/ap/messages/m1")})

	require.Len(t, records.finalized, 1)
	assert.True(t, records.finalized[0].Processed)
	assert.Equal(t, SkipUnreadable, records.finalized[0].Reason)
}

func TestHandleBatch_FailureIsolation(t *testing.T) {
	deps, _, _, records, fetcher, sender := testDeps()
	fetcher.panicOn = "users/ap/messages/poison"
	d := New(deps)

	d.HandleBatch(context.Background(), []domain.Notification{
		notification("users/ap/messages/poison"),
		notification("users/ap/messages/m1"),
	})

	// The poisoned item must not prevent the good one from forwarding.
	assert.Len(t, sender.automation, 1)
	assert.Equal(t, int64(1), d.Stats().Failures)
	assert.Equal(t, int64(2), d.Stats().Received)
	_ = records
}

func TestReprocess(t *testing.T) {
	deps, _, _, records, _, sender := testDeps()
	records.unprocessed = []domain.NotificationRecord{{
		ID:             "rec-1",
		SubscriptionID: "sub-1",
		Mailbox:        "ap@example.com",
		Resource:       "users/ap/messages/m1",
		Processed:      false,
		HasErrors:      true,
		ErrorDetail:    "downstream timeout",
		ReceivedAt:     time.Now().Add(-time.Hour),
	}}
	d := New(deps)

	n, err := d.Reprocess(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, sender.automation, 1)
	require.Len(t, records.finalized, 1)
	rec := records.finalized[0]
	assert.True(t, rec.Processed)
	assert.False(t, rec.HasErrors)
	assert.Empty(t, rec.ErrorDetail)
}

func TestReprocess_SubscriptionGone(t *testing.T) {
	deps, subs, _, records, _, _ := testDeps()
	delete(subs.subs, "sub-1")
	records.unprocessed = []domain.NotificationRecord{{
		ID:             "rec-1",
		SubscriptionID: "sub-1",
		Resource:       "users/ap/messages/m1",
	}}
	d := New(deps)

	_, err := d.Reprocess(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, records.finalized, 1)
	assert.Equal(t, SkipSubscriptionNotFound, records.finalized[0].Reason)
	assert.True(t, records.finalized[0].Processed)
}
