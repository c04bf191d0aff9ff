package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/mailbox-monitor/internal/domain"
)

// NotificationStore persists the append-only per-notification audit trail.
// A record is inserted once on receipt and finalized at most once more.
type NotificationStore struct {
	db *sql.DB
}

// NewNotificationStore creates a notification record store.
func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// Insert writes the initial record for an inbound notification.
func (ns *NotificationStore) Insert(ctx context.Context, rec *domain.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	_, err := ns.db.ExecContext(ctx, `
		INSERT INTO monitor_notifications
		(id, subscription_id, external_id, mailbox, message_id, resource,
		 received_at, processed, skipped, reason, target_service, supplier,
		 matched_rule_ids, has_errors, error_detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, rec.ID, rec.SubscriptionID, rec.ExternalID, rec.Mailbox, rec.MessageID,
		rec.Resource, rec.ReceivedAt, rec.Processed, rec.Skipped, rec.Reason,
		rec.Target, rec.Supplier, pq.Array(rec.MatchedRuleIDs), rec.HasErrors,
		rec.ErrorDetail)
	if err != nil {
		return fmt.Errorf("inserting notification record: %w", err)
	}
	return nil
}

// Finalize writes the outcome of the record's processing. The message ID is
// included because it is only learned once the message summary is fetched.
func (ns *NotificationStore) Finalize(ctx context.Context, rec *domain.NotificationRecord) error {
	_, err := ns.db.ExecContext(ctx, `
		UPDATE monitor_notifications
		SET message_id = $2, processed = $3, skipped = $4, reason = $5,
		    target_service = $6, supplier = $7, matched_rule_ids = $8,
		    has_errors = $9, error_detail = $10
		WHERE id = $1
	`, rec.ID, rec.MessageID, rec.Processed, rec.Skipped, rec.Reason, rec.Target,
		rec.Supplier, pq.Array(rec.MatchedRuleIDs), rec.HasErrors, rec.ErrorDetail)
	return err
}

// ListUnprocessed returns records awaiting reprocessing, oldest first.
func (ns *NotificationStore) ListUnprocessed(ctx context.Context, limit int) ([]domain.NotificationRecord, error) {
	rows, err := ns.db.QueryContext(ctx, `
		SELECT id, subscription_id, external_id, mailbox, message_id, resource,
		       received_at, processed, skipped, reason, target_service,
		       supplier, matched_rule_ids, has_errors, error_detail
		FROM monitor_notifications
		WHERE processed = false
		ORDER BY received_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.NotificationRecord
	for rows.Next() {
		var rec domain.NotificationRecord
		err := rows.Scan(&rec.ID, &rec.SubscriptionID, &rec.ExternalID,
			&rec.Mailbox, &rec.MessageID, &rec.Resource, &rec.ReceivedAt,
			&rec.Processed, &rec.Skipped, &rec.Reason, &rec.Target,
			&rec.Supplier, pq.Array(&rec.MatchedRuleIDs), &rec.HasErrors,
			&rec.ErrorDetail)
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
