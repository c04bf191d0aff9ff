package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/ignite/mailbox-monitor/internal/domain"
	"github.com/ignite/mailbox-monitor/internal/pkg/logger"
)

// RuleStore reads monitoring rules and maintains their counters. Rule CRUD
// is administered elsewhere; the pipeline only lists active rules and bumps
// counters.
type RuleStore struct {
	db *sql.DB
}

// NewRuleStore creates a rule store.
func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

// ListActive returns all active monitoring rules, highest priority first,
// most recently created first within a priority. Rules that fail structural
// validation are logged and skipped rather than poisoning the set.
func (rs *RuleStore) ListActive(ctx context.Context) ([]domain.MonitoringRule, error) {
	rows, err := rs.db.QueryContext(ctx, `
		SELECT id, name, supplier, sender_domains, sender_emails,
		       subject_keywords, subject_patterns, priority, target_service,
		       COALESCE(custom_service_url, ''), COALESCE(custom_service_method, ''),
		       active, total_matches, successful_forwards, created_at, updated_at
		FROM monitor_rules
		WHERE active = true
		ORDER BY priority DESC, created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.MonitoringRule
	for rows.Next() {
		var r domain.MonitoringRule
		err := rows.Scan(&r.ID, &r.Name, &r.Supplier,
			pq.Array(&r.SenderDomains), pq.Array(&r.SenderEmails),
			pq.Array(&r.SubjectKeywords), pq.Array(&r.SubjectPatterns),
			&r.Priority, &r.Target, &r.CustomURL, &r.CustomMethod,
			&r.Active, &r.TotalMatches, &r.SuccessfulForwards,
			&r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			continue
		}
		if err := r.Validate(); err != nil {
			logger.Warn("skipping invalid monitoring rule", "rule_id", r.ID, "error", err.Error())
			continue
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// IncrementMatches bumps total_matches for the given rules. The increment
// happens in the database so concurrent dispatches never lose counts.
func (rs *RuleStore) IncrementMatches(ctx context.Context, ruleIDs []string) error {
	if len(ruleIDs) == 0 {
		return nil
	}
	_, err := rs.db.ExecContext(ctx, `
		UPDATE monitor_rules
		SET total_matches = total_matches + 1, updated_at = NOW()
		WHERE id = ANY($1)
	`, pq.Array(ruleIDs))
	return err
}

// IncrementForwards bumps successful_forwards for the given rules.
func (rs *RuleStore) IncrementForwards(ctx context.Context, ruleIDs []string) error {
	if len(ruleIDs) == 0 {
		return nil
	}
	_, err := rs.db.ExecContext(ctx, `
		UPDATE monitor_rules
		SET successful_forwards = successful_forwards + 1, updated_at = NOW()
		WHERE id = ANY($1)
	`, pq.Array(ruleIDs))
	return err
}
