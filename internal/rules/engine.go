// Package rules evaluates monitoring rules against inbound mail.
//
// Matching is a conjunction over the filter categories a rule actually
// sets: every non-empty category must pass, and an empty category imposes
// no constraint. A rule with every category empty therefore matches
// everything, which is a configuration smell, not an error.
package rules

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ignite/mailbox-monitor/internal/domain"
	"github.com/ignite/mailbox-monitor/internal/pkg/logger"
)

// Engine evaluates monitoring rules and classifies suppliers. One instance
// is shared by the webhook path and the reprocess worker, so the pattern
// cache must tolerate concurrent callers.
type Engine struct {
	// mu guards compiled, the cache of case-insensitive subject patterns
	// keyed by source text.
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

// NewEngine creates a rule matching engine.
func NewEngine() *Engine {
	return &Engine{compiled: make(map[string]*regexp.Regexp)}
}

// CheckMatch reports whether the rule's filters accept the given sender
// and subject.
func (e *Engine) CheckMatch(rule domain.MonitoringRule, sender, subject string) bool {
	sender = strings.ToLower(strings.TrimSpace(sender))
	subjectLower := strings.ToLower(subject)

	if len(rule.SenderDomains) > 0 {
		domainPart := senderDomain(sender)
		found := false
		for _, d := range rule.SenderDomains {
			if domainPart == strings.ToLower(strings.TrimSpace(d)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(rule.SenderEmails) > 0 {
		found := false
		for _, addr := range rule.SenderEmails {
			if sender == strings.ToLower(strings.TrimSpace(addr)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(rule.SubjectKeywords) > 0 {
		found := false
		for _, kw := range rule.SubjectKeywords {
			if kw == "" {
				continue
			}
			if strings.Contains(subjectLower, strings.ToLower(kw)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(rule.SubjectPatterns) > 0 {
		if !e.matchAnyPattern(rule, subject) {
			return false
		}
	}

	return true
}

// matchAnyPattern returns true if any subject pattern matches. A pattern
// that fails to compile counts as a match: the pipeline fails open,
// preferring a false positive over silently dropping a supplier document.
func (e *Engine) matchAnyPattern(rule domain.MonitoringRule, subject string) bool {
	for _, pattern := range rule.SubjectPatterns {
		if pattern == "" {
			continue
		}
		re, err := e.pattern(pattern)
		if err != nil {
			logger.Warn("unparseable subject pattern, failing open",
				"rule_id", rule.ID, "pattern", pattern, "error", err.Error())
			return true
		}
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}

// pattern returns the compiled case-insensitive regexp for src, compiling
// and caching it on first use. Safe for concurrent callers; a pattern
// compiled twice under contention just overwrites the identical entry.
func (e *Engine) pattern(src string) (*regexp.Regexp, error) {
	e.mu.RLock()
	re, ok := e.compiled[src]
	e.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile("(?i)" + src)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.compiled[src] = re
	e.mu.Unlock()
	return re, nil
}

// FindMatching returns every active rule that accepts (sender, subject),
// ordered so the winner is first: highest priority, then most recent
// creation time.
func (e *Engine) FindMatching(ruleSet []domain.MonitoringRule, sender, subject string) []domain.MonitoringRule {
	var matches []domain.MonitoringRule
	for _, rule := range ruleSet {
		if !rule.Active {
			continue
		}
		if e.CheckMatch(rule, sender, subject) {
			matches = append(matches, rule)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return matches
}

// carrierTokens maps searchable name fragments to suppliers. Scanned in
// order so the more specific tokens come first.
var carrierTokens = []struct {
	token    string
	supplier domain.Supplier
}{
	{"ups.com", domain.SupplierUPS},
	{"fedex.com", domain.SupplierFedEx},
	{"dhl.com", domain.SupplierDHL},
	{"dhl.de", domain.SupplierDHL},
	{"fedex", domain.SupplierFedEx},
	{"dhl", domain.SupplierDHL},
	{"ups", domain.SupplierUPS},
}

// DetectSupplier classifies a message by scanning the sender domain and
// subject/body text for known carrier tokens. Used only when the winning
// rule carries no supplier metadata; unresolved classifies as OTHER.
func DetectSupplier(sender, subject, bodyPreview string) domain.Supplier {
	domainPart := senderDomain(strings.ToLower(sender))
	for _, ct := range carrierTokens {
		if domainPart == ct.token || strings.HasSuffix(domainPart, "."+ct.token) {
			return ct.supplier
		}
	}

	haystack := strings.ToLower(subject + " " + bodyPreview)
	for _, ct := range carrierTokens {
		// Bare carrier names need word-ish boundaries; "ups" inside
		// "groups" must not classify as UPS.
		if containsToken(haystack, ct.token) {
			return ct.supplier
		}
	}
	return domain.SupplierOther
}

// ResolveSupplier returns the winning rule's supplier, falling back to the
// keyword heuristic when the rule has none set.
func ResolveSupplier(winner domain.MonitoringRule, sender, subject, bodyPreview string) domain.Supplier {
	if winner.Supplier != "" && winner.Supplier != domain.SupplierOther {
		return winner.Supplier
	}
	return DetectSupplier(sender, subject, bodyPreview)
}

func senderDomain(sender string) string {
	at := strings.LastIndex(sender, "@")
	if at < 0 || at == len(sender)-1 {
		return ""
	}
	return sender[at+1:]
}

func containsToken(haystack, token string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], token)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(token)
		beforeOK := start == 0 || !isWordChar(haystack[start-1])
		afterOK := end == len(haystack) || !isWordChar(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
