package rules

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ignite/mailbox-monitor/internal/domain"
)

func TestCheckMatch_EmptyRuleMatchesEverything(t *testing.T) {
	e := NewEngine()
	rule := domain.MonitoringRule{ID: "r1", Active: true}

	cases := []struct {
		sender, subject string
	}{
		{"anyone@anywhere.com", "anything at all"},
		{"", ""},
		{"no-at-sign", "subject"},
	}
	for _, c := range cases {
		if !e.CheckMatch(rule, c.sender, c.subject) {
			t.Errorf("empty rule should match (%q, %q)", c.sender, c.subject)
		}
	}
}

func TestCheckMatch_SenderDomains(t *testing.T) {
	e := NewEngine()
	rule := domain.MonitoringRule{SenderDomains: []string{"ups.com"}}

	tests := []struct {
		name   string
		sender string
		want   bool
	}{
		{"exact domain", "tracking@ups.com", true},
		{"case insensitive", "Tracking@UPS.COM", true},
		{"different domain", "tracking@fedex.com", false},
		{"subdomain is not a member", "x@mail.ups.com", false},
		{"no at sign", "ups.com", false},
		{"empty sender", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.CheckMatch(rule, tt.sender, "any subject"); got != tt.want {
				t.Errorf("CheckMatch(%q) = %v, want %v", tt.sender, got, tt.want)
			}
		})
	}
}

func TestCheckMatch_SenderEmails(t *testing.T) {
	e := NewEngine()
	rule := domain.MonitoringRule{SenderEmails: []string{"Alerts@UPS.com"}}

	if !e.CheckMatch(rule, "alerts@ups.com", "s") {
		t.Error("exact email should match case-insensitively")
	}
	if e.CheckMatch(rule, "other@ups.com", "s") {
		t.Error("different address must not match")
	}
}

func TestCheckMatch_SubjectKeywords(t *testing.T) {
	e := NewEngine()
	rule := domain.MonitoringRule{SubjectKeywords: []string{"tracking", "invoice"}}

	if !e.CheckMatch(rule, "x@y.com", "Your TRACKING Update") {
		t.Error("keyword should match case-insensitively as substring")
	}
	if !e.CheckMatch(rule, "x@y.com", "invoice #42") {
		t.Error("any one keyword hit should suffice")
	}
	if e.CheckMatch(rule, "x@y.com", "weekly newsletter") {
		t.Error("no keyword hit should not match")
	}
}

func TestCheckMatch_SubjectPatterns(t *testing.T) {
	e := NewEngine()
	rule := domain.MonitoringRule{SubjectPatterns: []string{`1Z[0-9A-Z]{16}`}}

	if !e.CheckMatch(rule, "x@y.com", "Shipment 1Z999AA10123456784X update") {
		t.Error("pattern should match")
	}
	if e.CheckMatch(rule, "x@y.com", "no tracking number here") {
		t.Error("pattern should not match")
	}
}

func TestCheckMatch_PatternCaseInsensitive(t *testing.T) {
	e := NewEngine()
	rule := domain.MonitoringRule{SubjectPatterns: []string{`delivery exception`}}

	if !e.CheckMatch(rule, "x@y.com", "DELIVERY EXCEPTION for your package") {
		t.Error("patterns are matched case-insensitively")
	}
}

func TestCheckMatch_BadPatternFailsOpen(t *testing.T) {
	e := NewEngine()
	rule := domain.MonitoringRule{SubjectPatterns: []string{`([unclosed`}}

	// Deliberate bias toward false positives: an unparseable pattern
	// must not silently drop supplier documents.
	if !e.CheckMatch(rule, "x@y.com", "anything") {
		t.Error("unparseable pattern should fail open")
	}
}

func TestCheckMatch_Conjunction(t *testing.T) {
	e := NewEngine()
	rule := domain.MonitoringRule{
		SenderDomains:   []string{"ups.com"},
		SubjectKeywords: []string{"tracking"},
	}

	if !e.CheckMatch(rule, "x@ups.com", "Your Tracking Update") {
		t.Error("both categories pass → match")
	}
	if e.CheckMatch(rule, "x@ups.com", "newsletter") {
		t.Error("domain passes but keyword fails → no match")
	}
	if e.CheckMatch(rule, "x@fedex.com", "Your Tracking Update") {
		t.Error("keyword passes but domain fails → no match")
	}
}

func TestFindMatching_WinnerSelection(t *testing.T) {
	e := NewEngine()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ruleSet := []domain.MonitoringRule{
		{ID: "low", Active: true, Priority: domain.PriorityLow, CreatedAt: base},
		{ID: "critical", Active: true, Priority: domain.PriorityCritical, CreatedAt: base},
		{ID: "high-old", Active: true, Priority: domain.PriorityHigh, CreatedAt: base},
		{ID: "high-new", Active: true, Priority: domain.PriorityHigh, CreatedAt: base.Add(time.Hour)},
		{ID: "inactive", Active: false, Priority: domain.PriorityCritical, CreatedAt: base},
	}

	matches := e.FindMatching(ruleSet, "x@y.com", "subject")
	if len(matches) != 4 {
		t.Fatalf("FindMatching() returned %d rules, want 4 (inactive excluded)", len(matches))
	}
	if matches[0].ID != "critical" {
		t.Errorf("winner = %s, want critical", matches[0].ID)
	}
	// Tie on priority broken by most recent creation
	if matches[1].ID != "high-new" {
		t.Errorf("second = %s, want high-new (recency tiebreak)", matches[1].ID)
	}
}

func TestDetectSupplier(t *testing.T) {
	tests := []struct {
		name            string
		sender, subject string
		body            string
		want            domain.Supplier
	}{
		{"ups domain", "noreply@ups.com", "hello", "", domain.SupplierUPS},
		{"ups subdomain", "alerts@notify.ups.com", "hello", "", domain.SupplierUPS},
		{"fedex domain", "auto@fedex.com", "", "", domain.SupplierFedEx},
		{"dhl in subject", "noreply@shop.example", "Your DHL parcel", "", domain.SupplierDHL},
		{"fedex in body", "noreply@shop.example", "shipping update", "handed to FedEx today", domain.SupplierFedEx},
		{"ups inside another word", "news@groups.example", "all about groups", "", domain.SupplierOther},
		{"nothing known", "x@example.com", "hi", "plain text", domain.SupplierOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectSupplier(tt.sender, tt.subject, tt.body); got != tt.want {
				t.Errorf("DetectSupplier() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveSupplier(t *testing.T) {
	withMeta := domain.MonitoringRule{Supplier: domain.SupplierFedEx}
	if got := ResolveSupplier(withMeta, "x@ups.com", "", ""); got != domain.SupplierFedEx {
		t.Errorf("rule metadata should win, got %s", got)
	}

	noMeta := domain.MonitoringRule{}
	if got := ResolveSupplier(noMeta, "x@ups.com", "", ""); got != domain.SupplierUPS {
		t.Errorf("heuristic fallback should classify UPS, got %s", got)
	}
}

func TestCheckMatch_ConcurrentPatternCompilation(t *testing.T) {
	e := NewEngine()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				rule := domain.MonitoringRule{
					Active:          true,
					SubjectPatterns: []string{fmt.Sprintf(`order\s+#%d-%d`, g, i)},
				}
				subject := fmt.Sprintf("Order  #%d-%d shipped", g, i)
				if !e.CheckMatch(rule, "noreply@ups.com", subject) {
					t.Errorf("pattern %d-%d should match %q", g, i, subject)
				}
			}
		}(g)
	}
	wg.Wait()
}
