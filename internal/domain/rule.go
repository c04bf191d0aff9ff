package domain

import (
	"fmt"
	"time"
)

// Supplier enumerates the carriers whose documents the monitor recognizes.
type Supplier string

const (
	SupplierUPS   Supplier = "UPS"
	SupplierFedEx Supplier = "FEDEX"
	SupplierDHL   Supplier = "DHL"
	SupplierOther Supplier = "OTHER"
)

// RulePriority orders competing rule matches. Higher wins.
type RulePriority int

const (
	PriorityLow      RulePriority = 10
	PriorityNormal   RulePriority = 20
	PriorityHigh     RulePriority = 30
	PriorityCritical RulePriority = 40
)

// TargetService is the routing decision applied to a matched notification.
type TargetService string

const (
	TargetAutomation TargetService = "automation"
	TargetArchive    TargetService = "archive"
	TargetCustom     TargetService = "custom"
)

// MonitoringRule is a configured filter plus routing directive. Each filter
// category that is non-empty constrains the match; empty categories impose
// no constraint, so a rule with every category empty matches everything.
type MonitoringRule struct {
	ID              string        `json:"id" db:"id"`
	Name            string        `json:"name" db:"name"`
	Supplier        Supplier      `json:"supplier" db:"supplier"`
	SenderDomains   []string      `json:"sender_domains" db:"sender_domains"`
	SenderEmails    []string      `json:"sender_emails" db:"sender_emails"`
	SubjectKeywords []string      `json:"subject_keywords" db:"subject_keywords"`
	SubjectPatterns []string      `json:"subject_patterns" db:"subject_patterns"`
	Priority        RulePriority  `json:"priority" db:"priority"`
	Target          TargetService `json:"target_service" db:"target_service"`
	CustomURL       string        `json:"custom_service_url" db:"custom_service_url"`
	CustomMethod    string        `json:"custom_service_method" db:"custom_service_method"`
	Active          bool          `json:"active" db:"active"`

	// Counters (mutated in place by the dispatcher via conditional updates)
	TotalMatches       int64 `json:"total_matches" db:"total_matches"`
	SuccessfulForwards int64 `json:"successful_forwards" db:"successful_forwards"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Validate enforces the structural invariants of a rule at construction
// time rather than at first use.
func (r MonitoringRule) Validate() error {
	switch r.Supplier {
	case SupplierUPS, SupplierFedEx, SupplierDHL, SupplierOther:
	default:
		return fmt.Errorf("rule %q: unknown supplier %q", r.Name, r.Supplier)
	}
	switch r.Target {
	case TargetAutomation, TargetArchive:
	case TargetCustom:
		if r.CustomURL == "" {
			return fmt.Errorf("rule %q: custom target requires custom_service_url", r.Name)
		}
	default:
		return fmt.Errorf("rule %q: unknown target service %q", r.Name, r.Target)
	}
	return nil
}

// Method returns the HTTP method for custom forwards, defaulting to POST.
func (r MonitoringRule) Method() string {
	if r.CustomMethod != "" {
		return r.CustomMethod
	}
	return "POST"
}
