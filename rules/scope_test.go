package rules

import (
	"strings"
	"testing"
	"time"
)

func scopedVersion(scope RuleScope) *RuleVersion {
	return &RuleVersion{
		ID:            "ver-1",
		RuleID:        "rule-1",
		VersionNumber: 1,
		Status:        StatusPublished,
		Conditions:    eligibilityConditions(),
		Outcome:       RuleOutcome{Action: "decline", Severity: SeverityBlock},
		Scope:         scope,
	}
}

func TestMatchScopeAllStatesByDefault(t *testing.T) {
	ctx := &EvaluationContext{State: "NY", EffectiveDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}

	ok, reason := matchScope(scopedVersion(RuleScope{}), ctx)
	if !ok {
		t.Errorf("empty scope should match any context, got skip: %q", reason)
	}
}

func TestMatchScopeStateMismatch(t *testing.T) {
	ctx := &EvaluationContext{State: "NY", EffectiveDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	v := scopedVersion(RuleScope{StateCodes: []string{"CA", "TX"}})

	ok, reason := matchScope(v, ctx)
	if ok {
		t.Fatal("NY context should not match a CA/TX scope")
	}
	if reason != "scoped to states [CA, TX]; context state is NY" {
		t.Errorf("unexpected skip reason: %q", reason)
	}
}

func TestMatchScopeProduct(t *testing.T) {
	ctx := &EvaluationContext{ProductID: "prod-bop", ProductVersionID: "pv-2"}

	testCases := []struct {
		name   string
		scope  RuleScope
		wantOK bool
		reason string
	}{
		{
			name:   "product match",
			scope:  RuleScope{ProductID: "prod-bop"},
			wantOK: true,
		},
		{
			name:   "product mismatch",
			scope:  RuleScope{ProductID: "prod-cgl"},
			wantOK: false,
			reason: "scoped to product prod-cgl",
		},
		{
			name:   "product version mismatch",
			scope:  RuleScope{ProductID: "prod-bop", ProductVersionID: "pv-1"},
			wantOK: false,
			reason: "scoped to product version pv-1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := matchScope(scopedVersion(tc.scope), ctx)
			if ok != tc.wantOK {
				t.Fatalf("got ok=%v reason=%q, want ok=%v", ok, reason, tc.wantOK)
			}
			if !ok && !strings.HasPrefix(reason, tc.reason) {
				t.Errorf("reason %q should start with %q", reason, tc.reason)
			}
		})
	}
}

func TestMatchScopeEffectiveWindow(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	v := scopedVersion(RuleScope{EffectiveFrom: &from, EffectiveUntil: &until})

	testCases := []struct {
		name   string
		date   time.Time
		wantOK bool
	}{
		{"inside window", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), true},
		{"on lower bound", from, true},
		{"on upper bound", until, true},
		{"before window", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), false},
		{"after window", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := &EvaluationContext{EffectiveDate: tc.date}
			ok, reason := matchScope(v, ctx)
			if ok != tc.wantOK {
				t.Errorf("date %s: got ok=%v (%q), want %v", tc.date.Format("2006-01-02"), ok, reason, tc.wantOK)
			}
		})
	}
}

// Scope checks run in a fixed order; the first failure produces the skip.
func TestMatchScopeFirstFailureWins(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v := scopedVersion(RuleScope{
		ProductID:     "prod-cgl",
		StateCodes:    []string{"TX"},
		EffectiveFrom: &from,
	})
	ctx := &EvaluationContext{ProductID: "prod-bop", State: "NY", EffectiveDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}

	ok, reason := matchScope(v, ctx)
	if ok {
		t.Fatal("expected skip")
	}
	if !strings.HasPrefix(reason, "scoped to product ") {
		t.Errorf("product check should fail first, got %q", reason)
	}
}
