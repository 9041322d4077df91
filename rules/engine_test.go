package rules

import (
	"testing"
	"time"
)

func publishedRule(id string, ruleType RuleType, conditions *ConditionGroup, outcome RuleOutcome, scope RuleScope) RuleWithVersion {
	return RuleWithVersion{
		Rule: &Rule{ID: id, OrgID: "org-1", Name: id, Type: ruleType, VersionCount: 1},
		Version: &RuleVersion{
			ID:            id + "-v1",
			RuleID:        id,
			VersionNumber: 1,
			Status:        StatusPublished,
			Conditions:    conditions,
			Outcome:       outcome,
			Scope:         scope,
		},
	}
}

func TestEvaluateScenarioFires(t *testing.T) {
	e := NewEvaluator(testDictionary())
	rule := publishedRule("rule-elig", RuleTypeEligibility, eligibilityConditions(),
		RuleOutcome{Action: "decline", Severity: SeverityBlock}, RuleScope{})

	result, err := e.Evaluate([]RuleWithVersion{rule}, testContext(map[string]Value{
		"buildingAge": IntValue(45),
		"state":       StringValue("CA"),
	}))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	if len(result.FiredRules) != 1 || result.FiredRules[0] != "rule-elig" {
		t.Errorf("expected rule-elig to fire, got %v", result.FiredRules)
	}
	if len(result.PassedRules) != 0 {
		t.Errorf("expected no passed rules, got %v", result.PassedRules)
	}
	entry := result.Trace[0]
	if !entry.Fired || entry.Outcome == nil || entry.Outcome.Action != "decline" {
		t.Errorf("fired entry should carry the outcome: %+v", entry)
	}
	if result.AggregateSeverity != SeverityBlock {
		t.Errorf("aggregate severity = %s, want block", result.AggregateSeverity)
	}
	if result.ResultHash == "" {
		t.Error("result hash must always be set")
	}
}

func TestEvaluateScenarioPasses(t *testing.T) {
	e := NewEvaluator(testDictionary())
	rule := publishedRule("rule-elig", RuleTypeEligibility, eligibilityConditions(),
		RuleOutcome{Action: "decline", Severity: SeverityBlock}, RuleScope{})

	result, err := e.Evaluate([]RuleWithVersion{rule}, testContext(map[string]Value{
		"buildingAge": IntValue(10),
		"state":       StringValue("CA"),
	}))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	if len(result.PassedRules) != 1 {
		t.Fatalf("expected rule to pass, got fired=%v passed=%v", result.FiredRules, result.PassedRules)
	}
	entry := result.Trace[0]
	if entry.Fired || entry.Outcome != nil {
		t.Error("non-fired entry must not carry an outcome")
	}
	age := entry.ConditionTrace[0]
	if age.FieldCode != "buildingAge" || age.Operator != OpGt || age.Result {
		t.Errorf("leaf trace should show buildingAge gt 30 -> false, got %+v", age)
	}
	if result.AggregateSeverity != SeverityNone {
		t.Errorf("nothing fired, aggregate severity should be none, got %s", result.AggregateSeverity)
	}
}

func TestEvaluateScenarioScopeSkip(t *testing.T) {
	e := NewEvaluator(testDictionary())
	rule := publishedRule("rule-elig", RuleTypeEligibility, eligibilityConditions(),
		RuleOutcome{Action: "decline", Severity: SeverityBlock},
		RuleScope{StateCodes: []string{"CA", "TX"}})

	ctx := testContext(map[string]Value{
		"buildingAge": IntValue(45),
		"state":       StringValue("NY"),
	})
	ctx.State = "NY"

	result, err := e.Evaluate([]RuleWithVersion{rule}, ctx)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	entry := result.Trace[0]
	if entry.SkipReason == "" {
		t.Fatal("expected a scope skip, got a condition evaluation")
	}
	if len(entry.ConditionTrace) != 0 {
		t.Error("skipped rules must not have a condition trace")
	}
	if entry.Fired {
		t.Error("skipped rules cannot fire")
	}
	// Skips count as passed, not fired.
	if len(result.PassedRules) != 1 || result.PassedRules[0] != "rule-elig" {
		t.Errorf("skip should be reported in passedRules, got %v", result.PassedRules)
	}
}

func TestEvaluateAggregateSeverity(t *testing.T) {
	e := NewEvaluator(testDictionary())
	always := &ConditionGroup{
		Logic: LogicAnd,
		Children: []ConditionNode{
			&Condition{FieldCode: "state", Operator: OpIsNotEmpty},
		},
	}
	warning := publishedRule("rule-a", RuleTypeReferral, always,
		RuleOutcome{Action: "refer", Severity: SeverityWarning}, RuleScope{})
	block := publishedRule("rule-b", RuleTypeEligibility, always,
		RuleOutcome{Action: "decline", Severity: SeverityBlock}, RuleScope{})

	result, err := e.Evaluate([]RuleWithVersion{warning, block}, testContext(map[string]Value{
		"state": StringValue("CA"),
	}))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	if len(result.FiredRules) != 2 {
		t.Fatalf("both rules should fire, got %v", result.FiredRules)
	}
	if result.AggregateSeverity != SeverityBlock {
		t.Errorf("aggregate severity = %s, want block", result.AggregateSeverity)
	}
}

func TestEvaluateDeterministicOrderAndHash(t *testing.T) {
	e := NewEvaluator(testDictionary())
	always := &ConditionGroup{
		Logic: LogicAnd,
		Children: []ConditionNode{
			&Condition{FieldCode: "state", Operator: OpIsNotEmpty},
		},
	}
	// Supplied out of order on purpose: validation rules sort after
	// eligibility, and ids break ties.
	input := []RuleWithVersion{
		publishedRule("rule-z", RuleTypeValidation, always, RuleOutcome{Action: "flag", Severity: SeverityInfo}, RuleScope{}),
		publishedRule("rule-b", RuleTypeEligibility, always, RuleOutcome{Action: "decline", Severity: SeverityError}, RuleScope{}),
		publishedRule("rule-a", RuleTypeEligibility, always, RuleOutcome{Action: "decline", Severity: SeverityError}, RuleScope{}),
	}
	ctx := testContext(map[string]Value{"state": StringValue("CA")})

	first, err := e.Evaluate(input, ctx)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	wantOrder := []string{"rule-a", "rule-b", "rule-z"}
	for i, want := range wantOrder {
		if first.Trace[i].RuleID != want {
			t.Fatalf("trace order %v, want %v", ruleIDs(first.Trace), wantOrder)
		}
	}

	// Re-running with identical inputs (even reshuffled) must reproduce
	// the hash byte for byte.
	shuffled := []RuleWithVersion{input[2], input[0], input[1]}
	for i := 0; i < 5; i++ {
		again, err := e.Evaluate(shuffled, ctx)
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		if again.ResultHash != first.ResultHash {
			t.Fatalf("run %d hash %s != %s", i, again.ResultHash, first.ResultHash)
		}
	}
}

func TestEvaluateHashSensitivity(t *testing.T) {
	e := NewEvaluator(testDictionary())
	rule := publishedRule("rule-elig", RuleTypeEligibility, eligibilityConditions(),
		RuleOutcome{Action: "decline", Severity: SeverityBlock}, RuleScope{})

	fired, err := e.Evaluate([]RuleWithVersion{rule}, testContext(map[string]Value{
		"buildingAge": IntValue(45),
		"state":       StringValue("CA"),
	}))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	passed, err := e.Evaluate([]RuleWithVersion{rule}, testContext(map[string]Value{
		"buildingAge": IntValue(10),
		"state":       StringValue("CA"),
	}))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	if fired.ResultHash == passed.ResultHash {
		t.Error("changing an outcome between runs must change the result hash")
	}
}

func TestEvaluateFiltersUnpublished(t *testing.T) {
	e := NewEvaluator(testDictionary())
	draft := publishedRule("rule-draft", RuleTypeEligibility, eligibilityConditions(),
		RuleOutcome{Action: "decline", Severity: SeverityBlock}, RuleScope{})
	draft.Version.Status = StatusDraft
	deprecated := publishedRule("rule-dep", RuleTypeEligibility, eligibilityConditions(),
		RuleOutcome{Action: "decline", Severity: SeverityBlock}, RuleScope{})
	deprecated.Version.Status = StatusDeprecated

	result, err := e.Evaluate([]RuleWithVersion{draft, deprecated}, testContext(map[string]Value{
		"buildingAge": IntValue(45),
		"state":       StringValue("CA"),
	}))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if len(result.Trace) != 0 {
		t.Errorf("only published versions are eligible, got trace %v", ruleIDs(result.Trace))
	}
}

func TestEvaluateCallerContractViolations(t *testing.T) {
	e := NewEvaluator(testDictionary())

	if _, err := e.Evaluate(nil, nil); err == nil {
		t.Error("nil context must fail fast")
	}

	missingVersion := []RuleWithVersion{{Rule: &Rule{ID: "rule-1"}}}
	if _, err := e.Evaluate(missingVersion, testContext(nil)); err == nil {
		t.Error("entry without a version must fail fast")
	}
}

// Concurrent evaluations over the same evaluator share no mutable state.
func TestEvaluateConcurrent(t *testing.T) {
	e := NewEvaluator(testDictionary())
	rule := publishedRule("rule-elig", RuleTypeEligibility, eligibilityConditions(),
		RuleOutcome{Action: "decline", Severity: SeverityBlock}, RuleScope{})
	ctx := testContext(map[string]Value{
		"buildingAge": IntValue(45),
		"state":       StringValue("CA"),
	})

	baseline, err := e.Evaluate([]RuleWithVersion{rule}, ctx)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	done := make(chan string, 16)
	for i := 0; i < 16; i++ {
		go func() {
			result, err := e.Evaluate([]RuleWithVersion{rule}, ctx)
			if err != nil {
				done <- "error: " + err.Error()
				return
			}
			done <- result.ResultHash
		}()
	}
	deadline := time.After(5 * time.Second)
	for i := 0; i < 16; i++ {
		select {
		case hash := <-done:
			if hash != baseline.ResultHash {
				t.Errorf("concurrent run produced %s, want %s", hash, baseline.ResultHash)
			}
		case <-deadline:
			t.Fatal("concurrent evaluations did not finish")
		}
	}
}

func ruleIDs(trace []RuleTraceEntry) []string {
	ids := make([]string, len(trace))
	for i, entry := range trace {
		ids[i] = entry.RuleID
	}
	return ids
}
