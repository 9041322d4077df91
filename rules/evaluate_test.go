package rules

import (
	"strings"
	"testing"
	"time"
)

func testDictionary() Dictionary {
	return NewDictionary([]FieldDef{
		{Code: "buildingAge", Type: FieldInt, Status: FieldActive},
		{Code: "state", Type: FieldEnum, Status: FieldActive, AllowedValues: []string{"CA", "TX", "NY"}},
		{Code: "annualRevenue", Type: FieldDecimal, Status: FieldActive},
		{Code: "sprinklered", Type: FieldBool, Status: FieldActive},
		{Code: "policyStart", Type: FieldDate, Status: FieldActive},
		{Code: "occupancy", Type: FieldString, Status: FieldActive},
		{Code: "roofType", Type: FieldString, Status: FieldDeprecated, ReplacedBy: "roofMaterial"},
	})
}

func testContext(inputs map[string]Value) *EvaluationContext {
	return &EvaluationContext{
		Inputs:        inputs,
		State:         "CA",
		EffectiveDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

// The eligibility rule from the reference scenarios:
// AND[buildingAge > 30, state in {CA, TX}].
func eligibilityConditions() *ConditionGroup {
	return &ConditionGroup{
		Logic: LogicAnd,
		Children: []ConditionNode{
			&Condition{FieldCode: "buildingAge", Operator: OpGt, Expected: IntValue(30)},
			&Condition{FieldCode: "state", Operator: OpIn, Expected: ListValue(StringValue("CA"), StringValue("TX"))},
		},
	}
}

func TestEvalGroupScenarioFires(t *testing.T) {
	ctx := testContext(map[string]Value{
		"buildingAge": IntValue(45),
		"state":       StringValue("CA"),
	})

	trace := []ConditionTraceEntry{}
	fired := evalGroup(eligibilityConditions(), ctx, testDictionary(), &trace)
	if !fired {
		t.Error("expected rule to fire for buildingAge=45, state=CA")
	}
	if len(trace) != 2 {
		t.Fatalf("expected 2 trace entries, got %d", len(trace))
	}
	for _, entry := range trace {
		if !entry.Result {
			t.Errorf("expected every leaf to pass, got %+v", entry)
		}
	}
}

func TestEvalGroupScenarioLeafFails(t *testing.T) {
	ctx := testContext(map[string]Value{
		"buildingAge": IntValue(10),
		"state":       StringValue("CA"),
	})

	trace := []ConditionTraceEntry{}
	fired := evalGroup(eligibilityConditions(), ctx, testDictionary(), &trace)
	if fired {
		t.Error("expected rule not to fire for buildingAge=10")
	}

	if len(trace) != 2 {
		t.Fatalf("expected 2 trace entries, got %d", len(trace))
	}
	age := trace[0]
	if age.FieldCode != "buildingAge" || age.Operator != OpGt {
		t.Fatalf("unexpected first trace entry: %+v", age)
	}
	if age.Result {
		t.Error("buildingAge gt 30 should be false for 10")
	}
	if age.ActualValue != "10" || age.ExpectedValue != "30" {
		t.Errorf("trace values not rendered: actual=%q expected=%q", age.ActualValue, age.ExpectedValue)
	}
}

// Every leaf must be recorded even when the group result is already
// decided by an earlier false child.
func TestEvalGroupFullTraceUnderShortCircuit(t *testing.T) {
	group := &ConditionGroup{
		Logic: LogicAnd,
		Children: []ConditionNode{
			&Condition{FieldCode: "buildingAge", Operator: OpGt, Expected: IntValue(100)}, // false
			&Condition{FieldCode: "state", Operator: OpEquals, Expected: StringValue("CA")},
			&Condition{FieldCode: "sprinklered", Operator: OpEquals, Expected: BoolValue(true)},
		},
	}
	ctx := testContext(map[string]Value{
		"buildingAge": IntValue(45),
		"state":       StringValue("CA"),
		"sprinklered": BoolValue(true),
	})

	trace := []ConditionTraceEntry{}
	fired := evalGroup(group, ctx, testDictionary(), &trace)
	if fired {
		t.Error("group should be false")
	}
	if len(trace) != 3 {
		t.Fatalf("expected all 3 siblings recorded despite first false child, got %d", len(trace))
	}
	if !trace[1].Result || !trace[2].Result {
		t.Error("later siblings should still record their own true results")
	}
}

func TestEvalGroupVacuousTruth(t *testing.T) {
	ctx := testContext(nil)
	dict := testDictionary()

	trace := []ConditionTraceEntry{}
	if got := evalGroup(&ConditionGroup{Logic: LogicAnd}, ctx, dict, &trace); !got {
		t.Error("AND over zero children should be true")
	}
	if got := evalGroup(&ConditionGroup{Logic: LogicOr}, ctx, dict, &trace); got {
		t.Error("OR over zero children should be false")
	}
	if len(trace) != 0 {
		t.Errorf("empty groups should record no leaves, got %d", len(trace))
	}
}

func TestEvalNestedGroups(t *testing.T) {
	// buildingAge > 30 AND (state == NY OR sprinklered == true)
	group := &ConditionGroup{
		Logic: LogicAnd,
		Children: []ConditionNode{
			&Condition{FieldCode: "buildingAge", Operator: OpGt, Expected: IntValue(30)},
			&ConditionGroup{
				Logic: LogicOr,
				Children: []ConditionNode{
					&Condition{FieldCode: "state", Operator: OpEquals, Expected: StringValue("NY")},
					&Condition{FieldCode: "sprinklered", Operator: OpEquals, Expected: BoolValue(true)},
				},
			},
		},
	}
	ctx := testContext(map[string]Value{
		"buildingAge": IntValue(45),
		"state":       StringValue("CA"),
		"sprinklered": BoolValue(true),
	})

	trace := []ConditionTraceEntry{}
	if !evalGroup(group, ctx, testDictionary(), &trace) {
		t.Error("nested OR should rescue the group via sprinklered")
	}
	if len(trace) != 3 {
		t.Errorf("expected 3 leaves traced across nesting, got %d", len(trace))
	}
}

func TestOperators(t *testing.T) {
	dict := testDictionary()
	start := mustDate(t, "2025-01-15")

	testCases := []struct {
		name      string
		condition Condition
		inputs    map[string]Value
		want      bool
	}{
		{
			name:      "equals string",
			condition: Condition{FieldCode: "occupancy", Operator: OpEquals, Expected: StringValue("office")},
			inputs:    map[string]Value{"occupancy": StringValue("office")},
			want:      true,
		},
		{
			name:      "notEquals string",
			condition: Condition{FieldCode: "occupancy", Operator: OpNotEquals, Expected: StringValue("office")},
			inputs:    map[string]Value{"occupancy": StringValue("warehouse")},
			want:      true,
		},
		{
			name:      "gte boundary",
			condition: Condition{FieldCode: "buildingAge", Operator: OpGte, Expected: IntValue(30)},
			inputs:    map[string]Value{"buildingAge": IntValue(30)},
			want:      true,
		},
		{
			name:      "lt decimal",
			condition: Condition{FieldCode: "annualRevenue", Operator: OpLt, Expected: DecimalValue(1000000)},
			inputs:    map[string]Value{"annualRevenue": DecimalValue(999999.99)},
			want:      true,
		},
		{
			name:      "lte decimal false",
			condition: Condition{FieldCode: "annualRevenue", Operator: OpLte, Expected: DecimalValue(500)},
			inputs:    map[string]Value{"annualRevenue": DecimalValue(500.01)},
			want:      false,
		},
		{
			name:      "int mixed with decimal expected",
			condition: Condition{FieldCode: "buildingAge", Operator: OpGt, Expected: DecimalValue(29.5)},
			inputs:    map[string]Value{"buildingAge": IntValue(30)},
			want:      true,
		},
		{
			name:      "notIn",
			condition: Condition{FieldCode: "state", Operator: OpNotIn, Expected: ListValue(StringValue("NY"), StringValue("FL"))},
			inputs:    map[string]Value{"state": StringValue("CA")},
			want:      true,
		},
		{
			name:      "between inclusive",
			condition: Condition{FieldCode: "buildingAge", Operator: OpBetween, Expected: ListValue(IntValue(10), IntValue(45))},
			inputs:    map[string]Value{"buildingAge": IntValue(45)},
			want:      true,
		},
		{
			name:      "between outside",
			condition: Condition{FieldCode: "buildingAge", Operator: OpBetween, Expected: ListValue(IntValue(10), IntValue(45))},
			inputs:    map[string]Value{"buildingAge": IntValue(46)},
			want:      false,
		},
		{
			name:      "date gt calendar",
			condition: Condition{FieldCode: "policyStart", Operator: OpGt, Expected: DateValue(mustDate(t, "2025-01-01"))},
			inputs:    map[string]Value{"policyStart": DateValue(start)},
			want:      true,
		},
		{
			name:      "date equals same day different clock",
			condition: Condition{FieldCode: "policyStart", Operator: OpEquals, Expected: DateValue(mustDate(t, "2025-01-15"))},
			inputs:    map[string]Value{"policyStart": DateValue(start.Add(11 * time.Hour))},
			want:      true,
		},
		{
			name:      "bool identity",
			condition: Condition{FieldCode: "sprinklered", Operator: OpEquals, Expected: BoolValue(false)},
			inputs:    map[string]Value{"sprinklered": BoolValue(false)},
			want:      true,
		},
		{
			name:      "isEmpty on empty string",
			condition: Condition{FieldCode: "occupancy", Operator: OpIsEmpty},
			inputs:    map[string]Value{"occupancy": StringValue("")},
			want:      true,
		},
		{
			name:      "isNotEmpty",
			condition: Condition{FieldCode: "occupancy", Operator: OpIsNotEmpty},
			inputs:    map[string]Value{"occupancy": StringValue("office")},
			want:      true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testContext(tc.inputs)
			trace := []ConditionTraceEntry{}
			cond := tc.condition
			got := evalLeaf(&cond, ctx, dict, &trace)
			if got != tc.want {
				t.Errorf("got %v, want %v (trace: %+v)", got, tc.want, trace)
			}
			if len(trace) != 1 {
				t.Errorf("expected exactly one trace entry, got %d", len(trace))
			}
		})
	}
}

func TestEvalLeafAbsentField(t *testing.T) {
	dict := testDictionary()
	ctx := testContext(map[string]Value{})

	trace := []ConditionTraceEntry{}
	cond := &Condition{FieldCode: "buildingAge", Operator: OpGt, Expected: IntValue(30)}
	if evalLeaf(cond, ctx, dict, &trace) {
		t.Error("comparison against an absent value should be false")
	}
	if !strings.Contains(trace[0].ActualValue, "absent") {
		t.Errorf("trace should record absence, got %q", trace[0].ActualValue)
	}

	// isEmpty is the one operator for which absence is a positive result.
	trace = nil
	empty := &Condition{FieldCode: "buildingAge", Operator: OpIsEmpty}
	if !evalLeaf(empty, ctx, dict, &trace) {
		t.Error("isEmpty should be true for an absent field")
	}
}

func TestEvalLeafUnknownAndInactiveField(t *testing.T) {
	dict := testDictionary()
	ctx := testContext(map[string]Value{
		"roofType": StringValue("tile"),
	})

	trace := []ConditionTraceEntry{}
	unknown := &Condition{FieldCode: "nope", Operator: OpEquals, Expected: StringValue("x")}
	if evalLeaf(unknown, ctx, dict, &trace) {
		t.Error("unknown field should evaluate to false")
	}
	if !strings.Contains(trace[0].ActualValue, "not in dictionary") {
		t.Errorf("expected dictionary miss in trace, got %q", trace[0].ActualValue)
	}

	trace = nil
	deprecated := &Condition{FieldCode: "roofType", Operator: OpEquals, Expected: StringValue("tile")}
	if evalLeaf(deprecated, ctx, dict, &trace) {
		t.Error("deprecated field should resolve as absent even when an input is present")
	}
	if !strings.Contains(trace[0].ActualValue, "deprecated") {
		t.Errorf("expected deprecation reason in trace, got %q", trace[0].ActualValue)
	}
}

func TestEvalLeafTypeMismatch(t *testing.T) {
	dict := testDictionary()
	// Ordering operators are not defined for string fields.
	ctx := testContext(map[string]Value{"occupancy": StringValue("office")})

	trace := []ConditionTraceEntry{}
	cond := &Condition{FieldCode: "occupancy", Operator: OpGt, Expected: StringValue("aaa")}
	if evalLeaf(cond, ctx, dict, &trace) {
		t.Error("type mismatch should evaluate to false, not fire")
	}
	if !strings.Contains(trace[0].ActualValue, "ordering not defined") {
		t.Errorf("mismatch reason should be visible in trace, got %q", trace[0].ActualValue)
	}
}

func TestFieldCodes(t *testing.T) {
	group := &ConditionGroup{
		Logic: LogicAnd,
		Children: []ConditionNode{
			&Condition{FieldCode: "state", Operator: OpEquals, Expected: StringValue("CA")},
			&ConditionGroup{
				Logic: LogicOr,
				Children: []ConditionNode{
					&Condition{FieldCode: "buildingAge", Operator: OpGt, Expected: IntValue(30)},
					&Condition{FieldCode: "state", Operator: OpEquals, Expected: StringValue("TX")},
				},
			},
		},
	}

	codes := FieldCodes(group)
	want := []string{"buildingAge", "state"}
	if len(codes) != len(want) {
		t.Fatalf("got %v, want %v", codes, want)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("got %v, want %v", codes, want)
		}
	}
}
