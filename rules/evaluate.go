package rules

import (
	"fmt"
	"sort"
)

// fieldResolution is the result of resolving a field code against the
// context and dictionary. Absence is a valid, traceable state: res.value
// is Absent and reason says why.
type fieldResolution struct {
	value  Value
	def    FieldDef
	reason string
}

// resolveField looks up a field code in the dictionary and the context
// inputs. It never fails for missing data; missing or inactive fields
// resolve to Absent with the reason recorded.
func resolveField(code string, ctx *EvaluationContext, dict Dictionary) fieldResolution {
	def, ok := dict[code]
	if !ok {
		return fieldResolution{value: Absent, reason: fmt.Sprintf("field %q not in dictionary", code)}
	}
	if def.Status != FieldActive {
		return fieldResolution{value: Absent, def: def, reason: fmt.Sprintf("field %q is %s", code, def.Status)}
	}
	v, ok := ctx.Inputs[code]
	if !ok || v.IsAbsent() {
		return fieldResolution{value: Absent, def: def, reason: fmt.Sprintf("no input for field %q", code)}
	}
	return fieldResolution{value: v, def: def}
}

// evalNode evaluates a condition tree node, appending one trace entry per
// leaf. Every leaf is evaluated and recorded even when the group result
// is already decided, so a reviewer can see every sub-check.
func evalNode(node ConditionNode, ctx *EvaluationContext, dict Dictionary, trace *[]ConditionTraceEntry) bool {
	switch n := node.(type) {
	case *Condition:
		return evalLeaf(n, ctx, dict, trace)
	case *ConditionGroup:
		return evalGroup(n, ctx, dict, trace)
	default:
		// Unknown node types cannot fire anything.
		return false
	}
}

// evalGroup combines child results under AND/OR logic. An AND group with
// no children is vacuously true; an OR group with no children is false.
func evalGroup(g *ConditionGroup, ctx *EvaluationContext, dict Dictionary, trace *[]ConditionTraceEntry) bool {
	if g.Logic == LogicOr {
		result := false
		for _, child := range g.Children {
			if evalNode(child, ctx, dict, trace) {
				result = true
			}
		}
		return result
	}
	result := true
	for _, child := range g.Children {
		if !evalNode(child, ctx, dict, trace) {
			result = false
		}
	}
	return result
}

// evalLeaf resolves the field and applies the operator. Type mismatches
// and absent values evaluate to false with the reason visible in the
// trace's actual value, never as an error.
func evalLeaf(c *Condition, ctx *EvaluationContext, dict Dictionary, trace *[]ConditionTraceEntry) bool {
	entry := ConditionTraceEntry{
		FieldCode:     c.FieldCode,
		Operator:      c.Operator,
		ExpectedValue: c.Expected.String(),
	}

	res := resolveField(c.FieldCode, ctx, dict)
	if res.value.IsAbsent() {
		entry.ActualValue = "absent (" + res.reason + ")"
		// Emptiness checks are meaningful for absent values; everything
		// else is a mismatch.
		switch c.Operator {
		case OpIsEmpty:
			entry.Result = true
		case OpIsNotEmpty:
			entry.Result = false
		default:
			entry.Result = false
		}
		*trace = append(*trace, entry)
		return entry.Result
	}

	entry.ActualValue = res.value.String()
	result, err := applyOperator(c.Operator, res.value, c.Expected, res.def.Type)
	if err != nil {
		entry.ActualValue = fmt.Sprintf("%s (%v)", res.value, err)
		result = false
	}
	entry.Result = result
	*trace = append(*trace, entry)
	return result
}

// applyOperator compares the resolved actual value against the expected
// value under the dictionary field's declared type.
func applyOperator(op Operator, actual, expected Value, ft FieldType) (bool, error) {
	switch op {
	case OpEquals:
		return valuesEqual(actual, expected, ft)
	case OpNotEquals:
		eq, err := valuesEqual(actual, expected, ft)
		if err != nil {
			return false, err
		}
		return !eq, nil
	case OpGt, OpGte, OpLt, OpLte:
		cmp, err := compareValues(actual, expected, ft)
		if err != nil {
			return false, err
		}
		switch op {
		case OpGt:
			return cmp > 0, nil
		case OpGte:
			return cmp >= 0, nil
		case OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpIn, OpNotIn:
		if expected.Kind() != KindList {
			return false, fmt.Errorf("operator %s requires a list expected value", op)
		}
		found := false
		for _, candidate := range expected.List() {
			eq, err := valuesEqual(actual, candidate, ft)
			if err != nil {
				return false, err
			}
			if eq {
				found = true
				break
			}
		}
		if op == OpNotIn {
			return !found, nil
		}
		return found, nil
	case OpIsEmpty:
		return actual.IsEmpty(), nil
	case OpIsNotEmpty:
		return !actual.IsEmpty(), nil
	case OpBetween:
		if expected.Kind() != KindList || len(expected.List()) != 2 {
			return false, fmt.Errorf("operator between requires exactly two bounds")
		}
		bounds := expected.List()
		lo, err := compareValues(actual, bounds[0], ft)
		if err != nil {
			return false, err
		}
		hi, err := compareValues(actual, bounds[1], ft)
		if err != nil {
			return false, err
		}
		return lo >= 0 && hi <= 0, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// FieldCodes returns the sorted, de-duplicated field codes referenced
// anywhere in a condition tree. Callers use it to know which inputs to
// collect before evaluating.
func FieldCodes(node ConditionNode) []string {
	seen := map[string]struct{}{}
	collectFieldCodes(node, seen)
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func collectFieldCodes(node ConditionNode, seen map[string]struct{}) {
	switch n := node.(type) {
	case *Condition:
		seen[n.FieldCode] = struct{}{}
	case *ConditionGroup:
		for _, child := range n.Children {
			collectFieldCodes(child, seen)
		}
	}
}
