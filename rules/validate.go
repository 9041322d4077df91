package rules

import "fmt"

// IssueSeverity categorizes a validation issue. Errors block publishing;
// warnings do not.
type IssueSeverity string

const (
	IssueError   IssueSeverity = "error"
	IssueWarning IssueSeverity = "warning"
)

// Issue codes reported by ValidateVersion.
const (
	IssueEmptyConditions  = "empty_conditions"
	IssueEmptyGroup       = "empty_group"
	IssueCyclicGroup      = "cyclic_group"
	IssueUnknownField     = "unknown_field"
	IssueDeprecatedField  = "deprecated_field"
	IssueUnknownOperator  = "unknown_operator"
	IssueBadExpectedValue = "bad_expected_value"
	IssueValueNotAllowed  = "value_not_allowed"
	IssueEmptyAction      = "empty_action"
	IssueInvalidWindow    = "invalid_effective_window"
)

// ValidationIssue is one structured finding about a draft version.
type ValidationIssue struct {
	Severity  IssueSeverity `json:"severity"`
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	FieldCode string        `json:"fieldCode,omitempty"`
}

// ValidationResult is the full set of findings for a version. Valid means
// zero error-level issues; warnings alone do not invalidate.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues"`
}

// ErrorCount returns the number of error-level issues.
func (r ValidationResult) ErrorCount() int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == IssueError {
			n++
		}
	}
	return n
}

var validOperators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true,
	OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNotIn: true,
	OpIsEmpty: true, OpIsNotEmpty: true,
	OpBetween: true,
}

// ValidateVersion statically checks a rule version against the active
// field dictionary: every referenced field must exist and be active, the
// condition tree must be well-formed, and the outcome must name an
// action. It is the gate for publishing and never returns an error for
// rule-content problems; findings come back as structured issues.
func ValidateVersion(v *RuleVersion, dict Dictionary) ValidationResult {
	var issues []ValidationIssue

	if v.Conditions == nil || len(v.Conditions.Children) == 0 {
		issues = append(issues, ValidationIssue{
			Severity: IssueError,
			Code:     IssueEmptyConditions,
			Message:  "condition tree must contain at least one condition",
		})
	} else {
		seen := map[*ConditionGroup]bool{v.Conditions: true}
		issues = append(issues, validateNode(v.Conditions, dict, seen)...)
	}

	if v.Outcome.Action == "" {
		issues = append(issues, ValidationIssue{
			Severity: IssueError,
			Code:     IssueEmptyAction,
			Message:  "outcome must specify an action",
		})
	}

	if v.Scope.EffectiveFrom != nil && v.Scope.EffectiveUntil != nil &&
		v.Scope.EffectiveFrom.After(*v.Scope.EffectiveUntil) {
		issues = append(issues, ValidationIssue{
			Severity: IssueError,
			Code:     IssueInvalidWindow,
			Message: fmt.Sprintf("effective window starts %s after it ends %s",
				v.Scope.EffectiveFrom.Format(dateLayout), v.Scope.EffectiveUntil.Format(dateLayout)),
		})
	}

	result := ValidationResult{Issues: issues}
	result.Valid = result.ErrorCount() == 0
	return result
}

func validateNode(node ConditionNode, dict Dictionary, seen map[*ConditionGroup]bool) []ValidationIssue {
	switch n := node.(type) {
	case *Condition:
		return validateLeaf(n, dict)
	case *ConditionGroup:
		var issues []ValidationIssue
		if len(n.Children) == 0 {
			issues = append(issues, ValidationIssue{
				Severity: IssueError,
				Code:     IssueEmptyGroup,
				Message:  fmt.Sprintf("%s group must contain at least one child", n.Logic),
			})
			return issues
		}
		for _, child := range n.Children {
			if group, ok := child.(*ConditionGroup); ok {
				if seen[group] {
					issues = append(issues, ValidationIssue{
						Severity: IssueError,
						Code:     IssueCyclicGroup,
						Message:  "condition group references itself",
					})
					continue
				}
				seen[group] = true
			}
			issues = append(issues, validateNode(child, dict, seen)...)
		}
		return issues
	default:
		return []ValidationIssue{{
			Severity: IssueError,
			Code:     IssueBadExpectedValue,
			Message:  "condition tree contains an unrecognized node",
		}}
	}
}

func validateLeaf(c *Condition, dict Dictionary) []ValidationIssue {
	var issues []ValidationIssue

	def, ok := dict[c.FieldCode]
	switch {
	case !ok:
		issues = append(issues, ValidationIssue{
			Severity:  IssueError,
			Code:      IssueUnknownField,
			Message:   fmt.Sprintf("field %q does not exist in the dictionary", c.FieldCode),
			FieldCode: c.FieldCode,
		})
	case def.Status != FieldActive:
		msg := fmt.Sprintf("field %q is %s", c.FieldCode, def.Status)
		if def.ReplacedBy != "" {
			msg += fmt.Sprintf("; consider %q instead", def.ReplacedBy)
		}
		issues = append(issues, ValidationIssue{
			Severity:  IssueWarning,
			Code:      IssueDeprecatedField,
			Message:   msg,
			FieldCode: c.FieldCode,
		})
	}

	if !validOperators[c.Operator] {
		issues = append(issues, ValidationIssue{
			Severity:  IssueError,
			Code:      IssueUnknownOperator,
			Message:   fmt.Sprintf("unknown operator %q", c.Operator),
			FieldCode: c.FieldCode,
		})
		return issues
	}

	switch c.Operator {
	case OpIn, OpNotIn:
		if c.Expected.Kind() != KindList || len(c.Expected.List()) == 0 {
			issues = append(issues, ValidationIssue{
				Severity:  IssueError,
				Code:      IssueBadExpectedValue,
				Message:   fmt.Sprintf("operator %s requires a non-empty list of expected values", c.Operator),
				FieldCode: c.FieldCode,
			})
		}
	case OpBetween:
		if c.Expected.Kind() != KindList || len(c.Expected.List()) != 2 {
			issues = append(issues, ValidationIssue{
				Severity:  IssueError,
				Code:      IssueBadExpectedValue,
				Message:   "operator between requires exactly two bounds",
				FieldCode: c.FieldCode,
			})
		}
	case OpIsEmpty, OpIsNotEmpty:
		// No expected value required.
	default:
		if c.Expected.IsAbsent() {
			issues = append(issues, ValidationIssue{
				Severity:  IssueError,
				Code:      IssueBadExpectedValue,
				Message:   fmt.Sprintf("operator %s requires an expected value", c.Operator),
				FieldCode: c.FieldCode,
			})
		}
	}

	if ok && def.Type == FieldEnum && len(def.AllowedValues) > 0 {
		issues = append(issues, checkEnumMembership(c, def)...)
	}

	return issues
}

// checkEnumMembership flags expected values outside an enum field's allowed
// set. Presence operators carry no expected value to check.
func checkEnumMembership(c *Condition, def FieldDef) []ValidationIssue {
	if c.Operator == OpIsEmpty || c.Operator == OpIsNotEmpty {
		return nil
	}
	allowed := make(map[string]bool, len(def.AllowedValues))
	for _, v := range def.AllowedValues {
		allowed[v] = true
	}
	candidates := []Value{c.Expected}
	if c.Expected.Kind() == KindList {
		candidates = c.Expected.List()
	}
	var issues []ValidationIssue
	for _, v := range candidates {
		if v.IsAbsent() {
			continue
		}
		if v.Kind() != KindString || !allowed[v.String()] {
			issues = append(issues, ValidationIssue{
				Severity:  IssueError,
				Code:      IssueValueNotAllowed,
				Message:   fmt.Sprintf("value %q is not in the allowed set for enum field %q", v.String(), c.FieldCode),
				FieldCode: c.FieldCode,
			})
		}
	}
	return issues
}
