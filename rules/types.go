// Package rules implements the underwriting rule evaluation engine:
// versioned condition-based rules (eligibility, referral, validation)
// evaluated deterministically against a typed input context, producing a
// full audit trace and a reproducible result hash.
//
// Evaluation is a pure function of its inputs. All rule and dictionary
// data must be fetched by the caller before invoking the engine; nothing
// in this package performs I/O.
package rules

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleType classifies what a rule decides.
type RuleType string

const (
	RuleTypeEligibility RuleType = "eligibility"
	RuleTypeReferral    RuleType = "referral"
	RuleTypeValidation  RuleType = "validation"
)

// VersionStatus is the lifecycle state of a rule version.
type VersionStatus string

const (
	StatusDraft      VersionStatus = "draft"
	StatusPublished  VersionStatus = "published"
	StatusDeprecated VersionStatus = "deprecated"
)

// Severity orders outcome severities: block > error > warning > info > none.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityBlock
)

var severityNames = map[Severity]string{
	SeverityNone:    "none",
	SeverityInfo:    "info",
	SeverityWarning: "warning",
	SeverityError:   "error",
	SeverityBlock:   "block",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ParseSeverity converts a severity name to a Severity.
func ParseSeverity(name string) (Severity, error) {
	for s, n := range severityNames {
		if n == name {
			return s, nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", name)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Operator is a leaf condition comparison operator.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpNotEquals  Operator = "notEquals"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "notIn"
	OpIsEmpty    Operator = "isEmpty"
	OpIsNotEmpty Operator = "isNotEmpty"
	OpBetween    Operator = "between"
)

// GroupLogic combines the children of a ConditionGroup.
type GroupLogic string

const (
	LogicAnd GroupLogic = "AND"
	LogicOr  GroupLogic = "OR"
)

// ConditionNode is either a leaf Condition or a nested ConditionGroup.
type ConditionNode interface {
	conditionNode()
}

// Condition is a single comparison of a dictionary field against an
// expected value. Immutable once part of a published version.
type Condition struct {
	FieldCode string   `json:"fieldCode"`
	Operator  Operator `json:"operator"`
	Expected  Value    `json:"expectedValue"`
}

func (*Condition) conditionNode() {}

// ConditionGroup is a recursive AND/OR grouping of conditions.
type ConditionGroup struct {
	Logic    GroupLogic      `json:"logic"`
	Children []ConditionNode `json:"children"`
}

func (*ConditionGroup) conditionNode() {}

// Nodes are serialized with a "type" discriminator so the store and the
// API can round-trip the tree without losing the leaf/group distinction.
const (
	nodeTypeCondition = "condition"
	nodeTypeGroup     = "group"
)

func (c *Condition) MarshalJSON() ([]byte, error) {
	type plain Condition
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{nodeTypeCondition, (*plain)(c)})
}

func (g *ConditionGroup) MarshalJSON() ([]byte, error) {
	children := g.Children
	if children == nil {
		children = []ConditionNode{}
	}
	return json.Marshal(struct {
		Type     string          `json:"type"`
		Logic    GroupLogic      `json:"logic"`
		Children []ConditionNode `json:"children"`
	}{nodeTypeGroup, g.Logic, children})
}

func (g *ConditionGroup) UnmarshalJSON(data []byte) error {
	var raw struct {
		Logic    GroupLogic        `json:"logic"`
		Children []json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	g.Logic = raw.Logic
	g.Children = make([]ConditionNode, 0, len(raw.Children))
	for _, childRaw := range raw.Children {
		node, err := decodeConditionNode(childRaw)
		if err != nil {
			return err
		}
		g.Children = append(g.Children, node)
	}
	return nil
}

func decodeConditionNode(data []byte) (ConditionNode, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	switch probe.Type {
	case nodeTypeCondition:
		var c struct {
			FieldCode string   `json:"fieldCode"`
			Operator  Operator `json:"operator"`
			Expected  Value    `json:"expectedValue"`
		}
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return &Condition{FieldCode: c.FieldCode, Operator: c.Operator, Expected: c.Expected}, nil
	case nodeTypeGroup:
		var g ConditionGroup
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, err
		}
		return &g, nil
	default:
		return nil, fmt.Errorf("unknown condition node type %q", probe.Type)
	}
}

// RuleOutcome is the effect applied when a rule fires.
type RuleOutcome struct {
	Action       string   `json:"action"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message,omitempty"`
	RequiredDocs []string `json:"requiredDocs,omitempty"`
}

// RuleScope is the applicability window for a rule version. An empty
// StateCodes list means "all states"; nil effective bounds mean open-ended.
type RuleScope struct {
	ProductID        string     `json:"productId,omitempty"`
	ProductVersionID string     `json:"productVersionId,omitempty"`
	StateCodes       []string   `json:"stateCodes,omitempty"`
	EffectiveFrom    *time.Time `json:"effectiveFrom,omitempty"`
	EffectiveUntil   *time.Time `json:"effectiveUntil,omitempty"`
}

// Rule is the product-agnostic identity of an underwriting rule. Content
// lives on its versions.
type Rule struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"orgId"`
	Name         string    `json:"name"`
	Type         RuleType  `json:"type"`
	VersionCount int       `json:"versionCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RuleVersion is one snapshot of a rule's conditions, outcome and scope.
// Drafts are mutable; publishing freezes the version forever.
type RuleVersion struct {
	ID            string          `json:"id"`
	RuleID        string          `json:"ruleId"`
	VersionNumber int             `json:"versionNumber"`
	Status        VersionStatus   `json:"status"`
	Conditions    *ConditionGroup `json:"conditions"`
	Outcome       RuleOutcome     `json:"outcome"`
	Scope         RuleScope       `json:"scope"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// RuleWithVersion pairs a rule with the single version to evaluate.
type RuleWithVersion struct {
	Rule    *Rule
	Version *RuleVersion
}

// EvaluationContext is the runtime input for one evaluation call.
// Inputs are typed values keyed by dictionary field code.
type EvaluationContext struct {
	Inputs           map[string]Value
	State            string
	ProductID        string
	ProductVersionID string
	EffectiveDate    time.Time
}

// ConditionTraceEntry records the evaluation of one leaf condition.
// Expected and actual values are rendered as strings so the trace is
// self-describing and canonically hashable.
type ConditionTraceEntry struct {
	FieldCode     string   `json:"fieldCode"`
	Operator      Operator `json:"operator"`
	ExpectedValue string   `json:"expectedValue"`
	ActualValue   string   `json:"actualValue"`
	Result        bool     `json:"result"`
}

// RuleTraceEntry records the evaluation of one rule: either a scope skip
// (SkipReason set, no condition trace) or a full condition evaluation.
type RuleTraceEntry struct {
	RuleID          string                `json:"ruleId"`
	RuleVersionID   string                `json:"ruleVersionId"`
	Fired           bool                  `json:"fired"`
	SkipReason      string                `json:"skipReason,omitempty"`
	Outcome         *RuleOutcome          `json:"outcome,omitempty"`
	ConditionTrace  []ConditionTraceEntry `json:"conditionTrace,omitempty"`
	ExecutionTimeMs float64               `json:"executionTimeMs"`
}

// EvaluationResult is the outcome of one evaluation run.
type EvaluationResult struct {
	Trace             []RuleTraceEntry `json:"trace"`
	FiredRules        []string         `json:"firedRules"`
	PassedRules       []string         `json:"passedRules"`
	AggregateSeverity Severity         `json:"aggregateSeverity"`
	ResultHash        string           `json:"resultHash"`
	ExecutionTimeMs   float64          `json:"executionTimeMs"`
}

// DerivedField is a dictionary field computed from raw inputs before
// evaluation, expressed as a CEL expression.
type DerivedField struct {
	Code       string    `json:"code"`
	Type       FieldType `json:"type"`
	Expression string    `json:"expression"`
}
