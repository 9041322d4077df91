package main

import (
	"time"

	"github.com/harborpoint/underwriting/rules"
)

// API request and response models.

// EvaluateRequest is the body for POST /api/v1/evaluate.
type EvaluateRequest struct {
	OrgID            string         `json:"orgId"`
	Inputs           map[string]any `json:"inputs"`
	State            string         `json:"state"`
	ProductID        string         `json:"productId"`
	ProductVersionID string         `json:"productVersionId"`
	EffectiveDate    time.Time      `json:"effectiveDate"`
}

// CreateRuleRequest is the body for creating a rule shell. Versions
// carry the actual conditions.
type CreateRuleRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// VersionContentRequest is the body for creating or updating a draft
// version.
type VersionContentRequest struct {
	Conditions *rules.ConditionGroup `json:"conditions"`
	Outcome    rules.RuleOutcome     `json:"outcome"`
	Scope      rules.RuleScope       `json:"scope"`
}

// DictionaryRequest is the body for PUT dictionary: the org's declared
// fields plus any derived fields.
type DictionaryRequest struct {
	Fields        []rules.FieldDef     `json:"fields"`
	DerivedFields []rules.DerivedField `json:"derivedFields"`
}

// DictionaryResponse mirrors DictionaryRequest on reads.
type DictionaryResponse struct {
	Fields        []rules.FieldDef     `json:"fields"`
	DerivedFields []rules.DerivedField `json:"derivedFields"`
}

// RulesListResponse wraps a rule listing.
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

// VersionsListResponse wraps a version listing.
type VersionsListResponse struct {
	Versions []*rules.RuleVersion `json:"versions"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
