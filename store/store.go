// Package store persists underwriting rules, rule versions and dictionary
// fields. The engine itself never touches a store: calling code fetches
// point-in-time snapshots here, hands them to the engine, and persists
// results. Mutations are serialized per rule at this boundary so version
// numbers stay monotonic under concurrent authors.
package store

import (
	"errors"

	"github.com/harborpoint/underwriting/rules"
)

var (
	ErrRuleNotFound    = errors.New("rule not found")
	ErrVersionNotFound = errors.New("rule version not found")
	ErrRuleExists      = errors.New("rule already exists")
	ErrFieldNotFound   = errors.New("dictionary field not found")
)

// RuleStore manages rules and their versions.
type RuleStore interface {
	// CreateRule adds a new rule identity with no versions.
	CreateRule(rule *rules.Rule) error

	// GetRule retrieves a rule by id within an org.
	GetRule(orgID, ruleID string) (*rules.Rule, error)

	// ListRules returns all rules for an org.
	ListRules(orgID string) ([]*rules.Rule, error)

	// GetVersions returns all versions of a rule, oldest first.
	GetVersions(ruleID string) ([]*rules.RuleVersion, error)

	// GetVersion retrieves a single version by id.
	GetVersion(versionID string) (*rules.RuleVersion, error)

	// CreateVersion stores a new draft. The version number is assigned
	// here, atomically, from the stored versions of the rule.
	CreateVersion(ruleID string, version *rules.RuleVersion) error

	// UpdateVersion replaces a draft's conditions, outcome and scope.
	// Non-draft versions are immutable and rejected.
	UpdateVersion(version *rules.RuleVersion) error

	// TransitionVersion applies a lifecycle change. Publishing requires
	// a validation result with zero errors.
	TransitionVersion(versionID string, to rules.VersionStatus, validation rules.ValidationResult) (*rules.RuleVersion, error)

	// CloneVersion copies a version's content into a new draft numbered
	// max(existing)+1.
	CloneVersion(versionID string) (*rules.RuleVersion, error)

	// ListPublished returns every rule of the org paired with its
	// published version, ready for evaluation.
	ListPublished(orgID string) ([]rules.RuleWithVersion, error)
}

// DictionaryStore manages the externally governed field dictionary.
type DictionaryStore interface {
	// Orgs lists every org that has dictionary fields.
	Orgs() ([]string, error)

	// ActiveFields returns the active field definitions for an org.
	ActiveFields(orgID string) ([]rules.FieldDef, error)

	// AllFields returns every field definition, active or deprecated.
	AllFields(orgID string) ([]rules.FieldDef, error)

	// UpsertField creates or replaces a field definition.
	UpsertField(orgID string, field rules.FieldDef) error

	// DerivedFields returns the org's computed-field definitions.
	DerivedFields(orgID string) ([]rules.DerivedField, error)

	// UpsertDerivedField creates or replaces a derived field.
	UpsertDerivedField(orgID string, field rules.DerivedField) error
}
