package rules

import (
	"errors"
	"fmt"
)

// Lifecycle rejections. Callers distinguish them with errors.Is.
var (
	ErrNotDraft          = errors.New("rule version is not a draft")
	ErrPublishBlocked    = errors.New("rule version has outstanding validation errors")
	ErrInvalidTransition = errors.New("invalid rule version status transition")
)

// CanTransition reports whether the state machine permits moving a
// version from one status to another. The only direct transitions are
// draft -> published and published -> deprecated; new drafts come from
// CloneVersion, never from a status change.
func CanTransition(from, to VersionStatus) bool {
	switch from {
	case StatusDraft:
		return to == StatusPublished
	case StatusPublished:
		return to == StatusDeprecated
	default:
		return false
	}
}

// Transition applies a status change to a version in place. Publishing is
// gated on a validation result with zero error-level issues; the caller
// is expected to have run ValidateVersion against the current dictionary.
func Transition(v *RuleVersion, to VersionStatus, validation ValidationResult) error {
	if !CanTransition(v.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, v.Status, to)
	}
	if to == StatusPublished && validation.ErrorCount() > 0 {
		return fmt.Errorf("%w: %d error(s)", ErrPublishBlocked, validation.ErrorCount())
	}
	v.Status = to
	return nil
}

// EnsureDraft rejects edits to frozen versions. Published and deprecated
// versions are immutable; any change requires cloning into a new draft.
func EnsureDraft(v *RuleVersion) error {
	if v.Status != StatusDraft {
		return fmt.Errorf("%w: version %d is %s", ErrNotDraft, v.VersionNumber, v.Status)
	}
	return nil
}

// CloneVersion copies a version's conditions, outcome and scope verbatim
// into a new draft with the given version number. The source version is
// untouched. Number assignment is the store's job: it must be derived
// transactionally from the stored versions, never from in-process state.
func CloneVersion(src *RuleVersion, versionNumber int) *RuleVersion {
	return &RuleVersion{
		RuleID:        src.RuleID,
		VersionNumber: versionNumber,
		Status:        StatusDraft,
		Conditions:    copyGroup(src.Conditions),
		Outcome:       copyOutcome(src.Outcome),
		Scope:         copyScope(src.Scope),
	}
}

// Snapshot returns a deep copy of the version. Stores hand out snapshots
// so stored content cannot be mutated through a returned pointer.
func (v *RuleVersion) Snapshot() *RuleVersion {
	out := *v
	out.Conditions = copyGroup(v.Conditions)
	out.Outcome = copyOutcome(v.Outcome)
	out.Scope = copyScope(v.Scope)
	return &out
}

func copyGroup(g *ConditionGroup) *ConditionGroup {
	if g == nil {
		return nil
	}
	out := &ConditionGroup{Logic: g.Logic, Children: make([]ConditionNode, 0, len(g.Children))}
	for _, child := range g.Children {
		switch n := child.(type) {
		case *Condition:
			leaf := *n
			out.Children = append(out.Children, &leaf)
		case *ConditionGroup:
			out.Children = append(out.Children, copyGroup(n))
		}
	}
	return out
}

func copyOutcome(o RuleOutcome) RuleOutcome {
	out := o
	if o.RequiredDocs != nil {
		out.RequiredDocs = append([]string(nil), o.RequiredDocs...)
	}
	return out
}

func copyScope(s RuleScope) RuleScope {
	out := s
	if s.StateCodes != nil {
		out.StateCodes = append([]string(nil), s.StateCodes...)
	}
	if s.EffectiveFrom != nil {
		from := *s.EffectiveFrom
		out.EffectiveFrom = &from
	}
	if s.EffectiveUntil != nil {
		until := *s.EffectiveUntil
		out.EffectiveUntil = &until
	}
	return out
}
