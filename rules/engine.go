package rules

import (
	"fmt"
	"sort"
	"time"
)

// Evaluator runs published rule versions against evaluation contexts
// using a fixed dictionary snapshot. It holds no mutable state, so a
// single Evaluator may be shared by any number of concurrent callers.
type Evaluator struct {
	dict Dictionary
}

// NewEvaluator creates an Evaluator over a point-in-time dictionary
// snapshot. Callers refresh by building a new Evaluator and swapping.
func NewEvaluator(dict Dictionary) *Evaluator {
	return &Evaluator{dict: dict}
}

// Dictionary returns the snapshot the evaluator was built with.
func (e *Evaluator) Dictionary() Dictionary { return e.dict }

// Validate statically checks a version against the evaluator's
// dictionary snapshot.
func (e *Evaluator) Validate(v *RuleVersion) ValidationResult {
	return ValidateVersion(v, e.dict)
}

// Evaluate runs every published rule version against the context and
// returns the full trace, the fired/passed partition, the aggregate
// severity of fired outcomes, and a canonical hash of the trace.
//
// The run is deterministic: rules are ordered by rule type then rule id,
// and the hash is computed over a timing-free canonical serialization of
// the trace, so identical inputs always produce an identical hash.
//
// An error return indicates a caller contract violation (nil context,
// entry without rule or version), never a rule-content problem.
func (e *Evaluator) Evaluate(candidates []RuleWithVersion, ctx *EvaluationContext) (*EvaluationResult, error) {
	if ctx == nil {
		return nil, fmt.Errorf("evaluation context is required")
	}
	start := time.Now()

	// Callers are expected to supply only published versions, but that
	// is re-checked here as a safety invariant.
	eligible := make([]RuleWithVersion, 0, len(candidates))
	for _, rv := range candidates {
		if rv.Rule == nil || rv.Version == nil {
			return nil, fmt.Errorf("rule entry is missing its rule or version")
		}
		if rv.Version.Status == StatusPublished {
			eligible = append(eligible, rv)
		}
	}

	sort.Slice(eligible, func(a, b int) bool {
		if eligible[a].Rule.Type != eligible[b].Rule.Type {
			return eligible[a].Rule.Type < eligible[b].Rule.Type
		}
		return eligible[a].Rule.ID < eligible[b].Rule.ID
	})

	result := &EvaluationResult{
		Trace:       make([]RuleTraceEntry, 0, len(eligible)),
		FiredRules:  []string{},
		PassedRules: []string{},
	}

	for _, rv := range eligible {
		ruleStart := time.Now()
		entry := RuleTraceEntry{
			RuleID:        rv.Rule.ID,
			RuleVersionID: rv.Version.ID,
		}

		if ok, skipReason := matchScope(rv.Version, ctx); !ok {
			entry.SkipReason = skipReason
		} else {
			trace := []ConditionTraceEntry{}
			fired := false
			if rv.Version.Conditions != nil {
				fired = evalGroup(rv.Version.Conditions, ctx, e.dict, &trace)
			}
			entry.Fired = fired
			entry.ConditionTrace = trace
			if fired {
				outcome := copyOutcome(rv.Version.Outcome)
				entry.Outcome = &outcome
			}
		}

		entry.ExecutionTimeMs = float64(time.Since(ruleStart).Microseconds()) / 1000
		result.Trace = append(result.Trace, entry)

		if entry.Fired {
			result.FiredRules = append(result.FiredRules, rv.Rule.ID)
			if entry.Outcome.Severity > result.AggregateSeverity {
				result.AggregateSeverity = entry.Outcome.Severity
			}
		} else {
			result.PassedRules = append(result.PassedRules, rv.Rule.ID)
		}
	}

	hash, err := hashTrace(result.Trace)
	if err != nil {
		return nil, fmt.Errorf("failed to hash trace: %w", err)
	}
	result.ResultHash = hash
	result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return result, nil
}
