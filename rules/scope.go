package rules

import (
	"fmt"
	"strings"
)

// matchScope checks whether a rule version applies to the context.
// Checks run in order: product, product version, state, effective date
// window. The first failure wins and produces a human-readable skip
// reason; condition evaluation is never attempted for skipped rules.
func matchScope(v *RuleVersion, ctx *EvaluationContext) (bool, string) {
	s := v.Scope

	if s.ProductID != "" && s.ProductID != ctx.ProductID {
		return false, fmt.Sprintf("scoped to product %s; context product is %s", s.ProductID, orNone(ctx.ProductID))
	}
	if s.ProductVersionID != "" && s.ProductVersionID != ctx.ProductVersionID {
		return false, fmt.Sprintf("scoped to product version %s; context product version is %s",
			s.ProductVersionID, orNone(ctx.ProductVersionID))
	}

	// An empty state list means the rule applies in all states.
	if len(s.StateCodes) > 0 {
		found := false
		for _, code := range s.StateCodes {
			if code == ctx.State {
				found = true
				break
			}
		}
		if !found {
			return false, fmt.Sprintf("scoped to states [%s]; context state is %s",
				strings.Join(s.StateCodes, ", "), orNone(ctx.State))
		}
	}

	if s.EffectiveFrom != nil && ctx.EffectiveDate.Before(*s.EffectiveFrom) {
		return false, fmt.Sprintf("effective from %s; context date is %s",
			s.EffectiveFrom.Format(dateLayout), ctx.EffectiveDate.Format(dateLayout))
	}
	if s.EffectiveUntil != nil && ctx.EffectiveDate.After(*s.EffectiveUntil) {
		return false, fmt.Sprintf("effective until %s; context date is %s",
			s.EffectiveUntil.Format(dateLayout), ctx.EffectiveDate.Format(dateLayout))
	}

	return true, ""
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
