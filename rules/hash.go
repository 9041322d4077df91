package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// hashedTraceEntry is the hash projection of a RuleTraceEntry. Execution
// timing is the one field that legitimately varies between otherwise
// identical runs, so it is excluded from the digest.
type hashedTraceEntry struct {
	RuleID         string                `json:"ruleId"`
	RuleVersionID  string                `json:"ruleVersionId"`
	Fired          bool                  `json:"fired"`
	SkipReason     string                `json:"skipReason,omitempty"`
	Outcome        *RuleOutcome          `json:"outcome,omitempty"`
	ConditionTrace []ConditionTraceEntry `json:"conditionTrace,omitempty"`
}

// hashTrace computes the SHA-256 hex digest of the RFC 8785 canonical
// JSON form of the trace. Two runs over identical inputs produce
// byte-identical digests, so results can be compared for exact
// equivalence without comparing full payloads.
func hashTrace(trace []RuleTraceEntry) (string, error) {
	projection := make([]hashedTraceEntry, len(trace))
	for i, entry := range trace {
		projection[i] = hashedTraceEntry{
			RuleID:         entry.RuleID,
			RuleVersionID:  entry.RuleVersionID,
			Fired:          entry.Fired,
			SkipReason:     entry.SkipReason,
			Outcome:        entry.Outcome,
			ConditionTrace: entry.ConditionTrace,
		}
	}

	raw, err := json.Marshal(projection)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
