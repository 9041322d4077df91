package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborpoint/underwriting/rules"
)

// MemoryStore implements RuleStore and DictionaryStore with in-memory
// maps. Thread-safe with an RWMutex; used by tests and the what-if tool.
type MemoryStore struct {
	rules    map[string]*rules.Rule          // ruleID -> rule
	versions map[string]*rules.RuleVersion   // versionID -> version
	byRule   map[string][]string             // ruleID -> versionIDs, oldest first
	fields   map[string][]rules.FieldDef     // orgID -> fields
	derived  map[string][]rules.DerivedField // orgID -> derived fields
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:    make(map[string]*rules.Rule),
		versions: make(map[string]*rules.RuleVersion),
		byRule:   make(map[string][]string),
		fields:   make(map[string][]rules.FieldDef),
		derived:  make(map[string][]rules.DerivedField),
	}
}

func (s *MemoryStore) CreateRule(rule *rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return nil
}

func (s *MemoryStore) GetRule(orgID, ruleID string) (*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[ruleID]
	if !exists || rule.OrgID != orgID {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	return rule, nil
}

func (s *MemoryStore) ListRules(orgID string) ([]*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*rules.Rule
	for _, rule := range s.rules {
		if rule.OrgID == orgID {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *MemoryStore) GetVersions(ruleID string) ([]*rules.RuleVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.rules[ruleID]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	ids := s.byRule[ruleID]
	out := make([]*rules.RuleVersion, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.versions[id].Snapshot())
	}
	return out, nil
}

func (s *MemoryStore) GetVersion(versionID string) (*rules.RuleVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version, exists := s.versions[versionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}
	return version.Snapshot(), nil
}

func (s *MemoryStore) CreateVersion(ruleID string, version *rules.RuleVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[ruleID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}

	version.ID = uuid.NewString()
	version.RuleID = ruleID
	version.VersionNumber = s.nextVersionNumberLocked(ruleID)
	version.Status = rules.StatusDraft
	now := time.Now()
	version.CreatedAt = now
	version.UpdatedAt = now

	s.versions[version.ID] = version.Snapshot()
	s.byRule[ruleID] = append(s.byRule[ruleID], version.ID)
	rule.VersionCount = len(s.byRule[ruleID])
	rule.UpdatedAt = now
	return nil
}

func (s *MemoryStore) UpdateVersion(version *rules.RuleVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.versions[version.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrVersionNotFound, version.ID)
	}
	if err := rules.EnsureDraft(existing); err != nil {
		return err
	}

	snap := version.Snapshot()
	existing.Conditions = snap.Conditions
	existing.Outcome = snap.Outcome
	existing.Scope = snap.Scope
	existing.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) TransitionVersion(versionID string, to rules.VersionStatus, validation rules.ValidationResult) (*rules.RuleVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, exists := s.versions[versionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}
	if err := rules.Transition(version, to, validation); err != nil {
		return nil, err
	}
	version.UpdatedAt = time.Now()
	return version.Snapshot(), nil
}

func (s *MemoryStore) CloneVersion(versionID string) (*rules.RuleVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, exists := s.versions[versionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}
	rule := s.rules[src.RuleID]

	clone := rules.CloneVersion(src, s.nextVersionNumberLocked(src.RuleID))
	clone.ID = uuid.NewString()
	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now

	s.versions[clone.ID] = clone
	s.byRule[src.RuleID] = append(s.byRule[src.RuleID], clone.ID)
	if rule != nil {
		rule.VersionCount = len(s.byRule[src.RuleID])
		rule.UpdatedAt = now
	}
	return clone.Snapshot(), nil
}

func (s *MemoryStore) ListPublished(orgID string) ([]rules.RuleWithVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []rules.RuleWithVersion
	for ruleID, versionIDs := range s.byRule {
		rule := s.rules[ruleID]
		if rule == nil || rule.OrgID != orgID {
			continue
		}
		for _, id := range versionIDs {
			if v := s.versions[id]; v.Status == rules.StatusPublished {
				ruleCopy := *rule
				out = append(out, rules.RuleWithVersion{Rule: &ruleCopy, Version: v.Snapshot()})
			}
		}
	}
	return out, nil
}

// nextVersionNumberLocked derives max(existing)+1. Callers hold s.mu.
func (s *MemoryStore) nextVersionNumberLocked(ruleID string) int {
	next := 1
	for _, id := range s.byRule[ruleID] {
		if v := s.versions[id]; v.VersionNumber >= next {
			next = v.VersionNumber + 1
		}
	}
	return next
}

// Orgs lists every org with dictionary fields.
func (s *MemoryStore) Orgs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orgs := make([]string, 0, len(s.fields))
	for orgID := range s.fields {
		orgs = append(orgs, orgID)
	}
	sort.Strings(orgs)
	return orgs, nil
}

func (s *MemoryStore) ActiveFields(orgID string) ([]rules.FieldDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []rules.FieldDef
	for _, f := range s.fields[orgID] {
		if f.Status == rules.FieldActive {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *MemoryStore) AllFields(orgID string) ([]rules.FieldDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]rules.FieldDef(nil), s.fields[orgID]...), nil
}

func (s *MemoryStore) UpsertField(orgID string, field rules.FieldDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.fields[orgID]
	for i, f := range existing {
		if f.Code == field.Code {
			existing[i] = field
			return nil
		}
	}
	s.fields[orgID] = append(existing, field)
	return nil
}

func (s *MemoryStore) DerivedFields(orgID string) ([]rules.DerivedField, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]rules.DerivedField(nil), s.derived[orgID]...), nil
}

func (s *MemoryStore) UpsertDerivedField(orgID string, field rules.DerivedField) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.derived[orgID]
	for i, f := range existing {
		if f.Code == field.Code {
			existing[i] = field
			return nil
		}
	}
	s.derived[orgID] = append(existing, field)
	return nil
}
