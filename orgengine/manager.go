// Package orgengine manages one evaluation engine per organization:
// dictionary snapshot, compiled derived fields, and a cache of the
// org's published rule set. Engines are rebuilt and atomically swapped
// on refresh, so in-flight evaluations always see a consistent snapshot.
package orgengine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harborpoint/underwriting/rules"
	"github.com/harborpoint/underwriting/store"
)

// EvaluationRequest is a submission to evaluate against an org's
// published rules.
type EvaluationRequest struct {
	Inputs           map[string]any `json:"inputs"`
	State            string         `json:"state"`
	ProductID        string         `json:"productId"`
	ProductVersionID string         `json:"productVersionId"`
	EffectiveDate    time.Time      `json:"effectiveDate"`
}

// OrgEngine is the evaluation pipeline for a single org.
type OrgEngine struct {
	OrgID     string
	evaluator *rules.Evaluator
	deriver   *Deriver
	cache     store.PublishedCache
	rules     store.RuleStore
}

// Manager holds the per-org engines.
type Manager struct {
	engines map[string]*OrgEngine
	rules   store.RuleStore
	dict    store.DictionaryStore
	log     *slog.Logger
	mu      sync.RWMutex
}

// NewManager creates a manager over the given stores. Call LoadAll to
// populate it.
func NewManager(ruleStore store.RuleStore, dictStore store.DictionaryStore, log *slog.Logger) *Manager {
	return &Manager{
		engines: make(map[string]*OrgEngine),
		rules:   ruleStore,
		dict:    dictStore,
		log:     log,
	}
}

// LoadAll builds an engine for every org that has dictionary fields.
func (m *Manager) LoadAll() error {
	orgs, err := m.dict.Orgs()
	if err != nil {
		return fmt.Errorf("failed to list orgs: %w", err)
	}

	for _, orgID := range orgs {
		if err := m.Refresh(orgID); err != nil {
			return fmt.Errorf("failed to load org %s: %w", orgID, err)
		}
	}
	m.log.Info("loaded org engines", "count", len(orgs))
	return nil
}

// Get retrieves the engine for an org, building it on first use.
func (m *Manager) Get(orgID string) (*OrgEngine, error) {
	m.mu.RLock()
	engine, exists := m.engines[orgID]
	m.mu.RUnlock()
	if exists {
		return engine, nil
	}

	if err := m.Refresh(orgID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engines[orgID], nil
}

// Refresh rebuilds an org's engine from the stores and swaps it in.
// Zero downtime: the old engine keeps serving until the swap.
func (m *Manager) Refresh(orgID string) error {
	engine, err := m.buildEngine(orgID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.engines[orgID] = engine
	m.mu.Unlock()

	m.log.Info("refreshed org engine", "org_id", orgID, "fields", len(engine.evaluator.Dictionary()))
	return nil
}

// Invalidate drops an org's cached published rule set. Called after
// rule mutations so the next evaluation reloads from the store.
func (m *Manager) Invalidate(orgID string) {
	m.mu.RLock()
	engine, exists := m.engines[orgID]
	m.mu.RUnlock()
	if exists {
		engine.cache.Invalidate()
	}
}

// Evaluate runs a submission through an org's engine.
func (m *Manager) Evaluate(orgID string, req EvaluationRequest) (*rules.EvaluationResult, error) {
	engine, err := m.Get(orgID)
	if err != nil {
		return nil, err
	}
	return engine.Evaluate(req)
}

// Orgs returns all loaded org IDs.
func (m *Manager) Orgs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orgs := make([]string, 0, len(m.engines))
	for orgID := range m.engines {
		orgs = append(orgs, orgID)
	}
	return orgs
}

func (m *Manager) buildEngine(orgID string) (*OrgEngine, error) {
	fields, err := m.dict.AllFields(orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dictionary for org %s: %w", orgID, err)
	}
	derived, err := m.dict.DerivedFields(orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load derived fields for org %s: %w", orgID, err)
	}

	dict := buildDictionary(fields, derived)
	deriver, err := NewDeriver(dict, derived)
	if err != nil {
		return nil, fmt.Errorf("failed to compile derived fields for org %s: %w", orgID, err)
	}

	return &OrgEngine{
		OrgID:     orgID,
		evaluator: rules.NewEvaluator(dict),
		deriver:   deriver,
		cache:     store.NewMemoryPublishedCache(store.DefaultCacheConfig()),
		rules:     m.rules,
	}, nil
}

// buildDictionary merges declared fields with derived fields. A derived
// field becomes an active dictionary entry of its declared type unless a
// declared field already claims the code.
func buildDictionary(fields []rules.FieldDef, derived []rules.DerivedField) rules.Dictionary {
	defs := make([]rules.FieldDef, 0, len(fields)+len(derived))
	defs = append(defs, fields...)

	claimed := make(map[string]bool, len(fields))
	for _, f := range fields {
		claimed[f.Code] = true
	}
	for _, d := range derived {
		if claimed[d.Code] {
			continue
		}
		defs = append(defs, rules.FieldDef{
			Code:   d.Code,
			Type:   d.Type,
			Status: rules.FieldActive,
		})
	}
	return rules.NewDictionary(defs)
}

// Evaluate applies derived fields, types the inputs against the
// dictionary, pulls the published snapshot through the cache, and runs
// the pure engine.
func (e *OrgEngine) Evaluate(req EvaluationRequest) (*rules.EvaluationResult, error) {
	raw := e.deriver.Apply(req.Inputs)

	dict := e.evaluator.Dictionary()
	inputs := make(map[string]rules.Value, len(raw))
	for code, rawValue := range raw {
		def, exists := dict[code]
		if !exists {
			// Unknown codes stay out; the resolver reports them.
			continue
		}
		value, err := rules.ValueForField(rawValue, def)
		if err != nil {
			// A mistyped input resolves as absent downstream.
			continue
		}
		inputs[code] = value
	}

	published := e.cache.Get()
	if published == nil {
		var err error
		published, err = e.rules.ListPublished(e.OrgID)
		if err != nil {
			return nil, fmt.Errorf("failed to load published rules for org %s: %w", e.OrgID, err)
		}
		e.cache.Set(published)
	}

	ctx := &rules.EvaluationContext{
		Inputs:           inputs,
		State:            req.State,
		ProductID:        req.ProductID,
		ProductVersionID: req.ProductVersionID,
		EffectiveDate:    req.EffectiveDate,
	}
	return e.evaluator.Evaluate(published, ctx)
}

// Validate runs the rule validator against the org's current dictionary.
func (e *OrgEngine) Validate(v *rules.RuleVersion) rules.ValidationResult {
	return e.evaluator.Validate(v)
}
