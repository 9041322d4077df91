package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/harborpoint/underwriting/internal/logger"
	"github.com/harborpoint/underwriting/orgengine"
	"github.com/harborpoint/underwriting/rules"
	"github.com/harborpoint/underwriting/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"orgsLoaded": len(s.manager.Orgs()),
		"errors":     logger.TotalErrors.Load(),
		"warnings":   logger.TotalWarnings.Load(),
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.OrgID == "" {
		respondError(w, http.StatusBadRequest, "orgId is required", nil)
		return
	}
	if req.Inputs == nil {
		respondError(w, http.StatusBadRequest, "inputs are required", nil)
		return
	}

	result, err := s.manager.Evaluate(req.OrgID, orgengine.EvaluationRequest{
		Inputs:           req.Inputs,
		State:            req.State,
		ProductID:        req.ProductID,
		ProductVersionID: req.ProductVersionID,
		EffectiveDate:    req.EffectiveDate,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgId")

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	ruleType := rules.RuleType(req.Type)
	switch ruleType {
	case rules.RuleTypeEligibility, rules.RuleTypeReferral, rules.RuleTypeValidation:
	default:
		respondError(w, http.StatusBadRequest, "type must be eligibility, referral, or validation", nil)
		return
	}

	rule := &rules.Rule{OrgID: orgID, Name: req.Name, Type: ruleType}
	if err := s.rules.CreateRule(rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgId")

	list, err := s.rules.ListRules(orgID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgId")
	ruleID := chi.URLParam(r, "ruleId")

	rule, err := s.rules.GetRule(orgID, ruleID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgId")
	ruleID := chi.URLParam(r, "ruleId")

	if _, err := s.rules.GetRule(orgID, ruleID); err != nil {
		respondStoreError(w, err)
		return
	}
	versions, err := s.rules.GetVersions(ruleID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if versions == nil {
		versions = []*rules.RuleVersion{}
	}
	respondJSON(w, http.StatusOK, VersionsListResponse{Versions: versions})
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgId")
	ruleID := chi.URLParam(r, "ruleId")

	if _, err := s.rules.GetRule(orgID, ruleID); err != nil {
		respondStoreError(w, err)
		return
	}

	var req VersionContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	version := &rules.RuleVersion{
		Conditions: req.Conditions,
		Outcome:    req.Outcome,
		Scope:      req.Scope,
	}
	if err := s.rules.CreateVersion(ruleID, version); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, version)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := s.orgVersion(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, version)
}

func (s *Server) handleUpdateVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := s.orgVersion(w, r)
	if !ok {
		return
	}

	var req VersionContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	update := rules.RuleVersion{
		ID:         version.ID,
		Conditions: req.Conditions,
		Outcome:    req.Outcome,
		Scope:      req.Scope,
	}
	if err := s.rules.UpdateVersion(&update); err != nil {
		respondStoreError(w, err)
		return
	}
	updated, err := s.rules.GetVersion(version.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleValidateVersion(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgId")
	version, ok := s.orgVersion(w, r)
	if !ok {
		return
	}

	validation, err := s.validate(orgID, version)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "validation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, validation)
}

func (s *Server) handlePublishVersion(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgId")
	version, ok := s.orgVersion(w, r)
	if !ok {
		return
	}

	validation, err := s.validate(orgID, version)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "validation failed", err)
		return
	}

	published, err := s.rules.TransitionVersion(version.ID, rules.StatusPublished, validation)
	if err != nil {
		if errors.Is(err, rules.ErrPublishBlocked) {
			respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":      "version has validation errors",
				"validation": validation,
			})
			return
		}
		respondStoreError(w, err)
		return
	}

	s.manager.Invalidate(orgID)
	respondJSON(w, http.StatusOK, published)
}

func (s *Server) handleDeprecateVersion(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgId")
	version, ok := s.orgVersion(w, r)
	if !ok {
		return
	}

	deprecated, err := s.rules.TransitionVersion(version.ID, rules.StatusDeprecated, rules.ValidationResult{Valid: true})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	s.manager.Invalidate(orgID)
	respondJSON(w, http.StatusOK, deprecated)
}

func (s *Server) handleCloneVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := s.orgVersion(w, r)
	if !ok {
		return
	}

	clone, err := s.rules.CloneVersion(version.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, clone)
}

func (s *Server) handleGetDictionary(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgId")

	fields, err := s.dict.AllFields(orgID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load dictionary", err)
		return
	}
	derived, err := s.dict.DerivedFields(orgID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load derived fields", err)
		return
	}
	if fields == nil {
		fields = []rules.FieldDef{}
	}
	if derived == nil {
		derived = []rules.DerivedField{}
	}
	respondJSON(w, http.StatusOK, DictionaryResponse{Fields: fields, DerivedFields: derived})
}

func (s *Server) handlePutDictionary(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgId")

	var req DictionaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	for _, field := range req.Fields {
		if err := orgengine.ValidateFieldDef(field); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid field definition", err)
			return
		}
	}

	// Derived expressions may reference fields stored earlier, so
	// validate against the stored dictionary overlaid with this request.
	existing, err := s.dict.AllFields(orgID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load dictionary", err)
		return
	}
	dict := rules.NewDictionary(append(existing, req.Fields...))
	for _, derived := range req.DerivedFields {
		if err := orgengine.ValidateDerivedField(dict, derived); err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid derived field", err)
			return
		}
	}

	for _, field := range req.Fields {
		if err := s.dict.UpsertField(orgID, field); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to store field", err)
			return
		}
	}
	for _, derived := range req.DerivedFields {
		if err := s.dict.UpsertDerivedField(orgID, derived); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to store derived field", err)
			return
		}
	}

	// Rebuild the org's engine so the new dictionary takes effect.
	if err := s.manager.Refresh(orgID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to refresh org engine", err)
		return
	}

	s.handleGetDictionary(w, r)
}

// orgVersion loads the version from the URL and checks it belongs to
// the org. Writes the error response on failure.
func (s *Server) orgVersion(w http.ResponseWriter, r *http.Request) (*rules.RuleVersion, bool) {
	orgID := chi.URLParam(r, "orgId")
	versionID := chi.URLParam(r, "versionId")

	version, err := s.rules.GetVersion(versionID)
	if err != nil {
		respondStoreError(w, err)
		return nil, false
	}
	if _, err := s.rules.GetRule(orgID, version.RuleID); err != nil {
		respondStoreError(w, err)
		return nil, false
	}
	return version, true
}

// validate runs the rule validator against the org's dictionary.
func (s *Server) validate(orgID string, version *rules.RuleVersion) (rules.ValidationResult, error) {
	engine, err := s.manager.Get(orgID)
	if err != nil {
		return rules.ValidationResult{}, err
	}
	return engine.Validate(version), nil
}

func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrRuleNotFound), errors.Is(err, store.ErrVersionNotFound):
		respondError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, rules.ErrNotDraft), errors.Is(err, rules.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "invalid lifecycle operation", err)
	case errors.Is(err, rules.ErrPublishBlocked):
		respondError(w, http.StatusUnprocessableEntity, "publish blocked by validation errors", err)
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
	logger.CountHTTPStatus(status)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}
