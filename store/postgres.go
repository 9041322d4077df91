package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/harborpoint/underwriting/rules"
)

// PostgresStore implements RuleStore and DictionaryStore backed by
// PostgreSQL. Version numbering happens inside transactions so two
// authors drafting against the same rule can never take the same number.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateRule(rule *rules.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO rules (id, org_id, name, type, version_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
	`, rule.ID, rule.OrgID, rule.Name, rule.Type, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRule(orgID, ruleID string) (*rules.Rule, error) {
	var rule rules.Rule
	err := s.db.QueryRow(`
		SELECT id, org_id, name, type, version_count, created_at, updated_at
		FROM rules
		WHERE id = $1 AND org_id = $2
	`, ruleID, orgID).Scan(
		&rule.ID, &rule.OrgID, &rule.Name, &rule.Type,
		&rule.VersionCount, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

func (s *PostgresStore) ListRules(orgID string) ([]*rules.Rule, error) {
	rows, err := s.db.Query(`
		SELECT id, org_id, name, type, version_count, created_at, updated_at
		FROM rules
		WHERE org_id = $1
		ORDER BY created_at ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*rules.Rule
	for rows.Next() {
		var rule rules.Rule
		if err := rows.Scan(&rule.ID, &rule.OrgID, &rule.Name, &rule.Type,
			&rule.VersionCount, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetVersions(ruleID string) ([]*rules.RuleVersion, error) {
	rows, err := s.db.Query(`
		SELECT id, rule_id, version_number, status, conditions, outcome, scope, created_at, updated_at
		FROM rule_versions
		WHERE rule_id = $1
		ORDER BY version_number ASC
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var out []*rules.RuleVersion
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetVersion(versionID string) (*rules.RuleVersion, error) {
	row := s.db.QueryRow(`
		SELECT id, rule_id, version_number, status, conditions, outcome, scope, created_at, updated_at
		FROM rule_versions
		WHERE id = $1
	`, versionID)
	version, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}
	return version, err
}

func (s *PostgresStore) CreateVersion(ruleID string, version *rules.RuleVersion) error {
	conditions, outcome, scope, err := marshalVersionContent(version)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	version.ID = uuid.NewString()
	version.RuleID = ruleID
	version.Status = rules.StatusDraft
	now := time.Now()
	version.CreatedAt = now
	version.UpdatedAt = now

	// The number is derived from the stored versions inside the
	// transaction, never from in-process state.
	err = tx.QueryRow(`
		INSERT INTO rule_versions (id, rule_id, version_number, status, conditions, outcome, scope, created_at, updated_at)
		SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3, $4, $5, $6, $7, $8
		FROM rule_versions
		WHERE rule_id = $2
		RETURNING version_number
	`, version.ID, ruleID, version.Status, conditions, outcome, scope, now, now).Scan(&version.VersionNumber)
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}

	if err := bumpVersionCount(tx, ruleID, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) UpdateVersion(version *rules.RuleVersion) error {
	existing, err := s.GetVersion(version.ID)
	if err != nil {
		return err
	}
	if err := rules.EnsureDraft(existing); err != nil {
		return err
	}

	conditions, outcome, scope, err := marshalVersionContent(version)
	if err != nil {
		return err
	}
	version.UpdatedAt = time.Now()

	// The status guard repeats in SQL so a concurrent publish between
	// the read and the write still wins.
	result, err := s.db.Exec(`
		UPDATE rule_versions
		SET conditions = $1, outcome = $2, scope = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`, conditions, outcome, scope, version.UpdatedAt, version.ID, rules.StatusDraft)
	if err != nil {
		return fmt.Errorf("failed to update version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: version %s", rules.ErrNotDraft, version.ID)
	}
	return nil
}

func (s *PostgresStore) TransitionVersion(versionID string, to rules.VersionStatus, validation rules.ValidationResult) (*rules.RuleVersion, error) {
	version, err := s.GetVersion(versionID)
	if err != nil {
		return nil, err
	}

	from := version.Status
	if err := rules.Transition(version, to, validation); err != nil {
		return nil, err
	}
	version.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE rule_versions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`, to, version.UpdatedAt, versionID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to transition version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: version %s changed concurrently", rules.ErrInvalidTransition, versionID)
	}
	return version, nil
}

func (s *PostgresStore) CloneVersion(versionID string) (*rules.RuleVersion, error) {
	src, err := s.GetVersion(versionID)
	if err != nil {
		return nil, err
	}

	clone := rules.CloneVersion(src, 0)
	conditions, outcome, scope, err := marshalVersionContent(clone)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	clone.ID = uuid.NewString()
	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now

	err = tx.QueryRow(`
		INSERT INTO rule_versions (id, rule_id, version_number, status, conditions, outcome, scope, created_at, updated_at)
		SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3, $4, $5, $6, $7, $8
		FROM rule_versions
		WHERE rule_id = $2
		RETURNING version_number
	`, clone.ID, src.RuleID, clone.Status, conditions, outcome, scope, now, now).Scan(&clone.VersionNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to insert cloned version: %w", err)
	}

	if err := bumpVersionCount(tx, src.RuleID, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return clone, nil
}

func (s *PostgresStore) ListPublished(orgID string) ([]rules.RuleWithVersion, error) {
	rows, err := s.db.Query(`
		SELECT r.id, r.org_id, r.name, r.type, r.version_count, r.created_at, r.updated_at,
		       v.id, v.rule_id, v.version_number, v.status, v.conditions, v.outcome, v.scope, v.created_at, v.updated_at
		FROM rules r
		JOIN rule_versions v ON v.rule_id = r.id
		WHERE r.org_id = $1 AND v.status = $2
		ORDER BY r.type ASC, r.id ASC, v.version_number ASC
	`, orgID, rules.StatusPublished)
	if err != nil {
		return nil, fmt.Errorf("failed to list published rules: %w", err)
	}
	defer rows.Close()

	var out []rules.RuleWithVersion
	for rows.Next() {
		var rule rules.Rule
		var version rules.RuleVersion
		var conditions, outcome, scope []byte
		if err := rows.Scan(
			&rule.ID, &rule.OrgID, &rule.Name, &rule.Type, &rule.VersionCount, &rule.CreatedAt, &rule.UpdatedAt,
			&version.ID, &version.RuleID, &version.VersionNumber, &version.Status,
			&conditions, &outcome, &scope, &version.CreatedAt, &version.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan published rule: %w", err)
		}
		if err := unmarshalVersionContent(&version, conditions, outcome, scope); err != nil {
			return nil, err
		}
		out = append(out, rules.RuleWithVersion{Rule: &rule, Version: &version})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating published rules: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Orgs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT org_id FROM dictionary_fields ORDER BY org_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list orgs: %w", err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var orgID string
		if err := rows.Scan(&orgID); err != nil {
			return nil, fmt.Errorf("failed to scan org: %w", err)
		}
		orgs = append(orgs, orgID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orgs: %w", err)
	}
	return orgs, nil
}

func (s *PostgresStore) ActiveFields(orgID string) ([]rules.FieldDef, error) {
	return s.listFields(orgID, true)
}

func (s *PostgresStore) AllFields(orgID string) ([]rules.FieldDef, error) {
	return s.listFields(orgID, false)
}

func (s *PostgresStore) listFields(orgID string, activeOnly bool) ([]rules.FieldDef, error) {
	query := `
		SELECT code, type, status, allowed_values, replaced_by
		FROM dictionary_fields
		WHERE org_id = $1
	`
	if activeOnly {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY code ASC`

	rows, err := s.db.Query(query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dictionary fields: %w", err)
	}
	defer rows.Close()

	var out []rules.FieldDef
	for rows.Next() {
		var f rules.FieldDef
		var allowed []byte
		var replacedBy sql.NullString
		if err := rows.Scan(&f.Code, &f.Type, &f.Status, &allowed, &replacedBy); err != nil {
			return nil, fmt.Errorf("failed to scan dictionary field: %w", err)
		}
		if len(allowed) > 0 {
			if err := json.Unmarshal(allowed, &f.AllowedValues); err != nil {
				return nil, fmt.Errorf("invalid allowed values for field %s: %w", f.Code, err)
			}
		}
		f.ReplacedBy = replacedBy.String
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dictionary fields: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertField(orgID string, field rules.FieldDef) error {
	allowed, err := json.Marshal(field.AllowedValues)
	if err != nil {
		return fmt.Errorf("failed to marshal allowed values: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO dictionary_fields (org_id, code, type, status, allowed_values, replaced_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (org_id, code)
		DO UPDATE SET type = $3, status = $4, allowed_values = $5, replaced_by = $6
	`, orgID, field.Code, field.Type, field.Status, allowed, field.ReplacedBy)
	if err != nil {
		return fmt.Errorf("failed to upsert dictionary field: %w", err)
	}
	return nil
}

func (s *PostgresStore) DerivedFields(orgID string) ([]rules.DerivedField, error) {
	rows, err := s.db.Query(`
		SELECT code, type, expression
		FROM derived_fields
		WHERE org_id = $1
		ORDER BY code ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list derived fields: %w", err)
	}
	defer rows.Close()

	var out []rules.DerivedField
	for rows.Next() {
		var f rules.DerivedField
		if err := rows.Scan(&f.Code, &f.Type, &f.Expression); err != nil {
			return nil, fmt.Errorf("failed to scan derived field: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating derived fields: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertDerivedField(orgID string, field rules.DerivedField) error {
	_, err := s.db.Exec(`
		INSERT INTO derived_fields (org_id, code, type, expression)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, code)
		DO UPDATE SET type = $3, expression = $4
	`, orgID, field.Code, field.Type, field.Expression)
	if err != nil {
		return fmt.Errorf("failed to upsert derived field: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*rules.RuleVersion, error) {
	var version rules.RuleVersion
	var conditions, outcome, scope []byte
	err := row.Scan(
		&version.ID, &version.RuleID, &version.VersionNumber, &version.Status,
		&conditions, &outcome, &scope, &version.CreatedAt, &version.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalVersionContent(&version, conditions, outcome, scope); err != nil {
		return nil, err
	}
	return &version, nil
}

func marshalVersionContent(v *rules.RuleVersion) (conditions, outcome, scope []byte, err error) {
	conditions, err = json.Marshal(v.Conditions)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	outcome, err = json.Marshal(v.Outcome)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal outcome: %w", err)
	}
	scope, err = json.Marshal(v.Scope)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal scope: %w", err)
	}
	return conditions, outcome, scope, nil
}

func unmarshalVersionContent(v *rules.RuleVersion, conditions, outcome, scope []byte) error {
	if len(conditions) > 0 && string(conditions) != "null" {
		v.Conditions = &rules.ConditionGroup{}
		if err := json.Unmarshal(conditions, v.Conditions); err != nil {
			return fmt.Errorf("invalid conditions for version %s: %w", v.ID, err)
		}
	}
	if err := json.Unmarshal(outcome, &v.Outcome); err != nil {
		return fmt.Errorf("invalid outcome for version %s: %w", v.ID, err)
	}
	if err := json.Unmarshal(scope, &v.Scope); err != nil {
		return fmt.Errorf("invalid scope for version %s: %w", v.ID, err)
	}
	return nil
}

func bumpVersionCount(tx *sql.Tx, ruleID string, now time.Time) error {
	result, err := tx.Exec(`
		UPDATE rules
		SET version_count = (SELECT COUNT(*) FROM rule_versions WHERE rule_id = $1),
		    updated_at = $2
		WHERE id = $1
	`, ruleID, now)
	if err != nil {
		return fmt.Errorf("failed to update version count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	return nil
}
