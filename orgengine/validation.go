package orgengine

import (
	"fmt"
	"regexp"

	"github.com/harborpoint/underwriting/rules"
)

var validFieldCode = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateFieldDef checks a dictionary field definition before it is
// stored. Returns an error describing the first problem found.
func ValidateFieldDef(field rules.FieldDef) error {
	if err := validateFieldCode(field.Code); err != nil {
		return err
	}
	if !isValidFieldType(field.Type) {
		return fmt.Errorf("field %q has invalid type %q (must be one of: string, int, decimal, bool, date, enum)", field.Code, field.Type)
	}
	if field.Status != rules.FieldActive && field.Status != rules.FieldDeprecated {
		return fmt.Errorf("field %q has invalid status %q (must be active or deprecated)", field.Code, field.Status)
	}
	if field.Type == rules.FieldEnum && len(field.AllowedValues) == 0 {
		return fmt.Errorf("enum field %q must declare allowed values", field.Code)
	}
	if field.Type != rules.FieldEnum && len(field.AllowedValues) > 0 {
		return fmt.Errorf("field %q of type %q cannot declare allowed values", field.Code, field.Type)
	}
	return nil
}

// ValidateDerivedField checks a derived field definition, including
// that its expression compiles against the org's dictionary.
func ValidateDerivedField(dict rules.Dictionary, field rules.DerivedField) error {
	if err := validateFieldCode(field.Code); err != nil {
		return err
	}
	if !isValidFieldType(field.Type) {
		return fmt.Errorf("derived field %q has invalid type %q", field.Code, field.Type)
	}
	if field.Expression == "" {
		return fmt.Errorf("derived field %q has no expression", field.Code)
	}

	env, err := NewCELEnv(dict)
	if err != nil {
		return err
	}
	if _, issues := env.Compile(field.Expression); issues != nil && issues.Err() != nil {
		return fmt.Errorf("derived field %q does not compile: %w", field.Code, issues.Err())
	}
	return nil
}

// validateFieldCode enforces identifier shape: starts with a letter or
// underscore, then letters, digits, or underscores, at most 100
// characters. Field codes double as CEL variable names, so reserved
// keywords are rejected too.
func validateFieldCode(code string) error {
	if len(code) == 0 {
		return fmt.Errorf("field code cannot be empty")
	}
	if len(code) > 100 {
		return fmt.Errorf("field code length %d exceeds maximum of 100 characters", len(code))
	}
	if !validFieldCode.MatchString(code) {
		return fmt.Errorf("field code %q must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$", code)
	}
	if isReservedKeyword(code) {
		return fmt.Errorf("field code %q is a reserved keyword", code)
	}
	return nil
}

func isValidFieldType(ft rules.FieldType) bool {
	switch ft {
	case rules.FieldString, rules.FieldInt, rules.FieldDecimal, rules.FieldBool, rules.FieldDate, rules.FieldEnum:
		return true
	}
	return false
}

// isReservedKeyword checks CEL reserved words that cannot name a
// variable.
func isReservedKeyword(name string) bool {
	reservedKeywords := map[string]bool{
		"true":      true,
		"false":     true,
		"null":      true,
		"if":        true,
		"else":      true,
		"for":       true,
		"while":     true,
		"break":     true,
		"continue":  true,
		"return":    true,
		"var":       true,
		"let":       true,
		"const":     true,
		"function":  true,
		"in":        true,
		"as":        true,
		"import":    true,
		"package":   true,
		"namespace": true,
		"loop":      true,
		"void":      true,
	}
	return reservedKeywords[name]
}
