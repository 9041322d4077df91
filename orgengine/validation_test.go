package orgengine

import (
	"strings"
	"testing"

	"github.com/harborpoint/underwriting/rules"
)

func TestValidateFieldDef(t *testing.T) {
	tests := []struct {
		name    string
		field   rules.FieldDef
		wantErr bool
	}{
		{
			name:  "valid int field",
			field: rules.FieldDef{Code: "buildingAge", Type: rules.FieldInt, Status: rules.FieldActive},
		},
		{
			name:  "valid enum field",
			field: rules.FieldDef{Code: "state", Type: rules.FieldEnum, Status: rules.FieldActive, AllowedValues: []string{"CA", "TX"}},
		},
		{
			name:  "valid deprecated field",
			field: rules.FieldDef{Code: "roofType", Type: rules.FieldString, Status: rules.FieldDeprecated, ReplacedBy: "roofMaterial"},
		},
		{
			name:    "empty code",
			field:   rules.FieldDef{Code: "", Type: rules.FieldInt, Status: rules.FieldActive},
			wantErr: true,
		},
		{
			name:    "code with dash",
			field:   rules.FieldDef{Code: "building-age", Type: rules.FieldInt, Status: rules.FieldActive},
			wantErr: true,
		},
		{
			name:    "code starting with digit",
			field:   rules.FieldDef{Code: "1stFloor", Type: rules.FieldBool, Status: rules.FieldActive},
			wantErr: true,
		},
		{
			name:    "code over 100 characters",
			field:   rules.FieldDef{Code: strings.Repeat("a", 101), Type: rules.FieldInt, Status: rules.FieldActive},
			wantErr: true,
		},
		{
			name:    "reserved keyword code",
			field:   rules.FieldDef{Code: "in", Type: rules.FieldString, Status: rules.FieldActive},
			wantErr: true,
		},
		{
			name:    "invalid type",
			field:   rules.FieldDef{Code: "buildingAge", Type: "float", Status: rules.FieldActive},
			wantErr: true,
		},
		{
			name:    "invalid status",
			field:   rules.FieldDef{Code: "buildingAge", Type: rules.FieldInt, Status: "retired"},
			wantErr: true,
		},
		{
			name:    "enum without allowed values",
			field:   rules.FieldDef{Code: "state", Type: rules.FieldEnum, Status: rules.FieldActive},
			wantErr: true,
		},
		{
			name:    "non-enum with allowed values",
			field:   rules.FieldDef{Code: "buildingAge", Type: rules.FieldInt, Status: rules.FieldActive, AllowedValues: []string{"1"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFieldDef(tt.field)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFieldDef() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDerivedField(t *testing.T) {
	dict := rules.NewDictionary([]rules.FieldDef{
		{Code: "yearBuilt", Type: rules.FieldInt, Status: rules.FieldActive},
	})

	tests := []struct {
		name    string
		field   rules.DerivedField
		wantErr bool
	}{
		{
			name:  "valid expression",
			field: rules.DerivedField{Code: "buildingAge", Type: rules.FieldInt, Expression: "2026 - yearBuilt"},
		},
		{
			name:    "empty expression",
			field:   rules.DerivedField{Code: "buildingAge", Type: rules.FieldInt, Expression: ""},
			wantErr: true,
		},
		{
			name:    "expression that does not parse",
			field:   rules.DerivedField{Code: "buildingAge", Type: rules.FieldInt, Expression: "2026 -"},
			wantErr: true,
		},
		{
			name:    "invalid code",
			field:   rules.DerivedField{Code: "building-age", Type: rules.FieldInt, Expression: "2026 - yearBuilt"},
			wantErr: true,
		},
		{
			name:    "invalid type",
			field:   rules.DerivedField{Code: "buildingAge", Type: "number", Expression: "2026 - yearBuilt"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDerivedField(dict, tt.field)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDerivedField() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
