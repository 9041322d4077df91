package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// FieldType is the declared type of a dictionary field. Enum values are
// carried as strings; membership is governed by the field's AllowedValues.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInt     FieldType = "int"
	FieldDecimal FieldType = "decimal"
	FieldBool    FieldType = "bool"
	FieldDate    FieldType = "date"
	FieldEnum    FieldType = "enum"
)

// FieldStatus is the dictionary lifecycle state of a field.
type FieldStatus string

const (
	FieldActive     FieldStatus = "active"
	FieldDeprecated FieldStatus = "deprecated"
)

// FieldDef is one externally governed dictionary field definition.
type FieldDef struct {
	Code          string      `json:"code"`
	Type          FieldType   `json:"type"`
	Status        FieldStatus `json:"status"`
	AllowedValues []string    `json:"allowedValues,omitempty"`
	ReplacedBy    string      `json:"replacedBy,omitempty"`
}

// Dictionary is a point-in-time snapshot of field definitions keyed by code.
type Dictionary map[string]FieldDef

// NewDictionary builds a Dictionary from a list of field definitions.
func NewDictionary(fields []FieldDef) Dictionary {
	d := make(Dictionary, len(fields))
	for _, f := range fields {
		d[f.Code] = f
	}
	return d
}

// ValueKind tags the runtime representation of a Value.
type ValueKind int

const (
	KindAbsent ValueKind = iota
	KindString
	KindInt
	KindDecimal
	KindBool
	KindDate
	KindList
)

const dateLayout = "2006-01-02"

// Value is a tagged runtime value: the single representation used for
// context inputs and expected values, so condition evaluation never
// performs ad hoc type coercion.
type Value struct {
	kind ValueKind
	str  string
	i    int64
	f    float64
	b    bool
	t    time.Time
	list []Value
}

// Absent is the explicit marker for a missing value.
var Absent = Value{kind: KindAbsent}

func StringValue(s string) Value     { return Value{kind: KindString, str: s} }
func IntValue(i int64) Value         { return Value{kind: KindInt, i: i} }
func DecimalValue(f float64) Value   { return Value{kind: KindDecimal, f: f} }
func BoolValue(b bool) Value         { return Value{kind: KindBool, b: b} }
func ListValue(vs ...Value) Value    { return Value{kind: KindList, list: vs} }

// DateValue truncates t to its calendar day in UTC; date comparisons are
// calendar comparisons, never instant comparisons.
func DateValue(t time.Time) Value {
	y, m, d := t.UTC().Date()
	return Value{kind: KindDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsAbsent() bool  { return v.kind == KindAbsent }

// IsEmpty reports whether the value is absent, an empty string, or an
// empty list.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindAbsent:
		return true
	case KindString:
		return v.str == ""
	case KindList:
		return len(v.list) == 0
	default:
		return false
	}
}

// String renders the value for trace entries.
func (v Value) String() string {
	switch v.kind {
	case KindAbsent:
		return "absent"
	case KindString:
		return v.str
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindDecimal:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v.f), "0"), ".")
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindDate:
		return v.t.Format(dateLayout)
	case KindList:
		parts := make([]string, len(v.list))
		for n, elem := range v.list {
			parts[n] = elem.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("value(kind=%d)", int(v.kind))
	}
}

// List returns the elements of a list value, or nil for other kinds.
func (v Value) List() []Value { return v.list }

// numeric returns the value as a float64 for ordered comparison.
func (v Value) numeric() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindDecimal:
		return v.f, true
	default:
		return 0, false
	}
}

// valuesEqual applies the dictionary type's equality semantics: numeric
// equality for int/decimal, calendar equality for dates, identity for
// bool, exact match for string/enum.
func valuesEqual(a, b Value, ft FieldType) (bool, error) {
	if a.kind == KindAbsent || b.kind == KindAbsent {
		return false, fmt.Errorf("cannot compare absent value")
	}
	switch ft {
	case FieldInt, FieldDecimal:
		an, aok := a.numeric()
		bn, bok := b.numeric()
		if !aok || !bok {
			return false, fmt.Errorf("expected numeric value, got %s and %s", a, b)
		}
		return an == bn, nil
	case FieldBool:
		if a.kind != KindBool || b.kind != KindBool {
			return false, fmt.Errorf("expected boolean value, got %s and %s", a, b)
		}
		return a.b == b.b, nil
	case FieldDate:
		if a.kind != KindDate || b.kind != KindDate {
			return false, fmt.Errorf("expected date value, got %s and %s", a, b)
		}
		return a.t.Equal(b.t), nil
	case FieldString, FieldEnum:
		if a.kind != KindString || b.kind != KindString {
			return false, fmt.Errorf("expected string value, got %s and %s", a, b)
		}
		return a.str == b.str, nil
	default:
		return false, fmt.Errorf("unknown field type %q", ft)
	}
}

// compareValues orders a against b (-1, 0, 1). Ordering is defined only
// for int/decimal (numeric) and date (calendar) fields.
func compareValues(a, b Value, ft FieldType) (int, error) {
	if a.kind == KindAbsent || b.kind == KindAbsent {
		return 0, fmt.Errorf("cannot compare absent value")
	}
	switch ft {
	case FieldInt, FieldDecimal:
		an, aok := a.numeric()
		bn, bok := b.numeric()
		if !aok || !bok {
			return 0, fmt.Errorf("expected numeric value, got %s and %s", a, b)
		}
		switch {
		case an < bn:
			return -1, nil
		case an > bn:
			return 1, nil
		default:
			return 0, nil
		}
	case FieldDate:
		if a.kind != KindDate || b.kind != KindDate {
			return 0, fmt.Errorf("expected date value, got %s and %s", a, b)
		}
		switch {
		case a.t.Before(b.t):
			return -1, nil
		case a.t.After(b.t):
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("ordering not defined for field type %q", ft)
	}
}

// ValueFromAny converts a dynamically typed input (typically decoded
// JSON) to a Value according to the field's declared type.
func ValueFromAny(raw any, ft FieldType) (Value, error) {
	if raw == nil {
		return Absent, nil
	}
	switch ft {
	case FieldInt:
		switch n := raw.(type) {
		case float64:
			if n != math.Trunc(n) {
				return Absent, fmt.Errorf("field value %v is not an integer", n)
			}
			return IntValue(int64(n)), nil
		case int:
			return IntValue(int64(n)), nil
		case int64:
			return IntValue(n), nil
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return Absent, fmt.Errorf("field value %v is not an integer", raw)
			}
			return IntValue(i), nil
		}
	case FieldDecimal:
		switch n := raw.(type) {
		case float64:
			return DecimalValue(n), nil
		case int:
			return DecimalValue(float64(n)), nil
		case int64:
			return DecimalValue(float64(n)), nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return Absent, fmt.Errorf("field value %v is not a number", raw)
			}
			return DecimalValue(f), nil
		}
	case FieldBool:
		if b, ok := raw.(bool); ok {
			return BoolValue(b), nil
		}
	case FieldDate:
		if s, ok := raw.(string); ok {
			t, err := time.Parse(dateLayout, s)
			if err != nil {
				// RFC 3339 timestamps are accepted and truncated to the day.
				t, err = time.Parse(time.RFC3339, s)
				if err != nil {
					return Absent, fmt.Errorf("field value %q is not a date", s)
				}
			}
			return DateValue(t), nil
		}
	case FieldString, FieldEnum:
		if s, ok := raw.(string); ok {
			return StringValue(s), nil
		}
	default:
		return Absent, fmt.Errorf("unknown field type %q", ft)
	}
	return Absent, fmt.Errorf("field value %v (%T) does not match declared type %q", raw, raw, ft)
}

// ValueForField converts raw input per the field definition and
// additionally rejects enum values outside the allowed set.
func ValueForField(raw any, def FieldDef) (Value, error) {
	v, err := ValueFromAny(raw, def.Type)
	if err != nil {
		return Absent, err
	}
	if def.Type == FieldEnum && len(def.AllowedValues) > 0 && v.kind == KindString {
		for _, allowed := range def.AllowedValues {
			if v.str == allowed {
				return v, nil
			}
		}
		return Absent, fmt.Errorf("field value %q is not in the allowed set for %q", v.str, def.Code)
	}
	return v, nil
}

// Values are serialized with a kind tag so expected values survive
// storage and transport without losing their declared type.
type valueJSON struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{}
	var inner any
	switch v.kind {
	case KindAbsent:
		return json.Marshal(valueJSON{Type: "absent"})
	case KindString:
		out.Type = "string"
		inner = v.str
	case KindInt:
		out.Type = "int"
		inner = v.i
	case KindDecimal:
		out.Type = "decimal"
		inner = v.f
	case KindBool:
		out.Type = "bool"
		inner = v.b
	case KindDate:
		out.Type = "date"
		inner = v.t.Format(dateLayout)
	case KindList:
		out.Type = "list"
		inner = v.list
	default:
		return nil, fmt.Errorf("cannot marshal value of kind %d", int(v.kind))
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	out.Value = raw
	return json.Marshal(out)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw valueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case "absent":
		*v = Absent
	case "string":
		var s string
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case "int":
		var i int64
		if err := json.Unmarshal(raw.Value, &i); err != nil {
			return err
		}
		*v = IntValue(i)
	case "decimal":
		var f float64
		if err := json.Unmarshal(raw.Value, &f); err != nil {
			return err
		}
		*v = DecimalValue(f)
	case "bool":
		var b bool
		if err := json.Unmarshal(raw.Value, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case "date":
		var s string
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			return err
		}
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return fmt.Errorf("invalid date value %q: %w", s, err)
		}
		*v = DateValue(t)
	case "list":
		var list []Value
		if err := json.Unmarshal(raw.Value, &list); err != nil {
			return err
		}
		*v = Value{kind: KindList, list: list}
	default:
		return fmt.Errorf("unknown value type %q", raw.Type)
	}
	return nil
}
