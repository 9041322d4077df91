package orgengine

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/harborpoint/underwriting/rules"
)

// Deriver computes derived dictionary fields from raw submission inputs
// before evaluation. Expressions are CEL, compiled once per org load, so
// the rule engine itself only ever sees plain typed values.
type Deriver struct {
	fields   []rules.DerivedField
	programs map[string]cel.Program
}

// NewCELEnv creates a CEL environment with one variable per dictionary
// field. DynType keeps type checking at runtime, matching how submission
// inputs arrive as untyped JSON.
func NewCELEnv(dict rules.Dictionary) (*cel.Env, error) {
	var opts []cel.EnvOption
	for code := range dict {
		opts = append(opts, cel.Variable(code, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// NewDeriver compiles every derived field expression against the org's
// dictionary. A field that fails to compile fails the whole load; bad
// expressions are caught at authoring time by ValidateDerivedField, so
// this only trips on dictionary drift.
func NewDeriver(dict rules.Dictionary, fields []rules.DerivedField) (*Deriver, error) {
	env, err := NewCELEnv(dict)
	if err != nil {
		return nil, err
	}

	d := &Deriver{
		fields:   fields,
		programs: make(map[string]cel.Program, len(fields)),
	}
	for _, field := range fields {
		ast, issues := env.Compile(field.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("derived field %s: compile error: %w", field.Code, issues.Err())
		}

		// Cost limit guards against runaway expressions from authors.
		prog, err := env.Program(ast,
			cel.EvalOptions(cel.OptTrackState),
			cel.CostLimit(1000000),
		)
		if err != nil {
			return nil, fmt.Errorf("derived field %s: program creation error: %w", field.Code, err)
		}
		d.programs[field.Code] = prog
	}
	return d, nil
}

// Apply evaluates every derived field against the raw inputs and returns
// a new map containing the raw inputs plus the derived outputs. A field
// whose expression errors at runtime (missing input, type clash) is left
// out, so it resolves as absent downstream rather than failing the
// evaluation.
func (d *Deriver) Apply(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw)+len(d.fields))
	for k, v := range raw {
		out[k] = v
	}

	// Raw inputs win: a submission that already carries a value for a
	// derived code keeps it.
	for _, field := range d.fields {
		if _, exists := out[field.Code]; exists {
			continue
		}
		prog := d.programs[field.Code]
		val, _, err := prog.Eval(out)
		if err != nil {
			continue
		}
		out[field.Code] = val.Value()
	}
	return out
}
