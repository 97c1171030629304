package template

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for raw template shape validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("template", builtinTemplateSchema)
	sr.RegisterSchema("selector", builtinSelectorSchema)
	sr.RegisterSchema("condition", builtinConditionSchema)
	sr.RegisterSchema("inheritance_rule", builtinRuleSchema)
}

// RegisterSchema registers a CUE schema under the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data any) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions. Section entry lists stay open: entries are
// free-form maps keyed by name (or path), and unknown sections pass
// through resolution untouched.

const builtinTemplateSchema = `
metadata?: {
	name?:        string
	version?:     string
	description?: string
	...
}

configuration?: {
	inheritance_mode?:   string
	machine_precedence?: bool
	validation_level?:   "off" | "moderate" | "strict"
	fallback_strategy?:  "shared_only" | "strict"
	...
}

shared?: {
	priority?:        int
	override_policy?: string
	tags?: [...string]
	...
}

machine_specific?: [...{
	name?: string
	machine_selectors?: [...{
		type:            string
		value?:          string
		operator?:       string
		case_sensitive?: bool
		expected_value?: string
	}]
	priority?:       int
	merge_strategy?: "merge" | "replace"
	tags?: [...string]
	...
}]

inheritance_rules?: [...{
	name?: string
	applies_to?: [...string]
	condition?: {
		field?:    string
		operator?: string
		value?:    string
	}
	action?: "merge" | "override"
	parameters?: {...}
}]

conditional_sections?: [...{
	name?: string
	conditions?: [...{
		type:             string
		variable?:        string
		check?:           string
		operator?:        string
		case_sensitive?:  bool
		expected_value?:  string
		expected_result?: string
		on_failure?:      "skip"
	}]
	logic?: "and" | "or"
	tags?: [...string]
	...
}]
...
`

const builtinSelectorSchema = `
type:            string
value?:          string
operator?:       "equals" | "contains" | "matches"
case_sensitive?: bool
expected_value?: string
`

const builtinConditionSchema = `
type:             "environment_variable" | "machine_name" | "named_predicate"
variable?:        string
check?:           string
operator?:        "equals" | "contains" | "matches"
case_sensitive?:  bool
expected_value?:  string
expected_result?: string
on_failure?:      "skip"
`

const builtinRuleSchema = `
name?: string
applies_to?: [...string]
condition?: {
	field?:    string
	operator?: string
	value?:    string
}
action?: "merge" | "override"
parameters?: {...}
`
