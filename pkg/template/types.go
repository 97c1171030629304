// Package template defines the raw backup/restore template model and its
// YAML loader. A template is the declarative input of the resolution
// engine: a shared baseline, priority-ordered machine-specific overlays,
// inheritance rules, and conditional sections.
package template

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Validation levels accepted by configuration.validation_level.
const (
	ValidationOff      = "off"
	ValidationModerate = "moderate"
	ValidationStrict   = "strict"
)

// Merge strategies accepted by machine_specific[].merge_strategy.
const (
	MergeStrategyMerge   = "merge"
	MergeStrategyReplace = "replace"
)

// Fallback strategies accepted by configuration.fallback_strategy.
const (
	FallbackSharedOnly = "shared_only"
	FallbackStrict     = "strict"
)

// Entry is a single raw configuration entry within a section: a map with
// at least a "name" (or "path" as fallback key) plus free-form fields that
// pass through resolution untouched.
type Entry map[string]any

// Key returns the identity of the entry within its section: "name", or
// "path" when no name is set. Empty when the entry carries neither.
func (e Entry) Key() string {
	if name, ok := e["name"].(string); ok && name != "" {
		return name
	}
	if path, ok := e["path"].(string); ok && path != "" {
		return path
	}
	return ""
}

// Sections maps a section name (files, registry, applications,
// prerequisites, ...) to its list of entries.
type Sections map[string][]Entry

// Template is a parsed raw template, prior to resolution.
type Template struct {
	Metadata            Metadata             `yaml:"metadata" json:"metadata"`
	Configuration       Settings             `yaml:"configuration" json:"configuration"`
	Shared              SharedBlock          `yaml:"shared" json:"shared"`
	MachineSpecific     []MachineBlock       `yaml:"machine_specific" json:"machine_specific,omitempty"`
	InheritanceRules    []InheritanceRule    `yaml:"inheritance_rules" json:"inheritance_rules,omitempty"`
	ConditionalSections []ConditionalSection `yaml:"conditional_sections" json:"conditional_sections,omitempty"`

	// SourceFile is the file the template was loaded from, if any.
	SourceFile string `yaml:"-" json:"source_file,omitempty"`
}

// Metadata identifies a template.
type Metadata struct {
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// Settings holds template-wide resolution configuration.
type Settings struct {
	InheritanceMode string `yaml:"inheritance_mode" json:"inheritance_mode,omitempty"`

	// MachinePrecedence controls conflict resolution between shared and
	// machine-specific entries. Unset means true (machine wins).
	MachinePrecedence *bool `yaml:"machine_precedence" json:"machine_precedence,omitempty"`

	ValidationLevel  string `yaml:"validation_level" json:"validation_level,omitempty" validate:"omitempty,oneof=off moderate strict"`
	FallbackStrategy string `yaml:"fallback_strategy" json:"fallback_strategy,omitempty" validate:"omitempty,oneof=shared_only strict"`
}

// MachineWins reports whether machine-specific entries win conflicts
// against the shared baseline. Defaults to true.
func (s Settings) MachineWins() bool {
	return s.MachinePrecedence == nil || *s.MachinePrecedence
}

// Level returns the effective validation level, defaulting to moderate.
func (s Settings) Level() string {
	if s.ValidationLevel == "" {
		return ValidationModerate
	}
	return s.ValidationLevel
}

// SharedBlock is the baseline configuration every machine inherits.
type SharedBlock struct {
	Priority       int      `yaml:"-" json:"priority"`
	OverridePolicy string   `yaml:"-" json:"override_policy,omitempty"`
	Tags           []string `yaml:"-" json:"tags,omitempty"`
	Sections       Sections `yaml:"-" json:"sections,omitempty"`
}

// UnmarshalYAML decodes the known keys of a shared block and treats every
// remaining mapping key as an entries-by-section collection.
func (b *SharedBlock) UnmarshalYAML(node *yaml.Node) error {
	return decodeBlock(node, b.knownFields(), &b.Sections)
}

func (b *SharedBlock) knownFields() map[string]any {
	return map[string]any{
		"priority":        &b.Priority,
		"override_policy": &b.OverridePolicy,
		"tags":            &b.Tags,
	}
}

// MachineBlock is a machine-specific overlay applied on top of the shared
// baseline when all of its selectors match the machine context.
type MachineBlock struct {
	Name             string     `yaml:"-" json:"name,omitempty"`
	MachineSelectors []Selector `yaml:"-" json:"machine_selectors"`
	Priority         int        `yaml:"-" json:"priority"`
	MergeStrategy    string     `yaml:"-" json:"merge_strategy,omitempty"`
	Tags             []string   `yaml:"-" json:"tags,omitempty"`
	Sections         Sections   `yaml:"-" json:"sections,omitempty"`
}

// UnmarshalYAML decodes the known keys of a machine block and treats every
// remaining mapping key as an entries-by-section collection.
func (b *MachineBlock) UnmarshalYAML(node *yaml.Node) error {
	known := map[string]any{
		"name":              &b.Name,
		"machine_selectors": &b.MachineSelectors,
		"priority":          &b.Priority,
		"merge_strategy":    &b.MergeStrategy,
		"tags":              &b.Tags,
	}
	return decodeBlock(node, known, &b.Sections)
}

// Selector is a predicate over machine facts. All selectors of a machine
// block must match for the block to apply.
type Selector struct {
	// Type names the fact to compare: machine_name, hostname_pattern,
	// environment_variable, user_name, os_version, architecture, domain.
	Type string `yaml:"type" json:"type" validate:"required"`

	// Value is the comparison operand; for environment_variable it names
	// the variable and ExpectedValue carries the operand.
	Value string `yaml:"value" json:"value"`

	// Operator is equals, contains, or matches (regular expression).
	Operator string `yaml:"operator" json:"operator,omitempty"`

	CaseSensitive bool   `yaml:"case_sensitive" json:"case_sensitive,omitempty"`
	ExpectedValue string `yaml:"expected_value" json:"expected_value,omitempty"`
}

// InheritanceRule is a declarative post-merge transformation applied to
// entries matching a tag-based condition.
type InheritanceRule struct {
	Name       string         `yaml:"name" json:"name"`
	AppliesTo  []string       `yaml:"applies_to" json:"applies_to"`
	Condition  *RuleCondition `yaml:"condition" json:"condition,omitempty"`
	Action     string         `yaml:"action" json:"action" validate:"omitempty,oneof=merge override"`
	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`
}

// RuleCondition is a predicate over resolved-entry metadata. The zero
// Field defaults to inheritance_tags.
type RuleCondition struct {
	Field    string `yaml:"field" json:"field,omitempty"`
	Operator string `yaml:"operator" json:"operator,omitempty"`
	Value    string `yaml:"value" json:"value"`
}

// Condition is a single runtime check guarding a conditional section.
type Condition struct {
	// Type is environment_variable, machine_name, or named_predicate.
	Type string `yaml:"type" json:"type" validate:"required"`

	// Variable names the environment variable for environment_variable
	// conditions.
	Variable string `yaml:"variable" json:"variable,omitempty"`

	// Check names the registered predicate for named_predicate conditions.
	Check string `yaml:"check" json:"check,omitempty"`

	Operator       string `yaml:"operator" json:"operator,omitempty"`
	CaseSensitive  bool   `yaml:"case_sensitive" json:"case_sensitive,omitempty"`
	ExpectedValue  string `yaml:"expected_value" json:"expected_value,omitempty"`
	ExpectedResult string `yaml:"expected_result" json:"expected_result,omitempty"`

	// OnFailure controls what happens when evaluation fails; skip is the
	// only supported policy.
	OnFailure string `yaml:"on_failure" json:"on_failure,omitempty" validate:"omitempty,oneof=skip"`
}

// ConditionalSection is a block injected only when its conditions hold.
type ConditionalSection struct {
	Name       string      `yaml:"-" json:"name"`
	Conditions []Condition `yaml:"-" json:"conditions"`
	Logic      string      `yaml:"-" json:"logic,omitempty"`
	Tags       []string    `yaml:"-" json:"tags,omitempty"`
	Sections   Sections    `yaml:"-" json:"sections,omitempty"`
}

// UnmarshalYAML decodes the known keys of a conditional section and treats
// every remaining mapping key as an entries-by-section collection.
func (cs *ConditionalSection) UnmarshalYAML(node *yaml.Node) error {
	known := map[string]any{
		"name":       &cs.Name,
		"conditions": &cs.Conditions,
		"logic":      &cs.Logic,
		"tags":       &cs.Tags,
	}
	return decodeBlock(node, known, &cs.Sections)
}

// decodeBlock splits a YAML mapping into known typed fields and free-form
// entries-by-section collections.
func decodeBlock(node *yaml.Node, known map[string]any, sections *Sections) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expected mapping, got %s at line %d", nodeKind(node), node.Line)
	}

	*sections = Sections{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]

		if target, ok := known[key]; ok {
			if err := val.Decode(target); err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			continue
		}

		var entries []Entry
		if err := val.Decode(&entries); err != nil {
			return fmt.Errorf("section %q: %w", key, err)
		}
		(*sections)[key] = entries
	}

	return nil
}

// nodeKind names a YAML node kind for error messages.
func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
