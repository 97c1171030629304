package resolve

import (
	"encoding/json"
	"sort"

	"github.com/hostvault/hostvault/pkg/template"
)

// Source records which tier of the template a resolved entry came from.
type Source string

const (
	// SourceShared marks entries inherited from the shared baseline.
	SourceShared Source = "shared"

	// SourceMachineSpecific marks entries contributed or last overridden
	// by a matching machine-specific overlay.
	SourceMachineSpecific Source = "machine_specific"

	// SourceConditional marks entries injected by a conditional section.
	SourceConditional Source = "conditional"
)

// Entry is a resolved configuration entry: the merged free-form fields of
// all contributing template tiers plus provenance metadata.
type Entry struct {
	// Fields holds the merged entry fields, including name/path and any
	// pass-through keys the template author added.
	Fields map[string]any

	// Source is the tier that last determined this entry's value.
	Source Source

	// Priority is the priority of that tier's block.
	Priority int

	// Tags is the sorted union of inheritance tags from all contributing
	// blocks and entries.
	Tags []string

	// ConditionalSection names the conditional section that injected or
	// last overrode this entry, if any.
	ConditionalSection string

	// ConflictResolution names the inheritance-rule conflict policy that
	// re-merged this entry, if any.
	ConflictResolution string

	// contributions records each tier's raw fields in application order,
	// so inheritance rules can re-combine an entry from its sources.
	contributions []contribution
}

// contribution is one tier's raw contribution to an entry.
type contribution struct {
	source   Source
	origin   string
	priority int
	fields   map[string]any
}

// Key returns the entry identity within its section: the "name" field, or
// "path" when no name is set.
func (e *Entry) Key() string {
	if name, ok := e.Fields["name"].(string); ok && name != "" {
		return name
	}
	if path, ok := e.Fields["path"].(string); ok && path != "" {
		return path
	}
	return ""
}

// Name returns the entry's name field, if set.
func (e *Entry) Name() string {
	name, _ := e.Fields["name"].(string)
	return name
}

// HasTag reports whether the entry carries the given inheritance tag.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MarshalJSON flattens the entry fields and provenance metadata into a
// single object, the shape downstream executors consume.
func (e *Entry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+5)
	for k, v := range e.Fields {
		out[k] = v
	}

	out["inheritance_source"] = string(e.Source)
	out["inheritance_priority"] = e.Priority
	if len(e.Tags) > 0 {
		out["inheritance_tags"] = e.Tags
	}
	if e.ConditionalSection != "" {
		out["conditional_section"] = e.ConditionalSection
	}
	if e.ConflictResolution != "" {
		out["conflict_resolution"] = e.ConflictResolution
	}

	return json.Marshal(out)
}

// ResolvedConfig is the flat, provenance-tagged output of resolution.
// Downstream consumers treat it as read-only.
type ResolvedConfig struct {
	// Metadata is carried over from the template.
	Metadata template.Metadata `json:"metadata"`

	// Sections holds the resolved entries by section name, in merge order.
	Sections map[string][]*Entry `json:"sections"`

	// Warnings lists the non-fatal findings collected during resolution.
	Warnings []Warning `json:"warnings,omitempty"`
}

// Section returns the resolved entries of a section, or nil.
func (rc *ResolvedConfig) Section(name string) []*Entry {
	return rc.Sections[name]
}

// SectionNames returns the resolved section names in sorted order.
func (rc *ResolvedConfig) SectionNames() []string {
	names := make([]string, 0, len(rc.Sections))
	for name := range rc.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Find returns the first entry with the given key in a section, or nil.
func (rc *ResolvedConfig) Find(section, key string) *Entry {
	for _, entry := range rc.Sections[section] {
		if entry.Key() == key {
			return entry
		}
	}
	return nil
}

// EntryCount returns the total number of resolved entries.
func (rc *ResolvedConfig) EntryCount() int {
	n := 0
	for _, entries := range rc.Sections {
		n += len(entries)
	}
	return n
}

// FieldSchema describes the expectation for a single entry field under
// strict validation.
type FieldSchema struct {
	// Required fails validation when the field is absent.
	Required bool

	// Type is the expected field kind: string, bool, int, float, list,
	// or map. Empty means any.
	Type string

	// Validator is an optional predicate on the field value.
	Validator func(any) bool
}

// ValidationSchema maps entry field names to their strict-mode schema.
type ValidationSchema map[string]FieldSchema
