package resolve

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/hostvault/hostvault/pkg/template"
)

// SectionSchemas maps section names to the field schema their entries
// must satisfy under strict validation.
type SectionSchemas map[string]ValidationSchema

// Validator checks a resolved tree against the template's configured
// validation level. Moderate surfaces structural issues as warnings and
// only rejects a tree with no usable identity; strict turns them into
// errors and additionally enforces caller-supplied field schemas.
type Validator struct {
	logger zerolog.Logger
}

// NewValidator creates a validator.
func NewValidator(logger zerolog.Logger) *Validator {
	return &Validator{
		logger: logger.With().Str("component", "validator").Logger(),
	}
}

// Validate checks the resolved tree. The returned warnings are advisory;
// a non-nil error means the tree was rejected.
func (v *Validator) Validate(cfg *ResolvedConfig, level string, schemas SectionSchemas) ([]Warning, error) {
	if level == template.ValidationOff {
		return nil, nil
	}

	var warnings []Warning
	strict := level == template.ValidationStrict

	if strings.TrimSpace(cfg.Metadata.Name) == "" {
		return warnings, NewValidationError("template metadata has no name")
	}

	for _, section := range cfg.SectionNames() {
		entries := cfg.Sections[section]

		var unnamed int
		seen := make(map[string]int, len(entries))
		var duplicates []string
		for _, entry := range entries {
			key := entry.Key()
			if key == "" {
				unnamed++
				continue
			}
			seen[key]++
			if seen[key] == 2 {
				duplicates = append(duplicates, key)
			}
		}

		if unnamed > 0 {
			msg := fmt.Sprintf("%d entries have neither name nor path", unnamed)
			if strict {
				return warnings, NewValidationError(msg).WithSection(section)
			}
			warnings = append(warnings, Warning{
				Class:   ErrorClassValidation,
				Section: section,
				Message: msg,
			})
		}

		if len(duplicates) > 0 {
			msg := fmt.Sprintf("Duplicate names found: %s", strings.Join(duplicates, ", "))
			if strict {
				return warnings, NewValidationError(msg).WithSection(section)
			}
			warnings = append(warnings, Warning{
				Class:   ErrorClassValidation,
				Section: section,
				Message: msg,
			})
		}

		if strict {
			if err := v.checkSchema(section, entries, schemas[section]); err != nil {
				return warnings, err
			}
		}
	}

	v.logger.Debug().
		Str("level", level).
		Int("warnings", len(warnings)).
		Msg("Validation complete")

	return warnings, nil
}

// checkSchema enforces a field schema over every entry of a section,
// failing on the first violation.
func (v *Validator) checkSchema(section string, entries []*Entry, schema ValidationSchema) error {
	if len(schema) == 0 {
		return nil
	}

	for _, entry := range entries {
		for _, field := range sortedSchemaFields(schema) {
			fs := schema[field]
			value, present := entry.Fields[field]

			if !present {
				if fs.Required {
					return NewValidationError(fmt.Sprintf("required field %q missing", field)).
						WithSection(section).WithEntry(entry.Key())
				}
				continue
			}

			if fs.Type != "" && !typeMatches(value, fs.Type) {
				return NewValidationError(fmt.Sprintf("field %q is not of type %s", field, fs.Type)).
					WithSection(section).WithEntry(entry.Key())
			}

			if fs.Validator != nil && !fs.Validator(value) {
				return NewValidationError(fmt.Sprintf("field %q failed validation", field)).
					WithSection(section).WithEntry(entry.Key())
			}
		}
	}

	return nil
}

// typeMatches checks a decoded YAML value against a schema type name:
// string, bool, int, float, list, or map.
func typeMatches(v any, typeName string) bool {
	switch typeName {
	case "string":
		s, ok := v.(string)
		return ok && utf8.ValidString(s)
	case "bool":
		_, ok := v.(bool)
		return ok
	case "int":
		switch v.(type) {
		case int, int64:
			return true
		}
		return false
	case "float":
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "list":
		_, ok := v.([]any)
		return ok
	case "map":
		_, ok := v.(map[string]any)
		return ok
	default:
		return false
	}
}

func sortedSchemaFields(schema ValidationSchema) []string {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
