package resolve

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hostvault/hostvault/pkg/template"
)

// Rule condition fields.
const (
	RuleFieldTags               = "inheritance_tags"
	RuleFieldSource             = "inheritance_source"
	RuleFieldConditionalSection = "conditional_section"
)

// Rule actions.
const (
	RuleActionMerge    = "merge"
	RuleActionOverride = "override"
)

// Conflict resolution strategies for the merge action.
const (
	ConflictLastWins  = "last_wins"
	ConflictFirstWins = "first_wins"
)

// RuleProcessor applies inheritance rules to a resolved tree after the
// overlay pass. Rules run in declaration order, transform entries in
// place, and never remove them. The merge action re-derives an entry's
// fields from the recorded per-tier contributions, which makes repeated
// application a no-op.
type RuleProcessor struct {
	logger zerolog.Logger
}

// NewRuleProcessor creates a rule processor.
func NewRuleProcessor(logger zerolog.Logger) *RuleProcessor {
	return &RuleProcessor{
		logger: logger.With().Str("component", "rule-processor").Logger(),
	}
}

// Apply runs every rule against the resolved tree and returns the
// warnings produced along the way.
func (p *RuleProcessor) Apply(rules []template.InheritanceRule, cfg *ResolvedConfig) []Warning {
	var warnings []Warning

	for i := range rules {
		rule := &rules[i]

		action := rule.Action
		if action == "" {
			action = RuleActionMerge
		}
		if action != RuleActionMerge && action != RuleActionOverride {
			warnings = append(warnings, Warning{
				Class:   ErrorClassValidation,
				Message: fmt.Sprintf("inheritance rule %q has unknown action %q, skipped", rule.Name, rule.Action),
			})
			continue
		}

		applied := 0
		for _, section := range cfg.SectionNames() {
			if !ruleTargetsSection(rule, section) {
				continue
			}
			for _, entry := range cfg.Sections[section] {
				if !ruleMatchesEntry(rule.Condition, entry) {
					continue
				}
				switch action {
				case RuleActionMerge:
					p.applyMerge(rule, entry)
				case RuleActionOverride:
					p.applyOverride(rule, entry)
				}
				applied++
			}
		}

		p.logger.Debug().
			Str("rule", rule.Name).
			Str("action", action).
			Int("entries", applied).
			Msg("Inheritance rule applied")
	}

	return warnings
}

// ruleTargetsSection reports whether a rule's applies_to list covers a
// section. An empty list or the literal "all" covers every section.
func ruleTargetsSection(rule *template.InheritanceRule, section string) bool {
	if len(rule.AppliesTo) == 0 {
		return true
	}
	for _, target := range rule.AppliesTo {
		if target == "all" || target == section {
			return true
		}
	}
	return false
}

// ruleMatchesEntry evaluates a rule condition against an entry's resolved
// metadata. A nil condition matches every entry.
func ruleMatchesEntry(cond *template.RuleCondition, entry *Entry) bool {
	if cond == nil {
		return true
	}

	field := cond.Field
	if field == "" {
		field = RuleFieldTags
	}

	switch field {
	case RuleFieldTags:
		// Tag sets have no equality notion worth exposing; both operators
		// test membership.
		return entry.HasTag(cond.Value)
	case RuleFieldSource:
		return matchString(string(entry.Source), cond.Operator, cond.Value)
	case RuleFieldConditionalSection:
		return matchString(entry.ConditionalSection, cond.Operator, cond.Value)
	default:
		v, ok := entry.Fields[field]
		if !ok {
			return false
		}
		s, ok := v.(string)
		if !ok {
			return false
		}
		return matchString(s, cond.Operator, cond.Value)
	}
}

func matchString(actual, operator, expected string) bool {
	switch operator {
	case "", OperatorEquals:
		return actual == expected
	case OperatorContains:
		return strings.Contains(actual, expected)
	default:
		return false
	}
}

// applyMerge rebuilds the entry's fields from its recorded contributions,
// combining sources instead of letting the final tier replace earlier
// ones outright.
func (p *RuleProcessor) applyMerge(rule *template.InheritanceRule, entry *Entry) {
	if len(entry.contributions) < 2 {
		// Single-source entries have nothing to combine.
		return
	}

	strategy := stringParam(rule.Parameters, "conflict_resolution", ConflictLastWins)
	if strategy != ConflictLastWins && strategy != ConflictFirstWins {
		strategy = ConflictLastWins
	}
	level := stringParam(rule.Parameters, "merge_level", "field")

	merged := make(map[string]any)
	for _, c := range entry.contributions {
		for _, f := range sortedFieldNames(c.fields) {
			v := c.fields[f]
			existing, present := merged[f]
			if !present {
				merged[f] = cloneValue(v)
				continue
			}
			if level == "value" {
				if ml, ok := existing.([]any); ok {
					if cl, ok := v.([]any); ok {
						merged[f] = unionLists(ml, cl)
						continue
					}
				}
			}
			if strategy == ConflictLastWins {
				merged[f] = cloneValue(v)
			}
			// first_wins keeps the earlier value.
		}
	}

	entry.Fields = merged
	entry.ConflictResolution = strategy
}

// applyOverride writes the rule's "set" parameters onto the entry,
// replacing any values already present.
func (p *RuleProcessor) applyOverride(rule *template.InheritanceRule, entry *Entry) {
	set, ok := rule.Parameters["set"].(map[string]any)
	if !ok {
		return
	}
	for _, f := range sortedFieldNames(set) {
		entry.Fields[f] = cloneValue(set[f])
	}
	entry.ConflictResolution = RuleActionOverride
}

// unionLists appends the members of b not already present in a,
// preserving order of first appearance.
func unionLists(a, b []any) []any {
	out := make([]any, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, lst := range [][]any{a, b} {
		for _, item := range lst {
			k := fmt.Sprintf("%v", item)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, cloneValue(item))
		}
	}
	return out
}

func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
