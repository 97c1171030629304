package resolve

import (
	"reflect"
	"testing"

	"github.com/hostvault/hostvault/pkg/template"
)

// ruleFixture builds a resolved entry with a shared and a machine-specific
// contribution, the shape the rule processor sees after the overlay pass.
func ruleFixture() *ResolvedConfig {
	entry := &Entry{
		Fields: map[string]any{
			"name":    "shell",
			"aliases": []any{"ll", "gs"},
			"prompt":  "minimal",
		},
		Source:   SourceMachineSpecific,
		Priority: 50,
		Tags:     []string{"dotfiles"},
		contributions: []contribution{
			{
				source:   SourceShared,
				origin:   "shared",
				priority: 10,
				fields: map[string]any{
					"name":    "shell",
					"aliases": []any{"ll", "la"},
					"prompt":  "full",
					"editor":  "vim",
				},
			},
			{
				source:   SourceMachineSpecific,
				origin:   "workstation",
				priority: 50,
				fields: map[string]any{
					"name":    "shell",
					"aliases": []any{"ll", "gs"},
					"prompt":  "minimal",
				},
			},
		},
	}

	return &ResolvedConfig{
		Metadata: template.Metadata{Name: "rules-test"},
		Sections: map[string][]*Entry{"settings": {entry}},
	}
}

func TestRuleMergeCombinesListValues(t *testing.T) {
	cfg := ruleFixture()
	rules := []template.InheritanceRule{{
		Name:      "combine-aliases",
		AppliesTo: []string{"settings"},
		Condition: &template.RuleCondition{Value: "dotfiles"},
		Action:    "merge",
		Parameters: map[string]any{
			"merge_level": "value",
		},
	}}

	p := NewRuleProcessor(discardLogger())
	warnings := p.Apply(rules, cfg)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	entry := cfg.Find("settings", "shell")
	aliases, ok := entry.Fields["aliases"].([]any)
	if !ok {
		t.Fatalf("aliases = %T, want a list", entry.Fields["aliases"])
	}
	want := []any{"ll", "la", "gs"}
	if !reflect.DeepEqual(aliases, want) {
		t.Errorf("aliases = %v, want the union %v", aliases, want)
	}
	if got := entry.Fields["prompt"]; got != "minimal" {
		t.Errorf("prompt = %v, scalar conflicts default to last_wins", got)
	}
	if got := entry.Fields["editor"]; got != "vim" {
		t.Errorf("editor = %v, shared-only fields must survive the recombination", got)
	}
	if entry.ConflictResolution != ConflictLastWins {
		t.Errorf("conflict_resolution = %q, want %q", entry.ConflictResolution, ConflictLastWins)
	}
}

func TestRuleMergeFirstWins(t *testing.T) {
	cfg := ruleFixture()
	rules := []template.InheritanceRule{{
		Name:   "keep-baseline",
		Action: "merge",
		Parameters: map[string]any{
			"conflict_resolution": "first_wins",
		},
	}}

	p := NewRuleProcessor(discardLogger())
	p.Apply(rules, cfg)

	entry := cfg.Find("settings", "shell")
	if got := entry.Fields["prompt"]; got != "full" {
		t.Errorf("prompt = %v, first_wins must keep the shared value", got)
	}
	if entry.ConflictResolution != ConflictFirstWins {
		t.Errorf("conflict_resolution = %q, want %q", entry.ConflictResolution, ConflictFirstWins)
	}
}

func TestRuleMergeIdempotent(t *testing.T) {
	cfg := ruleFixture()
	rules := []template.InheritanceRule{{
		Name:       "combine-aliases",
		Action:     "merge",
		Parameters: map[string]any{"merge_level": "value"},
	}}

	p := NewRuleProcessor(discardLogger())
	p.Apply(rules, cfg)
	first := cloneFields(cfg.Find("settings", "shell").Fields)

	p.Apply(rules, cfg)
	second := cfg.Find("settings", "shell").Fields

	if !reflect.DeepEqual(first, second) {
		t.Errorf("second application changed the entry:\nfirst:  %v\nsecond: %v", first, second)
	}
}

func TestRuleOverrideSetsFields(t *testing.T) {
	cfg := ruleFixture()
	rules := []template.InheritanceRule{{
		Name:      "force-prompt",
		AppliesTo: []string{"settings"},
		Action:    "override",
		Parameters: map[string]any{
			"set": map[string]any{"prompt": "corporate"},
		},
	}}

	p := NewRuleProcessor(discardLogger())
	p.Apply(rules, cfg)

	entry := cfg.Find("settings", "shell")
	if got := entry.Fields["prompt"]; got != "corporate" {
		t.Errorf("prompt = %v, want the override value", got)
	}
	if got := entry.Fields["editor"]; got != "vim" {
		t.Errorf("editor = %v, override must leave other fields alone", got)
	}
}

func TestRuleConditionFiltering(t *testing.T) {
	tests := []struct {
		name    string
		cond    *template.RuleCondition
		applies bool
	}{
		{"nil condition matches", nil, true},
		{"tag present", &template.RuleCondition{Value: "dotfiles"}, true},
		{"tag absent", &template.RuleCondition{Value: "other"}, false},
		{"source equals", &template.RuleCondition{Field: "inheritance_source", Value: "machine_specific"}, true},
		{"source mismatch", &template.RuleCondition{Field: "inheritance_source", Value: "conditional"}, false},
		{"entry field equals", &template.RuleCondition{Field: "prompt", Value: "minimal"}, true},
		{"entry field contains", &template.RuleCondition{Field: "prompt", Operator: "contains", Value: "min"}, true},
		{"missing entry field", &template.RuleCondition{Field: "nonexistent", Value: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ruleFixture()
			rules := []template.InheritanceRule{{
				Name:       "probe",
				Condition:  tt.cond,
				Action:     "override",
				Parameters: map[string]any{"set": map[string]any{"touched": true}},
			}}

			NewRuleProcessor(discardLogger()).Apply(rules, cfg)

			_, touched := cfg.Find("settings", "shell").Fields["touched"]
			if touched != tt.applies {
				t.Errorf("rule applied = %v, want %v", touched, tt.applies)
			}
		})
	}
}

func TestRuleAppliesToSections(t *testing.T) {
	cfg := ruleFixture()
	rules := []template.InheritanceRule{{
		Name:       "wrong-section",
		AppliesTo:  []string{"files"},
		Action:     "override",
		Parameters: map[string]any{"set": map[string]any{"touched": true}},
	}}

	NewRuleProcessor(discardLogger()).Apply(rules, cfg)

	if _, ok := cfg.Find("settings", "shell").Fields["touched"]; ok {
		t.Error("rule scoped to another section must not apply")
	}

	rules[0].AppliesTo = []string{"all"}
	NewRuleProcessor(discardLogger()).Apply(rules, cfg)
	if _, ok := cfg.Find("settings", "shell").Fields["touched"]; !ok {
		t.Error("applies_to all must cover every section")
	}
}

func TestRuleUnknownActionWarns(t *testing.T) {
	cfg := ruleFixture()
	rules := []template.InheritanceRule{{Name: "bad", Action: "delete"}}

	warnings := NewRuleProcessor(discardLogger()).Apply(rules, cfg)
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(warnings))
	}
	if warnings[0].Class != ErrorClassValidation {
		t.Errorf("warning class = %s, want %s", warnings[0].Class, ErrorClassValidation)
	}
	if len(cfg.Section("settings")) != 1 {
		t.Error("unknown action must never remove entries")
	}
}
