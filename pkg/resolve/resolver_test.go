package resolve

import (
	"context"
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/hostvault/hostvault/pkg/template"
)

const endToEndTemplate = `
metadata:
  name: host-backup
  version: "2.1"
configuration:
  validation_level: moderate
shared:
  priority: 10
  tags: [base]
  files:
    - name: config.txt
      path: /shared/config.txt
      action: copy
    - name: bashrc
      path: /shared/bashrc
  settings:
    - name: appearance
      theme: Dark
      font_size: 12
machine_specific:
  - name: workstation
    machine_selectors:
      - type: machine_name
        value: workstation-01
    priority: 50
    tags: [workstation]
    files:
      - name: config.txt
        path: /machine/config.txt
    settings:
      - name: appearance
        theme: Light
conditional_sections:
  - name: production-extras
    conditions:
      - type: environment_variable
        variable: DEPLOY_ENV
        expected_value: production
    files:
      - name: prod.conf
        path: /etc/prod.conf
`

func parseTemplate(t *testing.T, src string) *template.Template {
	t.Helper()
	var tpl template.Template
	if err := yaml.Unmarshal([]byte(src), &tpl); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}
	return &tpl
}

func TestResolveEndToEnd(t *testing.T) {
	r := NewResolver(WithLogger(discardLogger()))
	tpl := parseTemplate(t, endToEndTemplate)

	cfg, err := r.Resolve(context.Background(), tpl, testContext(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if cfg.Metadata.Name != "host-backup" {
		t.Errorf("metadata name = %q", cfg.Metadata.Name)
	}
	if got := cfg.EntryCount(); got != 4 {
		t.Errorf("entry count = %d, want 4", got)
	}

	entry := cfg.Find("files", "config.txt")
	if entry == nil {
		t.Fatal("config.txt not resolved")
	}
	if got := entry.Fields["path"]; got != "/machine/config.txt" {
		t.Errorf("path = %v, want the machine-specific override", got)
	}
	if got := entry.Fields["action"]; got != "copy" {
		t.Errorf("action = %v, want the surviving shared field", got)
	}
	if entry.Source != SourceMachineSpecific {
		t.Errorf("source = %s", entry.Source)
	}
	if !entry.HasTag("base") || !entry.HasTag("workstation") {
		t.Errorf("tags = %v, want the union of both tiers", entry.Tags)
	}

	appearance := cfg.Find("settings", "appearance")
	if got := appearance.Fields["theme"]; got != "Light" {
		t.Errorf("theme = %v, want Light", got)
	}
	if got := appearance.Fields["font_size"]; got != 12 {
		t.Errorf("font_size = %v, want the shared value 12", got)
	}

	prod := cfg.Find("files", "prod.conf")
	if prod == nil {
		t.Fatal("conditional entry not injected")
	}
	if prod.Source != SourceConditional || prod.ConditionalSection != "production-extras" {
		t.Errorf("conditional provenance = %s/%s", prod.Source, prod.ConditionalSection)
	}
}

func TestResolveNoMatchingMachine(t *testing.T) {
	r := NewResolver(WithLogger(discardLogger()))
	tpl := parseTemplate(t, endToEndTemplate)

	mc := testContext()
	mc.MachineName = "unrelated-host"
	delete(mc.EnvironmentVariables, "DEPLOY_ENV")

	cfg, err := r.Resolve(context.Background(), tpl, mc, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	entry := cfg.Find("files", "config.txt")
	if got := entry.Fields["path"]; got != "/shared/config.txt" {
		t.Errorf("path = %v, want the shared value", got)
	}
	for _, section := range cfg.SectionNames() {
		for _, e := range cfg.Sections[section] {
			if e.Source != SourceShared {
				t.Errorf("entry %s/%s has source %s, want only shared entries", section, e.Key(), e.Source)
			}
		}
	}
	if cfg.Find("files", "prod.conf") != nil {
		t.Error("conditional entry injected without its environment variable")
	}
}

// Resolution is deterministic: the same template and machine context
// always produce a value-identical tree.
func TestResolveDeterministic(t *testing.T) {
	r := NewResolver(WithLogger(discardLogger()))
	mc := testContext()

	first, err := r.Resolve(context.Background(), parseTemplate(t, endToEndTemplate), mc, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	firstJSON, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	for i := 0; i < 5; i++ {
		next, err := r.Resolve(context.Background(), parseTemplate(t, endToEndTemplate), mc, nil)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		nextJSON, err := json.Marshal(next)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(firstJSON) != string(nextJSON) {
			t.Fatalf("resolution %d differs:\n%s\n%s", i+2, firstJSON, nextJSON)
		}
	}
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	r := NewResolver(WithLogger(discardLogger()))
	tpl := parseTemplate(t, endToEndTemplate)

	before, err := json.Marshal(tpl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cfg, err := r.Resolve(context.Background(), tpl, testContext(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	cfg.Find("files", "config.txt").Fields["path"] = "/mutated"

	after, err := json.Marshal(tpl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(before) != string(after) {
		t.Error("resolution or output mutation changed the template")
	}
}

func TestResolveStrictValidationFailure(t *testing.T) {
	src := `
metadata:
  name: strict-test
configuration:
  validation_level: strict
shared:
  files:
    - name: dup.conf
      path: /a
    - name: dup.conf
      path: /b
`
	r := NewResolver(WithLogger(discardLogger()))

	_, err := r.Resolve(context.Background(), parseTemplate(t, src), testContext(), nil)
	if err == nil {
		t.Fatal("expected strict validation to reject duplicates")
	}
	if !IsValidation(err) {
		t.Errorf("error not classified as validation: %v", err)
	}
}

func TestResolveInheritanceRules(t *testing.T) {
	src := `
metadata:
  name: rules-test
shared:
  tags: [mergeable]
  settings:
    - name: shell
      aliases: [ll, la]
machine_specific:
  - machine_selectors:
      - type: machine_name
        value: workstation-01
    priority: 50
    settings:
      - name: shell
        aliases: [ll, gs]
inheritance_rules:
  - name: combine-aliases
    applies_to: [settings]
    condition:
      value: mergeable
    action: merge
    parameters:
      merge_level: value
`
	r := NewResolver(WithLogger(discardLogger()))

	cfg, err := r.Resolve(context.Background(), parseTemplate(t, src), testContext(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	entry := cfg.Find("settings", "shell")
	aliases, ok := entry.Fields["aliases"].([]any)
	if !ok {
		t.Fatalf("aliases = %T, want a list", entry.Fields["aliases"])
	}
	if len(aliases) != 3 {
		t.Errorf("aliases = %v, want the three-element union", aliases)
	}
	if entry.ConflictResolution == "" {
		t.Error("conflict_resolution provenance not recorded")
	}
}

func TestResolveNilInputs(t *testing.T) {
	r := NewResolver(WithLogger(discardLogger()))

	if _, err := r.Resolve(context.Background(), nil, testContext(), nil); err == nil {
		t.Error("expected error for nil template")
	}
	if _, err := r.Resolve(context.Background(), parseTemplate(t, endToEndTemplate), nil, nil); err == nil {
		t.Error("expected error for nil machine context")
	}
}

func TestResolveEntryJSONShape(t *testing.T) {
	r := NewResolver(WithLogger(discardLogger()))

	cfg, err := r.Resolve(context.Background(), parseTemplate(t, endToEndTemplate), testContext(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	data, err := json.Marshal(cfg.Find("files", "config.txt"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if flat["inheritance_source"] != "machine_specific" {
		t.Errorf("inheritance_source = %v", flat["inheritance_source"])
	}
	if flat["inheritance_priority"] != float64(50) {
		t.Errorf("inheritance_priority = %v", flat["inheritance_priority"])
	}
	if flat["path"] != "/machine/config.txt" {
		t.Errorf("path = %v, entry fields must flatten into the object", flat["path"])
	}
}
