package resolve

import (
	"context"
	"testing"
	"time"

	"github.com/hostvault/hostvault/pkg/template"
)

func newTestMerger() *merger {
	logger := discardLogger()
	return newMerger(
		NewSelectorEvaluator(logger),
		NewConditionEvaluator(NewPredicateRegistry(), time.Second, logger),
		logger,
	)
}

func sharedTemplate() *template.Template {
	return &template.Template{
		Metadata: template.Metadata{Name: "test-template", Version: "1.0"},
		Shared: template.SharedBlock{
			Priority: 10,
			Tags:     []string{"base"},
			Sections: template.Sections{
				"files": {
					{"name": "config.txt", "path": "/shared/config.txt", "action": "copy"},
					{"name": "profile", "path": "/shared/profile", "inheritance_tags": []any{"user"}},
				},
				"settings": {
					{"name": "appearance", "theme": "Dark", "editors": []any{"vim"}},
				},
			},
		},
	}
}

func TestSharedPass(t *testing.T) {
	m := newTestMerger()
	m.sharedPass(sharedTemplate())

	files := m.out.Section("files")
	if len(files) != 2 {
		t.Fatalf("files section has %d entries, want 2", len(files))
	}

	entry := m.out.Find("files", "config.txt")
	if entry == nil {
		t.Fatal("config.txt not resolved")
	}
	if entry.Source != SourceShared {
		t.Errorf("source = %s, want %s", entry.Source, SourceShared)
	}
	if entry.Priority != 10 {
		t.Errorf("priority = %d, want 10", entry.Priority)
	}
	if !entry.HasTag("base") {
		t.Errorf("block tag not carried, tags = %v", entry.Tags)
	}

	profile := m.out.Find("files", "profile")
	if profile == nil {
		t.Fatal("profile not resolved")
	}
	if !profile.HasTag("user") || !profile.HasTag("base") {
		t.Errorf("tags = %v, want base and user", profile.Tags)
	}
	if _, ok := profile.Fields["inheritance_tags"]; ok {
		t.Error("inheritance_tags should be lifted out of the field map")
	}
}

func TestOverlayAddsAndOverrides(t *testing.T) {
	tpl := sharedTemplate()
	tpl.MachineSpecific = []template.MachineBlock{
		{
			Name:             "workstation",
			MachineSelectors: []template.Selector{{Type: "machine_name", Value: "workstation-01"}},
			Priority:         50,
			Sections: template.Sections{
				"files": {
					{"name": "config.txt", "path": "/machine/config.txt"},
					{"name": "extra.conf", "path": "/machine/extra.conf"},
				},
			},
		},
	}

	m := newTestMerger()
	m.sharedPass(tpl)
	m.applyOverlays(tpl, testContext())

	entry := m.out.Find("files", "config.txt")
	if entry == nil {
		t.Fatal("config.txt not resolved")
	}
	if got := entry.Fields["path"]; got != "/machine/config.txt" {
		t.Errorf("path = %v, want the machine-specific value", got)
	}
	if got := entry.Fields["action"]; got != "copy" {
		t.Errorf("action = %v, shared fields absent from the overlay must survive", got)
	}
	if entry.Source != SourceMachineSpecific {
		t.Errorf("source = %s, want %s", entry.Source, SourceMachineSpecific)
	}
	if entry.Priority != 50 {
		t.Errorf("priority = %d, want 50", entry.Priority)
	}

	if m.out.Find("files", "extra.conf") == nil {
		t.Error("overlay-only entry was not added")
	}
	if len(m.out.Section("files")) != 3 {
		t.Errorf("files section has %d entries, want 3", len(m.out.Section("files")))
	}
}

func TestOverlayHigherPriorityWins(t *testing.T) {
	tpl := sharedTemplate()
	sel := []template.Selector{{Type: "machine_name", Value: "workstation-01"}}
	tpl.MachineSpecific = []template.MachineBlock{
		{Name: "low", MachineSelectors: sel, Priority: 50, Sections: template.Sections{
			"settings": {{"name": "appearance", "theme": "Solarized"}},
		}},
		{Name: "high", MachineSelectors: sel, Priority: 90, Sections: template.Sections{
			"settings": {{"name": "appearance", "theme": "Light"}},
		}},
	}

	m := newTestMerger()
	m.sharedPass(tpl)
	m.applyOverlays(tpl, testContext())

	entry := m.out.Find("settings", "appearance")
	if entry == nil {
		t.Fatal("appearance not resolved")
	}
	if got := entry.Fields["theme"]; got != "Light" {
		t.Errorf("theme = %v, want the priority-90 value Light", got)
	}
	if entry.Priority != 90 {
		t.Errorf("priority = %d, want 90", entry.Priority)
	}
}

func TestOverlayNonMatchingSkipped(t *testing.T) {
	tpl := sharedTemplate()
	tpl.MachineSpecific = []template.MachineBlock{
		{
			Name:             "other-machine",
			MachineSelectors: []template.Selector{{Type: "machine_name", Value: "server-99"}},
			Priority:         50,
			Sections: template.Sections{
				"files": {{"name": "config.txt", "path": "/machine/config.txt"}},
			},
		},
	}

	m := newTestMerger()
	m.sharedPass(tpl)
	m.applyOverlays(tpl, testContext())

	entry := m.out.Find("files", "config.txt")
	if got := entry.Fields["path"]; got != "/shared/config.txt" {
		t.Errorf("path = %v, want the shared value when no overlay matches", got)
	}
	if entry.Source != SourceShared {
		t.Errorf("source = %s, want %s", entry.Source, SourceShared)
	}
}

func TestOverlayPartialSelectorMatchSuppresses(t *testing.T) {
	tpl := sharedTemplate()
	tpl.MachineSpecific = []template.MachineBlock{
		{
			Name: "partial",
			MachineSelectors: []template.Selector{
				{Type: "machine_name", Value: "workstation-01"},
				{Type: "user_name", Value: "bob"},
			},
			Priority: 50,
			Sections: template.Sections{
				"files": {{"name": "config.txt", "path": "/machine/config.txt"}},
			},
		},
	}

	m := newTestMerger()
	m.sharedPass(tpl)
	m.applyOverlays(tpl, testContext())

	entry := m.out.Find("files", "config.txt")
	if got := entry.Fields["path"]; got != "/shared/config.txt" {
		t.Errorf("path = %v, one failing selector must suppress the whole block", got)
	}
}

func TestOverlaySharedPrecedence(t *testing.T) {
	tpl := sharedTemplate()
	machineLoses := false
	tpl.Configuration.MachinePrecedence = &machineLoses
	tpl.MachineSpecific = []template.MachineBlock{
		{
			MachineSelectors: []template.Selector{{Type: "machine_name", Value: "workstation-01"}},
			Priority:         50,
			Sections: template.Sections{
				"files": {{"name": "config.txt", "path": "/machine/config.txt"}},
			},
		},
	}

	m := newTestMerger()
	m.sharedPass(tpl)
	m.applyOverlays(tpl, testContext())

	entry := m.out.Find("files", "config.txt")
	if got := entry.Fields["path"]; got != "/shared/config.txt" {
		t.Errorf("path = %v, shared precedence must keep the shared value", got)
	}
	if entry.Source != SourceShared {
		t.Errorf("source = %s, want %s", entry.Source, SourceShared)
	}
}

func TestOverlayReplaceStrategy(t *testing.T) {
	tpl := sharedTemplate()
	tpl.MachineSpecific = []template.MachineBlock{
		{
			MachineSelectors: []template.Selector{{Type: "machine_name", Value: "workstation-01"}},
			Priority:         50,
			MergeStrategy:    template.MergeStrategyReplace,
			Sections: template.Sections{
				"files": {{"name": "config.txt", "path": "/machine/config.txt"}},
			},
		},
	}

	m := newTestMerger()
	m.sharedPass(tpl)
	m.applyOverlays(tpl, testContext())

	entry := m.out.Find("files", "config.txt")
	if _, ok := entry.Fields["action"]; ok {
		t.Error("replace strategy must drop shared fields absent from the overlay")
	}
	if got := entry.Fields["path"]; got != "/machine/config.txt" {
		t.Errorf("path = %v, want the overlay value", got)
	}
}

func TestMergeListsReplaceWholesale(t *testing.T) {
	tpl := sharedTemplate()
	tpl.MachineSpecific = []template.MachineBlock{
		{
			MachineSelectors: []template.Selector{{Type: "machine_name", Value: "workstation-01"}},
			Priority:         50,
			Sections: template.Sections{
				"settings": {{"name": "appearance", "editors": []any{"emacs", "code"}}},
			},
		},
	}

	m := newTestMerger()
	m.sharedPass(tpl)
	m.applyOverlays(tpl, testContext())

	entry := m.out.Find("settings", "appearance")
	editors, ok := entry.Fields["editors"].([]any)
	if !ok {
		t.Fatalf("editors = %T, want a list", entry.Fields["editors"])
	}
	if len(editors) != 2 || editors[0] != "emacs" || editors[1] != "code" {
		t.Errorf("editors = %v, lists must replace wholesale during overlay merge", editors)
	}
}

func TestMergeNestedMapsRecursively(t *testing.T) {
	tpl := &template.Template{
		Metadata: template.Metadata{Name: "nested"},
		Shared: template.SharedBlock{
			Sections: template.Sections{
				"settings": {{
					"name": "editor",
					"options": map[string]any{
						"tab_width": 4,
						"wrap":      true,
					},
				}},
			},
		},
		MachineSpecific: []template.MachineBlock{{
			MachineSelectors: []template.Selector{{Type: "machine_name", Value: "workstation-01"}},
			Sections: template.Sections{
				"settings": {{
					"name": "editor",
					"options": map[string]any{
						"tab_width": 2,
					},
				}},
			},
		}},
	}

	m := newTestMerger()
	m.sharedPass(tpl)
	m.applyOverlays(tpl, testContext())

	entry := m.out.Find("settings", "editor")
	options, ok := entry.Fields["options"].(map[string]any)
	if !ok {
		t.Fatalf("options = %T, want a map", entry.Fields["options"])
	}
	if options["tab_width"] != 2 {
		t.Errorf("tab_width = %v, want the overlay value 2", options["tab_width"])
	}
	if options["wrap"] != true {
		t.Errorf("wrap = %v, sibling keys must survive a nested merge", options["wrap"])
	}
}

func TestMergeTypeConflictReplacesAtomically(t *testing.T) {
	tpl := &template.Template{
		Metadata: template.Metadata{Name: "conflict"},
		Shared: template.SharedBlock{
			Sections: template.Sections{
				"settings": {{"name": "editor", "options": "compact"}},
			},
		},
		MachineSpecific: []template.MachineBlock{{
			MachineSelectors: []template.Selector{{Type: "machine_name", Value: "workstation-01"}},
			Sections: template.Sections{
				"settings": {{"name": "editor", "options": map[string]any{"tab_width": 2}}},
			},
		}},
	}

	m := newTestMerger()
	m.sharedPass(tpl)
	m.applyOverlays(tpl, testContext())

	entry := m.out.Find("settings", "editor")
	if _, ok := entry.Fields["options"].(map[string]any); !ok {
		t.Errorf("options = %T, type conflict must resolve to the overlay value", entry.Fields["options"])
	}

	found := false
	for _, w := range m.warnings {
		if w.Class == ErrorClassMergeConflict {
			found = true
		}
	}
	if !found {
		t.Errorf("no merge_conflict warning recorded, warnings = %v", m.warnings)
	}
}

func TestConditionalInjection(t *testing.T) {
	tpl := sharedTemplate()
	tpl.ConditionalSections = []template.ConditionalSection{{
		Name: "production-extras",
		Conditions: []template.Condition{
			{Type: "environment_variable", Variable: "DEPLOY_ENV", ExpectedValue: "production"},
		},
		Sections: template.Sections{
			"files": {{"name": "prod.conf", "path": "/etc/prod.conf"}},
		},
	}}

	m := newTestMerger()
	m.sharedPass(tpl)
	m.applyOverlays(tpl, testContext())
	m.injectConditionalSections(context.Background(), tpl, testContext())

	entry := m.out.Find("files", "prod.conf")
	if entry == nil {
		t.Fatal("conditional entry not injected")
	}
	if entry.Source != SourceConditional {
		t.Errorf("source = %s, want %s", entry.Source, SourceConditional)
	}
	if entry.ConditionalSection != "production-extras" {
		t.Errorf("conditional_section = %q, want production-extras", entry.ConditionalSection)
	}
}

func TestConditionalSkippedWhenFalse(t *testing.T) {
	tpl := sharedTemplate()
	tpl.ConditionalSections = []template.ConditionalSection{{
		Name: "staging-extras",
		Conditions: []template.Condition{
			{Type: "environment_variable", Variable: "DEPLOY_ENV", ExpectedValue: "staging"},
		},
		Sections: template.Sections{
			"files": {{"name": "staging.conf", "path": "/etc/staging.conf"}},
		},
	}}

	m := newTestMerger()
	m.sharedPass(tpl)
	m.injectConditionalSections(context.Background(), tpl, testContext())

	if m.out.Find("files", "staging.conf") != nil {
		t.Error("conditional entry injected although its condition is false")
	}
}

func TestConditionalCollisionMergesWithConditionalWinning(t *testing.T) {
	tpl := sharedTemplate()
	tpl.ConditionalSections = []template.ConditionalSection{{
		Name:       "override-config",
		Conditions: nil, // empty condition list is always true
		Sections: template.Sections{
			"files": {{"name": "config.txt", "path": "/conditional/config.txt"}},
		},
	}}

	m := newTestMerger()
	m.sharedPass(tpl)
	m.injectConditionalSections(context.Background(), tpl, testContext())

	entry := m.out.Find("files", "config.txt")
	if got := entry.Fields["path"]; got != "/conditional/config.txt" {
		t.Errorf("path = %v, conditional fields must win on collision", got)
	}
	if got := entry.Fields["action"]; got != "copy" {
		t.Errorf("action = %v, fields absent from the conditional must survive", got)
	}
	if entry.Source != SourceConditional {
		t.Errorf("source = %s, want %s", entry.Source, SourceConditional)
	}
	if len(m.out.Section("files")) != 2 {
		t.Errorf("files section has %d entries, collision must not append", len(m.out.Section("files")))
	}
}

func TestFallbackStrictWarnsWhenNothingMatches(t *testing.T) {
	tpl := sharedTemplate()
	tpl.Configuration.FallbackStrategy = template.FallbackStrict
	tpl.MachineSpecific = []template.MachineBlock{{
		MachineSelectors: []template.Selector{{Type: "machine_name", Value: "server-99"}},
		Sections:         template.Sections{"files": {{"name": "x", "path": "/x"}}},
	}}

	m := newTestMerger()
	m.sharedPass(tpl)
	m.applyOverlays(tpl, testContext())

	if len(m.warnings) == 0 {
		t.Error("strict fallback must warn when no overlay matches")
	}
}
