package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/hostvault/hostvault/pkg/machine"
	"github.com/hostvault/hostvault/pkg/template"
)

// merger accumulates the resolved tree across the merge passes. It owns
// the per-section key index and the warning list for one resolution; a
// fresh merger is built per Resolve call, so the resolver itself stays
// stateless.
type merger struct {
	selectors  *SelectorEvaluator
	conditions *ConditionEvaluator
	logger     zerolog.Logger

	out      *ResolvedConfig
	index    map[string]map[string]int // section -> entry key -> first index
	warnings []Warning
}

func newMerger(selectors *SelectorEvaluator, conditions *ConditionEvaluator, logger zerolog.Logger) *merger {
	return &merger{
		selectors:  selectors,
		conditions: conditions,
		logger:     logger.With().Str("component", "merge-engine").Logger(),
		index:      make(map[string]map[string]int),
	}
}

// sharedPass copies every shared entry into the result, tagged as shared.
func (m *merger) sharedPass(tpl *template.Template) {
	m.out = &ResolvedConfig{
		Metadata: tpl.Metadata,
		Sections: make(map[string][]*Entry, len(tpl.Shared.Sections)),
	}

	for _, section := range sortedSectionNames(tpl.Shared.Sections) {
		for _, raw := range tpl.Shared.Sections[section] {
			fields, tags := splitEntry(raw)
			entry := &Entry{
				Fields:   fields,
				Source:   SourceShared,
				Priority: tpl.Shared.Priority,
				Tags:     unionTags(tpl.Shared.Tags, tags),
			}
			entry.contributions = append(entry.contributions, contribution{
				source:   SourceShared,
				origin:   "shared",
				priority: tpl.Shared.Priority,
				fields:   cloneFields(fields),
			})
			m.append(section, entry)
		}
	}
}

// applyOverlays selects the machine-specific blocks whose selectors all
// match, orders them so that higher priority overrides lower, and merges
// each over the accumulated tree.
func (m *merger) applyOverlays(tpl *template.Template, mc *machine.Context) {
	machineWins := tpl.Configuration.MachineWins()

	matching := make([]*template.MachineBlock, 0, len(tpl.MachineSpecific))
	for i := range tpl.MachineSpecific {
		block := &tpl.MachineSpecific[i]
		ok, warns := m.selectors.Matches(block.MachineSelectors, mc)
		m.warnings = append(m.warnings, warns...)
		if ok {
			matching = append(matching, block)
		} else {
			m.logger.Debug().
				Str("block", block.Name).
				Str("machine", mc.MachineName).
				Msg("Machine block selectors did not match")
		}
	}

	if len(matching) == 0 && len(tpl.MachineSpecific) > 0 &&
		tpl.Configuration.FallbackStrategy == template.FallbackStrict {
		m.warnings = append(m.warnings, Warning{
			Class:   ErrorClassValidation,
			Message: fmt.Sprintf("no machine-specific overlay matched machine %q", mc.MachineName),
		})
	}

	// Apply lowest priority first so higher-priority blocks override. The
	// stable sort keeps declaration order between equal priorities, where
	// the later block wins.
	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].Priority < matching[j].Priority
	})

	for _, block := range matching {
		origin := block.Name
		if origin == "" {
			origin = "machine_specific"
		}
		for _, section := range sortedSectionNames(block.Sections) {
			for _, raw := range block.Sections[section] {
				m.applyOverlayEntry(section, raw, block, origin, machineWins)
			}
		}
		m.logger.Debug().
			Str("block", block.Name).
			Int("priority", block.Priority).
			Msg("Machine block applied")
	}
}

// applyOverlayEntry merges one overlay entry into its section.
func (m *merger) applyOverlayEntry(section string, raw template.Entry, block *template.MachineBlock, origin string, machineWins bool) {
	fields, tags := splitEntry(raw)
	key := raw.Key()

	existing := m.lookup(section, key)
	if existing == nil {
		entry := &Entry{
			Fields:   fields,
			Source:   SourceMachineSpecific,
			Priority: block.Priority,
			Tags:     unionTags(block.Tags, tags),
		}
		entry.contributions = append(entry.contributions, contribution{
			source:   SourceMachineSpecific,
			origin:   origin,
			priority: block.Priority,
			fields:   cloneFields(fields),
		})
		m.append(section, entry)
		return
	}

	// The overlay targeted an existing entry; record the contribution
	// either way so inheritance rules can re-combine from all sources.
	existing.contributions = append(existing.contributions, contribution{
		source:   SourceMachineSpecific,
		origin:   origin,
		priority: block.Priority,
		fields:   cloneFields(fields),
	})
	existing.Tags = unionTags(existing.Tags, unionTags(block.Tags, tags))

	if !machineWins {
		// Shared precedence: existing values stand, the overlay only adds
		// new keys.
		m.logger.Debug().
			Str("section", section).
			Str("entry", key).
			Msg("Shared precedence, overlay entry ignored")
		return
	}

	if block.MergeStrategy == template.MergeStrategyReplace {
		existing.Fields = fields
	} else {
		existing.Fields = m.mergeFields(existing.Fields, fields, section, key)
	}
	existing.Source = SourceMachineSpecific
	existing.Priority = block.Priority
}

// injectConditionalSections evaluates each conditional section and injects
// the entries of those whose conditions hold. Injection never removes
// entries; on key collision the conditional fields win.
func (m *merger) injectConditionalSections(ctx context.Context, tpl *template.Template, mc *machine.Context) {
	for i := range tpl.ConditionalSections {
		cs := &tpl.ConditionalSections[i]

		ok, warns := m.conditions.Evaluate(ctx, cs.Conditions, cs.Logic, mc)
		m.warnings = append(m.warnings, warns...)
		if !ok {
			m.logger.Debug().
				Str("conditional_section", cs.Name).
				Msg("Conditional section skipped")
			continue
		}

		for _, section := range sortedSectionNames(cs.Sections) {
			for _, raw := range cs.Sections[section] {
				m.injectConditionalEntry(section, raw, cs)
			}
		}
		m.logger.Debug().
			Str("conditional_section", cs.Name).
			Msg("Conditional section injected")
	}
}

// injectConditionalEntry injects one conditional entry into its section.
func (m *merger) injectConditionalEntry(section string, raw template.Entry, cs *template.ConditionalSection) {
	fields, tags := splitEntry(raw)
	key := raw.Key()

	contrib := contribution{
		source: SourceConditional,
		origin: cs.Name,
		fields: cloneFields(fields),
	}

	existing := m.lookup(section, key)
	if existing == nil {
		entry := &Entry{
			Fields:             fields,
			Source:             SourceConditional,
			Tags:               unionTags(cs.Tags, tags),
			ConditionalSection: cs.Name,
		}
		entry.contributions = append(entry.contributions, contrib)
		m.append(section, entry)
		return
	}

	existing.contributions = append(existing.contributions, contrib)
	existing.Fields = m.mergeFields(existing.Fields, fields, section, key)
	existing.Source = SourceConditional
	existing.Priority = 0
	existing.Tags = unionTags(existing.Tags, unionTags(cs.Tags, tags))
	existing.ConditionalSection = cs.Name
}

// append adds an entry to a section, indexing its key on first sight.
// Entries without a key (neither name nor path) are appended unindexed;
// duplicate keys within one tier also append, leaving the validator to
// flag them.
func (m *merger) append(section string, entry *Entry) {
	m.out.Sections[section] = append(m.out.Sections[section], entry)

	key := entry.Key()
	if key == "" {
		return
	}
	idx := m.index[section]
	if idx == nil {
		idx = make(map[string]int)
		m.index[section] = idx
	}
	if _, exists := idx[key]; !exists {
		idx[key] = len(m.out.Sections[section]) - 1
	}
}

// lookup finds the first entry with the given key in a section.
func (m *merger) lookup(section, key string) *Entry {
	if key == "" {
		return nil
	}
	idx, ok := m.index[section]
	if !ok {
		return nil
	}
	i, ok := idx[key]
	if !ok {
		return nil
	}
	return m.out.Sections[section][i]
}

// mergeFields merges overlay fields over existing fields. Maps merge
// recursively, lists replace wholesale, and a scalar/composite kind
// mismatch is resolved by atomic replacement with an informational note.
func (m *merger) mergeFields(existing, overlay map[string]any, section, key string) map[string]any {
	merged := make(map[string]any, len(existing)+len(overlay))
	for f, v := range existing {
		merged[f] = v
	}

	for _, f := range sortedFieldNames(overlay) {
		ov := overlay[f]
		ev, present := merged[f]
		if !present {
			merged[f] = ov
			continue
		}

		evMap, _ := ev.(map[string]any)
		ovMap, _ := ov.(map[string]any)
		switch {
		case evMap != nil && ovMap != nil:
			merged[f] = m.mergeFields(evMap, ovMap, section, key)
		case valueKind(ev) != valueKind(ov):
			// Type conflict: overlay wins outright. Informational, never
			// fatal.
			m.logger.Info().
				Str("section", section).
				Str("entry", key).
				Str("field", f).
				Msg("Type conflict during merge, overlay value wins")
			m.warnings = append(m.warnings, Warning{
				Class:   ErrorClassMergeConflict,
				Section: section,
				Entry:   key,
				Message: fmt.Sprintf("type conflict on field %q resolved by replacement", f),
			})
			merged[f] = ov
		default:
			// Scalars and lists replace wholesale; lists are never
			// concatenated during overlay application.
			merged[f] = ov
		}
	}

	return merged
}

// splitEntry deep-copies a raw entry's fields and extracts its authored
// inheritance_tags, which live on the resolved entry rather than in its
// field map.
func splitEntry(raw template.Entry) (map[string]any, []string) {
	fields := make(map[string]any, len(raw))
	var tags []string

	for k, v := range raw {
		if k == "inheritance_tags" {
			tags = toStringSlice(v)
			continue
		}
		fields[k] = cloneValue(v)
	}

	return fields, tags
}

// toStringSlice converts a decoded YAML list to strings, dropping
// non-string members.
func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return append([]string(nil), vv...)
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// unionTags returns the sorted union of two tag sets.
func unionTags(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(a)+len(b))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// cloneFields deep-copies a field map.
func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies a decoded YAML value.
func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return cloneFields(vv)
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// valueKind classifies a decoded YAML value as map, list, or scalar.
func valueKind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "map"
	case []any:
		return "list"
	default:
		return "scalar"
	}
}

// sortedSectionNames returns a template block's section names in sorted
// order, for deterministic iteration.
func sortedSectionNames(sections template.Sections) []string {
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sortedFieldNames returns a field map's keys in sorted order.
func sortedFieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
