package resolve

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hostvault/hostvault/pkg/machine"
	"github.com/hostvault/hostvault/pkg/template"
)

// Selector operators.
const (
	OperatorEquals   = "equals"
	OperatorContains = "contains"
	OperatorMatches  = "matches"
)

// Selector types.
const (
	SelectorMachineName     = "machine_name"
	SelectorHostnamePattern = "hostname_pattern"
	SelectorEnvironment     = "environment_variable"
	SelectorUserName        = "user_name"
	SelectorOSVersion       = "os_version"
	SelectorArchitecture    = "architecture"
	SelectorDomain          = "domain"
)

// SelectorEvaluator matches selector predicates against a machine context.
type SelectorEvaluator struct {
	logger zerolog.Logger
}

// NewSelectorEvaluator creates a selector evaluator.
func NewSelectorEvaluator(logger zerolog.Logger) *SelectorEvaluator {
	return &SelectorEvaluator{
		logger: logger.With().Str("component", "selector-evaluator").Logger(),
	}
}

// Matches reports whether every selector in the list matches the machine
// context (logical AND). A selector that cannot be evaluated counts as not
// matching and produces a warning; it never aborts resolution.
func (se *SelectorEvaluator) Matches(selectors []template.Selector, mc *machine.Context) (bool, []Warning) {
	var warnings []Warning
	matched := true

	for _, sel := range selectors {
		ok, err := se.evaluate(sel, mc)
		if err != nil {
			se.logger.Warn().
				Str("selector_type", sel.Type).
				Str("value", sel.Value).
				Err(err).
				Msg("Selector evaluation failed, treating as no match")
			warnings = append(warnings, Warning{
				Class:   ErrorClassSelector,
				Message: fmt.Sprintf("selector %s evaluation failed: %v", sel.Type, err),
			})
			matched = false
			continue
		}
		if !ok {
			matched = false
		}
	}

	return matched, warnings
}

// evaluate tests a single selector against the machine context.
func (se *SelectorEvaluator) evaluate(sel template.Selector, mc *machine.Context) (bool, error) {
	actual, expected, err := se.operands(sel, mc)
	if err != nil {
		return false, err
	}

	operator := sel.Operator
	if operator == "" {
		// Pattern selectors default to regex matching, everything else to
		// equality.
		if sel.Type == SelectorHostnamePattern {
			operator = OperatorMatches
		} else {
			operator = OperatorEquals
		}
	}

	return compareStrings(actual, expected, operator, sel.CaseSensitive)
}

// operands resolves the actual machine fact and the expected value for a
// selector.
func (se *SelectorEvaluator) operands(sel template.Selector, mc *machine.Context) (actual, expected string, err error) {
	switch sel.Type {
	case SelectorMachineName, SelectorHostnamePattern:
		return mc.MachineName, sel.Value, nil
	case SelectorEnvironment:
		// Value names the variable; ExpectedValue carries the operand.
		v := mc.EnvironmentVariables[sel.Value]
		return v, sel.ExpectedValue, nil
	case SelectorUserName:
		return mc.UserName, sel.Value, nil
	case SelectorOSVersion:
		return mc.OSVersion, sel.Value, nil
	case SelectorArchitecture:
		return mc.Architecture, sel.Value, nil
	case SelectorDomain:
		return mc.Domain, sel.Value, nil
	default:
		return "", "", fmt.Errorf("unknown selector type %q", sel.Type)
	}
}

// compareStrings applies a selector or condition operator. Comparison is
// case-insensitive unless caseSensitive is set.
func compareStrings(actual, expected, operator string, caseSensitive bool) (bool, error) {
	switch operator {
	case OperatorEquals:
		if caseSensitive {
			return actual == expected, nil
		}
		return strings.EqualFold(actual, expected), nil

	case OperatorContains:
		if caseSensitive {
			return strings.Contains(actual, expected), nil
		}
		return strings.Contains(strings.ToLower(actual), strings.ToLower(expected)), nil

	case OperatorMatches:
		pattern := expected
		if !caseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", expected, err)
		}
		return re.MatchString(actual), nil

	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}
