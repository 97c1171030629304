package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hostvault/hostvault/pkg/machine"
	"github.com/hostvault/hostvault/pkg/template"
)

// Condition types.
const (
	ConditionEnvironment    = "environment_variable"
	ConditionMachineName    = "machine_name"
	ConditionNamedPredicate = "named_predicate"
)

// Condition logic modes.
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// ConditionEvaluator evaluates the runtime conditions guarding a
// conditional section. A condition that cannot be evaluated is false;
// evaluation never raises out of this type.
type ConditionEvaluator struct {
	predicates *PredicateRegistry
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewConditionEvaluator creates a condition evaluator. Named predicates
// run under the given timeout; zero means a 5 second default.
func NewConditionEvaluator(predicates *PredicateRegistry, timeout time.Duration, logger zerolog.Logger) *ConditionEvaluator {
	return &ConditionEvaluator{
		predicates: predicates,
		timeout:    timeout,
		logger:     logger.With().Str("component", "condition-evaluator").Logger(),
	}
}

// Evaluate combines the conditions under the given logic: "and" (default)
// requires every condition true, "or" at least one. An empty condition
// list is true.
func (ce *ConditionEvaluator) Evaluate(ctx context.Context, conditions []template.Condition, logic string, mc *machine.Context) (bool, []Warning) {
	if len(conditions) == 0 {
		return true, nil
	}
	if logic == "" {
		logic = LogicAnd
	}

	var warnings []Warning
	anyTrue := false
	allTrue := true

	for _, cond := range conditions {
		ok, err := ce.evaluate(ctx, cond, mc)
		if err != nil {
			// Fail-closed: the condition is false and the failure noted.
			ce.logger.Warn().
				Str("condition_type", cond.Type).
				Err(err).
				Msg("Condition evaluation failed, treating as false")
			warnings = append(warnings, Warning{
				Class:   ErrorClassCondition,
				Message: fmt.Sprintf("condition %s evaluation failed: %v", cond.Type, err),
			})
			ok = false
		}

		if ok {
			anyTrue = true
		} else {
			allTrue = false
		}
	}

	if logic == LogicOr {
		return anyTrue, warnings
	}
	return allTrue, warnings
}

// evaluate tests a single condition against the machine context.
func (ce *ConditionEvaluator) evaluate(ctx context.Context, cond template.Condition, mc *machine.Context) (bool, error) {
	operator := cond.Operator
	if operator == "" {
		operator = OperatorEquals
	}

	switch cond.Type {
	case ConditionEnvironment:
		if cond.Variable == "" {
			return false, fmt.Errorf("environment_variable condition has no variable")
		}
		actual := mc.EnvironmentVariables[cond.Variable]
		return compareStrings(actual, cond.ExpectedValue, operator, cond.CaseSensitive)

	case ConditionMachineName:
		expected := cond.ExpectedValue
		if expected == "" {
			expected = cond.Check
		}
		return compareStrings(mc.MachineName, expected, operator, cond.CaseSensitive)

	case ConditionNamedPredicate:
		if cond.Check == "" {
			return false, fmt.Errorf("named_predicate condition has no check")
		}
		result, err := ce.predicates.Invoke(ctx, cond.Check, mc, ce.timeout)
		if err != nil {
			return false, err
		}
		expected := cond.ExpectedResult
		if expected == "" {
			expected = PredicateSuccess
		}
		return compareStrings(result, expected, operator, cond.CaseSensitive)

	default:
		return false, fmt.Errorf("unknown condition type %q", cond.Type)
	}
}
