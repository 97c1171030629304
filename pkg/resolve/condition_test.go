package resolve

import (
	"context"
	"testing"
	"time"

	"github.com/hostvault/hostvault/pkg/machine"
	"github.com/hostvault/hostvault/pkg/template"
)

func TestConditionEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		conditions []template.Condition
		logic      string
		want       bool
		warnings   int
	}{
		{
			name:       "empty condition list is true",
			conditions: nil,
			want:       true,
		},
		{
			name: "environment variable match",
			conditions: []template.Condition{
				{Type: "environment_variable", Variable: "DEPLOY_ENV", ExpectedValue: "production"},
			},
			want: true,
		},
		{
			name: "environment variable mismatch",
			conditions: []template.Condition{
				{Type: "environment_variable", Variable: "DEPLOY_ENV", ExpectedValue: "staging"},
			},
			want: false,
		},
		{
			name: "machine name condition",
			conditions: []template.Condition{
				{Type: "machine_name", ExpectedValue: "workstation-01"},
			},
			want: true,
		},
		{
			name: "named predicate success",
			conditions: []template.Condition{
				{Type: "named_predicate", Check: "always"},
			},
			want: true,
		},
		{
			name: "named predicate expected failure",
			conditions: []template.Condition{
				{Type: "named_predicate", Check: "high_resolution_display", ExpectedResult: "failure"},
			},
			want: true,
		},
		{
			name: "and logic requires all",
			conditions: []template.Condition{
				{Type: "machine_name", ExpectedValue: "workstation-01"},
				{Type: "environment_variable", Variable: "DEPLOY_ENV", ExpectedValue: "staging"},
			},
			logic: "and",
			want:  false,
		},
		{
			name: "or logic requires one",
			conditions: []template.Condition{
				{Type: "machine_name", ExpectedValue: "other-host"},
				{Type: "environment_variable", Variable: "DEPLOY_ENV", ExpectedValue: "production"},
			},
			logic: "or",
			want:  true,
		},
		{
			name: "unknown condition type fails closed",
			conditions: []template.Condition{
				{Type: "phase_of_moon"},
			},
			want:     false,
			warnings: 1,
		},
		{
			name: "missing predicate fails closed",
			conditions: []template.Condition{
				{Type: "named_predicate", Check: "does_not_exist"},
			},
			want:     false,
			warnings: 1,
		},
		{
			name: "failed condition does not poison or logic",
			conditions: []template.Condition{
				{Type: "phase_of_moon"},
				{Type: "named_predicate", Check: "always"},
			},
			logic:    "or",
			want:     true,
			warnings: 1,
		},
	}

	ce := NewConditionEvaluator(NewPredicateRegistry(), time.Second, discardLogger())
	mc := testContext()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warnings := ce.Evaluate(context.Background(), tt.conditions, tt.logic, mc)
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
			if len(warnings) != tt.warnings {
				t.Errorf("Evaluate() produced %d warnings, want %d: %v", len(warnings), tt.warnings, warnings)
			}
		})
	}
}

func TestConditionHighResolutionPredicate(t *testing.T) {
	mc := testContext()
	mc.Hardware.Displays = []machine.Display{{Width: 3840, Height: 2160}}

	ce := NewConditionEvaluator(NewPredicateRegistry(), time.Second, discardLogger())
	ok, warnings := ce.Evaluate(context.Background(), []template.Condition{
		{Type: "named_predicate", Check: "high_resolution_display"},
	}, "", mc)

	if !ok {
		t.Error("expected high_resolution_display to succeed for a 4k display")
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestConditionWarningClass(t *testing.T) {
	ce := NewConditionEvaluator(NewPredicateRegistry(), time.Second, discardLogger())

	_, warnings := ce.Evaluate(context.Background(), []template.Condition{
		{Type: "named_predicate", Check: "missing"},
	}, "", testContext())

	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(warnings))
	}
	if warnings[0].Class != ErrorClassCondition {
		t.Errorf("warning class = %s, want %s", warnings[0].Class, ErrorClassCondition)
	}
}
