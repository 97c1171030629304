package commands

import (
	"context"
	"testing"
	"time"
)

// resetTelemetry restores the telemetry flags and instances after a test
// mutates them.
func resetTelemetry(t *testing.T) {
	t.Helper()

	savedTrace := traceEnabled
	savedAddr := metricsAddr
	savedTracer := cliTracer
	savedMetrics := cliMetrics
	t.Cleanup(func() {
		traceEnabled = savedTrace
		metricsAddr = savedAddr
		cliTracer = savedTracer
		cliMetrics = savedMetrics
	})
}

func TestSetupTelemetryDisabled(t *testing.T) {
	resetTelemetry(t)
	traceEnabled = false
	metricsAddr = ""

	if err := setupTelemetry("1.2.3"); err != nil {
		t.Fatalf("setupTelemetry failed: %v", err)
	}
	if cliTracer == nil {
		t.Fatal("tracer not installed")
	}
	if cliMetrics == nil {
		t.Fatal("metrics not installed")
	}

	// With both flags off the instances are no-ops but every recording
	// path must still be callable.
	cliMetrics.RecordResolutionStarted("dotfiles")
	cliMetrics.RecordResolutionCompleted("dotfiles", "completed", 25*time.Millisecond, 4)
	cliMetrics.RecordWarning("selector")
	cliMetrics.RecordExecutorOperation("files", "backup", "applied")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := cliTracer.Shutdown(ctx); err != nil {
		t.Fatalf("tracer shutdown failed: %v", err)
	}
}

func TestSetupTelemetryDefaultsVersion(t *testing.T) {
	resetTelemetry(t)
	traceEnabled = false
	metricsAddr = ""

	// An empty build version must not fail configuration validation.
	if err := setupTelemetry(""); err != nil {
		t.Fatalf("setupTelemetry failed: %v", err)
	}
}
