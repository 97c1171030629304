package resolve

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/hostvault/hostvault/pkg/machine"
)

func TestPredicateRegistryBuiltins(t *testing.T) {
	r := NewPredicateRegistry()

	names := r.Names()
	sort.Strings(names)

	for _, want := range []string{"always", "domain_joined", "elevated_user", "high_resolution_display"} {
		i := sort.SearchStrings(names, want)
		if i >= len(names) || names[i] != want {
			t.Errorf("builtin predicate %q not registered, have %v", want, names)
		}
	}
}

func TestPredicateRegister(t *testing.T) {
	r := NewPredicateRegistry()

	err := r.Register("custom", func(context.Context, *machine.Context) (string, error) {
		return "custom-result", nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := r.Invoke(context.Background(), "custom", testContext(), time.Second)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != "custom-result" {
		t.Errorf("result = %q, want %q", result, "custom-result")
	}

	if err := r.Register("custom", nil); err == nil {
		t.Error("expected error for nil predicate function")
	}
	if err := r.Register("always", func(context.Context, *machine.Context) (string, error) {
		return "", nil
	}); err == nil {
		t.Error("expected error when re-registering a builtin name")
	}
}

func TestPredicateInvokeMissing(t *testing.T) {
	r := NewPredicateRegistry()

	if _, err := r.Invoke(context.Background(), "nope", testContext(), time.Second); err == nil {
		t.Error("expected error for unregistered predicate")
	}
}

func TestPredicateInvokeTimeout(t *testing.T) {
	r := NewPredicateRegistry()

	err := r.Register("slow", func(ctx context.Context, _ *machine.Context) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return PredicateSuccess, nil
		}
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	start := time.Now()
	_, err = r.Invoke(context.Background(), "slow", testContext(), 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Invoke took %v, expected the timeout to cut it short", elapsed)
	}
}

func TestPredicateScript(t *testing.T) {
	r := NewPredicateRegistry()

	script := `
if machine["machine_name"].startswith("workstation"):
    result = "success"
else:
    result = "failure"
`
	if err := r.RegisterScript("workstation_only", script); err != nil {
		t.Fatalf("RegisterScript: %v", err)
	}

	result, err := r.Invoke(context.Background(), "workstation_only", testContext(), time.Second)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != PredicateSuccess {
		t.Errorf("result = %q, want %q", result, PredicateSuccess)
	}

	mc := testContext()
	mc.MachineName = "server-07"
	result, err = r.Invoke(context.Background(), "workstation_only", mc, time.Second)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != PredicateFailure {
		t.Errorf("result = %q, want %q", result, PredicateFailure)
	}
}

func TestPredicateScriptCompileError(t *testing.T) {
	r := NewPredicateRegistry()

	if err := r.RegisterScript("broken", "def oops(:\n"); err == nil {
		t.Error("expected compilation error for malformed script")
	}
}

func TestPredicateScriptMissingResult(t *testing.T) {
	r := NewPredicateRegistry()

	if err := r.RegisterScript("silent", "x = 1\n"); err != nil {
		t.Fatalf("RegisterScript: %v", err)
	}
	if _, err := r.Invoke(context.Background(), "silent", testContext(), time.Second); err == nil {
		t.Error("expected error when script assigns no result")
	}
}

func TestPredicateScriptEnvAccess(t *testing.T) {
	r := NewPredicateRegistry()

	script := `result = "success" if machine["env"].get("DEPLOY_ENV") == "production" else "failure"` + "\n"
	if err := r.RegisterScript("prod_env", script); err != nil {
		t.Fatalf("RegisterScript: %v", err)
	}

	result, err := r.Invoke(context.Background(), "prod_env", testContext(), time.Second)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != PredicateSuccess {
		t.Errorf("result = %q, want %q", result, PredicateSuccess)
	}
}
