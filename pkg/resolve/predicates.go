package resolve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.starlark.net/starlark"

	"github.com/hostvault/hostvault/pkg/machine"
)

// Predicate results used by the built-in predicates. Conditions compare a
// predicate's return value against their expected_result, so any string is
// legal; these are just the conventional pair.
const (
	PredicateSuccess = "success"
	PredicateFailure = "failure"
)

// DefaultPredicateTimeout bounds a predicate invocation when the caller
// does not set one.
const DefaultPredicateTimeout = 5 * time.Second

// PredicateFunc is a named predicate invoked by named_predicate conditions.
// It returns an arbitrary result string compared against the condition's
// expected_result.
type PredicateFunc func(ctx context.Context, mc *machine.Context) (string, error)

// PredicateRegistry holds the named predicates available to conditional
// sections. Predicates are registered at startup; registration after
// resolution has begun is allowed but callers get whatever set is present
// when their Resolve call reads it.
type PredicateRegistry struct {
	mu    sync.RWMutex
	funcs map[string]PredicateFunc
}

// NewPredicateRegistry creates a registry with the built-in predicates.
func NewPredicateRegistry() *PredicateRegistry {
	r := &PredicateRegistry{
		funcs: make(map[string]PredicateFunc),
	}

	r.registerBuiltins()

	return r
}

// registerBuiltins installs the predicates every deployment gets.
func (r *PredicateRegistry) registerBuiltins() {
	r.mustRegister("always", func(context.Context, *machine.Context) (string, error) {
		return PredicateSuccess, nil
	})

	r.mustRegister("high_resolution_display", func(_ context.Context, mc *machine.Context) (string, error) {
		if mc.HasHighResolutionDisplay() {
			return PredicateSuccess, nil
		}
		return PredicateFailure, nil
	})

	r.mustRegister("domain_joined", func(_ context.Context, mc *machine.Context) (string, error) {
		if mc.Domain != "" {
			return PredicateSuccess, nil
		}
		return PredicateFailure, nil
	})

	r.mustRegister("elevated_user", func(_ context.Context, mc *machine.Context) (string, error) {
		if mc.UserName == "root" {
			return PredicateSuccess, nil
		}
		return PredicateFailure, nil
	})
}

func (r *PredicateRegistry) mustRegister(name string, fn PredicateFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Register adds a predicate under the given name.
func (r *PredicateRegistry) Register(name string, fn PredicateFunc) error {
	if name == "" {
		return fmt.Errorf("predicate name is required")
	}
	if fn == nil {
		return fmt.Errorf("predicate %s: function is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("predicate %s already registered", name)
	}

	r.funcs[name] = fn
	return nil
}

// RegisterScript compiles a Starlark snippet and registers it as a
// predicate. The script sees the machine context as a `machine` dict and
// must assign its result string to a `result` global.
func (r *PredicateRegistry) RegisterScript(name, script string) error {
	// Compile eagerly so authoring errors surface at startup rather than
	// mid-resolution.
	prog, err := compilePredicateScript(name, script)
	if err != nil {
		return fmt.Errorf("predicate %s: %w", name, err)
	}

	return r.Register(name, func(ctx context.Context, mc *machine.Context) (string, error) {
		return runPredicateScript(ctx, prog, mc)
	})
}

// Names returns the registered predicate names.
func (r *PredicateRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}

// Invoke runs a predicate synchronously under the given timeout. A missing
// predicate, a predicate error, or a timeout all return an error; the
// condition evaluator maps any of these to "condition false".
func (r *PredicateRegistry) Invoke(ctx context.Context, name string, mc *machine.Context, timeout time.Duration) (string, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("predicate %s not registered", name)
	}

	if timeout <= 0 {
		timeout = DefaultPredicateTimeout
	}
	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		result, err := fn(invokeCtx, mc)
		resultCh <- outcome{result: result, err: err}
	}()

	select {
	case <-invokeCtx.Done():
		return "", fmt.Errorf("predicate %s: %w", name, invokeCtx.Err())
	case out := <-resultCh:
		if out.err != nil {
			return "", fmt.Errorf("predicate %s: %w", name, out.err)
		}
		return out.result, nil
	}
}

// compilePredicateScript parses and compiles a Starlark predicate.
func compilePredicateScript(name, script string) (*starlark.Program, error) {
	_, prog, err := starlark.SourceProgram(name+".star", script, func(n string) bool {
		return n == "machine"
	})
	if err != nil {
		return nil, fmt.Errorf("starlark compilation failed: %w", err)
	}
	return prog, nil
}

// runPredicateScript executes a compiled predicate and extracts the
// `result` global.
func runPredicateScript(ctx context.Context, prog *starlark.Program, mc *machine.Context) (string, error) {
	thread := &starlark.Thread{
		Name: "hostvault-predicate",
		Print: func(_ *starlark.Thread, _ string) {
			// Predicates have no output channel.
		},
	}
	go func() {
		<-ctx.Done()
		thread.Cancel(ctx.Err().Error())
	}()

	machineDict, err := machineToStarlark(mc)
	if err != nil {
		return "", fmt.Errorf("failed to convert machine context: %w", err)
	}

	globals, err := prog.Init(thread, starlark.StringDict{"machine": machineDict})
	if err != nil {
		return "", fmt.Errorf("starlark execution failed: %w", err)
	}

	result, ok := globals["result"]
	if !ok {
		return "", fmt.Errorf("script did not assign a result global")
	}
	str, ok := starlark.AsString(result)
	if !ok {
		return "", fmt.Errorf("result is %s, want string", result.Type())
	}

	return str, nil
}

// machineToStarlark exposes the machine facts a predicate may consult.
func machineToStarlark(mc *machine.Context) (starlark.Value, error) {
	env := starlark.NewDict(len(mc.EnvironmentVariables))
	for k, v := range mc.EnvironmentVariables {
		if err := env.SetKey(starlark.String(k), starlark.String(v)); err != nil {
			return nil, err
		}
	}

	displays := make([]starlark.Value, 0, len(mc.Hardware.Displays))
	for _, d := range mc.Hardware.Displays {
		disp := starlark.NewDict(2)
		_ = disp.SetKey(starlark.String("width"), starlark.MakeInt(d.Width))
		_ = disp.SetKey(starlark.String("height"), starlark.MakeInt(d.Height))
		displays = append(displays, disp)
	}

	dict := starlark.NewDict(10)
	fields := []struct {
		key string
		val starlark.Value
	}{
		{"machine_name", starlark.String(mc.MachineName)},
		{"user_name", starlark.String(mc.UserName)},
		{"user_profile", starlark.String(mc.UserProfile)},
		{"os_version", starlark.String(mc.OSVersion)},
		{"architecture", starlark.String(mc.Architecture)},
		{"domain", starlark.String(mc.Domain)},
		{"env", env},
		{"cpu_cores", starlark.MakeInt(mc.Hardware.CPUCores)},
		{"memory_mb", starlark.MakeInt64(mc.Hardware.MemoryMB)},
		{"displays", starlark.NewList(displays)},
	}
	for _, f := range fields {
		if err := dict.SetKey(starlark.String(f.key), f.val); err != nil {
			return nil, err
		}
	}

	return dict, nil
}
