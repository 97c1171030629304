package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hostvault/hostvault/pkg/resolve"
)

// RegistryExecutor backs up and restores key-value configuration into a
// JSON state file in the vault. Entries address a hive path plus an
// optional value name.
type RegistryExecutor struct {
	statePath string
	logger    zerolog.Logger

	mu    sync.Mutex
	state map[string]any
}

// NewRegistryExecutor creates a key-value executor persisting to
// statePath.
func NewRegistryExecutor(statePath string, logger zerolog.Logger) *RegistryExecutor {
	return &RegistryExecutor{
		statePath: statePath,
		logger:    logger.With().Str("component", "registry-executor").Logger(),
	}
}

// Name identifies the executor.
func (re *RegistryExecutor) Name() string { return "registry" }

// Execute backs up or restores one key-value entry.
func (re *RegistryExecutor) Execute(_ context.Context, section string, entry *resolve.Entry, op Operation, dryRun bool) (*Result, error) {
	reg, err := DecodeRegistryEntry(entry)
	if err != nil {
		return nil, err
	}
	key := reg.StateKey()

	result := &Result{
		Executor: re.Name(),
		Section:  section,
		Entry:    entry.Key(),
		Action:   string(op),
	}

	if dryRun {
		result.Status = StatusPlanned
		result.Detail = fmt.Sprintf("%s key %s", op, key)
		return result, nil
	}

	re.mu.Lock()
	defer re.mu.Unlock()

	if err := re.load(); err != nil {
		return nil, err
	}

	switch op {
	case OperationBackup:
		value := reg.Value
		if len(reg.Values) > 0 {
			value = reg.Values
		}
		re.state[key] = value
		if err := re.save(); err != nil {
			return nil, err
		}
		result.Status = StatusApplied
		result.Detail = key

	case OperationRestore:
		stored, ok := re.state[key]
		if !ok {
			result.Status = StatusSkipped
			result.Detail = fmt.Sprintf("key %s not in vault", key)
			return result, nil
		}
		result.Status = StatusApplied
		result.Detail = fmt.Sprintf("%s = %v", key, stored)

	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	return result, nil
}

// Lookup returns the stored value for a state key, if present.
func (re *RegistryExecutor) Lookup(key string) (any, bool, error) {
	re.mu.Lock()
	defer re.mu.Unlock()

	if err := re.load(); err != nil {
		return nil, false, err
	}
	v, ok := re.state[key]
	return v, ok, nil
}

func (re *RegistryExecutor) load() error {
	if re.state != nil {
		return nil
	}

	data, err := os.ReadFile(re.statePath)
	if os.IsNotExist(err) {
		re.state = map[string]any{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}
	if err := json.Unmarshal(data, &re.state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	return nil
}

func (re *RegistryExecutor) save() error {
	data, err := json.MarshalIndent(re.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(re.statePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(re.statePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}
