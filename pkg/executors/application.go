package executors

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hostvault/hostvault/pkg/resolve"
)

// ApplicationExecutor plans application entries. It never runs discovery
// or install scripts itself; it reports what a package-manager integration
// would do.
type ApplicationExecutor struct {
	logger zerolog.Logger
}

// NewApplicationExecutor creates an application executor.
func NewApplicationExecutor(logger zerolog.Logger) *ApplicationExecutor {
	return &ApplicationExecutor{
		logger: logger.With().Str("component", "application-executor").Logger(),
	}
}

// Name identifies the executor.
func (ae *ApplicationExecutor) Name() string { return "application" }

// Execute plans one application entry.
func (ae *ApplicationExecutor) Execute(_ context.Context, section string, entry *resolve.Entry, op Operation, _ bool) (*Result, error) {
	app, err := DecodeApplicationEntry(entry)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Executor: ae.Name(),
		Section:  section,
		Entry:    entry.Key(),
		Action:   string(op),
		Status:   StatusPlanned,
	}

	switch op {
	case OperationBackup:
		result.Detail = fmt.Sprintf("record %s", app.Name)
		if app.DiscoveryCommand != "" {
			result.Detail += fmt.Sprintf(" via %q", app.DiscoveryCommand)
		}
	case OperationRestore:
		result.Detail = fmt.Sprintf("install %s", app.Name)
		if app.InstallScript != "" {
			result.Detail += fmt.Sprintf(" via %q", app.InstallScript)
		}
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	ae.logger.Info().
		Str("application", app.Name).
		Str("type", app.Type).
		Msg(result.Detail)

	return result, nil
}
