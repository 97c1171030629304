// Package executors applies resolved configuration entries to the host.
// Each section of a resolved configuration maps to an executor: files to
// the file executor, registry to the key-value executor, applications to
// the application executor. Executors support a dry-run mode that plans
// every operation without touching the system.
package executors

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/hostvault/hostvault/pkg/resolve"
)

// Operation directions an executor can run.
type Operation string

const (
	OperationBackup  Operation = "backup"
	OperationRestore Operation = "restore"
)

// Result statuses.
const (
	StatusApplied = "applied"
	StatusPlanned = "planned"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Result records the outcome of one executor operation.
type Result struct {
	Executor string `json:"executor"`
	Section  string `json:"section"`
	Entry    string `json:"entry"`
	Action   string `json:"action"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

// Executor applies the entries of one section kind to the host.
type Executor interface {
	// Name identifies the executor in results and logs.
	Name() string

	// Execute runs one entry in the given direction. A dry run reports
	// what would happen without changing anything.
	Execute(ctx context.Context, section string, entry *resolve.Entry, op Operation, dryRun bool) (*Result, error)
}

// Dispatcher routes resolved sections to their executors.
type Dispatcher struct {
	executors map[string]Executor
	logger    zerolog.Logger
}

// NewDispatcher creates a dispatcher with the given section routing.
func NewDispatcher(routes map[string]Executor, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		executors: routes,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch runs every entry of the resolved configuration through its
// section's executor. Sections with no registered executor are skipped
// with one result each. Entry failures are recorded as failed results
// and do not abort the remaining entries.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg *resolve.ResolvedConfig, op Operation, dryRun bool) ([]Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("resolved configuration is nil")
	}

	var results []Result
	for _, section := range sortedSections(cfg) {
		exec, ok := d.executors[section]
		if !ok {
			d.logger.Debug().
				Str("section", section).
				Msg("No executor registered for section")
			results = append(results, Result{
				Section: section,
				Status:  StatusSkipped,
				Detail:  "no executor registered",
			})
			continue
		}

		for _, entry := range cfg.Sections[section] {
			if err := ctx.Err(); err != nil {
				return results, err
			}

			res, err := exec.Execute(ctx, section, entry, op, dryRun)
			if err != nil {
				d.logger.Error().
					Str("executor", exec.Name()).
					Str("section", section).
					Str("entry", entry.Key()).
					Err(err).
					Msg("Executor operation failed")
				results = append(results, Result{
					Executor: exec.Name(),
					Section:  section,
					Entry:    entry.Key(),
					Status:   StatusFailed,
					Detail:   err.Error(),
				})
				continue
			}
			if res != nil {
				results = append(results, *res)
			}
		}
	}

	return results, nil
}

func sortedSections(cfg *resolve.ResolvedConfig) []string {
	names := make([]string, 0, len(cfg.Sections))
	for name := range cfg.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
