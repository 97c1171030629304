package stores

import (
	"context"
	"database/sql"
	"time"
)

// RunStatus represents the status of a resolution run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Operation names what a run did with the resolved configuration
type Operation string

const (
	OperationPlan    Operation = "plan"
	OperationBackup  Operation = "backup"
	OperationRestore Operation = "restore"
)

// FindingClass mirrors the resolution warning classification
type FindingClass string

const (
	FindingClassSelector      FindingClass = "selector"
	FindingClassCondition     FindingClass = "condition"
	FindingClassMergeConflict FindingClass = "merge_conflict"
	FindingClassValidation    FindingClass = "validation"
)

// Run represents one template resolution executed against a machine
type Run struct {
	ID              string     `json:"id"`
	TemplateName    string     `json:"template_name"`
	TemplateVersion string     `json:"template_version,omitempty"`
	TemplatePath    string     `json:"template_path,omitempty"`
	MachineName     string     `json:"machine_name"`
	Operation       Operation  `json:"operation"`
	Status          RunStatus  `json:"status"`
	EntryCount      int        `json:"entry_count"`
	WarningCount    int        `json:"warning_count"`
	Resolved        *string    `json:"resolved,omitempty"` // JSON snapshot of the resolved config
	Error           *string    `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Finding represents one warning recorded during a run
type Finding struct {
	ID        int64        `json:"id"`
	RunID     string       `json:"run_id"`
	Class     FindingClass `json:"class"`
	Section   *string      `json:"section,omitempty"`
	Entry     *string      `json:"entry,omitempty"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	ListRunsByMachine(ctx context.Context, machineName string, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, keep int) (int64, error)

	// Finding operations
	AppendFinding(ctx context.Context, finding *Finding) error
	ListFindings(ctx context.Context, runID string, limit, offset int) ([]*Finding, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
