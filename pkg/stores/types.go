package stores

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunKind names the operation a run record describes.
type RunKind string

const (
	RunKindSync    RunKind = "sync"
	RunKindClean   RunKind = "clean"
	RunKindMapSync RunKind = "map-sync"
)

// RunStatus tracks a run through its lifecycle.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// SyncRun is one recorded invocation against a target.
type SyncRun struct {
	ID             string     `json:"id"`
	Kind           RunKind    `json:"kind"`
	PlanID         string     `json:"plan_id"`
	Target         string     `json:"target"`
	DryRun         bool       `json:"dry_run"`
	Status         RunStatus  `json:"status"`
	EpicsCreated   int        `json:"epics_created"`
	StoriesCreated int        `json:"stories_created"`
	TasksCreated   int        `json:"tasks_created"`
	ItemsUpdated   int        `json:"items_updated"`
	ItemsDeleted   int        `json:"items_deleted"`
	Warnings       int        `json:"warnings"`
	Error          *string    `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// NewSyncRun returns a running record with a fresh ID.
func NewSyncRun(kind RunKind, planID, target string, dryRun bool) *SyncRun {
	return &SyncRun{
		ID:        uuid.New().String(),
		Kind:      kind,
		PlanID:    planID,
		Target:    target,
		DryRun:    dryRun,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// RunEvent is one append-only log entry attached to a run.
type RunEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	ItemID    *string   `json:"item_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Event kinds recorded during a run.
const (
	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
	EventItemCreated   = "item.created"
	EventItemUpdated   = "item.updated"
	EventItemDeleted   = "item.deleted"
)

// Store is the persistence layer for run history.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	// Run operations
	RecordRun(ctx context.Context, run *SyncRun) error
	FinishRun(ctx context.Context, run *SyncRun) error
	GetRun(ctx context.Context, id string) (*SyncRun, error)
	ListRuns(ctx context.Context, limit int) ([]*SyncRun, error)

	// Event operations
	AppendEvent(ctx context.Context, event *RunEvent) error
	ListEvents(ctx context.Context, runID string) ([]*RunEvent, error)
}
