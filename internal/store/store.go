package store

import (
	"context"
	"time"

	"github.com/sells-group/funnel-cli/internal/model"
)

// SnapshotInfo summarizes a persisted run snapshot.
type SnapshotInfo struct {
	RunID              string    `json:"run_id"`
	LeadCount          int       `json:"lead_count"`
	CurrentStageIndex  int       `json:"current_stage_index"`
	ProcessingComplete bool      `json:"processing_complete"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Store persists run snapshots so a run can resume mid-pipeline after a
// restart. The engine writes a snapshot after every stage transition.
type Store interface {
	SaveSnapshot(ctx context.Context, runID string, state *model.RunState) error
	// LoadSnapshot returns nil when no snapshot exists for the run.
	LoadSnapshot(ctx context.Context, runID string) (*model.RunState, error)
	RemoveSnapshot(ctx context.Context, runID string) error
	ListSnapshots(ctx context.Context) ([]SnapshotInfo, error)

	Migrate(ctx context.Context) error
	Close() error
}
