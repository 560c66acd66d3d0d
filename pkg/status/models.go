package status

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunRunning = "running"
	RunDone    = "done"
	RunError   = "error"
)

// Import status values shown to the UI.
const (
	StateSyncing         = "syncing"
	StateSynced          = "synced"
	StateError           = "error"
	StateReauthRequired  = "reauth_required"
	StateLocationMissing = "location_missing"
)

// SyncRunModel is the audit record of one sync attempt for one
// (account, location). Created at attempt start and finalized exactly
// once; never mutated afterwards.
type SyncRunModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	AccountID    string            `gorm:"column:account_id;index"`
	LocationID   string            `gorm:"column:location_id;index"`
	Status       string            `gorm:"column:status"`
	ErrorMessage string            `gorm:"column:error_message"`
	Meta         datatypes.JSONMap `gorm:"column:meta"`
	StartedAt    time.Time         `gorm:"column:started_at"`
	FinishedAt   *time.Time        `gorm:"column:finished_at"`
}

func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ImportStatusModel is a latest-snapshot-only row per (account,
// location), overwritten in place. UI polling only; never used for
// correctness.
type ImportStatusModel struct {
	AccountID  string    `gorm:"column:account_id;primaryKey"`
	LocationID string    `gorm:"column:location_id;primaryKey"`
	State      string    `gorm:"column:state"`
	Detail     string    `gorm:"column:detail"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (ImportStatusModel) TableName() string {
	return "import_statuses"
}
