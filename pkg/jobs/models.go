package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

const TypeAccountSync = "account_sync"

// JobModel is one queued unit of sync work. Failed jobs are not
// auto-requeued; a job deferred by the one-sync-per-account guard goes
// back to queued with attempts incremented and run_at pushed forward.
type JobModel struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	AccountID  string            `gorm:"column:account_id;index"`
	Type       string            `gorm:"column:type"`
	Payload    datatypes.JSONMap `gorm:"column:payload"`
	Status     string            `gorm:"column:status;index:idx_jobs_status_run_at"`
	Attempts   int               `gorm:"column:attempts"`
	LastError  string            `gorm:"column:last_error"`
	RunAt      time.Time         `gorm:"column:run_at;index:idx_jobs_status_run_at"`
	StartedAt  *time.Time        `gorm:"column:started_at"`
	FinishedAt *time.Time        `gorm:"column:finished_at"`
	CreatedAt  time.Time         `gorm:"column:created_at"`
	UpdatedAt  time.Time         `gorm:"column:updated_at"`
}

func (JobModel) TableName() string {
	return "sync_jobs"
}
