package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/reviewpulse/platform/pkg/common/retry"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	db     *gorm.DB
	policy retry.Policy
}

func NewRepository(db *gorm.DB, policy retry.Policy) *Repository {
	return &Repository{db: db, policy: policy}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&JobModel{})
}

func (r *Repository) Enqueue(ctx context.Context, accountID, jobType string, payload map[string]interface{}, runAt time.Time) (*JobModel, error) {
	now := time.Now().UTC()
	job := &JobModel{
		ID:        uuid.New(),
		AccountID: accountID,
		Type:      jobType,
		Payload:   datatypes.JSONMap(payload),
		Status:    StatusQueued,
		RunAt:     runAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).Create(job).Error
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimReady flips up to limit ready jobs to running in a single
// statement. SKIP LOCKED keeps two overlapping invocations from
// claiming the same rows; the claim itself is never retried because a
// silently double-committed claim would double-execute the job.
func (r *Repository) ClaimReady(ctx context.Context, limit int) ([]JobModel, error) {
	if limit <= 0 {
		limit = 10
	}
	var claimed []JobModel
	err := r.db.WithContext(ctx).Raw(`
		UPDATE sync_jobs SET status = ?, started_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM sync_jobs
			WHERE status = ? AND run_at <= NOW()
			ORDER BY run_at
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, StatusRunning, StatusQueued, limit).Scan(&claimed).Error
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// RunningAccounts returns the accounts that currently hold a running
// job, excluding the given job ids (the batch just claimed).
func (r *Repository) RunningAccounts(ctx context.Context, exclude []uuid.UUID) (map[string]bool, error) {
	var accounts []string
	err := r.policy.Do(ctx, nil, func() error {
		query := r.db.WithContext(ctx).Model(&JobModel{}).Where("status = ?", StatusRunning)
		if len(exclude) > 0 {
			query = query.Where("id NOT IN ?", exclude)
		}
		return query.Distinct().Pluck("account_id", &accounts).Error
	})
	if err != nil {
		return nil, err
	}
	running := make(map[string]bool, len(accounts))
	for _, id := range accounts {
		running[id] = true
	}
	return running, nil
}

// Defer returns a claimed job to the queue with attempts incremented
// and the run time pushed forward. Used when the job's account already
// has a running sync. The status guard keeps a retried write from
// incrementing attempts twice.
func (r *Repository) Defer(ctx context.Context, id uuid.UUID, delay time.Duration) error {
	now := time.Now().UTC()
	return r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).Model(&JobModel{}).
			Where("id = ? AND status = ?", id, StatusRunning).
			Updates(map[string]interface{}{
				"status":     StatusQueued,
				"attempts":   gorm.Expr("attempts + 1"),
				"run_at":     now.Add(delay),
				"started_at": nil,
				"updated_at": now,
			}).Error
	})
}

// Finish records the terminal outcome of an executed job. Only a
// still-running row is touched, so a retried write cannot rewrite a
// finalized job.
func (r *Repository) Finish(ctx context.Context, id uuid.UUID, status, lastError string) error {
	now := time.Now().UTC()
	return r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).Model(&JobModel{}).
			Where("id = ? AND status = ?", id, StatusRunning).
			Updates(map[string]interface{}{
				"status":      status,
				"last_error":  lastError,
				"finished_at": now,
				"updated_at":  now,
			}).Error
	})
}
