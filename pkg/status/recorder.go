package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/reviewpulse/platform/pkg/common/logger"
	"github.com/reviewpulse/platform/pkg/common/retry"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Recorder persists sync-run audit records and the per-location import
// status snapshot. The optional Redis client mirrors the snapshot for
// cheap UI polling; Postgres stays the source of truth.
type Recorder struct {
	db       *gorm.DB
	cache    *redis.Client
	cacheTTL time.Duration
	policy   retry.Policy
}

func NewRecorder(db *gorm.DB, cache *redis.Client, cacheTTL time.Duration, policy retry.Policy) *Recorder {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &Recorder{db: db, cache: cache, cacheTTL: cacheTTL, policy: policy}
}

func (r *Recorder) AutoMigrate() error {
	return r.db.AutoMigrate(&SyncRunModel{}, &ImportStatusModel{})
}

// BeginRun inserts a running sync-run row and returns its id.
func (r *Recorder) BeginRun(ctx context.Context, accountID, locationID string) (uuid.UUID, error) {
	run := &SyncRunModel{
		ID:         uuid.New(),
		AccountID:  accountID,
		LocationID: locationID,
		Status:     RunRunning,
		StartedAt:  time.Now().UTC(),
	}
	err := r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).Create(run).Error
	})
	if err != nil {
		return uuid.Nil, err
	}
	return run.ID, nil
}

// FinishRun finalizes the run exactly once: the WHERE clause only
// matches a row still in the running state, so a second finalize is a
// no-op.
func (r *Recorder) FinishRun(ctx context.Context, runID uuid.UUID, runStatus, errorMessage string, meta map[string]interface{}) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":        runStatus,
		"error_message": errorMessage,
		"finished_at":   now,
	}
	if meta != nil {
		updates["meta"] = datatypes.JSONMap(meta)
	}
	return r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).Model(&SyncRunModel{}).
			Where("id = ? AND status = ?", runID, RunRunning).
			Updates(updates).Error
	})
}

// SetImportStatus overwrites the latest snapshot for the location and
// mirrors it into Redis. A cache write failure is logged, never
// surfaced: the snapshot is for polling, not correctness.
func (r *Recorder) SetImportStatus(ctx context.Context, accountID, locationID, state, detail string) error {
	now := time.Now().UTC()
	row := ImportStatusModel{
		AccountID:  accountID,
		LocationID: locationID,
		State:      state,
		Detail:     detail,
		UpdatedAt:  now,
	}
	err := r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "location_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "detail", "updated_at"}),
		}).Create(&row).Error
	})
	if err != nil {
		return err
	}

	if r.cache != nil {
		payload, marshalErr := json.Marshal(row)
		if marshalErr == nil {
			if cacheErr := r.cache.Set(ctx, statusKey(accountID, locationID), payload, r.cacheTTL).Err(); cacheErr != nil {
				logger.Log.WithError(cacheErr).Debug("import status cache write failed")
			}
		}
	}
	return nil
}

// ImportStatuses returns the snapshots for an account, trying the
// cache per location before falling back to the table.
func (r *Recorder) ImportStatuses(ctx context.Context, accountID string) ([]ImportStatusModel, error) {
	var rows []ImportStatusModel
	err := r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).
			Where("account_id = ?", accountID).
			Order("location_id").
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		for i := range rows {
			cached, cacheErr := r.cache.Get(ctx, statusKey(accountID, rows[i].LocationID)).Bytes()
			if cacheErr != nil {
				continue
			}
			var snapshot ImportStatusModel
			if json.Unmarshal(cached, &snapshot) == nil && snapshot.UpdatedAt.After(rows[i].UpdatedAt) {
				rows[i] = snapshot
			}
		}
	}
	return rows, nil
}

// RecentRuns lists the latest sync runs for the account, newest first.
func (r *Recorder) RecentRuns(ctx context.Context, accountID string, limit int) ([]SyncRunModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []SyncRunModel
	err := r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).
			Where("account_id = ?", accountID).
			Order("started_at DESC").
			Limit(limit).
			Find(&runs).Error
	})
	return runs, err
}

func statusKey(accountID, locationID string) string {
	return fmt.Sprintf("import_status:%s:%s", accountID, locationID)
}
