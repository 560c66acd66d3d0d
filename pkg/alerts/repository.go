package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/reviewpulse/platform/pkg/common/retry"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db     *gorm.DB
	policy retry.Policy
}

func NewRepository(db *gorm.DB, policy retry.Policy) *Repository {
	return &Repository{db: db, policy: policy}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&AlertModel{})
}

// InsertIfAbsent writes the alert unless one already exists for the
// same (rule_code, review_name). Returns whether a new row was stored.
func (r *Repository) InsertIfAbsent(ctx context.Context, alert *AlertModel) (bool, error) {
	var inserted bool
	err := r.policy.Do(ctx, nil, func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "rule_code"}, {Name: "review_name"}},
			DoNothing: true,
		}).Create(alert)
		if result.Error != nil {
			return result.Error
		}
		inserted = result.RowsAffected > 0
		return nil
	})
	return inserted, err
}

// PendingNotification loads unresolved, never-notified alerts, oldest
// first, bounded.
func (r *Repository) PendingNotification(ctx context.Context, accountID, locationID string, limit int) ([]AlertModel, error) {
	if limit <= 0 {
		limit = 25
	}
	var rows []AlertModel
	err := r.policy.Do(ctx, nil, func() error {
		query := r.db.WithContext(ctx).
			Where("account_id = ? AND resolved_at IS NULL AND last_notified_at IS NULL", accountID)
		if locationID != "" {
			query = query.Where("location_id = ?", locationID)
		}
		return query.Order("triggered_at ASC").Limit(limit).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).Model(&AlertModel{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"last_notified_at": at, "updated_at": at}).Error
	})
}

// ForAccount lists recent alerts for the observability endpoint.
func (r *Repository) ForAccount(ctx context.Context, accountID string, limit int) ([]AlertModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []AlertModel
	err := r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).
			Where("account_id = ?", accountID).
			Order("triggered_at DESC").
			Limit(limit).
			Find(&rows).Error
	})
	return rows, err
}
