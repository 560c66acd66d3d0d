package reviews

import (
	"context"
	"errors"
	"time"

	"github.com/reviewpulse/platform/pkg/common/models"
	"github.com/reviewpulse/platform/pkg/common/retry"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrConnectionNotFound = errors.New("provider connection not found")
var ErrLocationNotFound = errors.New("location not found")

// reviewUpsertColumns are the fields refreshed when an already-stored
// review is seen again. Repeated upserts of identical content are
// side-effect free.
var reviewUpsertColumns = []string{
	"location_id", "legacy_id", "rating", "comment", "reviewer",
	"create_time", "update_time", "reply_text", "reply_time",
	"legacy_reply", "last_synced_at", "raw", "updated_at",
}

type Repository struct {
	db     *gorm.DB
	policy retry.Policy
}

func NewRepository(db *gorm.DB, policy retry.Policy) *Repository {
	return &Repository{db: db, policy: policy}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&ConnectionModel{}, &LocationModel{}, &ReviewModel{})
}

func (r *Repository) ConnectionByAccount(ctx context.Context, accountID string) (*models.Connection, error) {
	var model ConnectionModel
	err := r.policy.Do(ctx, func(err error) bool { return !errors.Is(err, ErrConnectionNotFound) }, func() error {
		result := r.db.WithContext(ctx).First(&model, "account_id = ?", accountID)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrConnectionNotFound
		}
		return result.Error
	})
	if err != nil {
		return nil, err
	}
	conn := model.toDomain()
	return &conn, nil
}

// SaveToken persists a refreshed credential set. Called by the token
// manager before the new token is used for any API call.
func (r *Repository) SaveToken(ctx context.Context, connectionID, accessToken, tokenType, scope string, expiresAt time.Time) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"expires_at":   expiresAt,
		"updated_at":   time.Now().UTC(),
	}
	if tokenType != "" {
		updates["token_type"] = tokenType
	}
	if scope != "" {
		updates["scope"] = scope
	}
	return r.db.WithContext(ctx).Model(&ConnectionModel{}).
		Where("id = ?", connectionID).Updates(updates).Error
}

func (r *Repository) LocationsForAccount(ctx context.Context, accountID string) ([]models.Location, error) {
	var rows []LocationModel
	err := r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).
			Where("account_id = ?", accountID).
			Order("resource_name").
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	locations := make([]models.Location, 0, len(rows))
	for i := range rows {
		locations = append(locations, rows[i].toDomain())
	}
	return locations, nil
}

func (r *Repository) LocationByID(ctx context.Context, accountID, locationID string) (*models.Location, error) {
	var model LocationModel
	err := r.policy.Do(ctx, func(err error) bool { return !errors.Is(err, ErrLocationNotFound) }, func() error {
		result := r.db.WithContext(ctx).First(&model, "account_id = ? AND id = ?", accountID, locationID)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrLocationNotFound
		}
		return result.Error
	})
	if err != nil {
		return nil, err
	}
	loc := model.toDomain()
	return &loc, nil
}

// ExistingByName loads the stored snapshots for one chunk of resource
// names, keyed by resource name.
func (r *Repository) ExistingByName(ctx context.Context, accountID string, names []string) (map[string]models.Review, error) {
	if len(names) == 0 {
		return map[string]models.Review{}, nil
	}
	var rows []ReviewModel
	err := r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).
			Where("account_id = ? AND resource_name IN ?", accountID, names).
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	existing := make(map[string]models.Review, len(rows))
	for i := range rows {
		existing[rows[i].ResourceName] = rows[i].toDomain()
	}
	return existing, nil
}

// UpsertBatch writes every record in one statement keyed on
// (account_id, resource_name).
func (r *Repository) UpsertBatch(ctx context.Context, recs []models.Review) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]ReviewModel, 0, len(recs))
	now := time.Now().UTC()
	for _, rec := range recs {
		row := fromDomain(rec)
		row.CreatedAt = now
		row.UpdatedAt = now
		rows = append(rows, row)
	}
	return r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "resource_name"}},
			DoUpdates: clause.AssignmentColumns(reviewUpsertColumns),
		}).Create(&rows).Error
	})
}

func (r *Repository) TouchLocation(ctx context.Context, locationID string, at time.Time) error {
	return r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).Model(&LocationModel{}).
			Where("id = ?", locationID).
			Updates(map[string]interface{}{"last_synced_at": at, "updated_at": at}).Error
	})
}

// RecentReviews returns the review rows created since the given time,
// newest first. Feeds the rolling metrics windows.
func (r *Repository) RecentReviews(ctx context.Context, accountID, locationID string, since time.Time) ([]models.Review, error) {
	var rows []ReviewModel
	err := r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).
			Where("account_id = ? AND location_id = ? AND create_time >= ?", accountID, locationID, since).
			Order("create_time DESC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return toDomainSlice(rows), nil
}

// UnansweredLowRated returns the most recent low-rated reviews with no
// owner reply in any of the reply fields. Used by the alert backfill
// sweep.
func (r *Repository) UnansweredLowRated(ctx context.Context, accountID, locationID string, limit int) ([]models.Review, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []ReviewModel
	err := r.policy.Do(ctx, nil, func() error {
		return r.db.WithContext(ctx).
			Where("account_id = ? AND location_id = ? AND rating IS NOT NULL AND rating <= ?", accountID, locationID, 3).
			Where("reply_text = '' AND reply_time IS NULL AND legacy_reply = ''").
			Order("create_time DESC").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return toDomainSlice(rows), nil
}

func toDomainSlice(rows []ReviewModel) []models.Review {
	out := make([]models.Review, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}
