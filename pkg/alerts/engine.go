package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reviewpulse/platform/pkg/common/logger"
	"github.com/reviewpulse/platform/pkg/common/models"
	"gorm.io/datatypes"
)

// ReviewSource supplies the review rows the rules need. Implemented by
// the reviews repository.
type ReviewSource interface {
	RecentReviews(ctx context.Context, accountID, locationID string, since time.Time) ([]models.Review, error)
	UnansweredLowRated(ctx context.Context, accountID, locationID string, limit int) ([]models.Review, error)
}

// AlertStore persists triggered alerts with insert-if-absent dedup.
type AlertStore interface {
	InsertIfAbsent(ctx context.Context, alert *AlertModel) (bool, error)
}

// Engine evaluates the alert rules over the records a sync pass
// changed, then runs the backfill sweep when the primary pass stayed
// silent.
type Engine struct {
	rules         RuleConfig
	source        ReviewSource
	store         AlertStore
	backfillLimit int
	now           func() time.Time
}

func NewEngine(rules RuleConfig, source ReviewSource, store AlertStore, backfillLimit int) *Engine {
	if backfillLimit <= 0 {
		backfillLimit = 20
	}
	return &Engine{
		rules:         rules,
		source:        source,
		store:         store,
		backfillLimit: backfillLimit,
		now:           time.Now,
	}
}

// Evaluate runs the rules against the changed records for one
// location and returns the number of newly stored alerts. When the
// primary pass produces literally zero new alerts, the backfill sweep
// re-checks recent unanswered low-rated reviews so purely time-based
// rules still fire for records the sync never touched. The trigger
// condition is exactly "zero new alerts", on purpose.
func (e *Engine) Evaluate(ctx context.Context, accountID, locationID string, changed []models.Review) (int, error) {
	now := e.now().UTC()

	window, err := e.source.RecentReviews(ctx, accountID, locationID, now.Add(-MetricsWindow))
	if err != nil {
		return 0, fmt.Errorf("loading metrics window: %w", err)
	}
	metrics := ComputeLocationMetrics(window, now)

	created, err := e.applyRules(ctx, accountID, locationID, changed, metrics, now)
	if err != nil {
		return created, err
	}
	if created > 0 {
		return created, nil
	}

	candidates, err := e.source.UnansweredLowRated(ctx, accountID, locationID, e.backfillLimit)
	if err != nil {
		return 0, fmt.Errorf("loading backfill candidates: %w", err)
	}
	backfilled, err := e.applyRules(ctx, accountID, locationID, candidates, metrics, now)
	if err != nil {
		return backfilled, err
	}
	if backfilled > 0 {
		logger.Log.WithFields(map[string]interface{}{
			"account_id":  accountID,
			"location_id": locationID,
			"alerts":      backfilled,
		}).Info("backfill sweep raised alerts")
	}
	return backfilled, nil
}

func (e *Engine) applyRules(ctx context.Context, accountID, locationID string, records []models.Review, metrics models.LocationMetrics, now time.Time) (int, error) {
	created := 0
	for _, rev := range records {
		for _, eval := range e.rules.EvaluateReview(rev, metrics, now) {
			alert := &AlertModel{
				ID:          uuid.New(),
				AccountID:   accountID,
				LocationID:  locationID,
				RuleCode:    eval.RuleCode,
				ReviewName:  rev.ResourceName,
				Severity:    eval.Severity,
				Payload:     datatypes.JSONMap(eval.Payload),
				TriggeredAt: now,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			inserted, err := e.store.InsertIfAbsent(ctx, alert)
			if err != nil {
				return created, fmt.Errorf("storing %s alert for %s: %w", eval.RuleCode, rev.ResourceName, err)
			}
			if inserted {
				created++
			}
		}
	}
	return created, nil
}
