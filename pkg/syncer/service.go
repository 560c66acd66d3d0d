package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reviewpulse/platform/pkg/common/config"
	"github.com/reviewpulse/platform/pkg/common/kafka"
	"github.com/reviewpulse/platform/pkg/common/logger"
	"github.com/reviewpulse/platform/pkg/common/models"
	"github.com/reviewpulse/platform/pkg/provider"
	"github.com/reviewpulse/platform/pkg/reviews"
	"github.com/reviewpulse/platform/pkg/status"
)

// Options are the per-invocation mode flags from the trigger request.
type Options struct {
	DryRun bool
	Force  bool
	Budget time.Duration
}

// LocationOutcome reports one location's pass within a sync.
type LocationOutcome struct {
	LocationID        string    `json:"location_id"`
	RunID             uuid.UUID `json:"run_id,omitempty"`
	NotFound          bool      `json:"not_found,omitempty"`
	Pages             int       `json:"pages"`
	Inserted          int       `json:"inserted"`
	Updated           int       `json:"updated"`
	Skipped           int       `json:"skipped"`
	AlertsCreated     int       `json:"alerts_created"`
	NotificationsSent int       `json:"notifications_sent"`
	Error             string    `json:"error,omitempty"`
}

// AccountResult is the outcome of one per-account pipeline run.
type AccountResult struct {
	AccountID string            `json:"account_id"`
	Locations []LocationOutcome `json:"locations"`
	Synced    int               `json:"synced"`
	Failed    int               `json:"failed"`
	Aborted   bool              `json:"aborted"`
	DryRun    bool              `json:"dry_run,omitempty"`
}

// Collaborator slices. The concrete types are the provider client,
// the reviews repository/reconciler, the alert engine/dispatcher and
// the status recorder; tests swap in fakes.
type directory interface {
	ConnectionByAccount(ctx context.Context, accountID string) (*models.Connection, error)
	LocationsForAccount(ctx context.Context, accountID string) ([]models.Location, error)
	LocationByID(ctx context.Context, accountID, locationID string) (*models.Location, error)
}

type tokenSource interface {
	EnsureAccessToken(ctx context.Context, conn *models.Connection, force bool) (string, error)
}

type fetcher interface {
	FetchReviews(ctx context.Context, locationName, token string) (provider.FetchResult, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, accountID string, loc models.Location, fetched []provider.ReviewRecord, dryRun bool) (reviews.Result, error)
}

type alertEngine interface {
	Evaluate(ctx context.Context, accountID, locationID string, changed []models.Review) (int, error)
}

type notifier interface {
	FlushPending(ctx context.Context, accountID, locationID string) (int, error)
}

type runRecorder interface {
	BeginRun(ctx context.Context, accountID, locationID string) (uuid.UUID, error)
	FinishRun(ctx context.Context, runID uuid.UUID, runStatus, errorMessage string, meta map[string]interface{}) error
	SetImportStatus(ctx context.Context, accountID, locationID, state, detail string) error
}

// Service runs the fetch → reconcile → alert → notify pipeline for an
// account or a single location.
type Service struct {
	directory  directory
	tokens     tokenSource
	fetcher    fetcher
	reconciler reconciler
	engine     alertEngine
	notifier   notifier
	recorder   runRecorder
	events     *kafka.Producer
	budget     time.Duration
	now        func() time.Time
}

func NewService(cfg *config.Config, dir directory, tokens tokenSource, fetch fetcher, rec reconciler, engine alertEngine, notify notifier, recorder runRecorder, events *kafka.Producer) *Service {
	budget := cfg.SyncTimeBudget
	if budget <= 0 {
		budget = 4 * time.Minute
	}
	return &Service{
		directory:  dir,
		tokens:     tokens,
		fetcher:    fetch,
		reconciler: rec,
		engine:     engine,
		notifier:   notify,
		recorder:   recorder,
		events:     events,
		budget:     budget,
		now:        time.Now,
	}
}

// SyncAccount runs the pipeline over every location of the account.
// Locations are processed sequentially and fail independently; the
// wall-clock budget is checked between locations and sets Aborted
// instead of killing a pass mid-write.
func (s *Service) SyncAccount(ctx context.Context, accountID string, opts Options) (AccountResult, error) {
	result := AccountResult{AccountID: accountID, DryRun: opts.DryRun}

	conn, err := s.directory.ConnectionByAccount(ctx, accountID)
	if err != nil {
		return result, err
	}

	token, err := s.tokens.EnsureAccessToken(ctx, conn, opts.Force)
	if err != nil {
		s.recordReauth(ctx, accountID, err, opts)
		return result, err
	}

	locations, err := s.directory.LocationsForAccount(ctx, accountID)
	if err != nil {
		return result, fmt.Errorf("loading locations for account %s: %w", accountID, err)
	}

	budget := opts.Budget
	if budget <= 0 {
		budget = s.budget
	}
	deadline := s.now().Add(budget)

	for _, loc := range locations {
		if s.now().After(deadline) {
			result.Aborted = true
			break
		}
		outcome := s.syncLocation(ctx, accountID, token, loc, opts)
		result.Locations = append(result.Locations, outcome)
		if outcome.Error != "" {
			result.Failed++
		} else {
			result.Synced++
		}
	}

	return result, nil
}

// SyncLocationByID runs the pipeline for exactly one location, used by
// the manual trigger.
func (s *Service) SyncLocationByID(ctx context.Context, accountID, locationID string, opts Options) (LocationOutcome, error) {
	conn, err := s.directory.ConnectionByAccount(ctx, accountID)
	if err != nil {
		return LocationOutcome{}, err
	}
	token, err := s.tokens.EnsureAccessToken(ctx, conn, opts.Force)
	if err != nil {
		s.recordReauth(ctx, accountID, err, opts)
		return LocationOutcome{}, err
	}
	loc, err := s.directory.LocationByID(ctx, accountID, locationID)
	if err != nil {
		return LocationOutcome{}, err
	}
	return s.syncLocation(ctx, accountID, token, *loc, opts), nil
}

// recordReauth stores the durable reauth signal the UI polls for. The
// connection is unusable until the user re-authorizes, so the status is
// written account-wide rather than per location.
func (s *Service) recordReauth(ctx context.Context, accountID string, err error, opts Options) {
	if !errors.Is(err, provider.ErrReauthRequired) || opts.DryRun {
		return
	}
	if statusErr := s.recorder.SetImportStatus(ctx, accountID, "", status.StateReauthRequired, err.Error()); statusErr != nil {
		logger.Log.WithError(statusErr).Error("failed to record reauth status")
	}
}

// RunAccountSync adapts the service to the job queue's Runner. Only
// account-level failures (connection, token, location load) fail the
// job; per-location failures are already captured on their sync runs.
func (s *Service) RunAccountSync(ctx context.Context, accountID string) error {
	_, err := s.SyncAccount(ctx, accountID, Options{})
	return err
}

func (s *Service) syncLocation(ctx context.Context, accountID, token string, loc models.Location, opts Options) LocationOutcome {
	outcome := LocationOutcome{LocationID: loc.ID}
	log := logger.Log.WithFields(map[string]interface{}{
		"account_id":  accountID,
		"location_id": loc.ID,
	})

	var runID uuid.UUID
	if !opts.DryRun {
		var err error
		runID, err = s.recorder.BeginRun(ctx, accountID, loc.ID)
		if err != nil {
			outcome.Error = fmt.Sprintf("starting sync run: %v", err)
			return outcome
		}
		outcome.RunID = runID
		if err := s.recorder.SetImportStatus(ctx, accountID, loc.ID, status.StateSyncing, ""); err != nil {
			log.WithError(err).Warn("failed to set syncing status")
		}
	}

	fetched, fetchErr := s.fetcher.FetchReviews(ctx, loc.ResourceName, token)
	meta := map[string]interface{}{
		"pages":           fetched.Pages,
		"pages_exhausted": fetched.PagesExhausted,
		"status_counts":   statusCountsMeta(fetched.StatusCounts),
	}

	if fetchErr != nil {
		outcome.Pages = fetched.Pages
		outcome.Error = fetchErr.Error()
		s.finalize(ctx, accountID, loc.ID, runID, status.RunError, fetchErr.Error(), status.StateError, meta, opts)
		return outcome
	}
	outcome.Pages = fetched.Pages

	if fetched.NotFound {
		outcome.NotFound = true
		meta["not_found"] = true
		s.finalize(ctx, accountID, loc.ID, runID, status.RunDone, "", status.StateLocationMissing, meta, opts)
		return outcome
	}

	recResult, err := s.reconciler.Reconcile(ctx, accountID, loc, fetched.Records, opts.DryRun)
	if err != nil {
		outcome.Error = err.Error()
		s.finalize(ctx, accountID, loc.ID, runID, status.RunError, err.Error(), status.StateError, meta, opts)
		return outcome
	}
	outcome.Inserted = recResult.Inserted
	outcome.Updated = recResult.Updated
	outcome.Skipped = recResult.Skipped
	meta["inserted"] = recResult.Inserted
	meta["updated"] = recResult.Updated
	meta["skipped"] = recResult.Skipped
	if recResult.LoadDegraded {
		meta["load_degraded"] = true
	}

	if !opts.DryRun {
		alertCount, alertErr := s.engine.Evaluate(ctx, accountID, loc.ID, recResult.Changed)
		if alertErr != nil {
			// Reviews are already stored; an alert storage failure is
			// recorded on the run but does not undo the location pass.
			log.WithError(alertErr).Error("alert evaluation failed")
			meta["alert_error"] = alertErr.Error()
		}
		outcome.AlertsCreated = alertCount
		meta["alerts_created"] = alertCount

		sent, notifyErr := s.notifier.FlushPending(ctx, accountID, loc.ID)
		if notifyErr != nil {
			log.WithError(notifyErr).Warn("notification flush failed")
			meta["notify_error"] = notifyErr.Error()
		}
		outcome.NotificationsSent = sent
		meta["notifications_sent"] = sent

		detail := fmt.Sprintf("%d inserted, %d updated, %d skipped", recResult.Inserted, recResult.Updated, recResult.Skipped)
		s.finalizeWithDetail(ctx, accountID, loc.ID, runID, status.RunDone, "", status.StateSynced, detail, meta, opts)

		s.publish(ctx, "review.synced", accountID, loc.ID, map[string]interface{}{
			"inserted": recResult.Inserted,
			"updated":  recResult.Updated,
			"skipped":  recResult.Skipped,
		})
		if alertCount > 0 {
			s.publish(ctx, "alert.triggered", accountID, loc.ID, map[string]interface{}{
				"alerts": alertCount,
			})
		}
	}

	return outcome
}

// finalize records the run outcome and import status, skipping all
// writes in dry-run mode.
func (s *Service) finalize(ctx context.Context, accountID, locationID string, runID uuid.UUID, runStatus, errorMessage, importState string, meta map[string]interface{}, opts Options) {
	s.finalizeWithDetail(ctx, accountID, locationID, runID, runStatus, errorMessage, importState, errorMessage, meta, opts)
}

func (s *Service) finalizeWithDetail(ctx context.Context, accountID, locationID string, runID uuid.UUID, runStatus, errorMessage, importState, detail string, meta map[string]interface{}, opts Options) {
	if opts.DryRun {
		return
	}
	if err := s.recorder.FinishRun(ctx, runID, runStatus, errorMessage, meta); err != nil {
		logger.Log.WithError(err).WithField("run_id", runID).Error("failed to finalize sync run")
	}
	if err := s.recorder.SetImportStatus(ctx, accountID, locationID, importState, detail); err != nil {
		logger.Log.WithError(err).Warn("failed to set import status")
	}
}

func (s *Service) publish(ctx context.Context, eventType, accountID, locationID string, data map[string]interface{}) {
	if err := s.events.PublishEvent(ctx, eventType, accountID, locationID, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("event publish failed")
	}
}

// statusCountsMeta converts the int-keyed histogram into the string
// keys a JSON meta column can hold.
func statusCountsMeta(counts map[int]int) map[string]interface{} {
	out := make(map[string]interface{}, len(counts))
	for code, n := range counts {
		out[fmt.Sprintf("%d", code)] = n
	}
	return out
}
