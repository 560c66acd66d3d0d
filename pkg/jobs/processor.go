package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/reviewpulse/platform/pkg/common/logger"
)

// Queue is the repository slice the processor drives.
type Queue interface {
	ClaimReady(ctx context.Context, limit int) ([]JobModel, error)
	RunningAccounts(ctx context.Context, exclude []uuid.UUID) (map[string]bool, error)
	Defer(ctx context.Context, id uuid.UUID, delay time.Duration) error
	Finish(ctx context.Context, id uuid.UUID, status, lastError string) error
}

// Runner executes the full per-account sync pipeline for one job.
type Runner interface {
	RunAccountSync(ctx context.Context, accountID string) error
}

// BatchResult summarizes one ProcessBatch invocation.
type BatchResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Processor claims ready jobs and executes them sequentially,
// enforcing at most one concurrent sync per account.
type Processor struct {
	queue      Queue
	runner     Runner
	deferDelay time.Duration
}

func NewProcessor(queue Queue, runner Runner, deferDelay time.Duration) *Processor {
	if deferDelay <= 0 {
		deferDelay = 5 * time.Minute
	}
	return &Processor{queue: queue, runner: runner, deferDelay: deferDelay}
}

// ProcessBatch claims up to maxJobs ready jobs atomically, defers any
// whose account is already syncing (elsewhere or earlier in this
// batch), and runs the rest to done or failed. Deferred jobs keep
// their place in the queue with a future run time; failed jobs stay
// failed for an operator to re-drive.
func (p *Processor) ProcessBatch(ctx context.Context, maxJobs int) (BatchResult, error) {
	result := BatchResult{}

	claimed, err := p.queue.ClaimReady(ctx, maxJobs)
	if err != nil {
		return result, err
	}
	if len(claimed) == 0 {
		return result, nil
	}

	claimedIDs := make([]uuid.UUID, 0, len(claimed))
	for _, job := range claimed {
		claimedIDs = append(claimedIDs, job.ID)
	}

	active, err := p.queue.RunningAccounts(ctx, claimedIDs)
	if err != nil {
		// Cannot establish the guard set; put everything back rather
		// than risking two concurrent syncs for one account.
		for _, job := range claimed {
			if deferErr := p.queue.Defer(ctx, job.ID, p.deferDelay); deferErr != nil {
				logger.Log.WithError(deferErr).WithField("job_id", job.ID).Error("failed to defer job")
			}
			result.Skipped++
		}
		return result, err
	}

	for _, job := range claimed {
		if active[job.AccountID] {
			if err := p.queue.Defer(ctx, job.ID, p.deferDelay); err != nil {
				logger.Log.WithError(err).WithField("job_id", job.ID).Error("failed to defer job")
			}
			result.Skipped++
			continue
		}
		active[job.AccountID] = true

		runErr := p.runner.RunAccountSync(ctx, job.AccountID)
		if runErr != nil {
			logger.Log.WithError(runErr).WithFields(map[string]interface{}{
				"job_id":     job.ID,
				"account_id": job.AccountID,
			}).Error("sync job failed")
			if err := p.queue.Finish(ctx, job.ID, StatusFailed, runErr.Error()); err != nil {
				logger.Log.WithError(err).WithField("job_id", job.ID).Error("failed to record job failure")
			}
			result.Failed++
			continue
		}

		if err := p.queue.Finish(ctx, job.ID, StatusDone, ""); err != nil {
			logger.Log.WithError(err).WithField("job_id", job.ID).Error("failed to record job completion")
		}
		result.Processed++
	}

	return result, nil
}
