package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeQueue struct {
	ready      []JobModel
	running    map[string]bool
	runningErr error
	deferred   []uuid.UUID
	finished   map[uuid.UUID]string
	lastErrors map[uuid.UUID]string
}

func newFakeQueue(ready ...JobModel) *fakeQueue {
	return &fakeQueue{
		ready:      ready,
		running:    map[string]bool{},
		finished:   map[uuid.UUID]string{},
		lastErrors: map[uuid.UUID]string{},
	}
}

func (q *fakeQueue) ClaimReady(ctx context.Context, limit int) ([]JobModel, error) {
	if limit < len(q.ready) {
		return q.ready[:limit], nil
	}
	return q.ready, nil
}

func (q *fakeQueue) RunningAccounts(ctx context.Context, exclude []uuid.UUID) (map[string]bool, error) {
	if q.runningErr != nil {
		return nil, q.runningErr
	}
	out := map[string]bool{}
	for acct := range q.running {
		out[acct] = true
	}
	return out, nil
}

func (q *fakeQueue) Defer(ctx context.Context, id uuid.UUID, delay time.Duration) error {
	q.deferred = append(q.deferred, id)
	return nil
}

func (q *fakeQueue) Finish(ctx context.Context, id uuid.UUID, status, lastError string) error {
	q.finished[id] = status
	q.lastErrors[id] = lastError
	return nil
}

type fakeRunner struct {
	ran     []string
	failFor map[string]error
}

func (r *fakeRunner) RunAccountSync(ctx context.Context, accountID string) error {
	r.ran = append(r.ran, accountID)
	if r.failFor != nil {
		return r.failFor[accountID]
	}
	return nil
}

func syncJob(accountID string) JobModel {
	return JobModel{ID: uuid.New(), AccountID: accountID, Type: TypeAccountSync, Status: StatusQueued}
}

func TestProcessBatchRunsClaimedJobs(t *testing.T) {
	jobA, jobB := syncJob("acct-a"), syncJob("acct-b")
	queue := newFakeQueue(jobA, jobB)
	runner := &fakeRunner{}
	p := NewProcessor(queue, runner, time.Minute)

	res, err := p.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Processed != 2 || res.Failed != 0 || res.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if queue.finished[jobA.ID] != StatusDone || queue.finished[jobB.ID] != StatusDone {
		t.Fatalf("expected both jobs done, got %v", queue.finished)
	}
	if len(runner.ran) != 2 {
		t.Fatalf("expected both accounts synced, got %v", runner.ran)
	}
}

func TestProcessBatchDefersSecondJobForSameAccount(t *testing.T) {
	first, second := syncJob("acct-a"), syncJob("acct-a")
	queue := newFakeQueue(first, second)
	runner := &fakeRunner{}
	p := NewProcessor(queue, runner, time.Minute)

	res, err := p.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Processed != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(runner.ran) != 1 {
		t.Fatalf("one account must sync at most once per batch, ran %v", runner.ran)
	}
	if len(queue.deferred) != 1 || queue.deferred[0] != second.ID {
		t.Fatalf("expected the second job deferred, got %v", queue.deferred)
	}
}

func TestProcessBatchDefersJobForAlreadyRunningAccount(t *testing.T) {
	job := syncJob("acct-a")
	queue := newFakeQueue(job)
	queue.running["acct-a"] = true
	runner := &fakeRunner{}
	p := NewProcessor(queue, runner, time.Minute)

	res, err := p.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Skipped != 1 || res.Processed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(runner.ran) != 0 {
		t.Fatal("job for a running account must not execute")
	}
}

func TestProcessBatchRecordsFailure(t *testing.T) {
	job := syncJob("acct-a")
	queue := newFakeQueue(job)
	runner := &fakeRunner{failFor: map[string]error{"acct-a": errors.New("provider unreachable")}}
	p := NewProcessor(queue, runner, time.Minute)

	res, err := p.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if queue.finished[job.ID] != StatusFailed {
		t.Fatalf("expected failed status, got %q", queue.finished[job.ID])
	}
	if queue.lastErrors[job.ID] == "" {
		t.Fatal("failure reason must be recorded")
	}
}

func TestProcessBatchDefersEverythingWhenGuardUnavailable(t *testing.T) {
	jobA, jobB := syncJob("acct-a"), syncJob("acct-b")
	queue := newFakeQueue(jobA, jobB)
	queue.runningErr = errors.New("db down")
	runner := &fakeRunner{}
	p := NewProcessor(queue, runner, time.Minute)

	res, err := p.ProcessBatch(context.Background(), 10)
	if err == nil {
		t.Fatal("expected guard failure to surface")
	}
	if res.Skipped != 2 {
		t.Fatalf("all claimed jobs must be put back, got %+v", res)
	}
	if len(queue.deferred) != 2 {
		t.Fatalf("expected both jobs deferred, got %v", queue.deferred)
	}
	if len(runner.ran) != 0 {
		t.Fatal("nothing may run without the concurrency guard")
	}
}

func TestProcessBatchEmptyQueue(t *testing.T) {
	queue := newFakeQueue()
	p := NewProcessor(queue, &fakeRunner{}, time.Minute)

	res, err := p.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Processed != 0 || res.Failed != 0 || res.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}
