package syncer

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/reviewpulse/platform/pkg/alerts"
	"github.com/reviewpulse/platform/pkg/common/models"
	"github.com/reviewpulse/platform/pkg/provider"
	"github.com/reviewpulse/platform/pkg/reviews"
	"github.com/reviewpulse/platform/pkg/status"
)

type fakeDirectory struct {
	conn      *models.Connection
	connErr   error
	locations []models.Location
	locErr    error
}

func (d *fakeDirectory) ConnectionByAccount(ctx context.Context, accountID string) (*models.Connection, error) {
	if d.connErr != nil {
		return nil, d.connErr
	}
	return d.conn, nil
}

func (d *fakeDirectory) LocationsForAccount(ctx context.Context, accountID string) ([]models.Location, error) {
	return d.locations, d.locErr
}

func (d *fakeDirectory) LocationByID(ctx context.Context, accountID, locationID string) (*models.Location, error) {
	for i := range d.locations {
		if d.locations[i].ID == locationID {
			return &d.locations[i], nil
		}
	}
	return nil, reviews.ErrLocationNotFound
}

type fakeTokens struct {
	token  string
	err    error
	forced bool
}

func (t *fakeTokens) EnsureAccessToken(ctx context.Context, conn *models.Connection, force bool) (string, error) {
	t.forced = force
	return t.token, t.err
}

type fakeFetcher struct {
	results map[string]provider.FetchResult
	err     error
}

func (f *fakeFetcher) FetchReviews(ctx context.Context, locationName, token string) (provider.FetchResult, error) {
	if f.err != nil {
		return provider.FetchResult{StatusCounts: map[int]int{500: 1}}, f.err
	}
	return f.results[locationName], nil
}

type fakeReconciler struct {
	result  reviews.Result
	err     error
	dryRuns []bool
}

func (r *fakeReconciler) Reconcile(ctx context.Context, accountID string, loc models.Location, fetched []provider.ReviewRecord, dryRun bool) (reviews.Result, error) {
	r.dryRuns = append(r.dryRuns, dryRun)
	return r.result, r.err
}

type fakeEngine struct {
	count int
	err   error
	calls int
}

func (e *fakeEngine) Evaluate(ctx context.Context, accountID, locationID string, changed []models.Review) (int, error) {
	e.calls++
	return e.count, e.err
}

type fakeNotifier struct {
	sent int
	err  error
}

func (n *fakeNotifier) FlushPending(ctx context.Context, accountID, locationID string) (int, error) {
	return n.sent, n.err
}

type statusEntry struct {
	accountID  string
	locationID string
	state      string
	detail     string
}

type fakeRecorder struct {
	began      int
	runResults map[uuid.UUID]string
	statuses   []statusEntry
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{runResults: map[uuid.UUID]string{}}
}

func (r *fakeRecorder) BeginRun(ctx context.Context, accountID, locationID string) (uuid.UUID, error) {
	r.began++
	return uuid.New(), nil
}

func (r *fakeRecorder) FinishRun(ctx context.Context, runID uuid.UUID, runStatus, errorMessage string, meta map[string]interface{}) error {
	r.runResults[runID] = runStatus
	return nil
}

func (r *fakeRecorder) SetImportStatus(ctx context.Context, accountID, locationID, state, detail string) error {
	r.statuses = append(r.statuses, statusEntry{accountID, locationID, state, detail})
	return nil
}

func (r *fakeRecorder) lastState() string {
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1].state
}

// memStore backs the end-to-end test: it is both the reconciler's
// review store and the alert engine's source and sink.
type memStore struct {
	rows      map[string]models.Review
	alertKeys []string
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]models.Review{}}
}

func (s *memStore) ExistingByName(ctx context.Context, accountID string, names []string) (map[string]models.Review, error) {
	out := map[string]models.Review{}
	for _, n := range names {
		if rec, ok := s.rows[n]; ok {
			out[n] = rec
		}
	}
	return out, nil
}

func (s *memStore) UpsertBatch(ctx context.Context, recs []models.Review) error {
	for _, rec := range recs {
		s.rows[rec.ResourceName] = rec
	}
	return nil
}

func (s *memStore) TouchLocation(ctx context.Context, locationID string, at time.Time) error {
	return nil
}

func (s *memStore) RecentReviews(ctx context.Context, accountID, locationID string, since time.Time) ([]models.Review, error) {
	var out []models.Review
	for _, rec := range s.rows {
		if rec.LocationID == locationID && rec.CreateTime.After(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memStore) UnansweredLowRated(ctx context.Context, accountID, locationID string, limit int) ([]models.Review, error) {
	var out []models.Review
	for _, rec := range s.rows {
		if rec.LocationID == locationID && rec.Rating != nil && *rec.Rating <= 3 && !rec.HasReply() {
			out = append(out, rec)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) InsertIfAbsent(ctx context.Context, alert *alerts.AlertModel) (bool, error) {
	key := alert.RuleCode + "|" + alert.ReviewName
	for _, existing := range s.alertKeys {
		if existing == key {
			return false, nil
		}
	}
	s.alertKeys = append(s.alertKeys, key)
	return true, nil
}

var testConn = &models.Connection{ID: "conn-1", AccountID: "acct", RefreshToken: "rt"}

func testService(dir directory, tokens tokenSource, fetch fetcher, rec reconciler, engine alertEngine, notify notifier, recorder runRecorder) *Service {
	return &Service{
		directory:  dir,
		tokens:     tokens,
		fetcher:    fetch,
		reconciler: rec,
		engine:     engine,
		notifier:   notify,
		recorder:   recorder,
		budget:     time.Minute,
		now:        time.Now,
	}
}

func wireRecord(location, id, rating string, created time.Time) provider.ReviewRecord {
	return provider.ReviewRecord{
		Name:       location + "/reviews/" + id,
		ReviewID:   id,
		StarRating: rating,
		CreateTime: created,
		UpdateTime: created,
	}
}

func TestSyncAccountEndToEnd(t *testing.T) {
	resource := "accounts/1/locations/2"
	loc := models.Location{ID: "loc-1", AccountID: "acct", ResourceName: resource}
	dir := &fakeDirectory{conn: testConn, locations: []models.Location{loc}}

	created := time.Now().UTC().Add(-25 * time.Hour)
	fetch := &fakeFetcher{results: map[string]provider.FetchResult{
		resource: {
			Records: []provider.ReviewRecord{
				wireRecord(resource, "a", "FIVE", created),
				wireRecord(resource, "b", "ONE", created),
				wireRecord(resource, "c", "TWO", created),
			},
			Pages:        1,
			StatusCounts: map[int]int{200: 1},
		},
	}}

	mem := newMemStore()
	recorder := newFakeRecorder()
	svc := testService(
		dir,
		&fakeTokens{token: "tok"},
		fetch,
		reviews.NewReconciler(mem, 50),
		alerts.NewEngine(alerts.DefaultRules(), mem, mem, 20),
		&fakeNotifier{sent: 2},
		recorder,
	)

	result, err := svc.SyncAccount(context.Background(), "acct", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Synced != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	outcome := result.Locations[0]
	if outcome.Inserted != 3 {
		t.Fatalf("expected 3 inserts, got %+v", outcome)
	}
	if outcome.AlertsCreated != 2 {
		t.Fatalf("expected unanswered-negative alerts for both low ratings, got %+v", outcome)
	}
	if outcome.NotificationsSent != 2 {
		t.Fatalf("expected notification count surfaced, got %+v", outcome)
	}

	sort.Strings(mem.alertKeys)
	want := []string{
		alerts.RuleNegativeNoReply + "|" + resource + "/reviews/b",
		alerts.RuleNegativeNoReply + "|" + resource + "/reviews/c",
	}
	if len(mem.alertKeys) != 2 || mem.alertKeys[0] != want[0] || mem.alertKeys[1] != want[1] {
		t.Fatalf("unexpected alerts: %v", mem.alertKeys)
	}

	if recorder.lastState() != status.StateSynced {
		t.Fatalf("expected synced import state, got %q", recorder.lastState())
	}

	// Second pass over the same data: idempotent, no new alerts.
	result, err = svc.SyncAccount(context.Background(), "acct", Options{})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	outcome = result.Locations[0]
	if outcome.Inserted != 0 || outcome.Updated != 3 {
		t.Fatalf("replay should update in place: %+v", outcome)
	}
	if outcome.AlertsCreated != 0 {
		t.Fatalf("replay must not duplicate alerts: %+v", outcome)
	}
}

func TestSyncAccountReauthRecordsStatus(t *testing.T) {
	dir := &fakeDirectory{conn: testConn}
	recorder := newFakeRecorder()
	svc := testService(dir, &fakeTokens{err: provider.ErrReauthRequired}, &fakeFetcher{}, &fakeReconciler{}, &fakeEngine{}, &fakeNotifier{}, recorder)

	_, err := svc.SyncAccount(context.Background(), "acct", Options{})
	if !errors.Is(err, provider.ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
	if len(recorder.statuses) != 1 || recorder.statuses[0].state != status.StateReauthRequired {
		t.Fatalf("expected reauth_required status recorded, got %+v", recorder.statuses)
	}
	if recorder.statuses[0].locationID != "" {
		t.Fatal("reauth status is account-wide, not per location")
	}
}

func TestSyncLocationByIDReauthRecordsStatus(t *testing.T) {
	dir := &fakeDirectory{conn: testConn}
	recorder := newFakeRecorder()
	svc := testService(dir, &fakeTokens{err: provider.ErrReauthRequired}, &fakeFetcher{}, &fakeReconciler{}, &fakeEngine{}, &fakeNotifier{}, recorder)

	_, err := svc.SyncLocationByID(context.Background(), "acct", "loc-1", Options{})
	if !errors.Is(err, provider.ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
	if len(recorder.statuses) != 1 || recorder.statuses[0].state != status.StateReauthRequired {
		t.Fatalf("manual trigger must record the reauth signal too, got %+v", recorder.statuses)
	}
}

func TestSyncAccountBudgetAborts(t *testing.T) {
	locs := []models.Location{
		{ID: "loc-1", AccountID: "acct", ResourceName: "accounts/1/locations/1"},
		{ID: "loc-2", AccountID: "acct", ResourceName: "accounts/1/locations/2"},
	}
	dir := &fakeDirectory{conn: testConn, locations: locs}
	recorder := newFakeRecorder()
	svc := testService(dir, &fakeTokens{token: "tok"}, &fakeFetcher{results: map[string]provider.FetchResult{}}, &fakeReconciler{}, &fakeEngine{}, &fakeNotifier{}, recorder)

	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base, base.Add(2 * time.Minute)}
	svc.now = func() time.Time {
		next := ticks[0]
		if len(ticks) > 1 {
			ticks = ticks[1:]
		}
		return next
	}

	result, err := svc.SyncAccount(context.Background(), "acct", Options{Budget: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Aborted {
		t.Fatal("expected abort once the budget expired")
	}
	if len(result.Locations) != 1 {
		t.Fatalf("expected exactly one location processed, got %d", len(result.Locations))
	}
}

func TestSyncLocationFetchErrorFinalizesRun(t *testing.T) {
	loc := models.Location{ID: "loc-1", AccountID: "acct", ResourceName: "accounts/1/locations/1"}
	dir := &fakeDirectory{conn: testConn, locations: []models.Location{loc}}
	recorder := newFakeRecorder()
	rec := &fakeReconciler{}
	svc := testService(dir, &fakeTokens{token: "tok"}, &fakeFetcher{err: errors.New("upstream 500")}, rec, &fakeEngine{}, &fakeNotifier{}, recorder)

	result, err := svc.SyncAccount(context.Background(), "acct", Options{})
	if err != nil {
		t.Fatalf("account-level call must not fail on a location error: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if recorder.lastState() != status.StateError {
		t.Fatalf("expected error import state, got %q", recorder.lastState())
	}
	for _, st := range recorder.runResults {
		if st != status.RunError {
			t.Fatalf("expected run finalized as error, got %q", st)
		}
	}
	if len(rec.dryRuns) != 0 {
		t.Fatal("reconciler must not run after a fetch failure")
	}
}

func TestSyncLocationNotFound(t *testing.T) {
	resource := "accounts/1/locations/gone"
	loc := models.Location{ID: "loc-1", AccountID: "acct", ResourceName: resource}
	dir := &fakeDirectory{conn: testConn, locations: []models.Location{loc}}
	recorder := newFakeRecorder()
	rec := &fakeReconciler{}
	fetch := &fakeFetcher{results: map[string]provider.FetchResult{
		resource: {NotFound: true, Pages: 1, StatusCounts: map[int]int{404: 1}},
	}}
	svc := testService(dir, &fakeTokens{token: "tok"}, fetch, rec, &fakeEngine{}, &fakeNotifier{}, recorder)

	result, err := svc.SyncAccount(context.Background(), "acct", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failed != 0 || !result.Locations[0].NotFound {
		t.Fatalf("a vanished location is not a failure: %+v", result)
	}
	if recorder.lastState() != status.StateLocationMissing {
		t.Fatalf("expected location_missing state, got %q", recorder.lastState())
	}
	if len(rec.dryRuns) != 0 {
		t.Fatal("reconciler must not run for a missing location")
	}
}

func TestSyncAccountDryRunWritesNothing(t *testing.T) {
	resource := "accounts/1/locations/1"
	loc := models.Location{ID: "loc-1", AccountID: "acct", ResourceName: resource}
	dir := &fakeDirectory{conn: testConn, locations: []models.Location{loc}}
	recorder := newFakeRecorder()
	rec := &fakeReconciler{result: reviews.Result{Inserted: 2}}
	engine := &fakeEngine{}
	fetch := &fakeFetcher{results: map[string]provider.FetchResult{
		resource: {Records: []provider.ReviewRecord{wireRecord(resource, "a", "FIVE", time.Now())}, Pages: 1},
	}}
	svc := testService(dir, &fakeTokens{token: "tok"}, fetch, rec, engine, &fakeNotifier{}, recorder)

	result, err := svc.SyncAccount(context.Background(), "acct", Options{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.DryRun || result.Locations[0].Inserted != 2 {
		t.Fatalf("dry run still classifies: %+v", result)
	}
	if recorder.began != 0 || len(recorder.statuses) != 0 {
		t.Fatal("dry run must not touch the run recorder")
	}
	if len(rec.dryRuns) != 1 || !rec.dryRuns[0] {
		t.Fatalf("reconciler must see the dry-run flag, got %v", rec.dryRuns)
	}
	if engine.calls != 0 {
		t.Fatal("alerts must not be evaluated in dry-run mode")
	}
}

func TestSyncAccountForcePropagatesToTokenRefresh(t *testing.T) {
	dir := &fakeDirectory{conn: testConn}
	tokens := &fakeTokens{token: "tok"}
	svc := testService(dir, tokens, &fakeFetcher{}, &fakeReconciler{}, &fakeEngine{}, &fakeNotifier{}, newFakeRecorder())

	if _, err := svc.SyncAccount(context.Background(), "acct", Options{Force: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tokens.forced {
		t.Fatal("force flag must reach the token manager")
	}
}

func TestSyncLocationAlertFailureKeepsRunDone(t *testing.T) {
	resource := "accounts/1/locations/1"
	loc := models.Location{ID: "loc-1", AccountID: "acct", ResourceName: resource}
	dir := &fakeDirectory{conn: testConn, locations: []models.Location{loc}}
	recorder := newFakeRecorder()
	engine := &fakeEngine{err: errors.New("alert insert failed")}
	fetch := &fakeFetcher{results: map[string]provider.FetchResult{resource: {Pages: 1}}}
	svc := testService(dir, &fakeTokens{token: "tok"}, fetch, &fakeReconciler{}, engine, &fakeNotifier{}, recorder)

	result, err := svc.SyncAccount(context.Background(), "acct", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failed != 0 {
		t.Fatalf("stored reviews must keep the run done despite alert failure: %+v", result)
	}
	for _, st := range recorder.runResults {
		if st != status.RunDone {
			t.Fatalf("expected run done, got %q", st)
		}
	}
}

func TestSyncLocationByID(t *testing.T) {
	resource := "accounts/1/locations/2"
	loc := models.Location{ID: "loc-2", AccountID: "acct", ResourceName: resource}
	dir := &fakeDirectory{conn: testConn, locations: []models.Location{loc}}
	recorder := newFakeRecorder()
	fetch := &fakeFetcher{results: map[string]provider.FetchResult{resource: {Pages: 1}}}
	svc := testService(dir, &fakeTokens{token: "tok"}, fetch, &fakeReconciler{}, &fakeEngine{}, &fakeNotifier{}, recorder)

	outcome, err := svc.SyncLocationByID(context.Background(), "acct", "loc-2", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.LocationID != "loc-2" || outcome.Error != "" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	if _, err := svc.SyncLocationByID(context.Background(), "acct", "nope", Options{}); !errors.Is(err, reviews.ErrLocationNotFound) {
		t.Fatalf("expected ErrLocationNotFound, got %v", err)
	}
}
