package reviews

import (
	"context"
	"fmt"
	"time"

	"github.com/reviewpulse/platform/pkg/common/logger"
	"github.com/reviewpulse/platform/pkg/common/models"
	"github.com/reviewpulse/platform/pkg/provider"
)

// Store is the slice of the repository the reconciler needs.
type Store interface {
	ExistingByName(ctx context.Context, accountID string, names []string) (map[string]models.Review, error)
	UpsertBatch(ctx context.Context, recs []models.Review) error
	TouchLocation(ctx context.Context, locationID string, at time.Time) error
}

// Reconciler maps fetched records onto stored rows, classifying each
// as insert, update or skip, and surfaces the subset whose content
// actually changed for the alert engine.
type Reconciler struct {
	store     Store
	chunkSize int
	now       func() time.Time
}

func NewReconciler(store Store, chunkSize int) *Reconciler {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	return &Reconciler{store: store, chunkSize: chunkSize, now: time.Now}
}

// Result is the outcome of one reconcile pass. LoadDegraded is set
// when a prior-state chunk load failed and the whole batch was
// conservatively counted as skipped.
type Result struct {
	Inserted     int
	Updated      int
	Skipped      int
	Changed      []models.Review
	LoadDegraded bool
}

// Reconcile runs the full normalize/dedupe/classify/upsert pass for
// one location. In dry-run mode classification happens but nothing is
// written. An upsert failure aborts the pass with no partial credit.
func (r *Reconciler) Reconcile(ctx context.Context, accountID string, loc models.Location, fetched []provider.ReviewRecord, dryRun bool) (Result, error) {
	result := Result{}

	// Normalize to a canonical identity and dedupe within the batch,
	// newer snapshot wins. Pagination overlap makes in-batch
	// duplicates routine, not exceptional.
	deduped := make(map[string]provider.ReviewRecord)
	order := make([]string, 0, len(fetched))
	for _, rec := range fetched {
		name := canonicalName(loc, rec)
		if name == "" {
			result.Skipped++
			continue
		}
		prior, ok := deduped[name]
		if !ok {
			deduped[name] = rec
			order = append(order, name)
			continue
		}
		result.Skipped++
		if rec.Newest(prior) {
			deduped[name] = rec
		}
	}

	// Load prior state in bounded chunks. Any chunk failure degrades
	// the whole batch to skipped counting: correctness over optimistic
	// insert/update split. The upsert below still runs.
	existing := make(map[string]models.Review)
	loadFailed := false
	for start := 0; start < len(order); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(order) {
			end = len(order)
		}
		chunk, err := r.store.ExistingByName(ctx, accountID, order[start:end])
		if err != nil {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"account_id":  accountID,
				"location_id": loc.ID,
			}).Warn("prior-state load failed, counting batch as skipped")
			loadFailed = true
			break
		}
		for name, rec := range chunk {
			existing[name] = rec
		}
	}

	syncedAt := r.now().UTC()
	rows := make([]models.Review, 0, len(order))
	for _, name := range order {
		rec := deduped[name]
		row := toReview(accountID, loc.ID, name, rec, syncedAt)
		rows = append(rows, row)

		if loadFailed {
			continue
		}
		prior, ok := existing[name]
		if !ok {
			result.Inserted++
			result.Changed = append(result.Changed, row)
			continue
		}
		result.Updated++
		if contentChanged(prior, row) {
			result.Changed = append(result.Changed, row)
		}
	}
	if loadFailed {
		result.Skipped += len(order)
		result.Changed = nil
		result.LoadDegraded = true
	}

	if dryRun {
		return result, nil
	}

	if err := r.store.UpsertBatch(ctx, rows); err != nil {
		return Result{}, fmt.Errorf("upserting reviews for location %s: %w", loc.ID, err)
	}
	if err := r.store.TouchLocation(ctx, loc.ID, syncedAt); err != nil {
		return Result{}, fmt.Errorf("updating last_synced_at for location %s: %w", loc.ID, err)
	}

	return result, nil
}

// canonicalName prefers the stable resource name and falls back to one
// synthesized from the location plus the legacy id, namespacing the
// non-unique legacy id. Records with neither identity are unusable.
func canonicalName(loc models.Location, rec provider.ReviewRecord) string {
	if rec.Name != "" {
		return rec.Name
	}
	if rec.ReviewID != "" && loc.ResourceName != "" {
		return loc.ResourceName + "/reviews/" + rec.ReviewID
	}
	return ""
}

// contentChanged reports whether any alert-relevant field differs from
// the stored snapshot.
func contentChanged(prior, next models.Review) bool {
	if !ratingEqual(prior.Rating, next.Rating) {
		return true
	}
	if prior.Comment != next.Comment {
		return true
	}
	if !prior.UpdateTime.Equal(next.UpdateTime) {
		return true
	}
	if prior.ReplyText != next.ReplyText {
		return true
	}
	if !timePtrEqual(prior.ReplyTime, next.ReplyTime) {
		return true
	}
	return false
}

func ratingEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func toReview(accountID, locationID, name string, rec provider.ReviewRecord, syncedAt time.Time) models.Review {
	row := models.Review{
		ResourceName: name,
		LegacyID:     rec.ReviewID,
		AccountID:    accountID,
		LocationID:   locationID,
		Rating:       rec.Rating(),
		Comment:      rec.Comment,
		CreateTime:   rec.CreateTime.UTC(),
		UpdateTime:   rec.UpdateTime.UTC(),
		LegacyReply:  rec.ReplyComment,
		LastSyncedAt: syncedAt,
		Raw:          rec.Raw,
	}
	if rec.Reviewer != nil {
		row.Reviewer = rec.Reviewer.DisplayName
	}
	if rec.Reply != nil {
		row.ReplyText = rec.Reply.Comment
		row.ReplyTime = rec.Reply.UpdateTime
	}
	if rec.UpdateTime.IsZero() {
		row.UpdateTime = rec.CreateTime.UTC()
	}
	return row
}
