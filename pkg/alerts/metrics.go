package alerts

import (
	"time"

	"github.com/reviewpulse/platform/pkg/common/models"
)

// MetricsWindow is how far back the metrics computation needs review
// rows. Callers feed ComputeLocationMetrics everything created since
// now minus this window.
const MetricsWindow = 30 * 24 * time.Hour

// ComputeLocationMetrics derives the rolling per-location statistics
// from the trailing 30 days of reviews. Unrated reviews are excluded
// from the averages; a window with zero rated samples yields a nil
// average, never zero.
func ComputeLocationMetrics(reviews []models.Review, now time.Time) models.LocationMetrics {
	var (
		sum7, sum30     float64
		count7, count30 int
		negatives48     int
	)
	cut7 := now.Add(-7 * 24 * time.Hour)
	cut30 := now.Add(-MetricsWindow)
	cut48 := now.Add(-48 * time.Hour)

	for _, rev := range reviews {
		if rev.CreateTime.Before(cut30) || rev.CreateTime.After(now) {
			continue
		}
		if rev.Rating == nil {
			continue
		}
		rating := float64(*rev.Rating)
		sum30 += rating
		count30++
		if !rev.CreateTime.Before(cut7) {
			sum7 += rating
			count7++
		}
		if !rev.CreateTime.Before(cut48) && *rev.Rating <= 2 {
			negatives48++
		}
	}

	metrics := models.LocationMetrics{
		Negatives48h:   negatives48,
		RatedSamples7d: count7,
	}
	if count7 > 0 {
		avg := sum7 / float64(count7)
		metrics.Avg7d = &avg
	}
	if count30 > 0 {
		avg := sum30 / float64(count30)
		metrics.Avg30d = &avg
	}
	return metrics
}
