package alerts

import (
	"time"

	"github.com/reviewpulse/platform/pkg/common/models"
)

// Evaluation is one rule firing for one review, with enough evidence
// in the payload to render a human-readable summary without touching
// source data again.
type Evaluation struct {
	RuleCode string
	Severity string
	Payload  map[string]interface{}
}

const snippetLen = 160

// EvaluateReview runs every rule against a single review in the
// context of the location's rolling metrics. Rules are independent: a
// single review may trigger several of them.
func (c RuleConfig) EvaluateReview(rev models.Review, metrics models.LocationMetrics, now time.Time) []Evaluation {
	var out []Evaluation

	if eval := c.negativeNoReply(rev, now); eval != nil {
		out = append(out, *eval)
	}
	if eval := c.ratingDrop(rev, metrics); eval != nil {
		out = append(out, *eval)
	}
	if eval := c.negativitySpike(rev, metrics); eval != nil {
		out = append(out, *eval)
	}
	if eval := c.longNegative(rev); eval != nil {
		out = append(out, *eval)
	}
	return out
}

func (c RuleConfig) negativeNoReply(rev models.Review, now time.Time) *Evaluation {
	if rev.Rating == nil || *rev.Rating > 2 || rev.HasReply() {
		return nil
	}
	hours := unansweredHours(rev, now)
	if hours < c.NegativeNoReply.MaxHoursUnanswered {
		return nil
	}
	severity := SeverityMedium
	if c.Profile == ProfileStrict {
		severity = SeverityHigh
	}
	return &Evaluation{
		RuleCode: RuleNegativeNoReply,
		Severity: severity,
		Payload: map[string]interface{}{
			"rating":          *rev.Rating,
			"hours_unreplied": round1(hours),
			"reviewer":        rev.Reviewer,
			"snippet":         snippet(rev.Comment),
		},
	}
}

func (c RuleConfig) ratingDrop(rev models.Review, metrics models.LocationMetrics) *Evaluation {
	if metrics.Avg7d == nil || metrics.Avg30d == nil {
		return nil
	}
	delta := *metrics.Avg30d - *metrics.Avg7d
	if delta <= c.RatingDrop.MinDelta {
		return nil
	}
	severity := SeverityMedium
	if delta >= c.RatingDrop.HighDelta {
		severity = SeverityHigh
	}
	return &Evaluation{
		RuleCode: RuleRatingDrop,
		Severity: severity,
		Payload: map[string]interface{}{
			"avg_7d":  round2(*metrics.Avg7d),
			"avg_30d": round2(*metrics.Avg30d),
			"delta":   round2(delta),
		},
	}
}

func (c RuleConfig) negativitySpike(rev models.Review, metrics models.LocationMetrics) *Evaluation {
	if metrics.Negatives48h < c.NegativitySpike.Threshold {
		return nil
	}
	severity := SeverityMedium
	if metrics.Negatives48h >= c.NegativitySpike.Threshold+2 {
		severity = SeverityHigh
	}
	return &Evaluation{
		RuleCode: RuleNegativitySpike,
		Severity: severity,
		Payload: map[string]interface{}{
			"negatives_48h": metrics.Negatives48h,
			"threshold":     c.NegativitySpike.Threshold,
		},
	}
}

func (c RuleConfig) longNegative(rev models.Review) *Evaluation {
	if rev.Rating == nil || *rev.Rating > 3 {
		return nil
	}
	if len(rev.Comment) < c.LongNegative.MinLength {
		return nil
	}
	severity := SeverityMedium
	if *rev.Rating <= 2 {
		severity = SeverityHigh
	}
	return &Evaluation{
		RuleCode: RuleLongNegative,
		Severity: severity,
		Payload: map[string]interface{}{
			"rating":         *rev.Rating,
			"comment_length": len(rev.Comment),
			"reviewer":       rev.Reviewer,
			"snippet":        snippet(rev.Comment),
		},
	}
}

// unansweredHours measures how long a review has sat without a reply.
// Provider clock skew can post-date create_time; fall back to the
// update time before treating the review as brand new.
func unansweredHours(rev models.Review, now time.Time) float64 {
	hours := now.Sub(rev.CreateTime).Hours()
	if hours < 0 {
		hours = now.Sub(rev.UpdateTime).Hours()
	}
	if hours < 0 {
		return 0
	}
	return hours
}

func snippet(comment string) string {
	runes := []rune(comment)
	if len(runes) <= snippetLen {
		return comment
	}
	return string(runes[:snippetLen]) + "…"
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
