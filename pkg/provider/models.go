package provider

import (
	"encoding/json"
	"time"
)

// starRatings maps the provider's rating enum onto 1..5. Unknown or
// absent values stay nil (unrated reviews are legal).
var starRatings = map[string]int{
	"ONE":   1,
	"TWO":   2,
	"THREE": 3,
	"FOUR":  4,
	"FIVE":  5,
}

// ReviewRecord is the typed form of one review as returned by the
// provider's paged API. Raw preserves the original JSON for audit; the
// typed fields are what the pipeline actually consumes.
type ReviewRecord struct {
	Name         string          `json:"name,omitempty"`
	ReviewID     string          `json:"reviewId,omitempty"`
	StarRating   string          `json:"starRating,omitempty"`
	Comment      string          `json:"comment,omitempty"`
	CreateTime   time.Time       `json:"createTime,omitempty"`
	UpdateTime   time.Time       `json:"updateTime,omitempty"`
	Reviewer     *Reviewer       `json:"reviewer,omitempty"`
	Reply        *ReviewReply    `json:"reviewReply,omitempty"`
	ReplyComment string          `json:"replyComment,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

type Reviewer struct {
	DisplayName string `json:"displayName,omitempty"`
	IsAnonymous bool   `json:"isAnonymous,omitempty"`
}

type ReviewReply struct {
	Comment    string     `json:"comment,omitempty"`
	UpdateTime *time.Time `json:"updateTime,omitempty"`
}

// Rating returns the numeric rating, or nil when the record carries no
// usable star value.
func (r ReviewRecord) Rating() *int {
	if v, ok := starRatings[r.StarRating]; ok {
		rating := v
		return &rating
	}
	return nil
}

// Newest reports whether this snapshot is the same age or newer than
// other, preferring update time and falling back to create time.
func (r ReviewRecord) Newest(other ReviewRecord) bool {
	a, b := r.effectiveTime(), other.effectiveTime()
	return !a.Before(b)
}

func (r ReviewRecord) effectiveTime() time.Time {
	if !r.UpdateTime.IsZero() {
		return r.UpdateTime
	}
	return r.CreateTime
}

// reviewPage is one page of the provider's list endpoint.
type reviewPage struct {
	Records       []json.RawMessage `json:"records"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
	TotalSize     int               `json:"totalReviewCount,omitempty"`
}

// apiError is the provider's error body shape.
type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
