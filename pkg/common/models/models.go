package models

import (
	"time"
)

// Connection is one provider credential set per account. The refresh
// token is required for any sync; its absence is a permanent
// reauth-required condition, not a retryable failure.
type Connection struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"account_id"`
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenType    string     `json:"token_type,omitempty"`
	Scope        string     `json:"scope,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Location is an external business location owned by an account.
// Created by the location-import step; this subsystem only reads it
// and advances LastSyncedAt.
type Location struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"account_id"`
	ResourceName string     `json:"resource_name"`
	Title        string     `json:"title"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// Review is the canonical stored form of an external review. Identity
// is (account, resource name); the legacy short id may collide across
// locations and is only ever used namespaced by its location.
type Review struct {
	ResourceName string     `json:"resource_name"`
	LegacyID     string     `json:"legacy_id,omitempty"`
	AccountID    string     `json:"account_id"`
	LocationID   string     `json:"location_id"`
	Rating       *int       `json:"rating,omitempty"`
	Comment      string     `json:"comment,omitempty"`
	Reviewer     string     `json:"reviewer,omitempty"`
	CreateTime   time.Time  `json:"create_time"`
	UpdateTime   time.Time  `json:"update_time"`
	ReplyText    string     `json:"reply_text,omitempty"`
	ReplyTime    *time.Time `json:"reply_time,omitempty"`
	LegacyReply  string     `json:"legacy_reply,omitempty"`
	LastSyncedAt time.Time  `json:"last_synced_at"`
	Raw          []byte     `json:"-"`
}

// HasReply reports whether the owner answered in any of the reply
// fields the provider has used over time.
func (r Review) HasReply() bool {
	return r.ReplyText != "" || r.ReplyTime != nil || r.LegacyReply != ""
}

// LocationMetrics is derived on demand from the trailing 30 days of
// review rows; it is never persisted. A nil average means the window
// had zero rated samples, which is distinct from an average of zero.
type LocationMetrics struct {
	Avg7d          *float64 `json:"avg_7d,omitempty"`
	Avg30d         *float64 `json:"avg_30d,omitempty"`
	Negatives48h   int      `json:"negatives_48h"`
	RatedSamples7d int      `json:"rated_samples_7d"`
}
