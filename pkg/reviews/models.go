package reviews

import (
	"time"

	"github.com/google/uuid"
	"github.com/reviewpulse/platform/pkg/common/models"
	"gorm.io/datatypes"
)

// ConnectionModel holds one provider credential set per account.
// Tokens are rotated in place by the token manager; rows are never
// deleted by the sync pipeline.
type ConnectionModel struct {
	ID           string     `gorm:"primaryKey;column:id"`
	AccountID    string     `gorm:"column:account_id;uniqueIndex:idx_conn_account_provider"`
	Provider     string     `gorm:"column:provider;uniqueIndex:idx_conn_account_provider"`
	AccessToken  string     `gorm:"column:access_token;type:text"`
	RefreshToken string     `gorm:"column:refresh_token;type:text"`
	TokenType    string     `gorm:"column:token_type"`
	Scope        string     `gorm:"column:scope"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (ConnectionModel) TableName() string {
	return "provider_connections"
}

type LocationModel struct {
	ID           string     `gorm:"primaryKey;column:id"`
	AccountID    string     `gorm:"column:account_id;uniqueIndex:idx_loc_account_resource"`
	ResourceName string     `gorm:"column:resource_name;uniqueIndex:idx_loc_account_resource"`
	Title        string     `gorm:"column:title"`
	LastSyncedAt *time.Time `gorm:"column:last_synced_at"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (LocationModel) TableName() string {
	return "locations"
}

// ReviewModel stores one external review. Uniqueness is on
// (account_id, resource_name); the legacy short id can collide across
// locations and is never a conflict key on its own.
type ReviewModel struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey;column:id"`
	AccountID    string         `gorm:"column:account_id;uniqueIndex:idx_reviews_account_resource"`
	ResourceName string         `gorm:"column:resource_name;uniqueIndex:idx_reviews_account_resource"`
	LocationID   string         `gorm:"column:location_id;index"`
	LegacyID     string         `gorm:"column:legacy_id"`
	Rating       *int           `gorm:"column:rating"`
	Comment      string         `gorm:"column:comment;type:text"`
	Reviewer     string         `gorm:"column:reviewer"`
	CreateTime   time.Time      `gorm:"column:create_time;index"`
	UpdateTime   time.Time      `gorm:"column:update_time"`
	ReplyText    string         `gorm:"column:reply_text;type:text"`
	ReplyTime    *time.Time     `gorm:"column:reply_time"`
	LegacyReply  string         `gorm:"column:legacy_reply;type:text"`
	LastSyncedAt time.Time      `gorm:"column:last_synced_at"`
	Raw          datatypes.JSON `gorm:"column:raw"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at"`
}

func (ReviewModel) TableName() string {
	return "reviews"
}

func (m *ReviewModel) toDomain() models.Review {
	return models.Review{
		ResourceName: m.ResourceName,
		LegacyID:     m.LegacyID,
		AccountID:    m.AccountID,
		LocationID:   m.LocationID,
		Rating:       m.Rating,
		Comment:      m.Comment,
		Reviewer:     m.Reviewer,
		CreateTime:   m.CreateTime,
		UpdateTime:   m.UpdateTime,
		ReplyText:    m.ReplyText,
		ReplyTime:    m.ReplyTime,
		LegacyReply:  m.LegacyReply,
		LastSyncedAt: m.LastSyncedAt,
		Raw:          []byte(m.Raw),
	}
}

func fromDomain(rec models.Review) ReviewModel {
	return ReviewModel{
		ID:           uuid.New(),
		AccountID:    rec.AccountID,
		ResourceName: rec.ResourceName,
		LocationID:   rec.LocationID,
		LegacyID:     rec.LegacyID,
		Rating:       rec.Rating,
		Comment:      rec.Comment,
		Reviewer:     rec.Reviewer,
		CreateTime:   rec.CreateTime,
		UpdateTime:   rec.UpdateTime,
		ReplyText:    rec.ReplyText,
		ReplyTime:    rec.ReplyTime,
		LegacyReply:  rec.LegacyReply,
		LastSyncedAt: rec.LastSyncedAt,
		Raw:          datatypes.JSON(rec.Raw),
	}
}

func (m *ConnectionModel) toDomain() models.Connection {
	return models.Connection{
		ID:           m.ID,
		AccountID:    m.AccountID,
		Provider:     m.Provider,
		AccessToken:  m.AccessToken,
		RefreshToken: m.RefreshToken,
		TokenType:    m.TokenType,
		Scope:        m.Scope,
		ExpiresAt:    m.ExpiresAt,
	}
}

func (m *LocationModel) toDomain() models.Location {
	return models.Location{
		ID:           m.ID,
		AccountID:    m.AccountID,
		ResourceName: m.ResourceName,
		Title:        m.Title,
		LastSyncedAt: m.LastSyncedAt,
	}
}
