package alerts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AlertModel is one triggered alert. The (rule_code, review_name)
// unique index is the dedup key: re-triggering the same rule for the
// same review is an idempotent no-op. Rows are never overwritten once
// triggered; only the resolved/notified timestamps advance.
type AlertModel struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	AccountID      string            `gorm:"column:account_id;index"`
	LocationID     string            `gorm:"column:location_id;index"`
	RuleCode       string            `gorm:"column:rule_code;uniqueIndex:idx_alert_rule_review"`
	ReviewName     string            `gorm:"column:review_name;uniqueIndex:idx_alert_rule_review"`
	Severity       string            `gorm:"column:severity"`
	Payload        datatypes.JSONMap `gorm:"column:payload"`
	TriggeredAt    time.Time         `gorm:"column:triggered_at"`
	ResolvedAt     *time.Time        `gorm:"column:resolved_at"`
	LastNotifiedAt *time.Time        `gorm:"column:last_notified_at"`
	CreatedAt      time.Time         `gorm:"column:created_at"`
	UpdatedAt      time.Time         `gorm:"column:updated_at"`
}

func (AlertModel) TableName() string {
	return "review_alerts"
}
