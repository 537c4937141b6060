package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/enums"
)

// OrderStatusHistory is the append-only audit trail of fulfillment
// transitions. One row per applied transition; failed verification attempts
// append a row as well, without touching the order itself.
type OrderStatusHistory struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	Status        string          `gorm:"column:status;not null"`
	ChangedByRole enums.ActorRole `gorm:"column:changed_by_role;type:text;not null"`
	ChangedByID   *uuid.UUID      `gorm:"column:changed_by_id;type:uuid"`
	Notes         *string         `gorm:"column:notes"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (OrderStatusHistory) TableName() string { return "order_status_history" }
