package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/db/models"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/pagination"
)

// Repository defines persistence operations for the fulfillment tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	CreateLineItems(ctx context.Context, items []models.OrderLineItem) error
	Find(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindDetail(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListAvailable(ctx context.Context, params pagination.Params) (*OrderList, error)
	ListAssigned(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*OrderList, error)
	CountActiveForAgent(ctx context.Context, agentID uuid.UUID, excludeOrderID uuid.UUID) (int64, error)
	// UpdateWhere applies updates to the order row only when every condition
	// column still holds its expected value, and reports the rows affected.
	// Zero means another writer won the race.
	UpdateWhere(ctx context.Context, orderID uuid.UUID, conditions map[string]any, updates map[string]any) (int64, error)
	AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
	FindApprovalExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	FindInFlightQRCharges(ctx context.Context) ([]models.Order, error)
}
