package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/db/models"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/enums"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a fulfillment repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) CreateLineItems(ctx context.Context, items []models.OrderLineItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) Find(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindDetail(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListAvailable(ctx context.Context, params pagination.Params) (*OrderList, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("approval_status IN ?", []enums.ApprovalStatus{enums.ApprovalStatusApproved, enums.ApprovalStatusAutoApproved}).
		Where("agent_status = ?", enums.AgentStatusUnassigned).
		Where("lifecycle_status = ?", enums.LifecycleStatusProcessing)
	return r.listOrders(ctx, query, params)
}

func (r *repository) ListAssigned(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*OrderList, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("agent_user_id = ?", agentID).
		Where("agent_status IN ?", activeAgentStatuses())
	return r.listOrders(ctx, query, params)
}

func (r *repository) listOrders(ctx context.Context, query *gorm.DB, params pagination.Params) (*OrderList, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at, id) > (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var orders []models.Order
	if err := query.Order("created_at ASC, id ASC").Limit(limit).Find(&orders).Error; err != nil {
		return nil, err
	}

	list := &OrderList{}
	if len(orders) > normalized {
		next := orders[normalized]
		orders = orders[:normalized]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID})
	}
	list.Orders = make([]OrderSummary, 0, len(orders))
	for _, order := range orders {
		list.Orders = append(list.Orders, summarize(order))
	}
	return list, nil
}

func (r *repository) CountActiveForAgent(ctx context.Context, agentID uuid.UUID, excludeOrderID uuid.UUID) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("agent_user_id = ?", agentID).
		Where("agent_status IN ?", activeAgentStatuses())
	if excludeOrderID != uuid.Nil {
		query = query.Where("id <> ?", excludeOrderID)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) UpdateWhere(ctx context.Context, orderID uuid.UUID, conditions map[string]any, updates map[string]any) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID)
	for column, expected := range conditions {
		if expected == nil {
			query = query.Where(column + " IS NULL")
			continue
		}
		query = query.Where(column+" = ?", expected)
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var history []models.OrderStatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&history).Error
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (r *repository) FindApprovalExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("approval_status = ?", enums.ApprovalStatusPending).
		Where("lifecycle_status = ?", enums.LifecycleStatusPending).
		Where("auto_approval_deadline IS NOT NULL AND auto_approval_deadline <= ?", cutoff).
		Order("auto_approval_deadline ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) FindInFlightQRCharges(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("cod_charge_id IS NOT NULL").
		Where("cod_collected = ?", false).
		Where("is_paid = ?", false).
		Where("lifecycle_status <> ?", enums.LifecycleStatusCancelled).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func activeAgentStatuses() []enums.AgentStatus {
	return []enums.AgentStatus{
		enums.AgentStatusAssigned,
		enums.AgentStatusAccepted,
		enums.AgentStatusPickupCompleted,
		enums.AgentStatusLocationReached,
	}
}

func summarize(order models.Order) OrderSummary {
	return OrderSummary{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		LifecycleStatus: order.LifecycleStatus,
		AgentStatus:     order.AgentStatus,
		PaymentMethod:   order.PaymentMethod,
		IsPaid:          order.IsPaid,
		TotalCents:      order.TotalCents,
		DeliveryFee:     order.DeliveryFeeCents,
		CreatedAt:       order.CreatedAt,
	}
}
