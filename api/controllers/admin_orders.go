package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/UDDITwork/ZAMMER-sub011/api/middleware"
	"github.com/UDDITwork/ZAMMER-sub011/api/responses"
	"github.com/UDDITwork/ZAMMER-sub011/api/validators"
	"github.com/UDDITwork/ZAMMER-sub011/internal/cod"
	"github.com/UDDITwork/ZAMMER-sub011/internal/fulfillment"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/pagination"
)

type approveAssignBody struct {
	OrderID string  `json:"orderId" validate:"required,uuid"`
	AgentID string  `json:"deliveryAgentId" validate:"required,uuid"`
	Notes   *string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// AdminApproveAndAssign approves an order (if still pending) and hands it to
// a delivery agent in one step.
func AdminApproveAndAssign(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body approveAssignBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, _ := uuid.Parse(body.OrderID)
		agentID, _ := uuid.Parse(body.AgentID)

		err := svc.ApproveAndAssign(r.Context(), fulfillment.ApproveAndAssignInput{
			OrderID:     orderID,
			AgentID:     agentID,
			Notes:       body.Notes,
			ActorUserID: middleware.UserUUIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{
			"order_id": orderID.String(),
			"agent_id": agentID.String(),
			"status":   "assigned",
		})
	}
}

type cancelBody struct {
	Reason string `json:"cancellationReason" validate:"required,min=3,max=500"`
}

// CancelOrder cancels an order on behalf of the authenticated actor.
// Admins and buyers share this handler; the route guards decide who reaches
// it.
func CancelOrder(svc fulfillment.Service, codSvc cod.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body cancelBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err = svc.Cancel(r.Context(), fulfillment.CancelInput{
			OrderID:     orderID,
			ActorUserID: middleware.UserUUIDFromContext(r.Context()),
			ActorRole:   middleware.RoleFromContext(r.Context()),
			Reason:      validators.SanitizeString(body.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// A cancelled order has no payment worth polling for.
		codSvc.StopWatching(orderID)
		responses.WriteSuccess(w, map[string]string{
			"order_id": orderID.String(),
			"status":   "cancelled",
		})
	}
}

// AdminOrderDetail returns the full order aggregate including line items and
// the status history trail.
func AdminOrderDetail(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.FindDetail(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// AvailableOrders lists approved, unassigned orders for dispatch.
func AvailableOrders(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := listParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListAvailable(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func orderIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, validationError("order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, validationError("invalid order id")
	}
	return orderID, nil
}

func listParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}
