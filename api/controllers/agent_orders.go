package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/UDDITwork/ZAMMER-sub011/api/middleware"
	"github.com/UDDITwork/ZAMMER-sub011/api/responses"
	"github.com/UDDITwork/ZAMMER-sub011/api/validators"
	"github.com/UDDITwork/ZAMMER-sub011/internal/cod"
	"github.com/UDDITwork/ZAMMER-sub011/internal/fulfillment"
	pkgerrors "github.com/UDDITwork/ZAMMER-sub011/pkg/errors"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
)

func validationError(message string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, message)
}

// AgentAssignedOrders lists the orders currently assigned to the caller.
func AgentAssignedOrders(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := listParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListAssigned(r.Context(), middleware.UserUUIDFromContext(r.Context()), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// AgentAcceptOrder confirms the assignment and readies the order for pickup.
func AgentAcceptOrder(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, err := agentInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Accept(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"order_id": input.OrderID.String(), "status": "accepted"})
	}
}

type rejectBody struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// AgentRejectOrder returns the order to the dispatch pool.
func AgentRejectOrder(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, err := agentInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body rejectBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		err = svc.Reject(r.Context(), fulfillment.RejectInput{
			OrderID:     input.OrderID,
			AgentUserID: input.AgentUserID,
			Reason:      validators.SanitizeString(body.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"order_id": input.OrderID.String(), "status": "rejected"})
	}
}

// AgentReachedSeller marks arrival at the seller's pickup location.
func AgentReachedSeller(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, err := agentInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.MarkSellerLocationReached(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"order_id": input.OrderID.String(), "status": "reached_seller_location"})
	}
}

type completePickupBody struct {
	OrderIDVerification string  `json:"orderIdVerification" validate:"required"`
	PickupNotes         *string `json:"pickupNotes,omitempty" validate:"omitempty,max=500"`
}

// AgentCompletePickup verifies the physical order number and takes custody.
func AgentCompletePickup(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, err := agentInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body completePickupBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		err = svc.CompletePickup(r.Context(), fulfillment.CompletePickupInput{
			OrderID:           input.OrderID,
			AgentUserID:       input.AgentUserID,
			VerificationValue: body.OrderIDVerification,
			Notes:             body.PickupNotes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"order_id": input.OrderID.String(), "status": "pickup_completed"})
	}
}

type reachedBuyerBody struct {
	LocationNotes *string `json:"locationNotes,omitempty" validate:"omitempty,max=500"`
}

// AgentReachedBuyer marks arrival at the buyer's door. The response tells the
// agent what happens next: a code was texted to the buyer, or payment must be
// collected first.
func AgentReachedBuyer(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, err := agentInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body reachedBuyerBody
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		result, err := svc.MarkBuyerLocationReached(r.Context(), fulfillment.ReachedBuyerInput{
			OrderID:     input.OrderID,
			AgentUserID: input.AgentUserID,
			Notes:       body.LocationNotes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AgentSendOtp issues (or re-issues) the buyer's delivery code.
func AgentSendOtp(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, err := agentInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SendOtp(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"order_id": input.OrderID.String(), "status": "otp_sent"})
	}
}

type verifyOtpBody struct {
	Code string `json:"code" validate:"required,numeric"`
}

// AgentVerifyOtp checks the code the buyer read out.
func AgentVerifyOtp(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, err := agentInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body verifyOtpBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		err = svc.VerifyOtp(r.Context(), fulfillment.VerifyOtpInput{
			OrderID:     input.OrderID,
			AgentUserID: input.AgentUserID,
			Code:        body.Code,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"order_id": input.OrderID.String(), "status": "otp_verified"})
	}
}

type completeDeliveryBody struct {
	Otp           *string `json:"otp,omitempty" validate:"omitempty,numeric"`
	CodPayment    *string `json:"codPayment,omitempty" validate:"omitempty,oneof=cash"`
	DeliveryNotes *string `json:"deliveryNotes,omitempty" validate:"omitempty,max=500"`
}

// AgentCompleteDelivery hands the order over. The code can be verified inline
// via otp, and a cash settle at the door can ride along as codPayment=cash.
func AgentCompleteDelivery(svc fulfillment.Service, codSvc cod.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, err := agentInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body completeDeliveryBody
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		if body.CodPayment != nil && *body.CodPayment == "cash" {
			err = codSvc.MarkCashCollected(r.Context(), cod.CashCollectInput{
				OrderID:     input.OrderID,
				AgentUserID: input.AgentUserID,
				Notes:       body.DeliveryNotes,
			})
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		err = svc.CompleteDelivery(r.Context(), fulfillment.CompleteDeliveryInput{
			OrderID:     input.OrderID,
			AgentUserID: input.AgentUserID,
			Otp:         body.Otp,
			Notes:       body.DeliveryNotes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"order_id": input.OrderID.String(), "status": "delivery_completed"})
	}
}

type cashCollectBody struct {
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// AgentCollectCash records a cash settle at the door.
func AgentCollectCash(svc cod.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, err := agentInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body cashCollectBody
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		err = svc.MarkCashCollected(r.Context(), cod.CashCollectInput{
			OrderID:     input.OrderID,
			AgentUserID: input.AgentUserID,
			Notes:       body.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"order_id": input.OrderID.String(), "status": "cod_cash_collected"})
	}
}

// AgentStartQRPayment creates a gateway QR charge for the buyer to scan.
func AgentStartQRPayment(svc cod.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, err := agentInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.StartQRPayment(r.Context(), cod.QRStartInput{
			OrderID:     input.OrderID,
			AgentUserID: input.AgentUserID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func agentInput(r *http.Request) (fulfillment.AgentActionInput, error) {
	orderID, err := orderIDParam(r)
	if err != nil {
		return fulfillment.AgentActionInput{}, err
	}
	agentID := middleware.UserUUIDFromContext(r.Context())
	if agentID == uuid.Nil {
		return fulfillment.AgentActionInput{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing")
	}
	return fulfillment.AgentActionInput{OrderID: orderID, AgentUserID: agentID}, nil
}
