package gateway

import (
	"fmt"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqcheckout "github.com/square/square-go-sdk/checkout"
)

// QRChargeParams contains the fields required to open a QR payment link for a
// cash-on-delivery order the buyer wants to settle digitally at the door.
type QRChargeParams struct {
	OrderID        string
	OrderNumber    string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

func (p QRChargeParams) toPaymentLinkRequest(idempotencyKey, locationID, defaultCurrency string) *sqcheckout.CreatePaymentLinkRequest {
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	req := &sqcheckout.CreatePaymentLinkRequest{
		IdempotencyKey: ptrString(idempotencyKey),
		QuickPay: &sq.QuickPay{
			Name:       fmt.Sprintf("Order %s", p.OrderNumber),
			LocationID: locationID,
			PriceMoney: moneyPtr(p.AmountCents, currency),
		},
	}
	if trimmed := strings.TrimSpace(p.OrderID); trimmed != "" {
		req.Description = ptrString(trimmed)
	}
	return req
}

func ptrString(value string) *string {
	return &value
}

func moneyPtr(amount int64, currency string) *sq.Money {
	cur := sq.Currency(strings.ToUpper(strings.TrimSpace(currency)))
	return &sq.Money{
		Amount:   &amount,
		Currency: &cur,
	}
}
