package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/config"
	pkgerrors "github.com/UDDITwork/ZAMMER-sub011/pkg/errors"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAccessTokenRequired = errors.New("gateway access token is required")
	errLocationRequired    = errors.New("gateway location id is required")
	errInvalidEnv          = fmt.Errorf("gateway environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired      = errors.New("gateway logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// ChargeState is the normalized state reported for a QR charge.
type ChargeState string

const (
	ChargeStatePending ChargeState = "pending"
	ChargeStatePaid    ChargeState = "paid"
	ChargeStateFailed  ChargeState = "failed"
)

// Charge is the normalized view of a gateway QR charge.
type Charge struct {
	ID            string
	State         ChargeState
	PaymentURL    string
	TransactionID string
}

// Gateway is the surface internal/cod consumes. The Square client implements
// it; tests substitute their own.
type Gateway interface {
	CreateQRCharge(ctx context.Context, params QRChargeParams) (*Charge, error)
	GetChargeStatus(ctx context.Context, chargeID string) (*Charge, error)
}

// Client exposes payment gateway primitives with centralized auth, logging,
// idempotency, and error mapping.
type Client struct {
	sdk         *sqclient.Client
	accessToken string
	environment string
	locationID  string
	currency    string
	baseURL     string
	logger      *logger.Logger
}

// NewClient initializes the gateway wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment)
	if err != nil {
		return nil, err
	}

	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	locationID := strings.TrimSpace(cfg.LocationID)
	if locationID == "" {
		return nil, errLocationRequired
	}

	baseURL := baseURLs[env]
	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(accessToken),
	)

	c := &Client{
		sdk:         sdk,
		accessToken: accessToken,
		environment: env,
		locationID:  locationID,
		currency:    strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		baseURL:     baseURL,
		logger:      logg,
	}

	logg.Info(ctx, "payment gateway client initialized")
	return c, nil
}

// Environment reports the normalized gateway environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// NewIdempotencyKey returns a unique key for gateway operations.
func (c *Client) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "zm"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// CreateQRCharge opens a payment link the buyer can settle by scanning the QR
// at the door. The returned charge ID identifies the gateway-side order that
// GetChargeStatus polls.
func (c *Client) CreateQRCharge(ctx context.Context, params QRChargeParams) (*Charge, error) {
	req := params.toPaymentLinkRequest(c.ensureIdempotencyKey("qr-charge", params.IdempotencyKey), c.locationID, c.currency)
	c.log(ctx, "request", "create_qr_charge", map[string]any{
		"order_number": params.OrderNumber,
		"amount":       params.AmountCents,
	})

	resp, err := c.sdk.Checkout.PaymentLinks.Create(ctx, req)
	if err != nil {
		c.log(ctx, "error", "create_qr_charge", map[string]any{"error": err.Error()})
		return nil, c.mapGatewayError(err, "create qr charge")
	}

	link := resp.GetPaymentLink()
	if link == nil || link.GetOrderID() == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned no payment link")
	}

	charge := &Charge{
		ID:         stringValue(link.GetOrderID()),
		State:      ChargeStatePending,
		PaymentURL: stringValue(link.GetURL()),
	}
	c.log(ctx, "response", "create_qr_charge", map[string]any{"charge_id": charge.ID})
	return charge, nil
}

// GetChargeStatus fetches the gateway-side order for the charge and reports
// whether a tender has settled it.
func (c *Client) GetChargeStatus(ctx context.Context, chargeID string) (*Charge, error) {
	c.log(ctx, "request", "get_charge_status", map[string]any{"charge_id": chargeID})

	resp, err := c.sdk.Orders.Get(ctx, &sq.GetOrdersRequest{OrderID: chargeID})
	if err != nil {
		c.log(ctx, "error", "get_charge_status", map[string]any{"error": err.Error()})
		return nil, c.mapGatewayError(err, "get charge status")
	}

	order := resp.GetOrder()
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned no order")
	}

	charge := &Charge{ID: chargeID, State: ChargeStatePending}
	tenders := order.GetTenders()
	if len(tenders) > 0 {
		charge.State = ChargeStatePaid
		charge.TransactionID = stringValue(tenders[0].GetID())
	} else if order.GetState() != nil && *order.GetState() == sq.OrderStateCanceled {
		charge.State = ChargeStateFailed
	}

	c.log(ctx, "response", "get_charge_status", map[string]any{
		"charge_id": chargeID,
		"state":     string(charge.State),
	})
	return charge, nil
}

func (c *Client) ensureIdempotencyKey(prefix, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return c.NewIdempotencyKey(prefix)
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("gateway %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("gateway %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "nonce", "token", "cvv", "cvc", "secret", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func (c *Client) mapGatewayError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.StatusCode)
		for _, sqErr := range c.extractGatewayErrors(apiErr) {
			if sqErr == nil {
				continue
			}
			if sqErr.Code == sq.ErrorCodeIdempotencyKeyReused {
				code = pkgerrors.CodeConflict
				break
			}
			if sqErr.Category == sq.ErrorCategoryAuthenticationError {
				code = pkgerrors.CodeUnauthorized
				break
			}
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("gateway %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("gateway %s failed", op))
}

func (c *Client) extractGatewayErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil {
		return nil
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	default:
		return "", errInvalidEnv
	}
}
