package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/UDDITwork/ZAMMER-sub011/api/controllers"
	"github.com/UDDITwork/ZAMMER-sub011/api/middleware"
	"github.com/UDDITwork/ZAMMER-sub011/internal/cod"
	"github.com/UDDITwork/ZAMMER-sub011/internal/events"
	"github.com/UDDITwork/ZAMMER-sub011/internal/fulfillment"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/config"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/enums"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/redis"
)

// RouterParams collect everything the HTTP surface depends on.
type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       *redis.Client
	Fulfillment fulfillment.Service
	Cod         cod.Service
	Dispatcher  *events.Dispatcher
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DB, params.Redis))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	sendPolicy := middleware.NewOtpRateLimitPolicy(
		"otp-send",
		cfg.OtpRateLimit.Window,
		cfg.OtpRateLimit.IPLimit,
		cfg.OtpRateLimit.SendLimit,
	)
	verifyPolicy := middleware.NewOtpRateLimitPolicy(
		"otp-verify",
		cfg.OtpRateLimit.Window,
		cfg.OtpRateLimit.IPLimit,
		cfg.OtpRateLimit.VerifyLimit,
	)

	keepAlive := cfg.Events.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/ping", controllers.PrivatePing())
		r.Get("/events/stream", controllers.EventStream(params.Dispatcher, keepAlive, logg))

		r.Route("/admin/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
			r.Post("/approve-assign", controllers.AdminApproveAndAssign(params.Fulfillment, logg))
			r.Get("/available", controllers.AvailableOrders(params.Fulfillment, logg))
			r.Get("/{orderId}", controllers.AdminOrderDetail(params.Fulfillment, logg))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(params.Fulfillment, params.Cod, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleBuyer, enums.ActorRoleSeller))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(params.Fulfillment, params.Cod, logg))
		})

		r.Route("/delivery/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAgent))
			r.Get("/available", controllers.AvailableOrders(params.Fulfillment, logg))
			r.Get("/assigned", controllers.AgentAssignedOrders(params.Fulfillment, logg))
			r.Put("/{orderId}/accept", controllers.AgentAcceptOrder(params.Fulfillment, logg))
			r.Put("/{orderId}/reject", controllers.AgentRejectOrder(params.Fulfillment, logg))
			r.Put("/{orderId}/reached-seller-location", controllers.AgentReachedSeller(params.Fulfillment, logg))
			r.Put("/{orderId}/pickup", controllers.AgentCompletePickup(params.Fulfillment, logg))
			r.Put("/{orderId}/reached-location", controllers.AgentReachedBuyer(params.Fulfillment, logg))
			r.With(middleware.OtpRateLimit(sendPolicy, params.Redis, logg)).
				Post("/{orderId}/send-otp", controllers.AgentSendOtp(params.Fulfillment, logg))
			r.With(middleware.OtpRateLimit(sendPolicy, params.Redis, logg)).
				Post("/{orderId}/resend-otp", controllers.AgentSendOtp(params.Fulfillment, logg))
			r.With(middleware.OtpRateLimit(verifyPolicy, params.Redis, logg)).
				Post("/{orderId}/verify-otp", controllers.AgentVerifyOtp(params.Fulfillment, logg))
			r.Put("/{orderId}/deliver", controllers.AgentCompleteDelivery(params.Fulfillment, params.Cod, logg))
			r.Post("/{orderId}/mark-cash-collected", controllers.AgentCollectCash(params.Cod, logg))
			r.Post("/{orderId}/qr-payment", controllers.AgentStartQRPayment(params.Cod, logg))
			r.Put("/{orderId}/cancel", controllers.CancelOrder(params.Fulfillment, params.Cod, logg))
		})
	})

	return r
}
