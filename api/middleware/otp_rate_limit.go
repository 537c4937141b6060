package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/UDDITwork/ZAMMER-sub011/api/responses"
	pkgerrors "github.com/UDDITwork/ZAMMER-sub011/pkg/errors"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// OtpRateLimitPolicy throttles delivery-code endpoints per client IP and per
// order so a stuck agent cannot burn through codes or brute-force one.
type OtpRateLimitPolicy struct {
	name       string
	window     time.Duration
	ipLimit    int
	orderLimit int
}

// NewOtpRateLimitPolicy builds a policy with the supplied window and limits.
func NewOtpRateLimitPolicy(name string, window time.Duration, ipLimit, orderLimit int) OtpRateLimitPolicy {
	return OtpRateLimitPolicy{
		name:       strings.ToLower(strings.TrimSpace(name)),
		window:     window,
		ipLimit:    ipLimit,
		orderLimit: orderLimit,
	}
}

func (p OtpRateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.orderLimit > 0)
}

func (p OtpRateLimitPolicy) normalizedName() string {
	if p.name == "" {
		return "otp"
	}
	return p.name
}

func (p OtpRateLimitPolicy) ipKey(ip string) string {
	if ip == "" {
		return ""
	}
	return fmt.Sprintf("rl:ip:%s:%s", p.normalizedName(), ip)
}

func (p OtpRateLimitPolicy) orderKey(orderID string) string {
	if orderID == "" {
		return ""
	}
	return fmt.Sprintf("rl:order:%s:%s", p.normalizedName(), orderID)
}

// OtpRateLimit enforces the policy on routes carrying an {orderId} param.
func OtpRateLimit(policy OtpRateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if policy.ipLimit > 0 {
				if key := policy.ipKey(clientIP(r)); key != "" {
					allowed, err := allow(ctx, store, key, policy.window, int64(policy.ipLimit))
					if err != nil {
						responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
						return
					}
					if !allowed {
						respondRateLimited(ctx, logg, w, policy, "ip")
						return
					}
				}
			}

			if policy.orderLimit > 0 {
				if key := policy.orderKey(strings.TrimSpace(chi.URLParam(r, "orderId"))); key != "" {
					allowed, err := allow(ctx, store, key, policy.window, int64(policy.orderLimit))
					if err != nil {
						responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
						return
					}
					if !allowed {
						respondRateLimited(ctx, logg, w, policy, "order")
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allow(ctx context.Context, store rateLimiterStore, key string, window time.Duration, limit int64) (bool, error) {
	count, err := store.IncrWithTTL(ctx, key, window)
	if err != nil {
		return false, err
	}
	return count <= limit, nil
}

func respondRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy OtpRateLimitPolicy, scope string) {
	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"policy": policy.normalizedName(),
			"scope":  scope,
		})
		logg.Warn(ctx, "rate limit exceeded")
	}
	responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many attempts, try again later"))
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
