package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	pkgAuth "github.com/UDDITwork/ZAMMER-sub011/pkg/auth"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/config"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/enums"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
)

func jwtTestConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret-test-secret-test-secret",
		Issuer:            "zammer",
		ExpirationMinutes: 1,
	}
}

func authTestLogger() *logger.Logger {
	return logger.New(logger.Options{Level: zerolog.ErrorLevel})
}

func mintToken(t *testing.T, cfg config.JWTConfig, role enums.ActorRole) (string, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	token, err := pkgAuth.MintAccessToken(cfg, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: userID,
		Role:   role,
		JTI:    uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token, userID
}

func TestAuthSeedsContext(t *testing.T) {
	cfg := jwtTestConfig()
	token, userID := mintToken(t, cfg, enums.ActorRoleAgent)

	var gotUser string
	var gotRole enums.ActorRole
	handler := Auth(cfg, authTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if gotUser != userID.String() {
		t.Errorf("user id = %q, want %q", gotUser, userID)
	}
	if gotRole != enums.ActorRoleAgent {
		t.Errorf("role = %q, want agent", gotRole)
	}
}

func TestAuthRejectsMissingAndBadTokens(t *testing.T) {
	cfg := jwtTestConfig()
	handler := Auth(cfg, authTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without valid credentials")
	}))

	for _, header := range []string{"", "Bearer ", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestRequireRole(t *testing.T) {
	var ran bool
	handler := RequireRole(authTestLogger(), enums.ActorRoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithRole(req.Context(), enums.ActorRoleAgent))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || ran {
		t.Fatalf("agent reached an admin route, status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithRole(req.Context(), enums.ActorRoleAdmin))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !ran {
		t.Fatalf("admin blocked from an admin route, status = %d", rec.Code)
	}
}
