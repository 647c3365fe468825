package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/adapters/repository/memory"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/config"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
)

const testSecret = "testservlet"

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:      testSecret,
		AuthCookie:     "token",
		FrontendURL:    "http://localhost:3000",
		AppEnv:         "production",
		TrackRateLimit: 1000,
		TrackRateBurst: 1000,
	}
}

func TestIdentityMiddleware(t *testing.T) {
	mw := NewMiddleware(testConfig(), memory.NewStore())

	noneToken := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "evil"})
	noneString, _ := noneToken.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name       string
		cookie     string
		bearer     string
		expectedID string
	}{
		{name: "No Credential"},
		{name: "Valid Cookie", cookie: generateTestToken(t, testSecret, "42", time.Minute), expectedID: "42"},
		{name: "Valid Bearer", bearer: generateTestToken(t, testSecret, "7", time.Minute), expectedID: "7"},
		{name: "Garbage Cookie", cookie: "invalid"},
		{name: "Wrong Secret", cookie: generateTestToken(t, "other", "42", time.Minute)},
		{name: "Expired", cookie: generateTestToken(t, testSecret, "42", -time.Minute)},
		{name: "Alg None", cookie: noneString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/analytics/track", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "token", Value: tt.cookie})
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}

			var gotID string
			rr := httptest.NewRecorder()
			handler := mw.Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotID = UserIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("identity must never reject: got %v", rr.Code)
			}
			if gotID != tt.expectedID {
				t.Errorf("user id: got %q want %q", gotID, tt.expectedID)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	store.SaveUser(ctx, &domain.User{ID: "admin", Role: domain.RoleAdmin, IsActive: true})
	store.SaveUser(ctx, &domain.User{ID: "disabled", Role: domain.RoleAdmin, IsActive: false})
	store.SaveUser(ctx, &domain.User{ID: "reader", Role: domain.RoleUser, IsActive: true})

	mw := NewMiddleware(testConfig(), store)
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), mw.Identity, mw.RequireAdmin)

	tests := []struct {
		name           string
		userID         string
		expectedStatus int
	}{
		{name: "Anonymous", expectedStatus: http.StatusUnauthorized},
		{name: "Admin", userID: "admin", expectedStatus: http.StatusOK},
		{name: "Inactive Admin", userID: "disabled", expectedStatus: http.StatusForbidden},
		{name: "Regular User", userID: "reader", expectedStatus: http.StatusForbidden},
		{name: "Unknown User", userID: "ghost", expectedStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/analytics/stats", nil)
			if tt.userID != "" {
				req.AddCookie(&http.Cookie{Name: "token", Value: generateTestToken(t, testSecret, tt.userID, time.Minute)})
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.TrackRateLimit = 1
	cfg.TrackRateBurst = 2
	mw := NewMiddleware(cfg, memory.NewStore())
	handler := mw.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/analytics/track", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}

	// Another client has its own bucket.
	req := httptest.NewRequest("POST", "/api/analytics/track", nil)
	req.RemoteAddr = "198.51.100.1:5555"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("second client limited: %v", rr.Code)
	}
}

func TestCORS(t *testing.T) {
	mw := NewMiddleware(testConfig(), memory.NewStore())
	handler := mw.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("OPTIONS", "/api/analytics/track", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status: %v", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin: %q", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed in production: %q", got)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := ClientIP(req, true); got != "10.0.0.1" {
		t.Errorf("remote addr: %q", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.7")
	if got := ClientIP(req, true); got != "198.51.100.7" {
		t.Errorf("real ip: %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := ClientIP(req, true); got != "203.0.113.5" {
		t.Errorf("forwarded: %q", got)
	}
	if got := ClientIP(req, false); got != "10.0.0.1" {
		t.Errorf("untrusted forwarding headers honoured: %q", got)
	}
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	cfg := testConfig()
	cfg.TrackRateLimit = 1
	cfg.TrackRateBurst = 1
	mw := NewMiddleware(cfg, memory.NewStore())
	handler := mw.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	limited := 0
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("POST", "/api/analytics/track", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("192.0.2.%d", i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 4 {
		t.Errorf("rotating X-Forwarded-For bypassed the limit: %d of 4 limited", limited)
	}
	mw.mu.Lock()
	n := len(mw.visitors)
	mw.mu.Unlock()
	if n != 1 {
		t.Errorf("expected one limiter bucket, got %d", n)
	}
}

func generateTestToken(t *testing.T, secret, userID string, ttl time.Duration) string {
	t.Helper()
	tokenString, err := GenerateToken([]byte(secret), userID, ttl)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}
