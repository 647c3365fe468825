package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/config"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

type userIDKey struct{}

// UserIDFromContext returns the authenticated user id, or "" for anonymous
// requests.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

type Middleware struct {
	jwtSecret   []byte
	cookieName  string
	frontendURL string
	production  bool
	users       ports.UserDirectory

	rateLimit  rate.Limit
	rateBurst  int
	trustProxy bool

	mu          sync.Mutex
	visitors    map[string]*visitorLimiter
	lastCleanup time.Time
}

type visitorLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMiddleware(cfg *config.Config, users ports.UserDirectory) *Middleware {
	cookie := cfg.AuthCookie
	if cookie == "" {
		cookie = "token"
	}
	return &Middleware{
		jwtSecret:   []byte(cfg.JWTSecret),
		cookieName:  cookie,
		frontendURL: cfg.FrontendURL,
		production:  cfg.IsProduction(),
		users:       users,
		rateLimit:   rate.Limit(cfg.TrackRateLimit),
		rateBurst:   cfg.TrackRateBurst,
		trustProxy:  cfg.TrustProxy,
		visitors:    make(map[string]*visitorLimiter),
		lastCleanup: time.Now(),
	}
}

// Identity resolves the optional credential. A missing or invalid token leaves
// the request anonymous; it is never rejected here.
func (m *Middleware) Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := ""
		if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
			tokenStr = c.Value
		} else if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tokenStr = strings.TrimPrefix(h, "Bearer ")
		}

		if tokenStr == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseToken(m.jwtSecret, tokenStr)
		if err != nil {
			slog.Debug("treating request as anonymous", "path", r.URL.Path, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey{}, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates reporting endpoints to active admin accounts. It expects
// Identity to have run first.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := UserIDFromContext(r.Context())
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		user, err := m.users.GetUser(r.Context(), userID)
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		if err != nil {
			slog.Error("admin lookup failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimit applies a token bucket per client IP.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.rateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !m.limiterFor(ClientIP(r, m.trustProxy)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) limiterFor(ip string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if now.Sub(m.lastCleanup) > time.Minute {
		for key, v := range m.visitors {
			if now.Sub(v.lastSeen) > 3*time.Minute {
				delete(m.visitors, key)
			}
		}
		m.lastCleanup = now
	}

	v, ok := m.visitors[ip]
	if !ok {
		v = &visitorLimiter{limiter: rate.NewLimiter(m.rateLimit, m.rateBurst)}
		m.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// CORS allows the portfolio frontend to call the API with credentials.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case origin == "" || origin == m.frontendURL:
			w.Header().Set("Access-Control-Allow-Origin", m.frontendURL)
		case !m.production:
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "3600")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Logger logs one line per request. Health probes are skipped.
func (m *Middleware) Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", ClientIP(r, m.trustProxy),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// ClientIP returns the peer address. Behind a trusted proxy it prefers the
// first X-Forwarded-For hop, then X-Real-IP.
func ClientIP(r *http.Request, trustProxy bool) string {
	if !trustProxy {
		return remoteHost(r)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Chain wraps h so the first middleware listed runs outermost.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
