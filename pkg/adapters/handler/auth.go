package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/config"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
	"github.com/wadjakorntonsri/portfolio-analytics/pkg/ports"
)

const tokenLifetime = 24 * time.Hour

// AuthHandler signs visitors in with Google and issues the token cookie the
// tracking endpoint reads.
type AuthHandler struct {
	oauthConfig   *oauth2.Config
	users         ports.UserDirectory
	jwtSecret     []byte
	cookieName    string
	frontendURL   string
	allowedEmails []string
	isProduction  bool
	userInfoURL   string
}

type GoogleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
}

func NewAuthHandler(cfg *config.Config, users ports.UserDirectory) *AuthHandler {
	return &AuthHandler{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		users:         users,
		jwtSecret:     []byte(cfg.JWTSecret),
		cookieName:    cfg.AuthCookie,
		frontendURL:   cfg.FrontendURL,
		allowedEmails: cfg.AllowedEmails,
		isProduction:  cfg.IsProduction(),
		userInfoURL:   "https://www.googleapis.com/oauth2/v2/userinfo",
	}
}

// Enabled reports whether Google credentials are configured.
func (h *AuthHandler) Enabled() bool {
	return h.oauthConfig.ClientID != ""
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state := h.generateStateOauthCookie(w)
	http.Redirect(w, r, h.oauthConfig.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	oauthState, err := r.Cookie("oauthstate")
	if err != nil {
		slog.Warn("oauth callback without state cookie", "error", err)
		http.Redirect(w, r, h.frontendURL, http.StatusTemporaryRedirect)
		return
	}
	if r.FormValue("state") != oauthState.Value {
		slog.Warn("oauth callback with mismatched state")
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}

	googleUser, err := h.fetchGoogleUser(r.Context(), r.FormValue("code"))
	if err != nil {
		slog.Error("oauth callback failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if len(h.allowedEmails) > 0 && !slices.Contains(h.allowedEmails, googleUser.Email) {
		slog.Warn("login rejected, email not in allowlist", "email", googleUser.Email)
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	userID, err := h.recordLogin(r.Context(), googleUser)
	if err != nil {
		slog.Error("save user failed", "email", googleUser.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	tokenString, err := GenerateToken(h.jwtSecret, userID, tokenLifetime)
	if err != nil {
		slog.Error("sign token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    tokenString,
		Expires:  time.Now().Add(tokenLifetime),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.isProduction,
		SameSite: http.SameSiteLaxMode,
	})

	slog.Info("login successful", "user_id", userID)
	http.Redirect(w, r, h.frontendURL, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) fetchGoogleUser(ctx context.Context, code string) (*GoogleUser, error) {
	token, err := h.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}

	resp, err := h.oauthConfig.Client(ctx, token).Get(h.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get user info: status %d", resp.StatusCode)
	}

	var gu GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&gu); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	return &gu, nil
}

// recordLogin upserts the account keyed by the Google id and marks it online,
// which is what the active users figure counts.
func (h *AuthHandler) recordLogin(ctx context.Context, gu *GoogleUser) (string, error) {
	now := time.Now()
	user, err := h.users.GetUser(ctx, gu.ID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUserNotFound):
		user = &domain.User{
			ID:        gu.ID,
			Role:      domain.RoleUser,
			IsActive:  true,
			CreatedAt: now,
		}
	default:
		return "", err
	}

	user.Email = gu.Email
	user.Name = gu.Name
	user.Status = domain.StatusOnline
	user.LastLogin = &now

	if err := h.users.SaveUser(ctx, user); err != nil {
		return "", err
	}
	return user.ID, nil
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Expires:  time.Now().Add(-1 * time.Hour),
		MaxAge:   -1,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.isProduction,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.frontendURL, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) generateStateOauthCookie(w http.ResponseWriter) string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	state := base64.URLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     "oauthstate",
		Value:    state,
		Expires:  time.Now().Add(20 * time.Minute),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.isProduction,
		SameSite: http.SameSiteLaxMode,
	})
	return state
}
