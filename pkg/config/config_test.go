package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEDUP_WINDOW", "")
	t.Setenv("TRACK_RATE_BURST", "")
	t.Setenv("AUTH_COOKIE", "token")
	t.Setenv("TRUST_PROXY", "")

	cfg := Load()
	if cfg.DedupWindow != time.Hour {
		t.Errorf("DedupWindow = %v, want 1h", cfg.DedupWindow)
	}
	if cfg.TrackRateBurst != 40 {
		t.Errorf("TrackRateBurst = %d, want 40", cfg.TrackRateBurst)
	}
	if cfg.AuthCookie != "token" {
		t.Errorf("AuthCookie = %q", cfg.AuthCookie)
	}
	if cfg.TrustProxy {
		t.Error("TrustProxy should default to false")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DEDUP_WINDOW", "90m")
	t.Setenv("SWEEP_INTERVAL", "not-a-duration")
	t.Setenv("TRACK_RATE_LIMIT", "2.5")
	t.Setenv("ALLOWED_EMAILS", " a@example.com, ,b@example.com")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TRUST_PROXY", "true")

	cfg := Load()
	if cfg.DedupWindow != 90*time.Minute {
		t.Errorf("DedupWindow = %v", cfg.DedupWindow)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Errorf("invalid SWEEP_INTERVAL should fall back, got %v", cfg.SweepInterval)
	}
	if cfg.TrackRateLimit != 2.5 {
		t.Errorf("TrackRateLimit = %v", cfg.TrackRateLimit)
	}
	if len(cfg.AllowedEmails) != 2 || cfg.AllowedEmails[1] != "b@example.com" {
		t.Errorf("AllowedEmails = %v", cfg.AllowedEmails)
	}
	if !cfg.TrustProxy {
		t.Error("TRUST_PROXY=true not applied")
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v", cfg.SlogLevel())
	}
}
