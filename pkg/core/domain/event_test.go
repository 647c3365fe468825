package domain

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestValidateClickBounds(t *testing.T) {
	tests := []struct {
		clicks int64
		ok     bool
	}{
		{clicks: 0, ok: true},
		{clicks: MaxClicksPerEvent, ok: true},
		{clicks: MaxClicksPerEvent + 1},
		{clicks: math.MaxInt64},
		{clicks: -1},
	}
	for _, tt := range tests {
		ev := TrackingEvent{Page: "/home", TotalClicks: tt.clicks}
		err := ev.Validate()
		if tt.ok {
			if err != nil {
				t.Errorf("clicks %d: %v", tt.clicks, err)
			}
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != "totalClicks" {
			t.Errorf("clicks %d: expected a totalClicks validation error, got %v", tt.clicks, err)
		}
	}
}

func TestExportedRecordsUseCamelCase(t *testing.T) {
	for name, v := range map[string]any{
		"page stats": PageStats{Page: "/home", TotalViews: 1},
		"visit":      Visit{VisitorKey: "anon_s1", UserID: "u1"},
		"result":     TrackResult{VisitorKey: "anon_s1"},
		"user":       User{ID: "u1"},
	} {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		var keys map[string]any
		json.Unmarshal(raw, &keys)
		for k := range keys {
			if strings.Contains(k, "_") {
				t.Errorf("%s: snake_case key %q", name, k)
			}
		}
	}
}
