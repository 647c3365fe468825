package repository

import (
	"context"
	"testing"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/config"
)

func TestOpenSelectsBackend(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "memory", want: "memory"},
		{url: ":memory:", want: "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			b, err := Open(context.Background(), &config.Config{DatabaseURL: tt.url})
			if err != nil {
				t.Fatal(err)
			}
			defer b.Close()
			if b.Name != tt.want {
				t.Errorf("backend %q want %q", b.Name, tt.want)
			}
			if b.Visits == nil || b.Pages == nil || b.Users == nil || len(b.Schemas) != 1 || b.Indexes == nil {
				t.Errorf("backend not fully wired: %+v", b)
			}
			for _, p := range b.Pingers {
				if err := p.Ping(context.Background()); err != nil {
					t.Errorf("ping: %v", err)
				}
			}
		})
	}
}
