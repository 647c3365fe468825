package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
)

// Transport delivers events to the tracking endpoint.
type Transport interface {
	// Send is a regular request, used for initial views and navigation flushes.
	Send(ctx context.Context, event domain.TrackingEvent) error
	// Beacon is used while the page is going away.
	Beacon(ctx context.Context, event domain.TrackingEvent) error
}

// HTTPTransport posts events as JSON.
type HTTPTransport struct {
	Endpoint string
	Client   *http.Client
	// AuthCookie and Token, when set, identify a signed-in visitor.
	AuthCookie string
	Token      string
}

func NewHTTPTransport(endpoint string) *HTTPTransport {
	return &HTTPTransport{
		Endpoint:   endpoint,
		Client:     &http.Client{Timeout: 5 * time.Second},
		AuthCookie: "token",
	}
}

func (t *HTTPTransport) Send(ctx context.Context, event domain.TrackingEvent) error {
	return t.post(ctx, event, "application/json")
}

// Beacon mimics navigator.sendBeacon, which posts a text/plain body.
func (t *HTTPTransport) Beacon(ctx context.Context, event domain.TrackingEvent) error {
	return t.post(ctx, event, "text/plain;charset=UTF-8")
}

func (t *HTTPTransport) post(ctx context.Context, event domain.TrackingEvent, contentType string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if t.Token != "" {
		req.AddCookie(&http.Cookie{Name: t.AuthCookie, Value: t.Token})
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post event: status %d", resp.StatusCode)
	}
	return nil
}
