package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Link is the node's uplink.
type Link interface {
	// Check probes whether the link currently carries traffic.
	Check(ctx context.Context) error

	// Reconnect tears the link down and brings it back up.
	Reconnect(ctx context.Context) error
}

// HTTPLink treats the uplink as healthy while a probe URL answers.
type HTTPLink struct {
	URL    string
	Client *http.Client
	log    *slog.Logger
}

// NewHTTPLink creates a link probing url.
func NewHTTPLink(url string, log *slog.Logger) *HTTPLink {
	return &HTTPLink{
		URL: url,
		Client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		log: log,
	}
}

// Check sends a HEAD request. Any HTTP response counts as reachable.
func (l *HTTPLink) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, l.URL, nil)
	if err != nil {
		return fmt.Errorf("could not initialize probe: %w", err)
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return fmt.Errorf("link probe failed: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Reconnect drops pooled connections and probes again.
func (l *HTTPLink) Reconnect(ctx context.Context) error {
	l.log.Info("Reconnecting link", slog.String("probe", l.URL))
	l.Client.CloseIdleConnections()
	return l.Check(ctx)
}
