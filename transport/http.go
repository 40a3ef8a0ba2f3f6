// Package transport delivers encoded signed messages to a DePHY ingest endpoint.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"
)

const (
	// DefaultEndpoint is the public testnet ingest endpoint.
	DefaultEndpoint = "https://send.testnet.dephy.io/dephy/signed_message"

	// ContentType marks a body as an encoded SignedMessage.
	ContentType = "application/x-dephy"

	// DefaultTimeout bounds one delivery round trip.
	DefaultTimeout = 18 * time.Second

	// MaxResponseBytes is the longest response text returned by Deliver.
	MaxResponseBytes = 2048

	userAgent = "dephy-sensor-node"
)

// ErrInvalidResponse is returned when the response body is not valid UTF-8.
var ErrInvalidResponse = errors.New("response is not valid text")

// HTTPTransport POSTs messages to an ingest endpoint and returns the
// response body as text. Judging the acknowledgment is left to the caller.
type HTTPTransport struct {
	Endpoint string
	Client   *http.Client
	log      *slog.Logger
}

// NewHTTPTransport creates a transport for endpoint with the default timeout.
func NewHTTPTransport(endpoint string, log *slog.Logger) *HTTPTransport {
	return &HTTPTransport{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: DefaultTimeout},
		log:      log,
	}
}

// Deliver sends body and returns up to MaxResponseBytes of the response.
// Any HTTP status is returned as text; only transport failures are errors.
func (t *HTTPTransport) Deliver(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", ContentType)

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	t.log.Debug("Delivering message", slog.String("endpoint", t.Endpoint), slog.Int("size", len(body)))

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not reach %s: %w", t.Endpoint, err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("could not read response: %w", err)
	}
	if !utf8.Valid(buf) {
		return "", ErrInvalidResponse
	}

	t.log.Debug("Delivery response",
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(buf)))

	return string(buf), nil
}
