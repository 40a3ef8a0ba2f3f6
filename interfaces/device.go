package interfaces

import (
	"context"
	"errors"
	"time"
)

// AckOK is the application-level acknowledgment returned by the ingest
// endpoint for an accepted message.
const AckOK = `{"ok":true}`

// ErrDeliveryFailed marks a failed delivery attempt (transport error or a
// response other than AckOK). It is transient: the publisher retries next cycle.
var ErrDeliveryFailed = errors.New("message delivery failed")

// RandomSource is the hardware random number generator.
type RandomSource interface {
	// Fill overwrites buf with random bytes.
	Fill(buf []byte) error
}

// StatusIndicator is a binary status output such as an LED. Presentation only.
type StatusIndicator interface {
	Set(on bool) error
}

// Transport delivers encoded signed messages to the ingest endpoint.
type Transport interface {
	// Deliver sends body and returns the response text.
	Deliver(ctx context.Context, body []byte) (string, error)
}

// Sensor reads the current temperature.
type Sensor interface {
	ReadCelsius(ctx context.Context) (float32, error)
}

// Clock provides the (possibly network-corrected) wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the local wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}
