// Package publisher implements the telemetry publish policy: read the
// sensor every cycle, and every Nth cycle sign the latest reading and
// deliver it, retrying on the next cycle after a failure.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dephy-io/dephy-sensor-node/cryptoutils"
	"github.com/dephy-io/dephy-sensor-node/interfaces"
	"github.com/dephy-io/dephy-sensor-node/protocol"
)

const (
	// DefaultPublishEvery is the number of cycles between publish attempts.
	DefaultPublishEvery = 30

	// DefaultSendInterval is the duration of one cycle.
	DefaultSendInterval = 10 * time.Second
)

// Policy holds the cycle counter and the last good sensor reading.
// It is owned by a single goroutine.
type Policy struct {
	identity  *cryptoutils.DeviceIdentity
	sensor    interfaces.Sensor
	transport interfaces.Transport
	clock     interfaces.Clock
	log       *slog.Logger

	// DeviceName prefixes every payload.
	DeviceName string

	// PublishEvery is the cycle count that triggers a publish attempt.
	PublishEvery int

	// SendInterval is the sleep between cycles.
	SendInterval time.Duration

	// OnPublish is called with the outcome of every publish attempt.
	OnPublish func(err error)

	count       int
	temperature float32
}

// NewPolicy creates a policy with default cadence.
func NewPolicy(identity *cryptoutils.DeviceIdentity, sensor interfaces.Sensor, transport interfaces.Transport, clock interfaces.Clock, log *slog.Logger) *Policy {
	if clock == nil {
		clock = interfaces.SystemClock{}
	}
	return &Policy{
		identity:     identity,
		sensor:       sensor,
		transport:    transport,
		clock:        clock,
		log:          log,
		PublishEvery: DefaultPublishEvery,
		SendInterval: DefaultSendInterval,
	}
}

// Count returns the current cycle counter.
func (p *Policy) Count() int {
	return p.count
}

// Temperature returns the last good sensor reading.
func (p *Policy) Temperature() float32 {
	return p.temperature
}

// Payload formats the telemetry payload "<device name>,<temperature>".
func Payload(deviceName string, celsius float32) []byte {
	return []byte(deviceName + "," + strconv.FormatFloat(float64(celsius), 'f', -1, 32))
}

// Cycle runs one cycle. It returns the publish error, if a publish was
// attempted and failed; the attempt is repeated on the next cycle.
func (p *Policy) Cycle(ctx context.Context) error {
	// A failed read keeps the previous value
	if celsius, err := p.sensor.ReadCelsius(ctx); err != nil {
		p.log.Error("Sensor read failed", "err", err)
	} else {
		p.temperature = celsius
		p.log.Debug("Sensor reading", slog.Float64("celsius", float64(celsius)))
	}

	var publishErr error
	if p.count >= p.PublishEvery {
		publishErr = p.Publish(ctx, p.temperature)
		if publishErr != nil {
			p.log.Error("Publish failed, retrying in next cycle", "err", publishErr)
		} else {
			p.count = 0
		}
	}

	p.count++
	return publishErr
}

// Publish signs a reading and delivers it. Success requires the exact
// acknowledgment literal in the response.
func (p *Policy) Publish(ctx context.Context, celsius float32) (err error) {
	defer func() {
		if p.OnPublish != nil {
			p.OnPublish(err)
		}
	}()

	now := p.clock.Now()
	msg, err := protocol.CreateAt(p.identity, Payload(p.DeviceName, celsius), nil, uint64(now.Unix()))
	if err != nil {
		return fmt.Errorf("could not create message: %w", err)
	}

	resp, err := p.transport.Deliver(ctx, msg.Marshal())
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrDeliveryFailed, err)
	}
	if resp != interfaces.AckOK {
		return fmt.Errorf("%w: unexpected response %q", interfaces.ErrDeliveryFailed, resp)
	}

	p.log.Info("Published message",
		slog.String("at", now.UTC().Format(time.RFC1123Z)),
		slog.Float64("celsius", float64(celsius)),
		slog.String("hash", fmt.Sprintf("%x", msg.Hash)))
	return nil
}

// Run cycles until ctx ends. Publish failures never end the loop.
func (p *Policy) Run(ctx context.Context) error {
	p.log.Info("Telemetry started",
		slog.String("address", p.identity.AddressHex()),
		slog.Int("publish_every", p.PublishEvery),
		slog.Duration("send_interval", p.SendInterval))

	ticker := time.NewTicker(p.SendInterval)
	defer ticker.Stop()

	for {
		p.Cycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
