// Package sensor reads temperature from an M117B digital sensor over a
// two-wire bus.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

const (
	// M117BAddr is the default bus address of the sensor.
	M117BAddr = 0x45

	// celsiusPerLSB is the temperature resolution of the result register.
	celsiusPerLSB = 0.00390625

	// celsiusOffset is the temperature encoded as zero.
	celsiusOffset = 40.0
)

// convertCommand triggers a single conversion and selects the result register.
var convertCommand = []byte{0xCC, 0x44}

// ErrShortRead is returned when the bus delivers fewer bytes than requested.
var ErrShortRead = errors.New("short read from sensor")

// Bus is a two-wire bus master.
type Bus interface {
	// Read reads len(buf) bytes from the device at addr.
	Read(ctx context.Context, addr uint8, buf []byte) error

	// WriteRead writes w to the device at addr, then reads len(r) bytes.
	WriteRead(ctx context.Context, addr uint8, w, r []byte) error
}

// M117B reads the sensor through a Bus.
type M117B struct {
	bus  Bus
	addr uint8
	log  *slog.Logger
}

// NewM117B creates a sensor reader at the default address.
func NewM117B(bus Bus, log *slog.Logger) *M117B {
	return &M117B{bus: bus, addr: M117BAddr, log: log}
}

// Prime performs the throwaway read the sensor needs after power-up.
// The first transaction after boot fails on real hardware; its error is only logged.
func (s *M117B) Prime(ctx context.Context) {
	buf := make([]byte, 3)
	if err := s.bus.Read(ctx, s.addr, buf); err != nil {
		s.log.Info("Sensor priming read failed", "err", err)
	}
}

// ReadCelsius triggers a conversion and decodes the result.
func (s *M117B) ReadCelsius(ctx context.Context) (float32, error) {
	buf := make([]byte, 3)
	if err := s.bus.WriteRead(ctx, s.addr, convertCommand, buf); err != nil {
		return 0, fmt.Errorf("sensor write_read: %w", err)
	}
	return DecodeCelsius(buf)
}

// DecodeCelsius converts the result register (two big-endian bytes of a
// signed count followed by a CRC byte) to degrees Celsius.
func DecodeCelsius(buf []byte) (float32, error) {
	if len(buf) < 2 {
		return 0, ErrShortRead
	}
	raw := int16(uint16(buf[0])<<8 | uint16(buf[1]))
	return celsiusOffset + float32(raw)*celsiusPerLSB, nil
}

// EncodeCelsius is the inverse of DecodeCelsius, rounding to the nearest count.
func EncodeCelsius(celsius float32) []byte {
	count := math.Round(float64(celsius-celsiusOffset) / celsiusPerLSB)
	count = math.Max(math.MinInt16, math.Min(math.MaxInt16, count))
	raw := uint16(int16(count))
	return []byte{byte(raw >> 8), byte(raw), 0}
}

// SimulatedBus answers conversion requests with a configurable temperature.
type SimulatedBus struct {
	mu      sync.Mutex
	celsius float32

	// FailFirst fails the first n transactions.
	FailFirst int
	calls     int
}

// NewSimulatedBus creates a bus whose sensor reports celsius.
func NewSimulatedBus(celsius float32) *SimulatedBus {
	return &SimulatedBus{celsius: celsius}
}

// SetCelsius changes the reported temperature.
func (b *SimulatedBus) SetCelsius(celsius float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.celsius = celsius
}

func (b *SimulatedBus) respond(addr uint8, buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++
	if b.calls <= b.FailFirst {
		return fmt.Errorf("simulated bus error on transaction %d", b.calls)
	}
	if addr != M117BAddr {
		return fmt.Errorf("no device at 0x%02x", addr)
	}
	copy(buf, EncodeCelsius(b.celsius))
	return nil
}

// Read implements Bus.
func (b *SimulatedBus) Read(ctx context.Context, addr uint8, buf []byte) error {
	return b.respond(addr, buf)
}

// WriteRead implements Bus.
func (b *SimulatedBus) WriteRead(ctx context.Context, addr uint8, w, r []byte) error {
	if len(w) != len(convertCommand) || w[0] != convertCommand[0] || w[1] != convertCommand[1] {
		return fmt.Errorf("unsupported command % x", w)
	}
	return b.respond(addr, r)
}

// Fixed is a sensor that always reports the same temperature.
type Fixed float32

// ReadCelsius returns the fixed value.
func (f Fixed) ReadCelsius(ctx context.Context) (float32, error) {
	return float32(f), nil
}
