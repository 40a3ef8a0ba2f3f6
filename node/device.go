package node

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"sync"
)

// DeviceNamePrefix prefixes the hardware address in a device name.
const DeviceNamePrefix = "DePHY_"

// ErrNoHardwareAddress is returned when no interface has a MAC address.
var ErrNoHardwareAddress = errors.New("no hardware address found")

// DeviceName derives "DePHY_<hex mac>" from the first non-loopback
// interface with a 6-byte hardware address.
func DeviceName() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	return deviceNameFrom(ifaces)
}

func deviceNameFrom(ifaces []net.Interface) (string, error) {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		return DeviceNamePrefix + hex.EncodeToString(iface.HardwareAddr), nil
	}
	return "", ErrNoHardwareAddress
}

// CryptoRandom is the operating system CSPRNG as a RandomSource.
type CryptoRandom struct{}

// Fill implements interfaces.RandomSource.
func (CryptoRandom) Fill(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

// LogIndicator renders a status indicator as log lines on change.
type LogIndicator struct {
	Name string
	Log  *slog.Logger

	mu    sync.Mutex
	state bool
	set   bool
}

// Set implements interfaces.StatusIndicator.
func (l *LogIndicator) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set && l.state == on {
		return nil
	}
	l.state, l.set = on, true
	l.Log.Debug("Indicator", slog.String("name", l.Name), slog.Bool("on", on))
	return nil
}

// On reports the current indicator state.
func (l *LogIndicator) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
