package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Advertiser publishes the beacon's status value.
type Advertiser interface {
	Advertise(name string, value []byte) error
}

// LogAdvertiser writes advertisements to the log at debug level.
type LogAdvertiser struct {
	Log *slog.Logger
}

// Advertise implements Advertiser.
func (a LogAdvertiser) Advertise(name string, value []byte) error {
	a.Log.Debug("Advertising", slog.String("name", name), slog.String("value", string(value)))
	return nil
}

// MemoryAdvertiser keeps the last advertised value.
type MemoryAdvertiser struct {
	mu    sync.Mutex
	value []byte
	count int
}

// Advertise implements Advertiser.
func (a *MemoryAdvertiser) Advertise(name string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = append(a.value[:0], value...)
	a.count++
	return nil
}

// Last returns the last advertised value and the number of advertisements.
func (a *MemoryAdvertiser) Last() (string, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return string(a.value), a.count
}

// Beacon advertises the node uptime under the device name.
type Beacon struct {
	name       string
	advertiser Advertiser
	log        *slog.Logger

	// Interval is the advertisement period.
	Interval time.Duration

	// OnUptime is called with every advertised uptime.
	OnUptime func(uptime uint64)
}

// NewBeacon creates a beacon advertising once per second.
func NewBeacon(name string, advertiser Advertiser, log *slog.Logger) *Beacon {
	return &Beacon{
		name:       name,
		advertiser: advertiser,
		log:        log,
		Interval:   time.Second,
	}
}

// UptimeValue formats the advertised status value.
func UptimeValue(uptime uint64) []byte {
	return []byte(fmt.Sprintf("uptime: %d", uptime))
}

// Run advertises until ctx ends. Advertiser errors are logged and do not
// end the task.
func (b *Beacon) Run(ctx context.Context) error {
	b.advertise(0)

	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()

	var uptime uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		b.advertise(uptime)
		uptime++
	}
}

func (b *Beacon) advertise(uptime uint64) {
	if err := b.advertiser.Advertise(b.name, UptimeValue(uptime)); err != nil {
		b.log.Warn("Advertisement failed", "err", err)
	}
	if b.OnUptime != nil {
		b.OnUptime(uptime)
	}
}
