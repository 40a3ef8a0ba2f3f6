package node

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beevik/ntp"
	"github.com/dephy-io/dephy-sensor-node/connectivity"
	"github.com/dephy-io/dephy-sensor-node/cryptoutils"
	"github.com/dephy-io/dephy-sensor-node/interfaces"
	"github.com/dephy-io/dephy-sensor-node/protocol"
	"github.com/dephy-io/dephy-sensor-node/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunGroup_FirstExitCancelsPeers(t *testing.T) {
	var cancelled atomic.Int32
	waitForCancel := func(ctx context.Context) error {
		<-ctx.Done()
		cancelled.Add(1)
		return ctx.Err()
	}

	err := RunGroup(context.Background(), testLogger(),
		Task{Name: "telemetry", Run: waitForCancel},
		Task{Name: "beacon", Run: waitForCancel},
		Task{Name: "connectivity", Run: func(ctx context.Context) error {
			return errors.New("reconnect failed")
		}},
	)

	require.ErrorIs(t, err, ErrTaskExited)
	assert.Contains(t, err.Error(), "connectivity")
	assert.Contains(t, err.Error(), "reconnect failed")
	assert.Equal(t, int32(2), cancelled.Load())
}

func TestRunGroup_CleanExitAlsoEndsGroup(t *testing.T) {
	err := RunGroup(context.Background(), testLogger(),
		Task{Name: "beacon", Run: func(ctx context.Context) error { return nil }},
		Task{Name: "telemetry", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)
	require.ErrorIs(t, err, ErrTaskExited)
	assert.Contains(t, err.Error(), "beacon")
}

func TestSupervise_RestartsAfterDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var boots, restarts int
	err := Supervise(ctx, testLogger(), time.Millisecond, func() { restarts++ }, func(ctx context.Context) error {
		boots++
		if boots == 3 {
			cancel()
			return ctx.Err()
		}
		return errors.New("task group ended")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, boots)
	assert.Equal(t, 2, restarts)
}

func TestBeacon(t *testing.T) {
	adv := &MemoryAdvertiser{}
	var mu sync.Mutex
	var uptimes []uint64

	b := NewBeacon("DePHY_TEST", adv, testLogger())
	b.Interval = time.Millisecond
	b.OnUptime = func(u uint64) {
		mu.Lock()
		uptimes = append(uptimes, u)
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Run(ctx), context.DeadlineExceeded)

	value, count := adv.Last()
	assert.Greater(t, count, 2)
	assert.Regexp(t, `^uptime: \d+$`, value)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{0, 0, 1}, uptimes[:3])
}

func TestUptimeValue(t *testing.T) {
	assert.Equal(t, "uptime: 0", string(UptimeValue(0)))
	assert.Equal(t, "uptime: 3600", string(UptimeValue(3600)))
}

func TestDeviceNameFrom(t *testing.T) {
	ifaces := []net.Interface{
		{Name: "lo", Flags: net.FlagLoopback, HardwareAddr: nil},
		{Name: "tun0", HardwareAddr: nil},
		{Name: "wlan0", HardwareAddr: net.HardwareAddr{0x24, 0x0a, 0xc4, 0x01, 0x02, 0x03}},
	}
	name, err := deviceNameFrom(ifaces)
	require.NoError(t, err)
	assert.Equal(t, "DePHY_240ac4010203", name)

	_, err = deviceNameFrom(ifaces[:2])
	assert.ErrorIs(t, err, ErrNoHardwareAddress)
}

func TestLogIndicator(t *testing.T) {
	ind := &LogIndicator{Name: "led", Log: testLogger()}
	require.NoError(t, ind.Set(true))
	assert.True(t, ind.On())
	require.NoError(t, ind.Set(false))
	assert.False(t, ind.On())
}

func TestCryptoRandom(t *testing.T) {
	a := make([]byte, 32)
	b := make([]byte, 32)
	require.NoError(t, CryptoRandom{}.Fill(a))
	require.NoError(t, CryptoRandom{}.Fill(b))
	assert.NotEqual(t, a, b)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device_name: DePHY_LAB
endpoint: http://collector:8080/dephy/signed_message
keystore: memory://
send_interval: 2s
publish_every: 3
entropy_wait: 10
ntp_servers: [pool.ntp.org]
`), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "DePHY_LAB", cfg.DeviceName)
	assert.Equal(t, 2*time.Second, cfg.SendInterval)
	assert.Equal(t, 3, cfg.PublishEvery)
	assert.Equal(t, 10, cfg.EntropyWait)
	assert.Equal(t, []string{"pool.ntp.org"}, cfg.NTPServers)
	// Unset keys keep their defaults
	assert.Equal(t, DefaultRestartDelay, cfg.RestartDelay)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("sned_interval: 1s\n"), 0600))
	_, err := LoadConfig(unknown)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("send_interval: 0s\n"), 0600))
	_, err = LoadConfig(invalid)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0600))
	cfg, err := LoadConfig(empty)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

type recordingTransport struct {
	mu     sync.Mutex
	bodies [][]byte
	onCall func()
}

func (r *recordingTransport) Deliver(ctx context.Context, body []byte) (string, error) {
	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	r.mu.Unlock()
	if r.onCall != nil {
		r.onCall()
	}
	return interfaces.AckOK, nil
}

type upLink struct{}

func (upLink) Check(context.Context) error     { return nil }
func (upLink) Reconnect(context.Context) error { return nil }

func TestNode_BootPublishesSignedTelemetry(t *testing.T) {
	var secret [interfaces.KeyLength]byte
	secret[31] = 1
	id, err := cryptoutils.NewDeviceIdentity(secret)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.PublishEvery = 0
	cfg.SendInterval = time.Millisecond
	cfg.NTPServers = []string{"ntp.test"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := &recordingTransport{onCall: cancel}
	n := New(cfg, "DePHY_TEST", id, testLogger())
	n.Sensor = sensor.Fixed(21.5)
	n.Transport = tr
	n.Link = upLink{}
	n.TimeSync = connectivity.NewTimeSync(cfg.NTPServers, testLogger())
	n.TimeSync.Query = func(string, ntp.QueryOptions) (*ntp.Response, error) {
		return nil, errors.New("offline")
	}

	err = n.Boot(ctx)
	require.ErrorIs(t, err, ErrTaskExited)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.NotEmpty(t, tr.bodies)
	_, raw, err := protocol.VerifyBytes(tr.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, "DePHY_TEST,21.5", string(raw.Payload))
	assert.Equal(t, id.Address().Bytes(), raw.FromAddress)
}
