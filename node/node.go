package node

import (
	"context"
	"log/slog"

	"github.com/dephy-io/dephy-sensor-node/connectivity"
	"github.com/dephy-io/dephy-sensor-node/cryptoutils"
	"github.com/dephy-io/dephy-sensor-node/interfaces"
	"github.com/dephy-io/dephy-sensor-node/metrics"
	"github.com/dephy-io/dephy-sensor-node/publisher"
)

// Node wires a provisioned identity to its peripherals and runs the task group.
type Node struct {
	cfg      Config
	name     string
	identity *cryptoutils.DeviceIdentity
	log      *slog.Logger

	Sensor     interfaces.Sensor
	Transport  interfaces.Transport
	TimeSync   *connectivity.TimeSync
	Link       connectivity.Link
	Advertiser Advertiser

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// New creates a node for identity. Peripherals are set on the returned value.
func New(cfg Config, name string, identity *cryptoutils.DeviceIdentity, log *slog.Logger) *Node {
	return &Node{
		cfg:        cfg,
		name:       name,
		identity:   identity,
		log:        log,
		TimeSync:   connectivity.NewTimeSync(cfg.NTPServers, log),
		Advertiser: LogAdvertiser{Log: log},
	}
}

// Boot builds fresh tasks and runs them as one group until the first exits.
func (n *Node) Boot(ctx context.Context) error {
	policy := publisher.NewPolicy(n.identity, n.Sensor, n.Transport, n.TimeSync, n.log.With("task", "telemetry"))
	policy.DeviceName = n.name
	policy.PublishEvery = n.cfg.PublishEvery
	policy.SendInterval = n.cfg.SendInterval

	beacon := NewBeacon(n.name, n.Advertiser, n.log.With("task", "beacon"))

	maintainer := connectivity.NewMaintainer(n.Link, &observedSync{n}, n.log.With("task", "connectivity"))

	if n.Metrics != nil {
		policy.OnPublish = n.Metrics.ObservePublish
		beacon.OnUptime = n.Metrics.SetUptime
	}

	return RunGroup(ctx, n.log,
		Task{Name: "telemetry", Run: policy.Run},
		Task{Name: "beacon", Run: beacon.Run},
		Task{Name: "connectivity", Run: maintainer.Run},
	)
}

// Run supervises Boot until ctx ends.
func (n *Node) Run(ctx context.Context) error {
	var onRestart func()
	if n.Metrics != nil {
		onRestart = n.Metrics.ObserveRestart
	}
	n.log.Info("Node starting",
		slog.String("device_name", n.name),
		slog.Any("identity", n.identity))
	return Supervise(ctx, n.log, n.cfg.RestartDelay, onRestart, n.Boot)
}

// observedSync records the clock offset after every successful sync.
type observedSync struct {
	n *Node
}

func (o *observedSync) Sync(ctx context.Context) error {
	if err := o.n.TimeSync.Sync(ctx); err != nil {
		return err
	}
	if o.n.Metrics != nil {
		offset, _ := o.n.TimeSync.Offset()
		o.n.Metrics.SetClockOffset(offset)
	}
	return nil
}
