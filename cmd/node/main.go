package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dephy-io/dephy-sensor-node/cmd/flags"
	"github.com/dephy-io/dephy-sensor-node/common"
	"github.com/dephy-io/dephy-sensor-node/connectivity"
	"github.com/dephy-io/dephy-sensor-node/cryptoutils"
	"github.com/dephy-io/dephy-sensor-node/keystore"
	"github.com/dephy-io/dephy-sensor-node/metrics"
	"github.com/dephy-io/dephy-sensor-node/node"
	"github.com/dephy-io/dephy-sensor-node/provisioning"
	"github.com/dephy-io/dephy-sensor-node/sensor"
	"github.com/dephy-io/dephy-sensor-node/transport"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "node",
		Usage: "Provision a device key and publish signed sensor telemetry",
		Flags: []cli.Flag{
			flags.LogJsonFlag,
			flags.LogDebugFlag,
			flags.LogUidFlag,
			flags.LogServiceFlagFn("dephy-node"),
			flags.MetricsAddrFlag,
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Provision the device key if needed, then run the node",
				Flags:  flags.NodeFlags,
				Action: runNode,
			},
			{
				Name:   "inspect",
				Usage:  "Run only the key provisioning loop and print the status line",
				Flags:  flags.NodeFlags,
				Action: inspectKey,
			},
			{
				Name:   "address",
				Usage:  "Print the address of an already provisioned key",
				Flags:  flags.NodeFlags,
				Action: printAddress,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// deviceName returns the configured name or derives one from the hardware address.
func deviceName(cfg node.Config) (string, error) {
	if cfg.DeviceName != "" {
		return cfg.DeviceName, nil
	}
	name, err := node.DeviceName()
	if err != nil {
		return "", fmt.Errorf("%w, set --device-name", err)
	}
	return name, nil
}

// newMachine builds the provisioning machine over the configured key slot.
func newMachine(cfg node.Config, name string, m *metrics.Metrics, logger *slog.Logger) (*provisioning.Machine, error) {
	ks, err := keystore.NewKeyStoreFactory(logger).KeyStoreForURI(cfg.KeyStore)
	if err != nil {
		return nil, err
	}
	logger.Info("Using key slot", "backend", ks.Name(), "location", ks.LocationURI())

	if m != nil {
		ks = metrics.InstrumentKeyStore(ks, m)
	}

	machine := provisioning.NewMachine(ks, node.CryptoRandom{}, &node.LogIndicator{Name: "status", Log: logger}, logger.With("task", "provisioning"))
	machine.DeviceName = name
	machine.StatusWriter = os.Stdout
	machine.EntropyTicks = cfg.EntropyWait
	if m != nil {
		machine.Observe(func(s provisioning.State) {
			m.SetProvisioningPhase(s.Phase(), provisioning.Phases)
		})
	}
	return machine, nil
}

func startMetrics(cCtx *cli.Context, logger *slog.Logger) (*metrics.MetricsServer, error) {
	metricsSrv, err := metrics.New(common.PackageName, cCtx.String(flags.MetricsAddrFlag.Name))
	if err != nil {
		return nil, err
	}
	if cCtx.String(flags.MetricsAddrFlag.Name) != "" {
		go func() {
			logger.Info("Starting metrics server", "metricsAddress", cCtx.String(flags.MetricsAddrFlag.Name))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "err", err)
			}
		}()
	}
	return metricsSrv, nil
}

func runNode(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	cfg, err := flags.LoadNodeConfig(cCtx)
	if err != nil {
		logger.Error("Invalid configuration", "err", err)
		return err
	}

	name, err := deviceName(cfg)
	if err != nil {
		logger.Error("Failed to derive device name", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsSrv, err := startMetrics(cCtx, logger)
	if err != nil {
		logger.Error("Failed to create metrics server", "err", err)
		return err
	}
	defer metricsSrv.Shutdown(context.Background())

	// Provision or load the device key
	machine, err := newMachine(cfg, name, metricsSrv.Metrics, logger)
	if err != nil {
		logger.Error("Failed to open key slot", "err", err)
		return err
	}
	identity, err := machine.AwaitIdentity(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		logger.Error("Provisioning failed", "err", err)
		return err
	}

	// The simulated bus fails its first transaction like the real sensor
	bus := sensor.NewSimulatedBus(cfg.SensorCelsius)
	bus.FailFirst = 1
	m117b := sensor.NewM117B(bus, logger.With("device", "m117b"))
	m117b.Prime(ctx)

	n := node.New(cfg, name, identity, logger)
	n.Sensor = m117b
	n.Transport = transport.NewHTTPTransport(cfg.Endpoint, logger.With("task", "telemetry"))
	n.Link = connectivity.NewHTTPLink(cfg.ProbeURL, logger.With("task", "connectivity"))
	n.Metrics = metricsSrv.Metrics

	if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Node stopped")
	return nil
}

func inspectKey(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	cfg, err := flags.LoadNodeConfig(cCtx)
	if err != nil {
		return err
	}
	name, err := deviceName(cfg)
	if err != nil {
		return err
	}

	machine, err := newMachine(cfg, name, nil, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := machine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printAddress(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	cfg, err := flags.LoadNodeConfig(cCtx)
	if err != nil {
		return err
	}

	ks, err := keystore.NewKeyStoreFactory(logger).KeyStoreForURI(cfg.KeyStore)
	if err != nil {
		return err
	}

	key, ok, err := ks.Read(cCtx.Context)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no key provisioned at %s", ks.LocationURI())
	}

	identity, err := cryptoutils.NewDeviceIdentity(key)
	if err != nil {
		return err
	}

	fmt.Printf("address: %s\n", identity.AddressHex())
	fmt.Printf("pubkey:  %s\n", identity.PublicKeyHex())
	fmt.Printf("did:     %s\n", identity.Address().DID())
	return nil
}
