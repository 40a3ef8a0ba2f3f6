package flags

import (
	"log/slog"
	"time"

	"github.com/dephy-io/dephy-sensor-node/common"
	"github.com/dephy-io/dephy-sensor-node/httpserver"
	"github.com/dephy-io/dephy-sensor-node/node"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// LoadNodeConfig reads --config when given and applies explicitly set flags on top.
func LoadNodeConfig(cCtx *cli.Context) (node.Config, error) {
	cfg := node.DefaultConfig()
	if path := cCtx.String(ConfigFlag.Name); path != "" {
		var err error
		if cfg, err = node.LoadConfig(path); err != nil {
			return cfg, err
		}
	}

	if cCtx.IsSet(KeyStoreFlag.Name) {
		cfg.KeyStore = cCtx.String(KeyStoreFlag.Name)
	}
	if cCtx.IsSet(EndpointFlag.Name) {
		cfg.Endpoint = cCtx.String(EndpointFlag.Name)
	}
	if cCtx.IsSet(DeviceNameFlag.Name) {
		cfg.DeviceName = cCtx.String(DeviceNameFlag.Name)
	}
	return cfg, cfg.Validate()
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"DEPHY_CONFIG"},
	Usage:   "YAML configuration file",
}

var KeyStoreFlag = &cli.StringFlag{
	Name:    "keystore",
	EnvVars: []string{"DEPHY_KEYSTORE"},
	Value:   node.DefaultConfig().KeyStore,
	Usage:   "device key slot URI (memory://, file://, vault://, s3://)",
}

var EndpointFlag = &cli.StringFlag{
	Name:    "endpoint",
	EnvVars: []string{"DEPHY_ENDPOINT"},
	Value:   node.DefaultConfig().Endpoint,
	Usage:   "URL to deliver signed messages to",
}

var DeviceNameFlag = &cli.StringFlag{
	Name:    "device-name",
	EnvVars: []string{"DEPHY_DEVICE_NAME"},
	Usage:   "device name; derived from the hardware address when empty",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var NodeFlags = []cli.Flag{
	ConfigFlag,
	KeyStoreFlag,
	EndpointFlag,
	DeviceNameFlag,
}
