package node

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dephy-io/dephy-sensor-node/connectivity"
	"github.com/dephy-io/dephy-sensor-node/provisioning"
	"github.com/dephy-io/dephy-sensor-node/publisher"
	"github.com/dephy-io/dephy-sensor-node/transport"
	"gopkg.in/yaml.v3"
)

// Config is the node configuration file.
type Config struct {
	DeviceName    string        `yaml:"device_name"`
	Endpoint      string        `yaml:"endpoint"`
	KeyStore      string        `yaml:"keystore"`
	SendInterval  time.Duration `yaml:"send_interval"`
	PublishEvery  int           `yaml:"publish_every"`
	EntropyWait   int           `yaml:"entropy_wait"`
	NTPServers    []string      `yaml:"ntp_servers"`
	ProbeURL      string        `yaml:"probe_url"`
	SensorCelsius float32       `yaml:"sensor_celsius"`
	RestartDelay  time.Duration `yaml:"restart_delay"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:      transport.DefaultEndpoint,
		KeyStore:      "file://./dephy-device.key",
		SendInterval:  publisher.DefaultSendInterval,
		PublishEvery:  publisher.DefaultPublishEvery,
		EntropyWait:   provisioning.DefaultEntropyTicks,
		NTPServers:    append([]string(nil), connectivity.DefaultNTPServers...),
		ProbeURL:      "https://send.testnet.dephy.io/",
		SensorCelsius: 21.5,
		RestartDelay:  DefaultRestartDelay,
	}
}

// LoadConfig reads a YAML file over the defaults. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for values the node cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Endpoint == "":
		return errors.New("endpoint is required")
	case c.KeyStore == "":
		return errors.New("keystore is required")
	case c.SendInterval <= 0:
		return errors.New("send_interval must be positive")
	case c.PublishEvery < 0:
		return errors.New("publish_every must not be negative")
	case c.EntropyWait < 0:
		return errors.New("entropy_wait must not be negative")
	case c.RestartDelay < 0:
		return errors.New("restart_delay must not be negative")
	}
	return nil
}
