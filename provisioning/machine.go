package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dephy-io/dephy-sensor-node/cryptoutils"
	"github.com/dephy-io/dephy-sensor-node/interfaces"
)

const (
	// DefaultEntropyTicks is the number of ticks waited before drawing a key.
	DefaultEntropyTicks = 3600

	// DefaultTickInterval is the duration of one tick.
	DefaultTickInterval = time.Second

	// statusEvery is the KeyTaken status line cadence, in ticks.
	statusEvery = 10

	// maxKeyDraws bounds the redraws of an out-of-range scalar.
	maxKeyDraws = 16
)

// ErrInvalidStoredKey is returned when the key slot holds a value that is not
// a valid secp256k1 scalar. The slot cannot be rewritten, so this is fatal.
var ErrInvalidStoredKey = errors.New("stored key is not a valid secret")

// StatusLine is the structured status emitted while in KeyTaken.
type StatusLine struct {
	DeviceName string `json:"device_name"`
	PubkeyHex  string `json:"pubkey_hex"`
	AddrHex    string `json:"addr_hex"`
}

// Machine drives the one-time key provisioning flow.
//
// The key slot is touched only by Machine and only before telemetry starts.
// A key is written at most once: ShouldGenerateKey re-checks IsProvisioned
// before writing, and every KeyStore backend refuses a second write.
type Machine struct {
	keyStore  interfaces.KeyStore
	random    interfaces.RandomSource
	indicator interfaces.StatusIndicator
	log       *slog.Logger

	// DeviceName is reported in the status line.
	DeviceName string

	// StatusWriter receives one JSON status line per statusEvery ticks in KeyTaken.
	// Nil disables the line; it is still logged.
	StatusWriter io.Writer

	// EntropyTicks is the length of the entropy window.
	EntropyTicks int

	// TickInterval is the sleep between ticks. Zero runs ticks back to back.
	TickInterval time.Duration

	observers []func(State)
	identity  *cryptoutils.DeviceIdentity
}

// NewMachine creates a provisioning machine with default timing.
func NewMachine(keyStore interfaces.KeyStore, random interfaces.RandomSource, indicator interfaces.StatusIndicator, log *slog.Logger) *Machine {
	return &Machine{
		keyStore:     keyStore,
		random:       random,
		indicator:    indicator,
		log:          log,
		EntropyTicks: DefaultEntropyTicks,
		TickInterval: DefaultTickInterval,
	}
}

// Observe registers fn to be called with every state the machine enters.
func (m *Machine) Observe(fn func(State)) {
	m.observers = append(m.observers, fn)
}

// Identity returns the device identity once KeyTaken has been reached, nil before.
func (m *Machine) Identity() *cryptoutils.DeviceIdentity {
	return m.identity
}

// Step performs one transition. Init resolution is the entry step; every
// other state represents one tick.
func (m *Machine) Step(ctx context.Context, state State) (State, error) {
	switch s := state.(type) {
	case Init:
		return m.stepInit(ctx)
	case WaitingForEntropy:
		return m.stepWaiting(s), nil
	case ShouldGenerateKey:
		return m.stepGenerate(ctx)
	case KeyTaken:
		return m.stepKeyTaken(s), nil
	default:
		return nil, fmt.Errorf("unknown provisioning state %T", state)
	}
}

func (m *Machine) stepInit(ctx context.Context) (State, error) {
	key, ok, err := m.keyStore.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read key store %s: %w", m.keyStore.Name(), err)
	}
	if !ok {
		m.log.Info("No key provisioned, waiting for entropy", slog.Int("ticks", m.EntropyTicks))
		return WaitingForEntropy{SecsWaited: 1}, nil
	}
	return m.keyTaken(key)
}

func (m *Machine) stepWaiting(s WaitingForEntropy) State {
	next := s.SecsWaited + 1
	m.setIndicator(next%2 == 0)

	if next > m.EntropyTicks {
		m.log.Info("Entropy window elapsed", slog.Int("secs_waited", s.SecsWaited))
		return ShouldGenerateKey{}
	}
	return WaitingForEntropy{SecsWaited: next}
}

func (m *Machine) stepGenerate(ctx context.Context) (State, error) {
	// Never write a provisioned slot
	provisioned, err := m.keyStore.IsProvisioned(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query key store %s: %w", m.keyStore.Name(), err)
	}

	if !provisioned {
		key, err := m.drawKey()
		if err != nil {
			return nil, err
		}

		if err := m.keyStore.Write(ctx, key); err != nil {
			m.log.Error("One-time key write failed", slog.String("keystore", m.keyStore.Name()), "err", err)
			if errors.Is(err, interfaces.ErrKeyStoreWriteFailed) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", interfaces.ErrKeyStoreWriteFailed, err)
		}
		m.log.Info("Key written", slog.String("keystore", m.keyStore.Name()))
	} else {
		m.log.Warn("Key store already provisioned, skipping write", slog.String("keystore", m.keyStore.Name()))
	}

	// Confirm by reading back
	key, ok, err := m.keyStore.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read back: %v", interfaces.ErrKeyStoreWriteFailed, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: key not readable after write", interfaces.ErrKeyStoreWriteFailed)
	}
	return m.keyTaken(key)
}

func (m *Machine) stepKeyTaken(s KeyTaken) State {
	if s.SecsWaited%statusEvery == 0 {
		m.emitStatus(s)
	}
	m.setIndicator(s.SecsWaited%2 == 1)

	s.SecsWaited++
	return s
}

// drawKey fills a 32-byte secret from the random source, redrawing values
// outside the curve order.
func (m *Machine) drawKey() ([interfaces.KeyLength]byte, error) {
	var key [interfaces.KeyLength]byte
	for i := 0; i < maxKeyDraws; i++ {
		if err := m.random.Fill(key[:]); err != nil {
			return key, fmt.Errorf("random source failed: %w", err)
		}
		if cryptoutils.ValidSecret(key) {
			return key, nil
		}
		m.log.Warn("Random draw is not a valid secret, redrawing")
	}
	return key, fmt.Errorf("random source produced no valid secret in %d draws", maxKeyDraws)
}

func (m *Machine) keyTaken(key [interfaces.KeyLength]byte) (State, error) {
	identity, err := cryptoutils.NewDeviceIdentity(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStoredKey, err)
	}
	m.identity = identity

	return KeyTaken{
		PubkeyHex:  identity.PublicKeyHex(),
		AddrHex:    identity.AddressHex(),
		SecsWaited: 0,
	}, nil
}

func (m *Machine) emitStatus(s KeyTaken) {
	line := StatusLine{
		DeviceName: m.DeviceName,
		PubkeyHex:  s.PubkeyHex,
		AddrHex:    s.AddrHex,
	}

	m.log.Info("Device identity",
		slog.String("device_name", line.DeviceName),
		slog.String("pubkey_hex", line.PubkeyHex),
		slog.String("addr_hex", line.AddrHex))

	if m.StatusWriter == nil {
		return
	}
	data, err := json.Marshal(line)
	if err != nil {
		m.log.Error("Failed to encode status line", "err", err)
		return
	}
	if _, err := m.StatusWriter.Write(append(data, '\n')); err != nil {
		m.log.Debug("Failed to write status line", "err", err)
	}
}

func (m *Machine) setIndicator(on bool) {
	if m.indicator == nil {
		return
	}
	if err := m.indicator.Set(on); err != nil {
		m.log.Debug("Failed to set status indicator", "err", err)
	}
}

func (m *Machine) notify(state State) {
	for _, fn := range m.observers {
		fn(state)
	}
}

// run steps from Init until done reports true for the current state, the
// context ends, or a step fails.
func (m *Machine) run(ctx context.Context, done func(State) bool) (State, error) {
	var state State = Init{}
	m.notify(state)

	for {
		if done(state) {
			return state, nil
		}

		next, err := m.Step(ctx, state)
		if err != nil {
			return state, err
		}

		// Init resolves without consuming a tick
		if _, isInit := state.(Init); !isInit {
			if err := m.sleep(ctx); err != nil {
				return state, err
			}
		}

		if next.Phase() != state.Phase() {
			m.log.Debug("Provisioning transition", slog.String("from", state.Phase()), slog.String("to", next.Phase()))
		}
		state = next
		m.notify(state)
	}
}

func (m *Machine) sleep(ctx context.Context) error {
	if m.TickInterval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(m.TickInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run drives the machine forever, emitting the status line and indicator
// once the key is taken. It returns only on a fatal provisioning error or
// when ctx ends.
func (m *Machine) Run(ctx context.Context) error {
	_, err := m.run(ctx, func(State) bool { return false })
	return err
}

// AwaitIdentity drives the machine until a key is taken, emits the status
// line once and returns the resulting identity.
func (m *Machine) AwaitIdentity(ctx context.Context) (*cryptoutils.DeviceIdentity, error) {
	state, err := m.run(ctx, func(s State) bool {
		_, taken := s.(KeyTaken)
		return taken
	})
	if err != nil {
		return nil, err
	}
	m.emitStatus(state.(KeyTaken))
	return m.identity, nil
}
