package provisioning

import "fmt"

// State is one value of the provisioning sum type. The set of
// implementations is closed: Init, WaitingForEntropy, ShouldGenerateKey
// and KeyTaken.
type State interface {
	// Phase returns a stable label for logs and metrics.
	Phase() string
	isState()
}

// Init is the state at process start, before the key slot has been read.
type Init struct{}

// WaitingForEntropy counts the seconds waited for the random source to
// accumulate entropy before a key may be drawn.
type WaitingForEntropy struct {
	SecsWaited int
}

// ShouldGenerateKey is entered once the entropy window has elapsed.
type ShouldGenerateKey struct{}

// KeyTaken is terminal: a key exists and the device identity is known.
type KeyTaken struct {
	PubkeyHex  string
	AddrHex    string
	SecsWaited int
}

func (Init) Phase() string              { return "init" }
func (WaitingForEntropy) Phase() string { return "waiting_for_entropy" }
func (ShouldGenerateKey) Phase() string { return "should_generate_key" }
func (KeyTaken) Phase() string          { return "key_taken" }

func (Init) isState()              {}
func (WaitingForEntropy) isState() {}
func (ShouldGenerateKey) isState() {}
func (KeyTaken) isState()          {}

func (s WaitingForEntropy) String() string {
	return fmt.Sprintf("WaitingForEntropy{%d}", s.SecsWaited)
}

func (s KeyTaken) String() string {
	return fmt.Sprintf("KeyTaken{%s %d}", s.AddrHex, s.SecsWaited)
}

// Phases lists every phase label in transition order.
var Phases = []string{
	Init{}.Phase(),
	WaitingForEntropy{}.Phase(),
	ShouldGenerateKey{}.Phase(),
	KeyTaken{}.Phase(),
}
