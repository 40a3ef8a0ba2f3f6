package keystore

import (
	"context"
	"sync"

	"github.com/dephy-io/dephy-sensor-node/interfaces"
)

// MemoryKeyStore simulates a one-time programmable fuse block in memory.
// Once written, the slot is read-only for the lifetime of the value.
type MemoryKeyStore struct {
	mu      sync.Mutex
	key     [interfaces.KeyLength]byte
	written bool
	writes  int

	// FailWrites makes every Write fail, simulating a burn failure.
	FailWrites bool
}

// NewMemoryKeyStore returns an unprovisioned in-memory key slot.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{}
}

// NewProvisionedMemoryKeyStore returns a slot already holding key, as if it
// had been burned in a previous boot. The write counter starts at zero.
func NewProvisionedMemoryKeyStore(key [interfaces.KeyLength]byte) *MemoryKeyStore {
	return &MemoryKeyStore{key: key, written: true}
}

// IsProvisioned reports whether the slot has been written.
func (m *MemoryKeyStore) IsProvisioned(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written, nil
}

// Read returns the stored key.
func (m *MemoryKeyStore) Read(ctx context.Context) ([interfaces.KeyLength]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.written {
		return [interfaces.KeyLength]byte{}, false, nil
	}
	return m.key, true, nil
}

// Write burns the key into the slot.
func (m *MemoryKeyStore) Write(ctx context.Context, key [interfaces.KeyLength]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	if m.written {
		return interfaces.ErrAlreadyProvisioned
	}
	if m.FailWrites {
		return interfaces.ErrKeyStoreWriteFailed
	}

	m.key = key
	m.written = true
	return nil
}

// Writes returns the number of Write calls made against this slot,
// including refused ones.
func (m *MemoryKeyStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Name returns a unique identifier for this key store.
func (m *MemoryKeyStore) Name() string {
	return "memory"
}

// LocationURI returns the URI that identifies this key store.
func (m *MemoryKeyStore) LocationURI() string {
	return "memory://"
}
