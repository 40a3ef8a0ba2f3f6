package metrics

import (
	"context"

	"github.com/dephy-io/dephy-sensor-node/interfaces"
)

// instrumentedKeyStore counts writes on a wrapped key store.
type instrumentedKeyStore struct {
	interfaces.KeyStore
	m *Metrics
}

// InstrumentKeyStore wraps ks so every Write is counted.
func InstrumentKeyStore(ks interfaces.KeyStore, m *Metrics) interfaces.KeyStore {
	return &instrumentedKeyStore{KeyStore: ks, m: m}
}

func (k *instrumentedKeyStore) Write(ctx context.Context, key [interfaces.KeyLength]byte) error {
	err := k.KeyStore.Write(ctx, key)
	k.m.ObserveKeyStoreWrite(err)
	return err
}
