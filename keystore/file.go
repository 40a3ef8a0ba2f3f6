package keystore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dephy-io/dephy-sensor-node/interfaces"
)

// FileKeyStore implements a key store on the local file system.
// The key file is created exclusively and made read-only; an existing
// non-empty file is never overwritten.
type FileKeyStore struct {
	path        string
	passphrase  []byte
	log         *slog.Logger
	locationURI string
}

// NewFileKeyStore creates a file key store at path. The parent directory is
// created if it doesn't exist. A non-empty passphrase seals the key at rest.
func NewFileKeyStore(path string, passphrase []byte, log *slog.Logger) (*FileKeyStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty key file path", interfaces.ErrInvalidLocationURI)
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	return &FileKeyStore{
		path:        path,
		passphrase:  passphrase,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", path),
	}, nil
}

// IsProvisioned reports whether a non-empty key file exists.
func (b *FileKeyStore) IsProvisioned(ctx context.Context) (bool, error) {
	info, err := os.Stat(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return info.Size() > 0, nil
}

// Read loads the key, opening the envelope if the store is sealed.
func (b *FileKeyStore) Read(ctx context.Context) ([interfaces.KeyLength]byte, bool, error) {
	var key [interfaces.KeyLength]byte

	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return key, false, nil
	}
	if err != nil {
		return key, false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer zeroBytes(data)

	if len(data) == 0 {
		return key, false, nil
	}

	if len(b.passphrase) > 0 {
		key, err = openKey(data, b.passphrase)
		if err != nil {
			return key, false, err
		}
		return key, true, nil
	}

	if len(data) != interfaces.KeyLength {
		return key, false, fmt.Errorf("key file %s holds %d bytes, expected %d", b.path, len(data), interfaces.KeyLength)
	}
	copy(key[:], data)
	return key, true, nil
}

// Write creates the key file. The write is flushed to disk before it returns.
func (b *FileKeyStore) Write(ctx context.Context, key [interfaces.KeyLength]byte) error {
	provisioned, err := b.IsProvisioned(ctx)
	if err != nil {
		return err
	}
	if provisioned {
		return interfaces.ErrAlreadyProvisioned
	}

	// An empty file is an unburned slot
	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", interfaces.ErrKeyStoreWriteFailed, err)
	}

	data := key[:]
	if len(b.passphrase) > 0 {
		data, err = sealKey(key, b.passphrase)
		if err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrKeyStoreWriteFailed, err)
		}
	}

	f, err := os.OpenFile(b.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0400)
	if errors.Is(err, fs.ErrExist) {
		return interfaces.ErrAlreadyProvisioned
	}
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrKeyStoreWriteFailed, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrKeyStoreWriteFailed, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrKeyStoreWriteFailed, err)
	}

	b.log.Info("Key written to file",
		slog.String("path", b.path),
		slog.Bool("sealed", len(b.passphrase) > 0))

	return nil
}

// Name returns a unique identifier for this key store.
func (b *FileKeyStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.path))
}

// LocationURI returns the URI that identifies this key store.
func (b *FileKeyStore) LocationURI() string {
	return b.locationURI
}
