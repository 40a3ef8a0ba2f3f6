package keystore

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dephy-io/dephy-sensor-node/interfaces"
)

// KeyStoreFactory creates key store backends from location URIs.
type KeyStoreFactory struct {
	log *slog.Logger

	// Getenv resolves the environment variables named by URI parameters.
	Getenv func(string) string
}

// NewKeyStoreFactory creates a new factory instance.
func NewKeyStoreFactory(logger *slog.Logger) *KeyStoreFactory {
	return &KeyStoreFactory{
		log:    logger,
		Getenv: os.Getenv,
	}
}

// KeyStoreFor creates a key store backend from a location.
//
// Supported schemes:
//   - memory:// - In-memory fuse simulation, optionally pre-provisioned with ?key=<hex>
//   - file:// - Local key file, sealed when ?passphrase_env names a set variable
//   - vault:// - HashiCorp Vault KV v2, token read from ?token_env (default VAULT_TOKEN)
//   - s3:// - Amazon S3 or compatible object storage
func (f *KeyStoreFactory) KeyStoreFor(loc interfaces.KeyStoreLocation) (interfaces.KeyStore, error) {
	switch loc.Scheme {
	case "memory":
		return f.createMemoryKeyStore(loc)
	case "file":
		return f.createFileKeyStore(loc)
	case "vault":
		return f.createVaultKeyStore(loc)
	case "s3":
		return f.createS3KeyStore(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// KeyStoreForURI parses uri and creates the corresponding key store.
func (f *KeyStoreFactory) KeyStoreForURI(uri string) (interfaces.KeyStore, error) {
	loc, err := interfaces.NewKeyStoreLocation(uri)
	if err != nil {
		return nil, err
	}
	return f.KeyStoreFor(loc)
}

// createMemoryKeyStore creates an in-memory key slot.
// URI format: memory:// or memory://?key=<64 hex chars>
func (f *KeyStoreFactory) createMemoryKeyStore(loc interfaces.KeyStoreLocation) (interfaces.KeyStore, error) {
	keyHex := loc.GetParam("key")
	if keyHex == "" {
		return NewMemoryKeyStore(), nil
	}

	raw, err := hex.DecodeString(keyHex)
	if err != nil || len(raw) != interfaces.KeyLength {
		return nil, fmt.Errorf("%w: memory key must be %d hex bytes", interfaces.ErrInvalidLocationURI, interfaces.KeyLength)
	}
	var key [interfaces.KeyLength]byte
	copy(key[:], raw)
	return NewProvisionedMemoryKeyStore(key), nil
}

// createFileKeyStore creates a key file store.
// URI format: file:///absolute/path/device.key?passphrase_env=VAR or file://./relative/device.key
func (f *KeyStoreFactory) createFileKeyStore(loc interfaces.KeyStoreLocation) (interfaces.KeyStore, error) {
	f.log.Debug("Creating file key store", slog.String("uri", loc.String()))

	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, loc.String())
	}

	var passphrase []byte
	if env := loc.GetParam("passphrase_env"); env != "" {
		value := f.Getenv(env)
		if value == "" {
			return nil, fmt.Errorf("%w: passphrase variable %s is not set", interfaces.ErrInvalidLocationURI, env)
		}
		passphrase = []byte(value)
	}

	return NewFileKeyStore(path, passphrase, f.log)
}

// createVaultKeyStore creates a Vault KV v2 key store.
// URI format: vault://host:port/mount/path/to/secret?token_env=VAULT_TOKEN&tls=true
func (f *KeyStoreFactory) createVaultKeyStore(loc interfaces.KeyStoreLocation) (interfaces.KeyStore, error) {
	f.log.Debug("Creating Vault key store", slog.String("uri", loc.String()))

	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing Vault host", interfaces.ErrInvalidLocationURI)
	}

	mountPath, dataPath, ok := strings.Cut(strings.TrimPrefix(loc.Path, "/"), "/")
	if !ok || mountPath == "" || dataPath == "" {
		return nil, fmt.Errorf("%w: expected vault://host/mount/path", interfaces.ErrInvalidLocationURI)
	}

	scheme := "http"
	if loc.GetParamBool("tls") {
		scheme = "https"
	}

	tokenEnv := loc.GetParam("token_env")
	if tokenEnv == "" {
		tokenEnv = "VAULT_TOKEN"
	}

	return NewVaultKeyStore(fmt.Sprintf("%s://%s", scheme, loc.Host), mountPath, dataPath, f.Getenv(tokenEnv), f.log)
}

// createS3KeyStore creates an S3 key store.
// URI format: s3://bucket/prefix?region=us-east-1&endpoint=http://minio:9000&access_key_env=AK&secret_key_env=SK
func (f *KeyStoreFactory) createS3KeyStore(loc interfaces.KeyStoreLocation) (interfaces.KeyStore, error) {
	f.log.Debug("Creating S3 key store", slog.String("uri", loc.String()))

	region := loc.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if env := loc.GetParam("access_key_env"); env != "" {
		accessKey = f.Getenv(env)
	}
	if env := loc.GetParam("secret_key_env"); env != "" {
		secretKey = f.Getenv(env)
	}

	return NewS3KeyStore(loc.Host, strings.TrimPrefix(loc.Path, "/"), region, loc.GetParam("endpoint"), accessKey, secretKey, f.log)
}
