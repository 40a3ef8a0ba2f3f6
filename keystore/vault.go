package keystore

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dephy-io/dephy-sensor-node/interfaces"
	"github.com/hashicorp/vault/api"
)

// vaultKeyField is the field of the KV v2 secret holding the hex-encoded key.
const vaultKeyField = "key"

// VaultKeyStore implements a key store on a HashiCorp Vault KV v2 mount.
// The key is written with check-and-set version 0, which Vault only accepts
// while the secret does not exist.
type VaultKeyStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultKeyStore creates a new Vault key store authenticated with token.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path of the device secret within the mount (e.g. "dephy/node-1")
//   - token: Vault token with create and read capability on the path
//   - log: Structured logger for operational insights
func NewVaultKeyStore(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultKeyStore, error) {
	// Create Vault config
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{
		Timeout: 30 * time.Second,
	}

	// Create Vault client
	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	// Ensure paths are properly formatted
	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")
	if mountPath == "" || dataPath == "" {
		return nil, fmt.Errorf("%w: vault mount and path are required", interfaces.ErrInvalidLocationURI)
	}

	return &VaultKeyStore{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(address, "https://"), "http://"), mountPath, dataPath),
	}, nil
}

// secretPath returns the KV v2 data path of the device secret.
func (b *VaultKeyStore) secretPath() string {
	return fmt.Sprintf("%s/data/%s", b.mountPath, b.dataPath)
}

// readKey fetches the hex key field; an empty string means the slot is unwritten.
func (b *VaultKeyStore) readKey(ctx context.Context) (string, error) {
	path := b.secretPath()

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault", slog.String("path", path), "err", err)
		return "", fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return "", nil
	}

	// KV v2 nests the payload under "data"; a deleted version has null data
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", nil
	}
	keyHex, ok := data[vaultKeyField].(string)
	if !ok {
		return "", fmt.Errorf("key field not found in Vault secret %s", path)
	}
	return keyHex, nil
}

// IsProvisioned reports whether the device secret exists.
func (b *VaultKeyStore) IsProvisioned(ctx context.Context) (bool, error) {
	keyHex, err := b.readKey(ctx)
	if err != nil {
		return false, err
	}
	return keyHex != "", nil
}

// Read returns the stored key.
func (b *VaultKeyStore) Read(ctx context.Context) ([interfaces.KeyLength]byte, bool, error) {
	var key [interfaces.KeyLength]byte

	keyHex, err := b.readKey(ctx)
	if err != nil || keyHex == "" {
		return key, false, err
	}

	raw, err := hex.DecodeString(keyHex)
	if err != nil || len(raw) != interfaces.KeyLength {
		return key, false, fmt.Errorf("malformed key in Vault secret %s", b.secretPath())
	}
	copy(key[:], raw)
	zeroBytes(raw)
	return key, true, nil
}

// Write stores the key with cas=0.
func (b *VaultKeyStore) Write(ctx context.Context, key [interfaces.KeyLength]byte) error {
	start := time.Now()
	path := b.secretPath()

	provisioned, err := b.IsProvisioned(ctx)
	if err != nil {
		return err
	}
	if provisioned {
		return interfaces.ErrAlreadyProvisioned
	}

	secretData := map[string]interface{}{
		"options": map[string]interface{}{
			"cas": 0,
		},
		"data": map[string]interface{}{
			vaultKeyField: hex.EncodeToString(key[:]),
		},
	}

	_, err = b.client.Logical().WriteWithContext(ctx, path, secretData)
	if err != nil {
		if strings.Contains(err.Error(), "check-and-set") {
			return interfaces.ErrAlreadyProvisioned
		}
		b.log.Error("Failed to write to Vault", slog.String("path", path), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrKeyStoreWriteFailed, err)
	}

	b.log.Info("Key written to Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Name returns a unique identifier for this key store.
func (b *VaultKeyStore) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this key store.
func (b *VaultKeyStore) LocationURI() string {
	return b.locationURI
}
