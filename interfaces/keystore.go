package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// KeyLength is the size of the device secret scalar held by a KeyStore.
const KeyLength = 32

var (
	// ErrAlreadyProvisioned is returned by KeyStore.Write when the one-time
	// slot has already been written. Writing twice is a programming error.
	ErrAlreadyProvisioned = errors.New("key slot already provisioned")

	// ErrKeyStoreWriteFailed marks a failed one-time write. It is fatal to the
	// process and must never be retried.
	ErrKeyStoreWriteFailed = errors.New("key store write failed")

	// ErrBackendUnavailable is returned when a key store backend cannot be reached.
	ErrBackendUnavailable = errors.New("key store backend unavailable")

	// ErrInvalidLocationURI is returned when a key store location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid key store location URI")
)

// KeyStore abstracts the write-once secure storage slot anchoring the device key.
// It carries no logic beyond persistence.
type KeyStore interface {
	// IsProvisioned reports whether the slot has been written. Side-effect free.
	IsProvisioned(ctx context.Context) (bool, error)

	// Read returns the stored key. ok is false when the slot is unwritten or empty.
	Read(ctx context.Context) (key [KeyLength]byte, ok bool, err error)

	// Write stores the key and write-protects the slot. It may be called at most
	// once per device lifetime; a second call returns ErrAlreadyProvisioned.
	Write(ctx context.Context, key [KeyLength]byte) error

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this key store.
	LocationURI() string
}

// KeyStoreLocation represents URI for a key store backend.
type KeyStoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewKeyStoreLocation creates a new key store location from a URI string with validation.
func NewKeyStoreLocation(uri string) (KeyStoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return KeyStoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	// Validate scheme is supported
	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "memory", "file", "s3", "vault":
	default:
		return KeyStoreLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	// Parse authentication info if present
	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return KeyStoreLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc KeyStoreLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc KeyStoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc KeyStoreLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}
