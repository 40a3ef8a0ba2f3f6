package cryptoutils

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/dephy-io/dephy-sensor-node/interfaces"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a recoverable signature: r (32) || s (32) || recovery id (1).
const SignatureLength = crypto.SignatureLength

var (
	// ErrInvalidSecret is returned when 32 bytes do not form a valid secp256k1 scalar.
	ErrInvalidSecret = errors.New("invalid secp256k1 secret")

	// ErrInvalidSignature is returned when a public key cannot be recovered.
	ErrInvalidSignature = errors.New("invalid recoverable signature")
)

// DeviceIdentity owns the device secret scalar and its derived public key
// and address. It is immutable after construction and may be shared freely.
//
// The secret is never serialized or logged: String and LogValue expose the
// address only.
type DeviceIdentity struct {
	secret    *ecdsa.PrivateKey
	publicKey *ecdsa.PublicKey
	address   interfaces.Address
}

// NewDeviceIdentity builds an identity from the 32-byte secret scalar.
func NewDeviceIdentity(secret [interfaces.KeyLength]byte) (*DeviceIdentity, error) {
	priv, err := crypto.ToECDSA(secret[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	return &DeviceIdentity{
		secret:    priv,
		publicKey: &priv.PublicKey,
		address:   AddressFromPublicKey(&priv.PublicKey),
	}, nil
}

// ValidSecret reports whether secret is usable as a device key.
func ValidSecret(secret [interfaces.KeyLength]byte) bool {
	_, err := crypto.ToECDSA(secret[:])
	return err == nil
}

// Address returns the 20-byte device address.
func (id *DeviceIdentity) Address() interfaces.Address {
	return id.address
}

// AddressHex returns the address as "0x" followed by lowercase hex.
func (id *DeviceIdentity) AddressHex() string {
	return id.address.String()
}

// PublicKey returns the device public key.
func (id *DeviceIdentity) PublicKey() *ecdsa.PublicKey {
	return id.publicKey
}

// PublicKeyHex returns the bare lowercase hex of the SEC1 compressed public key.
func (id *DeviceIdentity) PublicKeyHex() string {
	return hex.EncodeToString(crypto.CompressPubkey(id.publicKey))
}

// Sign produces a recoverable signature over a 32-byte digest.
// Nonces are derived deterministically (RFC6979) and s is normalised to the
// lower half of the curve order.
func (id *DeviceIdentity) Sign(digest [DigestLength]byte) ([]byte, error) {
	return crypto.Sign(digest[:], id.secret)
}

// String implements fmt.Stringer without revealing the secret.
func (id *DeviceIdentity) String() string {
	return "DeviceIdentity(" + id.address.String() + ")"
}

// LogValue implements slog.LogValuer without revealing the secret.
func (id *DeviceIdentity) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("address", id.address.String()),
		slog.String("pubkey", id.PublicKeyHex()),
	)
}

// AddressFromPublicKey derives the address: the last 20 bytes of the
// Keccak-256 of the uncompressed public key without its format byte.
func AddressFromPublicKey(pub *ecdsa.PublicKey) interfaces.Address {
	uncompressed := crypto.FromECDSAPub(pub)
	digest := Keccak256(uncompressed[1:])

	var addr interfaces.Address
	copy(addr[:], digest[DigestLength-interfaces.AddressLength:])
	return addr
}

// RecoverPublicKey recovers the signer public key from a digest and a
// 65-byte recoverable signature.
func RecoverPublicKey(digest [DigestLength]byte, sig []byte) (*ecdsa.PublicKey, error) {
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	if sig[SignatureLength-1] > 3 {
		return nil, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[SignatureLength-1])
	}
	// Malleated (high-S) signatures are rejected
	r, sv := new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[SignatureLength-1], r, sv, true) {
		return nil, fmt.Errorf("%w: signature values out of range", ErrInvalidSignature)
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return pub, nil
}

// RecoverAddress recovers the signer address from a digest and signature.
func RecoverAddress(digest [DigestLength]byte, sig []byte) (interfaces.Address, error) {
	pub, err := RecoverPublicKey(digest, sig)
	if err != nil {
		return interfaces.Address{}, err
	}
	return AddressFromPublicKey(pub), nil
}
