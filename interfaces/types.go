package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AddressLength is the size of a device address in bytes.
const AddressLength = common.AddressLength

// DIDPrefix is the textual prefix of a device DID ("did:dephy:0x<hex>").
const DIDPrefix = "did:dephy:"

// Address is the 20-byte account-style identifier of a device, derived from
// its secp256k1 public key.
type Address [AddressLength]byte

// ZeroAddress denotes a broadcast (unaddressed) message recipient.
var ZeroAddress Address

// NewAddressFromBytes creates an address from a 20-byte slice.
func NewAddressFromBytes(addr []byte) (Address, error) {
	if len(addr) != AddressLength {
		return Address{}, errors.New("invalid address length: must be 20 bytes")
	}

	var res Address
	copy(res[:], addr)
	return res, nil
}

// NewAddressFromHex parses a 40-character hex string, with or without 0x prefix.
func NewAddressFromHex(addr string) (Address, error) {
	// Remove 0x prefix if present
	clean := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	if len(clean) != 2*AddressLength {
		return Address{}, errors.New("invalid address length: hex string must be 40 characters")
	}

	// Validate hex format
	addrBytes, err := hex.DecodeString(clean)
	if err != nil {
		return Address{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewAddressFromBytes(addrBytes)
}

// AddressFromDID parses a "did:dephy:0x<40 hex>" string.
func AddressFromDID(did string) (Address, error) {
	rest, ok := strings.CutPrefix(did, DIDPrefix+"0x")
	if !ok {
		return Address{}, errors.New("not in DID string format")
	}
	if len(rest) != 2*AddressLength {
		return Address{}, errors.New("invalid length for a DID string")
	}
	return NewAddressFromHex(rest)
}

// ParseAddress accepts either the DID form or the hex form of an address.
func ParseAddress(s string) (Address, error) {
	if strings.HasPrefix(s, DIDPrefix) {
		return AddressFromDID(s)
	}
	return NewAddressFromHex(s)
}

// String returns "0x" followed by the lowercase hex of the address.
func (addr Address) String() string {
	return "0x" + addr.Hex()
}

// Hex returns the bare lowercase hex of the address.
func (addr Address) Hex() string {
	return hex.EncodeToString(addr[:])
}

// DID returns the DID form of the address.
func (addr Address) DID() string {
	return DIDPrefix + addr.String()
}

// Bytes returns the raw 20-byte address.
func (addr Address) Bytes() []byte {
	return addr[:]
}

// IsZero reports whether addr is the broadcast address.
func (addr Address) IsZero() bool {
	return addr == ZeroAddress
}

// Equal compares two addresses for equality.
func (addr Address) Equal(other Address) bool {
	return addr == other
}

// MarshalText encodes the address in its "0x" form.
func (addr Address) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

// UnmarshalText decodes an address in hex or DID form.
func (addr *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*addr = parsed
	return nil
}
