package protocol

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dephy-io/dephy-sensor-node/cryptoutils"
	"github.com/dephy-io/dephy-sensor-node/interfaces"
	"github.com/dephy-io/dephy-sensor-node/message"
)

// Commitment computes the integrity hash Keccak256(raw || decimal(nonce)).
// Binding the ASCII timestamp into the hash defeats replay with a
// substituted timestamp unless raw changes too.
func Commitment(raw []byte, nonce uint64) [cryptoutils.DigestLength]byte {
	return cryptoutils.NewHashChain().
		Update(raw, []byte(strconv.FormatUint(nonce, 10))).
		Finalize()
}

// SigningDigest is the value actually signed: a second Keccak-256 pass over
// the commitment, not over the raw bytes.
func SigningDigest(hash []byte) [cryptoutils.DigestLength]byte {
	return cryptoutils.Keccak256(hash)
}

// Create builds a SignedMessage stamped with the current time.
// A nil to addresses the message to the broadcast (zero) address.
func Create(id *cryptoutils.DeviceIdentity, payload []byte, to *interfaces.Address) (*message.SignedMessage, error) {
	return CreateAt(id, payload, to, uint64(time.Now().Unix()))
}

// CreateAt builds a SignedMessage for the given unix timestamp. It is
// deterministic: identical inputs always produce identical output.
func CreateAt(id *cryptoutils.DeviceIdentity, payload []byte, to *interfaces.Address, timestamp uint64) (*message.SignedMessage, error) {
	toAddress := interfaces.ZeroAddress
	if to != nil {
		toAddress = *to
	}
	from := id.Address()

	raw := &message.RawMessage{
		Timestamp:   timestamp,
		FromAddress: from.Bytes(),
		ToAddress:   toAddress.Bytes(),
		Encrypted:   false,
		Payload:     payload,
	}
	rawBytes := raw.Marshal()

	// A single chain serves both passes: the commitment, then the digest over it.
	chain := cryptoutils.NewHashChain()
	hash := chain.Update(rawBytes, []byte(strconv.FormatUint(timestamp, 10))).FinalizeReset()
	digest := chain.Update(hash[:]).Finalize()

	signature, err := id.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("could not sign message: %w", err)
	}

	return &message.SignedMessage{
		Raw:       rawBytes,
		Hash:      hash[:],
		Nonce:     timestamp,
		Signature: signature,
	}, nil
}

// Verify validates a SignedMessage and authenticates its sender. On success
// it returns a copy of the message and the decoded RawMessage.
func Verify(msg *message.SignedMessage) (*message.SignedMessage, *message.RawMessage, error) {
	return DefaultVerifier.Verify(msg)
}

// VerifyBytes decodes a wire-encoded SignedMessage and verifies it.
func VerifyBytes(data []byte) (*message.SignedMessage, *message.RawMessage, error) {
	return DefaultVerifier.VerifyBytes(data)
}

// Verifier verifies signed messages, logging details at debug level.
type Verifier struct {
	log *slog.Logger
}

// DefaultVerifier verifies without logging.
var DefaultVerifier = NewVerifier(nil)

// NewVerifier creates a verifier. A nil logger disables logging.
func NewVerifier(log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Verifier{log: log}
}

// VerifyBytes decodes a wire-encoded SignedMessage and verifies it.
func (v *Verifier) VerifyBytes(data []byte) (*message.SignedMessage, *message.RawMessage, error) {
	if len(data) == 0 {
		return nil, nil, ErrEmpty
	}
	msg, err := message.UnmarshalSignedMessage(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v.Verify(msg)
}

// Verify validates a SignedMessage: the commitment, the nonce binding, and
// that the signature recovers to the claimed sender address.
func (v *Verifier) Verify(msg *message.SignedMessage) (*message.SignedMessage, *message.RawMessage, error) {
	if msg == nil || len(msg.Raw) == 0 {
		return nil, nil, ErrEmpty
	}

	// Integrity: decoupled from identity
	currHash := Commitment(msg.Raw, msg.Nonce)
	if !bytes.Equal(currHash[:], msg.Hash) {
		return nil, nil, fmt.Errorf("%w: expected=0x%x current=0x%x", ErrHashMismatch, msg.Hash, currHash)
	}
	v.log.Debug("Raw message hash", "hash", "0x"+hex.EncodeToString(msg.Hash))

	rawMsg, err := message.UnmarshalRawMessage(msg.Raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if msg.Nonce != rawMsg.Timestamp {
		return nil, nil, fmt.Errorf("%w: outer=%d inner=%d", ErrNonceMismatch, msg.Nonce, rawMsg.Timestamp)
	}

	if len(msg.Signature) != cryptoutils.SignatureLength {
		return nil, nil, fmt.Errorf("%w: %d", ErrBadSignatureLength, len(msg.Signature))
	}
	v.log.Debug("Signature",
		"r", "0x"+hex.EncodeToString(msg.Signature[0:32]),
		"s", "0x"+hex.EncodeToString(msg.Signature[32:64]),
		"v", "0x"+hex.EncodeToString(msg.Signature[64:]),
		"signer", "0x"+hex.EncodeToString(rawMsg.FromAddress))

	// Authentication
	digest := SigningDigest(msg.Hash)
	pub, err := cryptoutils.RecoverPublicKey(digest, msg.Signature)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	recovered := cryptoutils.AddressFromPublicKey(pub)
	if !bytes.Equal(recovered[:], rawMsg.FromAddress) {
		return nil, nil, fmt.Errorf("%w: expected_signer=0x%x actual_signer=%s", ErrSignerMismatch, rawMsg.FromAddress, recovered)
	}

	lastEdge := "None"
	if msg.LastEdgeAddr != nil {
		lastEdge = "0x" + hex.EncodeToString(msg.LastEdgeAddr)
	}
	v.log.Debug("Message verified", "signer", recovered.String(), "lastEdge", lastEdge)

	return msg.Clone(), rawMsg, nil
}
