package message

import (
	"bytes"
)

// RawMessage is the signed payload envelope.
type RawMessage struct {
	// Timestamp is the creation time in unix seconds.
	Timestamp uint64
	// FromAddress is the sender device address (20 bytes).
	FromAddress []byte
	// ToAddress is the recipient address; all zero denotes broadcast.
	ToAddress []byte
	// Encrypted is reserved; the node always sends false.
	Encrypted bool
	// Payload is the opaque application payload, e.g. "<name>,<temperature>".
	Payload []byte
	// Iv is reserved. nil means absent.
	Iv []byte
	// W3b is reserved. nil means absent.
	W3b []byte
}

// SignedMessage is the wire envelope carrying an encoded RawMessage.
type SignedMessage struct {
	// Raw holds the exact encoded bytes of a RawMessage.
	Raw []byte
	// Hash is the 32-byte integrity commitment over Raw and Nonce.
	Hash []byte
	// Nonce repeats the RawMessage timestamp.
	Nonce uint64
	// Signature is r || s || recovery id (65 bytes).
	Signature []byte
	// LastEdgeAddr is set by relays only. nil means absent.
	LastEdgeAddr []byte
}

// Clone returns a deep copy of m.
func (m *RawMessage) Clone() *RawMessage {
	return &RawMessage{
		Timestamp:   m.Timestamp,
		FromAddress: cloneBytes(m.FromAddress),
		ToAddress:   cloneBytes(m.ToAddress),
		Encrypted:   m.Encrypted,
		Payload:     cloneBytes(m.Payload),
		Iv:          cloneBytes(m.Iv),
		W3b:         cloneBytes(m.W3b),
	}
}

// Equal reports whether two raw messages encode to the same bytes.
func (m *RawMessage) Equal(other *RawMessage) bool {
	return bytes.Equal(m.Marshal(), other.Marshal())
}

// Clone returns a deep copy of m.
func (m *SignedMessage) Clone() *SignedMessage {
	return &SignedMessage{
		Raw:          cloneBytes(m.Raw),
		Hash:         cloneBytes(m.Hash),
		Nonce:        m.Nonce,
		Signature:    cloneBytes(m.Signature),
		LastEdgeAddr: cloneBytes(m.LastEdgeAddr),
	}
}

// cloneBytes copies b, keeping the nil / empty distinction.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
