package cryptoutils

import (
	"hash"

	"golang.org/x/crypto/sha3"
)

// DigestLength is the size of a Keccak-256 digest.
const DigestLength = 32

// HashChain wraps an incremental Keccak-256 sponge.
//
// It supports two ways of finishing: FinalizeReset returns the digest and
// leaves the chain empty and reusable, Finalize returns the digest and
// consumes the chain. Updating a consumed chain panics.
type HashChain struct {
	h hash.Hash
}

// NewHashChain returns an empty Keccak-256 chain.
func NewHashChain() *HashChain {
	return &HashChain{h: sha3.NewLegacyKeccak256()}
}

// Update absorbs each chunk in order.
func (c *HashChain) Update(chunks ...[]byte) *HashChain {
	if c.h == nil {
		panic("hashchain: update after finalize")
	}
	for _, chunk := range chunks {
		// hash.Hash.Write never returns an error
		c.h.Write(chunk)
	}
	return c
}

// FinalizeReset returns the digest of everything absorbed so far and resets
// the sponge so the chain can be reused.
func (c *HashChain) FinalizeReset() [DigestLength]byte {
	if c.h == nil {
		panic("hashchain: finalize after finalize")
	}
	var out [DigestLength]byte
	c.h.Sum(out[:0])
	c.h.Reset()
	return out
}

// Finalize returns the digest and consumes the chain.
func (c *HashChain) Finalize() [DigestLength]byte {
	out := c.FinalizeReset()
	c.h = nil
	return out
}

// Keccak256 hashes the concatenation of chunks.
func Keccak256(chunks ...[]byte) [DigestLength]byte {
	return NewHashChain().Update(chunks...).Finalize()
}
