// Package cryptoutils provides the cryptographic primitives of the device
// trust model.
//
// # HashChain
//
// HashChain wraps an incremental Keccak-256 sponge with two finalize modes:
// FinalizeReset (digest, then reusable) and Finalize (digest, chain consumed).
// It backs both address derivation and the signed-message commitment scheme.
//
// # DeviceIdentity
//
// DeviceIdentity owns the 32-byte secp256k1 secret, the derived public key and
// the derived 20-byte address:
//
//	address = Keccak256(uncompressed_pubkey[1:])[12:32]
//
// Signatures are recoverable ECDSA over secp256k1 in the 65-byte layout
// r || s || recovery_id, so verifiers recover the signer without receiving
// the public key.
package cryptoutils
