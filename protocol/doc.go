// Package protocol implements the signed-message protocol: building a
// SignedMessage from a payload and a DeviceIdentity, and validating a
// received one.
//
// Creation:
//
//	raw    = encode(RawMessage{timestamp, from, to, encrypted=false, payload})
//	hash   = Keccak256(raw || decimal(timestamp))
//	digest = Keccak256(hash)
//	sig    = r || s || v = SignRecoverable(secret, digest)
//	msg    = SignedMessage{raw, hash, nonce: timestamp, sig}
//
// Verification re-derives hash from raw and nonce, checks nonce against the
// decoded timestamp, recovers the signer from digest and signature, and
// accepts the message only if the recovered address equals from_address.
// Every failure is terminal for the message; see the Err* values.
package protocol
