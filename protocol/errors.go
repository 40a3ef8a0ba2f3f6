package protocol

import "errors"

// Verification failures. Each one is terminal for the message and the
// message is discarded.
var (
	// ErrEmpty is returned for empty input.
	ErrEmpty = errors.New("message should not be empty")

	// ErrDecode is returned when the envelope or the raw message cannot be decoded.
	ErrDecode = errors.New("message decoding failed")

	// ErrHashMismatch is returned when the commitment does not match raw and nonce.
	ErrHashMismatch = errors.New("hash verification failed")

	// ErrNonceMismatch is returned when the outer nonce differs from the raw timestamp.
	ErrNonceMismatch = errors.New("message timestamp check failed")

	// ErrBadSignatureLength is returned when the signature is not 65 bytes.
	ErrBadSignatureLength = errors.New("bad signature length")

	// ErrRecoveryFailed is returned when no public key can be recovered from the signature.
	ErrRecoveryFailed = errors.New("signer recovery failed")

	// ErrSignerMismatch is returned when the recovered signer is not the claimed sender.
	ErrSignerMismatch = errors.New("signature check failed")
)

// IsIntegrityError reports whether err means the message is malformed or tampered.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrEmpty) ||
		errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrHashMismatch) ||
		errors.Is(err, ErrNonceMismatch) ||
		errors.Is(err, ErrBadSignatureLength)
}

// IsAuthenticationError reports whether err means the signature does not bind
// to the claimed sender.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrRecoveryFailed) || errors.Is(err, ErrSignerMismatch)
}

// ErrorClass returns a short label for a verification error, used for
// metrics and API responses.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmpty):
		return "empty"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrHashMismatch):
		return "hash_mismatch"
	case errors.Is(err, ErrNonceMismatch):
		return "nonce_mismatch"
	case errors.Is(err, ErrBadSignatureLength):
		return "bad_signature_length"
	case errors.Is(err, ErrRecoveryFailed):
		return "recovery_failed"
	case errors.Is(err, ErrSignerMismatch):
		return "signer_mismatch"
	default:
		return "unknown"
	}
}
