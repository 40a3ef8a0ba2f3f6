package keystore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dephy-io/dephy-sensor-node/interfaces"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	envelopeKDF     = "argon2id"

	argonTime    = uint32(2)
	argonMemKB   = uint32(64 * 1024)
	argonThreads = uint8(1)
	saltLength   = 16
)

// ErrSealedKey is returned when a sealed key file cannot be opened, either
// because the passphrase is wrong or the envelope is corrupt.
var ErrSealedKey = errors.New("cannot open sealed key")

// sealedKey is the on-disk JSON envelope of a passphrase-protected key.
type sealedKey struct {
	Version     int    `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// sealKey encrypts key under a key derived from passphrase.
func sealKey(key [interfaces.KeyLength]byte, passphrase []byte) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to draw salt: %w", err)
	}

	aeadKey := argon2.IDKey(passphrase, salt, argonTime, argonMemKB, argonThreads, chacha20poly1305.KeySize)
	defer zeroBytes(aeadKey)

	aead, err := chacha20poly1305.NewX(aeadKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to draw nonce: %w", err)
	}

	return json.Marshal(&sealedKey{
		Version:     envelopeVersion,
		KDF:         envelopeKDF,
		KDFTime:     argonTime,
		KDFMemoryKB: argonMemKB,
		KDFThreads:  argonThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, key[:], nil),
	})
}

// openKey reverses sealKey.
func openKey(data []byte, passphrase []byte) ([interfaces.KeyLength]byte, error) {
	var key [interfaces.KeyLength]byte

	var env sealedKey
	if err := json.Unmarshal(data, &env); err != nil {
		return key, fmt.Errorf("%w: %v", ErrSealedKey, err)
	}
	if env.Version != envelopeVersion {
		return key, fmt.Errorf("%w: unsupported envelope version %d", ErrSealedKey, env.Version)
	}
	if env.KDF != envelopeKDF {
		return key, fmt.Errorf("%w: unsupported kdf %q", ErrSealedKey, env.KDF)
	}
	if env.KDFTime != argonTime || env.KDFMemoryKB != argonMemKB || env.KDFThreads != argonThreads {
		return key, fmt.Errorf("%w: unsupported kdf parameters t=%d m=%d p=%d", ErrSealedKey, env.KDFTime, env.KDFMemoryKB, env.KDFThreads)
	}
	if len(env.Salt) != saltLength {
		return key, fmt.Errorf("%w: bad salt length", ErrSealedKey)
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return key, fmt.Errorf("%w: bad nonce length", ErrSealedKey)
	}

	aeadKey := argon2.IDKey(passphrase, env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads, chacha20poly1305.KeySize)
	defer zeroBytes(aeadKey)

	aead, err := chacha20poly1305.NewX(aeadKey)
	if err != nil {
		return key, err
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrSealedKey, err)
	}
	defer zeroBytes(plaintext)

	if len(plaintext) != interfaces.KeyLength {
		return key, fmt.Errorf("%w: key is %d bytes", ErrSealedKey, len(plaintext))
	}
	copy(key[:], plaintext)
	return key, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
