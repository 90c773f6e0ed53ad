// Package crypto provides the field-level encryption and chain hashing
// primitives used by the audit ledger. Field values are sealed with
// AES-256-GCM into an Envelope that keeps the ciphertext, IV, and
// authentication tag as separate columns, so a failed tag check is an
// independent tamper signal from the ledger's chain hash.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

// gcmTagSize is the length of the GCM authentication tag appended by Seal.
const gcmTagSize = 16

// Envelope is an authenticated-encrypted field value. All three parts are
// required to decrypt; a mismatched Tag fails authentication.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Tag        []byte `json:"tag"`
}

// DecryptionError reports a failed decryption. Tag verification failures are
// security signals, not routine errors, so they get their own type.
type DecryptionError struct {
	Cause error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("field decryption failed: %v", e.Cause)
}

func (e *DecryptionError) Unwrap() error { return e.Cause }

// Cipher performs field-level AES-256-GCM encryption. The key is fixed at
// construction and is never exposed through the API or logs.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte AES-256 key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("field cipher: key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("field cipher: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("field cipher: create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// NewCipherFromHex creates a Cipher from a 64-character hex key string, the
// form the key takes in configuration.
func NewCipherFromHex(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("field cipher: key is not valid hex: %w", err)
	}
	return NewCipher(key)
}

// EncryptField seals plaintext under a fresh random IV. Empty plaintext is
// valid and produces a non-empty tag.
func (c *Cipher) EncryptField(plaintext []byte) (Envelope, error) {
	iv := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Envelope{}, fmt.Errorf("field encrypt: generate iv: %w", err)
	}

	// Seal returns ciphertext with the tag appended; split them so the
	// envelope stores each part explicitly.
	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - gcmTagSize

	env := Envelope{
		Ciphertext: sealed[:split],
		IV:         iv,
		Tag:        sealed[split:],
	}
	return env, nil
}

// DecryptField opens an envelope and returns the plaintext. Any modification
// to the ciphertext, IV, or tag yields a DecryptionError; corrupted input is
// never returned as plaintext.
func (c *Cipher) DecryptField(env Envelope) ([]byte, error) {
	if len(env.IV) != c.aead.NonceSize() {
		return nil, &DecryptionError{Cause: fmt.Errorf("iv must be %d bytes, got %d", c.aead.NonceSize(), len(env.IV))}
	}
	if len(env.Tag) != gcmTagSize {
		return nil, &DecryptionError{Cause: fmt.Errorf("tag must be %d bytes, got %d", gcmTagSize, len(env.Tag))}
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.Tag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)

	plaintext, err := c.aead.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, &DecryptionError{Cause: err}
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// Hash returns the SHA-256 digest used for audit chain linking.
func Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// HashHex returns the chain digest as a lowercase hex string, the form stored
// on audit events.
func HashHex(data []byte) string {
	return hex.EncodeToString(Hash(data))
}

// RandomKey generates a fresh 32-byte key. Used by the server in development
// mode when no key is configured; production refuses to start without one.
func RandomKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}
