package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// keySize is the derived AES key size (AES-256).
	keySize = 32

	// keyInfo provides HKDF domain separation for payload encryption.
	keyInfo = "topicbus-payload-v1"
)

var (
	// ErrInvalidKey is returned when the encryption secret is empty.
	ErrInvalidKey = errors.New("invalid encryption key")

	// ErrEncryptionFailed wraps failures while sealing a payload.
	ErrEncryptionFailed = errors.New("encryption failed")

	// ErrDecryptionFailed wraps failures while opening a payload.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidCiphertext is returned when ciphertext is too short to
	// carry a nonce or fails authentication.
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
)

// Encryptor applies AES-256-GCM to serialized payloads. The AES key is
// derived from the configured secret with HKDF-SHA256, so the secret may
// be any non-empty byte string. Ciphertexts are nonce-prefixed.
// Safe for concurrent use.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives a key from secret and prepares the AEAD.
func NewEncryptor(secret []byte) (*Encryptor, error) {
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}

	return &Encryptor{aead: aead}, nil
}

// Encrypt seals data and returns nonce + ciphertext + tag.
func (e *Encryptor) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}
	return e.aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens a nonce-prefixed ciphertext produced by Encrypt.
func (e *Encryptor) Decrypt(data []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// EncryptPayload is a one-shot convenience around NewEncryptor+Encrypt.
func EncryptPayload(data, secret []byte) ([]byte, error) {
	e, err := NewEncryptor(secret)
	if err != nil {
		return nil, err
	}
	return e.Encrypt(data)
}

// DecryptPayload is a one-shot convenience around NewEncryptor+Decrypt.
func DecryptPayload(data, secret []byte) ([]byte, error) {
	e, err := NewEncryptor(secret)
	if err != nil {
		return nil, err
	}
	return e.Decrypt(data)
}

// deriveKey stretches the secret into an AES-256 key with HKDF-SHA256.
func deriveKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidKey
	}

	reader := hkdf.New(sha256.New, secret, nil, []byte(keyInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}
	return key, nil
}
