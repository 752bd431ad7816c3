package certificates

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// MinSecretLength is the minimum master secret size in bytes.
const MinSecretLength = 32

const (
	nonceSize = 12
	tagSize   = 16
)

// Envelope is an AES-256-GCM sealed value. Each part is base64 encoded, which
// is how the columns encrypted_private_key, private_key_iv and private_key_tag
// store it.
type Envelope struct {
	Ciphertext string
	IV         string
	Tag        string
}

// Sealer encrypts private keys under a key derived from the master secret.
type Sealer struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewSealer derives the AES-256 key as SHA-256(secret).
func NewSealer(secret string) (*Sealer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrConfiguration
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("certificates: cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("certificates: gcm: %w", err)
	}
	return &Sealer{aead: aead, rand: rand.Reader}, nil
}

// Seal encrypts plaintext with a fresh random IV.
func (s *Sealer) Seal(plaintext []byte) (Envelope, error) {
	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(s.rand, iv); err != nil {
		return Envelope{}, fmt.Errorf("certificates: iv: %w", err)
	}
	sealed := s.aead.Seal(nil, iv, plaintext, nil)
	body, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(body),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Open decrypts env. Any malformed part or failed tag check yields
// ErrDecryption and no plaintext.
func (s *Sealer) Open(env Envelope) ([]byte, error) {
	body, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, ErrDecryption
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != nonceSize {
		return nil, ErrDecryption
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil || len(tag) != tagSize {
		return nil, ErrDecryption
	}
	sealed := make([]byte, 0, len(body)+len(tag))
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)
	plain, err := s.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plain, nil
}
