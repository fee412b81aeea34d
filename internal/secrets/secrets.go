package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
)

// EnvKey is the environment variable holding the credential encryption key.
const EnvKey = "AWSCTL_ENCRYPTION_KEY"

const keyBytes = 32

// Cipher encrypts and decrypts credential secret fields with AES-256-GCM.
// The same plaintext encrypts to different ciphertexts (random nonce), but
// decryption is deterministic: decrypt(encrypt(x)) == x for any x.
type Cipher struct {
	aead cipher.AEAD
}

// New validates the key and builds a Cipher. The key must be the standard
// base64 encoding of exactly 32 bytes; anything else is a configuration
// error the caller should treat as fatal at startup.
func New(key string) (*Cipher, error) {
	if key == "" {
		return nil, fmt.Errorf("%s is required; generate one with: openssl rand -base64 32", EnvKey)
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", EnvKey, err)
	}
	if len(raw) != keyBytes {
		return nil, fmt.Errorf("%s must decode to %d bytes, got %d", EnvKey, keyBytes, len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// FromEnv builds a Cipher from the AWSCTL_ENCRYPTION_KEY environment variable.
func FromEnv() (*Cipher, error) {
	return New(os.Getenv(EnvKey))
}

// Encrypt returns base64(nonce || ciphertext) for the given plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("malformed ciphertext: too short")
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt credential field: %w", err)
	}
	return string(plain), nil
}
