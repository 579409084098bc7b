package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

// Blob layout is a fixed binary contract shared by every encrypt/decrypt pair:
//
//	salt (16) || nonce (12) || ciphertext || tag (16)
//
// There are no length prefixes; both offsets are constants.
const (
	SaltSize          = 16
	NonceSize         = 12
	KeySize           = 32
	TagSize           = 16
	GeneratedKeyBytes = 16
	DefaultIterations = 100_000
)

var _ domain.SecretCipher = (*SecretCipher)(nil)

// SecretCipher is the password-based engine: PBKDF2-HMAC-SHA256 into AES-256-GCM.
type SecretCipher struct {
	iterations int
}

// NewSecretCipher builds an engine. Iterations below DefaultIterations are rejected.
func NewSecretCipher(iterations int) (*SecretCipher, error) {
	if iterations == 0 {
		iterations = DefaultIterations
	}
	if iterations < DefaultIterations {
		return nil, fmt.Errorf("crypto: pbkdf2 iterations must be at least %d, got %d", DefaultIterations, iterations)
	}
	return &SecretCipher{iterations: iterations}, nil
}

// Iterations returns the configured PBKDF2 work factor.
func (c *SecretCipher) Iterations() int { return c.iterations }

func (c *SecretCipher) GenerateKey() string { return GenerateKey() }

// GenerateKey returns 128 random bits as 32 lowercase hex characters.
// A broken random source is unrecoverable, so it panics.
func GenerateKey() string {
	b := make([]byte, GeneratedKeyBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(fmt.Sprintf("crypto: random source unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}

func (c *SecretCipher) Encrypt(ctx context.Context, plaintext []byte, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: empty secret", domain.ErrEncryption)
	}

	// 1. Fresh salt per message
	out := make([]byte, SaltSize+NonceSize, SaltSize+NonceSize+len(plaintext)+TagSize)
	salt, nonce := out[:SaltSize], out[SaltSize:SaltSize+NonceSize]
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("%w: salt generation: %v", domain.ErrEncryption, err)
	}

	// 2. Fresh nonce per message
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: nonce generation: %v", domain.ErrEncryption, err)
	}

	aead, err := c.newAEAD(secret, salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEncryption, err)
	}

	// 3. Seal directly behind salt||nonce
	out = aead.Seal(out, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *SecretCipher) Decrypt(ctx context.Context, blob string, secret string) ([]byte, error) {
	data, ok := decodeBlob(blob)
	if !ok || secret == "" || len(data) < SaltSize+NonceSize+TagSize {
		return nil, domain.ErrDecryption
	}

	salt := data[:SaltSize]
	nonce := data[SaltSize : SaltSize+NonceSize]
	sealed := data[SaltSize+NonceSize:]

	aead, err := c.newAEAD(secret, salt)
	if err != nil {
		return nil, domain.ErrDecryption
	}

	// 🛡️ Wrong key and corrupted blob fail identically
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, domain.ErrDecryption
	}
	return plaintext, nil
}

func (c *SecretCipher) newAEAD(secret string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(secret), salt, c.iterations, KeySize, sha256.New)
	defer zeroize(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("block cipher failure: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, NonceSize)
}

// decodeBlob accepts the standard encoding produced by Encrypt as well as the
// URL-safe alphabet some clients use.
func decodeBlob(blob string) ([]byte, bool) {
	if data, err := base64.StdEncoding.DecodeString(blob); err == nil {
		return data, true
	}
	if data, err := base64.URLEncoding.DecodeString(blob); err == nil {
		return data, true
	}
	return nil, false
}
