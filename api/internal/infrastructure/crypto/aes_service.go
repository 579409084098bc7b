package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

var _ domain.CryptoService = (*AESCryptoService)(nil)

// AESCryptoService seals blobs at rest under the server master key.
// It never sees user keys or passwords; it only wraps what is already encrypted.
type AESCryptoService struct {
	// 🛡️ Optimized: Pre-calculate the AEAD interface to reduce allocations
	aead cipher.AEAD
}

func NewAESCryptoService(hexKey string) (*AESCryptoService, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid key encoding: %w", err)
	}

	// 🛡️ Privacy Tip: Manually zeroize the temporary key slice after use
	defer zeroize(key)

	if len(key) != KeySize {
		return nil, errors.New("crypto: key must be 32 bytes for AES-256")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: block cipher failure: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: GCM failure: %w", err)
	}

	return &AESCryptoService{aead: aesGCM}, nil
}

func (s *AESCryptoService) Encrypt(ctx context.Context, plaintext []byte, associatedData []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: nonce generation: %v", domain.ErrEncryption, err)
	}

	// Output layout: nonce || ciphertext || tag
	ciphertext := s.aead.Seal(nonce, nonce, plaintext, associatedData)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func (s *AESCryptoService) Decrypt(ctx context.Context, ciphertextBase64 string, associatedData []byte) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", domain.ErrDecryption, err)
	}

	ns := s.aead.NonceSize()
	if len(data) < ns+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: sealed blob too short", domain.ErrDecryption)
	}

	nonce, actualCiphertext := data[:ns], data[ns:]

	// 🛡️ AEAD Verification
	// If the associated data changed (e.g. a flipped password flag), this WILL fail.
	plaintext, err := s.aead.Open(nil, nonce, actualCiphertext, associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: integrity check failed", domain.ErrDecryption)
	}

	return plaintext, nil
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
