package domain

import "context"

// SecretCipher is the password-based engine that seals a single message.
// The secret is either a user password or a key from GenerateKey.
type SecretCipher interface {
	// GenerateKey returns a fresh random key suitable for a URL fragment.
	GenerateKey() string

	// Encrypt derives a key from secret and returns salt|nonce|ciphertext as base64.
	Encrypt(ctx context.Context, plaintext []byte, secret string) (string, error)

	// Decrypt reverses Encrypt. Every failure is ErrDecryption.
	Decrypt(ctx context.Context, blob string, secret string) ([]byte, error)
}

// CryptoService defines the hardened contract for master-key sealing.
// It enforces AEAD (Authenticated Encryption with Associated Data).
type CryptoService interface {
	// Encrypt transforms plaintext into an authenticated ciphertext.
	// 'associatedData' (AAD) links the blob to a specific context.
	Encrypt(ctx context.Context, plaintext []byte, associatedData []byte) (string, error)

	// Decrypt verifies authenticity and returns the original plaintext.
	// If the AAD does not match what was used during encryption, it returns an error.
	Decrypt(ctx context.Context, ciphertextBase64 string, associatedData []byte) ([]byte, error)
}
