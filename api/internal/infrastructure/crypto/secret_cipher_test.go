package crypto_test

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"

	"github.com/irgordon/whisper/api/internal/core/domain"
	"github.com/irgordon/whisper/api/internal/infrastructure/crypto"
)

func newCipher(t *testing.T) *crypto.SecretCipher {
	t.Helper()
	c, err := crypto.NewSecretCipher(crypto.DefaultIterations)
	require.NoError(t, err)
	return c
}

// ==============================================================================
// 1. Key Generation
// ==============================================================================

func TestGenerateKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		key := crypto.GenerateKey()
		require.Len(t, key, 32)
		_, err := hex.DecodeString(key)
		require.NoError(t, err)
		assert.Equal(t, strings.ToLower(key), key)
		assert.False(t, seen[key], "duplicate generated key")
		seen[key] = true
	}
}

func TestNewSecretCipher_Iterations(t *testing.T) {
	_, err := crypto.NewSecretCipher(10_000)
	assert.Error(t, err)

	c, err := crypto.NewSecretCipher(0)
	require.NoError(t, err)
	assert.Equal(t, crypto.DefaultIterations, c.Iterations())
}

// ==============================================================================
// 2. Round Trip & Layout
// ==============================================================================

func TestSecretCipher_RoundTrip(t *testing.T) {
	c := newCipher(t)
	ctx := context.Background()

	messages := []string{
		"hello",
		"",
		"ünïcødé ✓ 秘密",
		strings.Repeat("x", domain.MaxMessageLength),
	}
	secrets := []string{crypto.GenerateKey(), "p@ss"}

	for _, m := range messages {
		for _, k := range secrets {
			blob, err := c.Encrypt(ctx, []byte(m), k)
			require.NoError(t, err)

			got, err := c.Decrypt(ctx, blob, k)
			require.NoError(t, err)
			assert.Equal(t, m, string(got))
		}
	}
}

func TestSecretCipher_BlobLayout(t *testing.T) {
	c := newCipher(t)
	plaintext := []byte("layout check")

	blob, err := c.Encrypt(context.Background(), plaintext, "secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	assert.Len(t, raw, crypto.SaltSize+crypto.NonceSize+len(plaintext)+crypto.TagSize)

	// Re-open the blob by hand using only the documented offsets and KDF parameters.
	salt, nonce, sealed := raw[:16], raw[16:28], raw[28:]
	key := pbkdf2.Key([]byte("secret"), salt, 100_000, 32, sha256.New)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	opened, err := gcm.Open(nil, nonce, sealed, nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSecretCipher_DecryptsForeignBlob(t *testing.T) {
	// Build a blob the way a browser client would and make sure the engine opens it.
	salt := []byte("0123456789abcdef")
	nonce := []byte("nonce-12byte")
	key := pbkdf2.Key([]byte("p@ss"), salt, 100_000, 32, sha256.New)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	raw := append(append([]byte{}, salt...), nonce...)
	raw = gcm.Seal(raw, nonce, []byte("classified"), nil)

	c := newCipher(t)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
		got, err := c.Decrypt(context.Background(), enc.EncodeToString(raw), "p@ss")
		require.NoError(t, err)
		assert.Equal(t, "classified", string(got))
	}
}

func TestSecretCipher_FreshSaltAndNonce(t *testing.T) {
	c := newCipher(t)
	a, err := c.Encrypt(context.Background(), []byte("same"), "same-key")
	require.NoError(t, err)
	b, err := c.Encrypt(context.Background(), []byte("same"), "same-key")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

// ==============================================================================
// 3. Rejection Paths
// ==============================================================================

func TestSecretCipher_WrongKey(t *testing.T) {
	c := newCipher(t)
	ctx := context.Background()

	blob, err := c.Encrypt(ctx, []byte("hello"), crypto.GenerateKey())
	require.NoError(t, err)

	got, err := c.Decrypt(ctx, blob, crypto.GenerateKey())
	assert.ErrorIs(t, err, domain.ErrDecryption)
	assert.Nil(t, got)
}

func TestSecretCipher_TamperDetection(t *testing.T) {
	c := newCipher(t)
	ctx := context.Background()
	key := "tamper-key"

	blob, err := c.Encrypt(ctx, []byte("hello"), key)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	// 🛡️ One flipped bit in every byte: salt, nonce, body and tag alike
	for i := range raw {
		tampered := append([]byte{}, raw...)
		tampered[i] ^= 1 << (i % 8)

		got, err := c.Decrypt(ctx, base64.StdEncoding.EncodeToString(tampered), key)
		require.ErrorIs(t, err, domain.ErrDecryption, "byte %d", i)
		require.Nil(t, got)
	}
}

func TestSecretCipher_MalformedInput(t *testing.T) {
	c := newCipher(t)
	ctx := context.Background()

	for _, blob := range []string{"", "!!!not base64!!!", base64.StdEncoding.EncodeToString(make([]byte, 43))} {
		_, err := c.Decrypt(ctx, blob, "k")
		assert.ErrorIs(t, err, domain.ErrDecryption)
		// Generic message only
		assert.Equal(t, domain.ErrDecryption.Error(), err.Error())
	}

	blob, err := c.Encrypt(ctx, []byte("x"), "k")
	require.NoError(t, err)
	_, err = c.Decrypt(ctx, blob, "")
	assert.ErrorIs(t, err, domain.ErrDecryption)

	_, err = c.Encrypt(ctx, []byte("x"), "")
	assert.ErrorIs(t, err, domain.ErrEncryption)
}
