package crypto_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/keyvault/internal/crypto"
)

func TestSecurityRequirements(t *testing.T) {
	t.Run("key derivation uses sufficient iterations", func(t *testing.T) {
		assert.GreaterOrEqual(t, crypto.DefaultIterations, 100000)
	})

	t.Run("key size is 256 bits", func(t *testing.T) {
		assert.Equal(t, 32, crypto.KeySize)
	})

	t.Run("salt is 128 bits", func(t *testing.T) {
		assert.Equal(t, 16, crypto.SaltSize)
	})

	t.Run("nonce is random for each encryption", func(t *testing.T) {
		key := randomKey(t)
		plaintext := []byte("test message")

		cipher1, err := crypto.EncryptData(plaintext, key)
		require.NoError(t, err)
		cipher2, err := crypto.EncryptData(plaintext, key)
		require.NoError(t, err)

		assert.NotEqual(t, cipher1[:crypto.NonceSize], cipher2[:crypto.NonceSize])
		assert.NotEqual(t, cipher1, cipher2)

		plain1, err := crypto.DecryptData(cipher1, key)
		require.NoError(t, err)
		plain2, err := crypto.DecryptData(cipher2, key)
		require.NoError(t, err)

		assert.Equal(t, plaintext, plain1)
		assert.Equal(t, plaintext, plain2)
	})
}

func TestAESGCMTampering(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte(`{"version":"1.0","entries":[{"title":"GitHub"}]}`)
	ciphertext, err := crypto.EncryptData(plaintext, key)
	require.NoError(t, err)

	t.Run("every single bit flip is rejected", func(t *testing.T) {
		for i := 0; i < len(ciphertext); i++ {
			for bit := 0; bit < 8; bit++ {
				tampered := append([]byte(nil), ciphertext...)
				tampered[i] ^= 1 << bit

				out, err := crypto.DecryptData(tampered, key)
				require.ErrorIs(t, err, crypto.ErrDecryptionFailed, "byte %d bit %d", i, bit)
				require.Nil(t, out)
			}
		}
	})

	t.Run("truncation is rejected", func(t *testing.T) {
		for _, n := range []int{0, 1, crypto.NonceSize, crypto.MinCiphertextSize - 1, len(ciphertext) - 1} {
			_, err := crypto.DecryptData(ciphertext[:n], key)
			assert.ErrorIs(t, err, crypto.ErrDecryptionFailed, "length %d", n)
		}
	})

	t.Run("short input reports invalid ciphertext", func(t *testing.T) {
		_, err := crypto.DecryptData(ciphertext[:crypto.MinCiphertextSize-1], key)
		assert.ErrorIs(t, err, crypto.ErrInvalidCiphertext)
	})

	t.Run("wrong key is indistinguishable from tampering", func(t *testing.T) {
		_, err := crypto.DecryptData(ciphertext, randomKey(t))
		assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
		assert.NotErrorIs(t, err, crypto.ErrInvalidCiphertext)
	})
}

func TestAESGCMSecurity(t *testing.T) {
	t.Run("encrypt same plaintext produces different ciphertext", func(t *testing.T) {
		key := randomKey(t)
		plaintext := []byte("same message")

		results := make([][]byte, 10)
		for i := 0; i < 10; i++ {
			ciphertext, err := crypto.EncryptData(plaintext, key)
			require.NoError(t, err)
			results[i] = ciphertext
		}

		for i := 0; i < len(results); i++ {
			for j := i + 1; j < len(results); j++ {
				assert.NotEqual(t, results[i], results[j],
					"Ciphertext %d and %d should be different", i, j)
			}
		}
	})

	t.Run("key validation", func(t *testing.T) {
		tests := []struct {
			name    string
			keySize int
			wantErr bool
		}{
			{"correct size", crypto.KeySize, false},
			{"too short", crypto.KeySize - 1, true},
			{"too long", crypto.KeySize + 1, true},
			{"zero size", 0, true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				key := make([]byte, tt.keySize)
				err := crypto.ValidateKeySize(key)
				if tt.wantErr {
					assert.ErrorIs(t, err, crypto.ErrInvalidKey)
				} else {
					assert.NoError(t, err)
				}

				_, err = crypto.EncryptData([]byte("x"), key)
				assert.Equal(t, tt.wantErr, err != nil)
			})
		}
	})
}

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, crypto.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}
