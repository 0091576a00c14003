package crypto

import (
	"errors"
	"fmt"
)

const (
	// Key sizes
	KeySize   = 32 // AES-256
	NonceSize = 12 // GCM standard
	TagSize   = 16 // GCM tag

	// PBKDF2 parameters
	DefaultIterations = 100000
	SaltSize          = 16

	// MinCiphertextSize is the smallest blob Decrypt can accept.
	MinCiphertextSize = NonceSize + TagSize
)

// Errors
var (
	ErrInvalidKey       = errors.New("invalid key size")
	ErrInvalidSalt      = errors.New("invalid salt size")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrKeyDestroyed     = errors.New("key destroyed")

	// ErrInvalidCiphertext is a decryption failure caused by input that is too
	// short to be a GCM blob at all.
	ErrInvalidCiphertext = fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
)

// CryptoProvider handles all cryptographic operations.
type CryptoProvider struct {
	iterations int
}

// NewProvider creates a crypto provider.
func NewProvider() Provider {
	return &CryptoProvider{
		iterations: DefaultIterations,
	}
}

// NewProviderWithIterations creates a provider with a custom PBKDF2 work
// factor. Values below DefaultIterations are rejected.
func NewProviderWithIterations(iterations int) (Provider, error) {
	if iterations < DefaultIterations {
		return nil, fmt.Errorf("iterations %d below minimum %d", iterations, DefaultIterations)
	}
	return &CryptoProvider{iterations: iterations}, nil
}

// Iterations reports the PBKDF2 work factor.
func (p *CryptoProvider) Iterations() int {
	return p.iterations
}

// DeriveKey derives a vault key from the master password.
func (p *CryptoProvider) DeriveKey(password string, salt []byte) (*DerivedKey, error) {
	return deriveKey(password, salt, p.iterations)
}

// Encrypt encrypts plaintext using AES-GCM.
func (p *CryptoProvider) Encrypt(key *DerivedKey, plaintext []byte) ([]byte, error) {
	raw, err := key.material()
	if err != nil {
		return nil, err
	}
	return EncryptData(plaintext, raw)
}

// Decrypt decrypts ciphertext using AES-GCM.
func (p *CryptoProvider) Decrypt(key *DerivedKey, ciphertext []byte) ([]byte, error) {
	raw, err := key.material()
	if err != nil {
		return nil, err
	}
	return DecryptData(ciphertext, raw)
}
