package crypto

// Provider defines the interface for cryptographic operations.
type Provider interface {
	// DeriveKey derives a vault key from the master password and salt.
	DeriveKey(password string, salt []byte) (*DerivedKey, error)

	// Encrypt seals plaintext with AES-256-GCM under key.
	Encrypt(key *DerivedKey, plaintext []byte) ([]byte, error)

	// Decrypt opens a nonce||ciphertext||tag blob produced by Encrypt.
	Decrypt(key *DerivedKey, ciphertext []byte) ([]byte, error)

	// Iterations reports the PBKDF2 work factor in use.
	Iterations() int
}
