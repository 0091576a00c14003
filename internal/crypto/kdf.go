package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

// DerivedKey holds key material derived from a master password. It is never
// persisted; call Destroy when the session no longer needs it.
type DerivedKey struct {
	key []byte
}

// NewDerivedKey copies raw into a DerivedKey.
func NewDerivedKey(raw []byte) (*DerivedKey, error) {
	if err := ValidateKeySize(raw); err != nil {
		return nil, err
	}
	k := make([]byte, KeySize)
	copy(k, raw)
	return &DerivedKey{key: k}, nil
}

// DeriveKey derives a key with the default work factor.
func DeriveKey(password string, salt []byte) (*DerivedKey, error) {
	return deriveKey(password, salt, DefaultIterations)
}

func deriveKey(password string, salt []byte, iterations int) (*DerivedKey, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidSalt, SaltSize, len(salt))
	}

	// NFKC so composed and decomposed input derive the same key
	pw := []byte(norm.NFKC.String(password))
	defer Wipe(pw)

	raw := pbkdf2.Key(pw, salt, iterations, KeySize, sha256.New)
	defer Wipe(raw)
	return NewDerivedKey(raw)
}

// GenerateSalt returns SaltSize fresh random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Equal reports whether both keys hold the same material, in constant time.
func (k *DerivedKey) Equal(other *DerivedKey) bool {
	if k == nil || other == nil || k.key == nil || other.key == nil {
		return false
	}
	return KeysEqual(k.key, other.key)
}

// Destroy zeroes the key material. The key is unusable afterwards.
func (k *DerivedKey) Destroy() {
	if k == nil {
		return
	}
	Wipe(k.key)
	k.key = nil
}

// Destroyed reports whether Destroy has been called.
func (k *DerivedKey) Destroyed() bool {
	return k == nil || k.key == nil
}

// String never reveals key material.
func (k *DerivedKey) String() string {
	return "DerivedKey(redacted)"
}

func (k *DerivedKey) material() ([]byte, error) {
	if k.Destroyed() {
		return nil, ErrKeyDestroyed
	}
	return k.key, nil
}

// KeysEqual compares two byte slices in constant time.
func KeysEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
