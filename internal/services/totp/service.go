package totp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// MinSecretLength is the shortest normalized base32 secret accepted.
const MinSecretLength = 16

// ErrInvalidSecret is returned for secrets that cannot drive TOTP.
var ErrInvalidSecret = errors.New("totp: invalid secret")

// Service validates and issues TOTP secrets for vault entries. Codes are
// only checked, never displayed.
type Service interface {
	// NormalizeSecret strips spaces and upper-cases a secret.
	NormalizeSecret(secret string) string

	// IsValidSecret checks if a secret string is valid for TOTP.
	IsValidSecret(secret string) error

	// NewSecret issues a fresh secret for an account.
	NewSecret(issuer, account string) (string, error)

	// ValidateCode checks a code against a secret, for confirming enrolment.
	ValidateCode(secret, code string) bool
}

// DefaultService implements TOTP operations.
type DefaultService struct {
	period    uint
	digits    otp.Digits
	algorithm otp.Algorithm
	skew      uint
	now       func() time.Time
}

// NewService creates a new TOTP service with default settings.
func NewService() *DefaultService {
	return &DefaultService{
		period:    30,
		digits:    otp.DigitsSix,
		algorithm: otp.AlgorithmSHA1,
		skew:      1,
		now:       time.Now,
	}
}

// NewServiceWithConfig creates a TOTP service with custom configuration.
func NewServiceWithConfig(period uint, digits otp.Digits, algorithm otp.Algorithm) *DefaultService {
	s := NewService()
	s.period = period
	s.digits = digits
	s.algorithm = algorithm
	return s
}

// NormalizeSecret removes whitespace and upper-cases the secret.
func (s *DefaultService) NormalizeSecret(secret string) string {
	return strings.ToUpper(strings.Join(strings.Fields(secret), ""))
}

// IsValidSecret checks if a secret string is valid for TOTP.
func (s *DefaultService) IsValidSecret(secret string) error {
	normalized := s.NormalizeSecret(secret)
	if normalized == "" {
		return fmt.Errorf("%w: secret cannot be empty", ErrInvalidSecret)
	}

	if len(strings.TrimRight(normalized, "=")) < MinSecretLength {
		return fmt.Errorf("%w: secret must be at least %d characters", ErrInvalidSecret, MinSecretLength)
	}

	// Generating a code proves the secret decodes as base32
	if _, err := totp.GenerateCodeCustom(normalized, s.now(), s.validateOpts()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	return nil
}

// NewSecret issues a fresh random secret.
func (s *DefaultService) NewSecret(issuer, account string) (string, error) {
	if issuer == "" {
		issuer = "keyvault"
	}
	if account == "" {
		account = issuer
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      s.period,
		Digits:      s.digits,
		Algorithm:   s.algorithm,
	})
	if err != nil {
		return "", fmt.Errorf("totp: generate secret: %w", err)
	}

	return key.Secret(), nil
}

// ValidateCode validates a TOTP code against a secret.
func (s *DefaultService) ValidateCode(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}

	ok, err := totp.ValidateCustom(code, s.NormalizeSecret(secret), s.now(), s.validateOpts())
	return err == nil && ok
}

func (s *DefaultService) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    s.period,
		Skew:      s.skew,
		Digits:    s.digits,
		Algorithm: s.algorithm,
	}
}
