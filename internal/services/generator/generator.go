// Package generator creates random passwords and passphrases and rates
// password strength.
package generator

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/sethvargo/go-diceware/diceware"
)

// Character classes.
const (
	Lowercase = "abcdefghijklmnopqrstuvwxyz"
	Uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Digits    = "0123456789"
	Symbols   = "!@#$%^&*-_=+[]{}|;:,.<>?"

	ambiguous = "lIoO01"
)

// Length limits for Generate and word limits for Passphrase.
const (
	DefaultLength = 16
	MaxLength     = 256
	DefaultWords  = 6
	MaxWords      = 32
)

var (
	ErrNoCharacterClasses = errors.New("no character classes selected")
	ErrInvalidLength      = errors.New("invalid password length")
)

// Options selects the password alphabet.
type Options struct {
	Length           int
	Upper            bool
	Lower            bool
	Digits           bool
	Symbols          bool
	ExcludeAmbiguous bool
}

// DefaultOptions enables every class and drops look-alike characters.
func DefaultOptions() Options {
	return Options{
		Length:           DefaultLength,
		Upper:            true,
		Lower:            true,
		Digits:           true,
		Symbols:          true,
		ExcludeAmbiguous: true,
	}
}

func (o Options) classes() []string {
	var classes []string
	add := func(enabled bool, chars string) {
		if !enabled {
			return
		}
		if o.ExcludeAmbiguous {
			chars = strings.Map(func(r rune) rune {
				if strings.ContainsRune(ambiguous, r) {
					return -1
				}
				return r
			}, chars)
		}
		classes = append(classes, chars)
	}

	add(o.Lower, Lowercase)
	add(o.Upper, Uppercase)
	add(o.Digits, Digits)
	add(o.Symbols, Symbols)
	return classes
}

// Generate returns a random password. It contains at least one character
// of every enabled class.
func Generate(opts Options) (string, error) {
	classes := opts.classes()
	if len(classes) == 0 {
		return "", ErrNoCharacterClasses
	}
	if opts.Length < len(classes) || opts.Length > MaxLength {
		return "", fmt.Errorf("%w: %d (must be %d to %d)", ErrInvalidLength, opts.Length, len(classes), MaxLength)
	}

	alphabet := strings.Join(classes, "")
	out := make([]byte, 0, opts.Length)

	for _, class := range classes {
		c, err := pick(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < opts.Length {
		c, err := pick(alphabet)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	if err := shuffle(out); err != nil {
		return "", err
	}
	return string(out), nil
}

// Passphrase returns words diceware words joined by spaces.
func Passphrase(words int) (string, error) {
	if words < 1 || words > MaxWords {
		return "", fmt.Errorf("%w: %d words (must be 1 to %d)", ErrInvalidLength, words, MaxWords)
	}

	list, err := diceware.Generate(words)
	if err != nil {
		return "", fmt.Errorf("generate passphrase: %w", err)
	}
	return strings.Join(list, " "), nil
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(v.Int64()), nil
}

func pick(chars string) (byte, error) {
	i, err := randIndex(len(chars))
	if err != nil {
		return 0, err
	}
	return chars[i], nil
}

// shuffle is a Fisher-Yates shuffle over crypto/rand.
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randIndex(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}
