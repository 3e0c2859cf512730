package gallery

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pinSaltLen    = 16
	pbkdf2Iters   = 10000
	pbkdf2KeyLen  = 32
	AlgoSHA256    = "sha256"
	AlgoPBKDF2    = "pbkdf2-sha256"
)

// ErrInvalidPIN reports a PIN that is not exactly four ASCII digits.
var ErrInvalidPIN = errors.New("gallery: pin must be exactly 4 digits")

// ValidatePINFormat accepts exactly four ASCII digits.
func ValidatePINFormat(pin string) error {
	if len(pin) != 4 {
		return ErrInvalidPIN
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrInvalidPIN
		}
	}
	return nil
}

// newSalt draws a fresh per-speaker salt.
func newSalt() ([]byte, error) {
	salt := make([]byte, pinSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("gallery: generate salt: %w", err)
	}
	return salt, nil
}

// digestPIN derives the stored digest for (salt, pin) under the given
// algorithm. The raw PIN never leaves this function.
func digestPIN(algo string, salt []byte, pin string) ([]byte, error) {
	switch algo {
	case AlgoSHA256:
		h := sha256.New()
		h.Write(salt)
		h.Write([]byte(pin))
		return h.Sum(nil), nil
	case AlgoPBKDF2:
		return pbkdf2.Key([]byte(pin), salt, pbkdf2Iters, pbkdf2KeyLen, sha256.New), nil
	default:
		return nil, fmt.Errorf("gallery: unknown pin algorithm %q", algo)
	}
}

// digestEqual compares two digests in constant time.
func digestEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
