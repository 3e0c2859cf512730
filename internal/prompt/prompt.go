// Package prompt generates the digit strings users are asked to utter.
// Enrollment uses a balanced schedule covering every digit exactly twice;
// verification uses an unpredictable per-session challenge.
package prompt

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const (
	// NumSets and DigitsPerSet define the enrollment schedule: five sets of
	// four digits, 20 positions covering each digit exactly twice.
	NumSets      = 5
	DigitsPerSet = 4

	// maxRedraws bounds the adjacency-rejection loop.
	maxRedraws = 200
)

var errRedrawsExhausted = errors.New("prompt: exhausted redraws for adjacency constraint")

// Balanced returns five four-digit strings whose concatenation contains each
// digit 0-9 exactly twice, with no string holding two equal adjacent digits.
// A random permutation of the digit multiset is partitioned into sets; any
// set violating the adjacency rule is redrawn from the full multiset.
func Balanced() ([]string, error) {
	for attempt := 0; attempt < maxRedraws; attempt++ {
		multiset := make([]byte, 0, NumSets*DigitsPerSet)
		for d := byte('0'); d <= '9'; d++ {
			multiset = append(multiset, d, d)
		}
		if err := shuffle(multiset); err != nil {
			return nil, err
		}

		prompts := make([]string, 0, NumSets)
		ok := true
		for i := 0; i < NumSets; i++ {
			set := multiset[i*DigitsPerSet : (i+1)*DigitsPerSet]
			if hasAdjacentDuplicate(set) {
				ok = false
				break
			}
			prompts = append(prompts, string(set))
		}
		if ok {
			return prompts, nil
		}
	}
	return nil, errRedrawsExhausted
}

// Challenge returns a single uniform random digit string whose length is
// drawn uniformly from [minLen, maxLen]. No uniqueness constraint applies.
func Challenge(minLen, maxLen int) (string, error) {
	if minLen < 1 || maxLen < minLen {
		return "", fmt.Errorf("prompt: invalid challenge length range [%d, %d]", minLen, maxLen)
	}

	length := minLen
	if maxLen > minLen {
		span, err := randInt(maxLen - minLen + 1)
		if err != nil {
			return "", err
		}
		length = minLen + span
	}

	digits := make([]byte, length)
	for i := range digits {
		d, err := randInt(10)
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + d)
	}
	return string(digits), nil
}

func hasAdjacentDuplicate(set []byte) bool {
	for i := 1; i < len(set); i++ {
		if set[i] == set[i-1] {
			return true
		}
	}
	return false
}

// shuffle performs a Fisher-Yates shuffle with crypto/rand indices.
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("prompt: read randomness: %w", err)
	}
	return int(v.Int64()), nil
}
