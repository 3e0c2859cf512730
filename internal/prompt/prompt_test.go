package prompt

import "testing"

func TestBalancedCoversEveryDigitTwice(t *testing.T) {
	for run := 0; run < 50; run++ {
		prompts, err := Balanced()
		if err != nil {
			t.Fatalf("balanced: %v", err)
		}
		if len(prompts) != NumSets {
			t.Fatalf("expected %d prompts, got %d", NumSets, len(prompts))
		}

		counts := make(map[rune]int)
		for _, p := range prompts {
			if len(p) != DigitsPerSet {
				t.Fatalf("prompt %q has length %d", p, len(p))
			}
			for _, r := range p {
				counts[r]++
			}
		}
		for d := '0'; d <= '9'; d++ {
			if counts[d] != 2 {
				t.Fatalf("digit %c appears %d times, want 2 (prompts: %v)", d, counts[d], prompts)
			}
		}
	}
}

func TestBalancedNoAdjacentDuplicates(t *testing.T) {
	for run := 0; run < 50; run++ {
		prompts, err := Balanced()
		if err != nil {
			t.Fatalf("balanced: %v", err)
		}
		for _, p := range prompts {
			for i := 1; i < len(p); i++ {
				if p[i] == p[i-1] {
					t.Fatalf("prompt %q has adjacent duplicate", p)
				}
			}
		}
	}
}

func TestChallengeLengthRange(t *testing.T) {
	seen := make(map[int]bool)
	for run := 0; run < 200; run++ {
		c, err := Challenge(4, 6)
		if err != nil {
			t.Fatalf("challenge: %v", err)
		}
		if len(c) < 4 || len(c) > 6 {
			t.Fatalf("challenge %q outside [4, 6]", c)
		}
		seen[len(c)] = true
		for _, r := range c {
			if r < '0' || r > '9' {
				t.Fatalf("challenge %q contains non-digit", c)
			}
		}
	}
	if len(seen) < 2 {
		t.Fatalf("expected varying challenge lengths, saw %v", seen)
	}
}

func TestChallengeFixedLength(t *testing.T) {
	c, err := Challenge(4, 4)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if len(c) != 4 {
		t.Fatalf("expected length 4, got %q", c)
	}
}

func TestChallengeInvalidRange(t *testing.T) {
	if _, err := Challenge(6, 4); err == nil {
		t.Fatal("expected error for inverted range")
	}
	if _, err := Challenge(0, 4); err == nil {
		t.Fatal("expected error for zero minimum")
	}
}

func TestChallengeIsUnpredictable(t *testing.T) {
	results := make(map[string]bool)
	for run := 0; run < 20; run++ {
		c, err := Challenge(6, 6)
		if err != nil {
			t.Fatalf("challenge: %v", err)
		}
		results[c] = true
	}
	// 20 draws of 6 uniform digits colliding down to a couple of values
	// would indicate a broken randomness source.
	if len(results) < 15 {
		t.Fatalf("suspiciously few distinct challenges: %d", len(results))
	}
}
