package asr

import "testing"

func TestDigitString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ascii digits", "4326", "4326"},
		{"katakana", "ヨンサンニロク", "4326"},
		{"hiragana", "よんさんにろく", "4326"},
		{"kanji", "四三二六", "4326"},
		{"english words", "four three two six", "4326"},
		{"mixed noise", "えーと、4 3 2 6です", "4326"},
		{"kyuu before ku", "きゅう", "9"},
		{"nana and shichi", "ナナシチ", "77"},
		{"maru for zero", "マルいち", "01"},
		{"no digits", "こんにちは", ""},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DigitString(tc.in); got != tc.want {
				t.Fatalf("DigitString(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDigitTokens(t *testing.T) {
	result := Result{
		Text: "えー4326",
		Tokens: []Token{
			{Text: "えー", Start: 0.0, End: 0.3},
			{Text: "よん", Start: 0.3, End: 0.6},
			{Text: "さん", Start: 0.6, End: 0.9},
			{Text: "に", Start: 0.9, End: 1.2},
			{Text: "ろく", Start: 1.2, End: 1.5},
		},
	}

	tokens := DigitTokens(result)
	if len(tokens) != 4 {
		t.Fatalf("expected 4 digit tokens, got %d", len(tokens))
	}
	want := []string{"4", "3", "2", "6"}
	for i, tok := range tokens {
		if tok.Text != want[i] {
			t.Fatalf("token %d: got %q, want %q", i, tok.Text, want[i])
		}
		if tok.Start > tok.End {
			t.Fatalf("token %d: start %f after end %f", i, tok.Start, tok.End)
		}
	}
	for i := 1; i < len(tokens); i++ {
		if tokens[i].Start < tokens[i-1].Start {
			t.Fatalf("token starts must be non-decreasing")
		}
	}
}

func TestDigitTokensMultiDigitToken(t *testing.T) {
	// A single token carrying several digits expands to one token per digit.
	tokens := DigitTokens(Result{Tokens: []Token{{Text: "43", Start: 0.1, End: 0.5}}})
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].Text != "4" || tokens[1].Text != "3" {
		t.Fatalf("unexpected expansion: %+v", tokens)
	}
}
