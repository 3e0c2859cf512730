package asr

import (
	"sort"
	"strings"
)

// digitReadings maps spoken digit readings to canonical ASCII digits.
// Japanese hiragana, katakana and kanji readings plus English number words.
// Unknown tokens are dropped during normalization.
var digitReadings = map[string]string{
	"ゼロ": "0", "れい": "0", "レイ": "0", "零": "0", "まる": "0", "マル": "0",
	"いち": "1", "イチ": "1", "一": "1",
	"に": "2", "ニ": "2", "二": "2",
	"さん": "3", "サン": "3", "三": "3",
	"よん": "4", "ヨン": "4", "し": "4", "シ": "4", "四": "4",
	"ご": "5", "ゴ": "5", "五": "5",
	"ろく": "6", "ロク": "6", "六": "6",
	"なな": "7", "ナナ": "7", "しち": "7", "シチ": "7", "七": "7",
	"はち": "8", "ハチ": "8", "八": "8",
	"きゅう": "9", "キュウ": "9", "く": "9", "ク": "9", "九": "9",
	"zero": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
}

// readingsByLength holds dictionary keys longest-first so that overlapping
// readings ("きゅう" before "く") replace correctly.
var readingsByLength = func() []string {
	keys := make([]string, 0, len(digitReadings))
	for k := range digitReadings {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// DigitString normalizes recognized text to a string of ASCII digits.
// Known readings are replaced longest-first; everything that is not a digit
// afterwards is dropped.
func DigitString(text string) string {
	result := strings.ToLower(text)
	for _, reading := range readingsByLength {
		result = strings.ReplaceAll(result, strings.ToLower(reading), digitReadings[reading])
	}

	var b strings.Builder
	for _, r := range result {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DigitTokens filters a recognition result down to tokens that normalize to
// digits, with each token's text replaced by its canonical digits. Tokens
// that normalize to nothing are dropped.
func DigitTokens(result Result) []Token {
	var out []Token
	for _, tok := range result.Tokens {
		digits := DigitString(tok.Text)
		if digits == "" {
			continue
		}
		for _, d := range digits {
			out = append(out, Token{
				Text:  string(d),
				Start: tok.Start,
				End:   tok.End,
			})
		}
	}
	return out
}
