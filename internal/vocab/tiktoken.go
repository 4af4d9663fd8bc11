package vocab

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Vocabulary sizes of the tiktoken encodings, special tokens included.
var tiktokenSizes = map[string]int{
	tiktoken.MODEL_O200K_BASE:  200019,
	tiktoken.MODEL_CL100K_BASE: 100277,
	tiktoken.MODEL_P50K_BASE:   50281,
	tiktoken.MODEL_P50K_EDIT:   50284,
	tiktoken.MODEL_R50K_BASE:   50257,
}

// FromTikToken builds a vocabulary from a tiktoken encoding name ("cl100k_base") or a model
// name ("gpt-4"). Ranks are downloaded on first use.
//
// Token bytes are rendered with the byte-level alphabet. Unassigned ids become
// "<|reserved_N|>".
func FromTikToken(name string) (*Vocabulary, error) {
	encodingName := name
	if _, ok := tiktokenSizes[name]; !ok {
		enc, ok := tiktoken.MODEL_TO_ENCODING[name]
		if !ok {
			return nil, fmt.Errorf("unknown tiktoken encoding or model %q", name)
		}
		encodingName = enc
	}
	size, ok := tiktokenSizes[encodingName]
	if !ok {
		return nil, fmt.Errorf("unsupported tiktoken encoding %q", encodingName)
	}

	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encodingName, err)
	}

	tokens := make([]string, size)
	for id := range tokens {
		raw := enc.Decode([]int{id})
		switch {
		case raw == "":
			tokens[id] = fmt.Sprintf("<|reserved_%d|>", id)
		case isSpecial(raw):
			tokens[id] = raw
		default:
			tokens[id] = ByteLevel([]byte(raw))
		}
	}
	return New(tokens)
}

// isSpecial reports whether raw is a <|...|> control token.
func isSpecial(raw string) bool {
	return len(raw) > 4 && raw[:2] == "<|" && raw[len(raw)-2:] == "|>"
}

// byteToRune is the GPT-2 byte-level alphabet: printable bytes map to themselves and the
// rest to code points from U+0100 upwards.
var byteToRune = func() [256]rune {
	var table [256]rune
	next := rune(256)
	for b := range 256 {
		printable := (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
		if printable {
			table[b] = rune(b)
		} else {
			table[b] = next
			next++
		}
	}
	return table
}()

// ByteLevel renders raw token bytes in the byte-level alphabet.
func ByteLevel(raw []byte) string {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = byteToRune[b]
	}
	return string(runes)
}
