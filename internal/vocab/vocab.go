package vocab

import (
	"errors"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
)

// FileName is the vocabulary file written next to model.bin.
const FileName = "vocabulary.json"

// ErrEmptyVocabulary is returned for vocabularies without tokens.
var ErrEmptyVocabulary = errors.New("empty vocabulary")

// Vocabulary is an ordered token list. The index of a token is its id.
type Vocabulary struct {
	tokens []string
	ids    map[string]int
}

// New creates a vocabulary from tokens ordered by id. When a token string repeats, ID
// reports its first id.
func New(tokens []string) (*Vocabulary, error) {
	if len(tokens) == 0 {
		return nil, ErrEmptyVocabulary
	}
	ids := make(map[string]int, len(tokens))
	for i, tok := range tokens {
		if _, ok := ids[tok]; !ok {
			ids[tok] = i
		}
	}
	return &Vocabulary{tokens: append([]string(nil), tokens...), ids: ids}, nil
}

// Size returns the number of tokens.
func (v *Vocabulary) Size() int {
	return len(v.tokens)
}

// Tokens returns a copy of the token list.
func (v *Vocabulary) Tokens() []string {
	return append([]string(nil), v.tokens...)
}

// Token returns the token with the given id.
func (v *Vocabulary) Token(id int) (string, bool) {
	if id < 0 || id >= len(v.tokens) {
		return "", false
	}
	return v.tokens[id], true
}

// ID returns the id of a token.
func (v *Vocabulary) ID(token string) (int, bool) {
	id, ok := v.ids[token]
	return id, ok
}

// WriteTo writes the vocabulary as a JSON list.
func (v *Vocabulary) WriteTo(w io.Writer) (int64, error) {
	data, err := json.Marshal(v.tokens)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal vocabulary: %w", err)
	}
	n, err := w.Write(data)
	return int64(n), err
}

// Save writes the vocabulary to path.
func (v *Vocabulary) Save(path string) error {
	//nolint:gosec // G304: output path is chosen by the caller
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create vocabulary file: %w", err)
	}
	if _, err := v.WriteTo(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Load reads a vocabulary written by Save.
func Load(path string) (*Vocabulary, error) {
	//nolint:gosec // G304: loading from a user-specified path is intentional
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	var tokens []string
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary: %w", err)
	}
	return New(tokens)
}
