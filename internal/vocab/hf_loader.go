package vocab

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// HFTokenizerType identifies the tokenizer model in tokenizer.json.
type HFTokenizerType string

const (
	// HFTypeBPE indicates Byte-Pair Encoding tokenizer.
	HFTypeBPE HFTokenizerType = "BPE"

	// HFTypeWordPiece indicates WordPiece tokenizer (BERT-style).
	HFTypeWordPiece HFTokenizerType = "WordPiece"

	// HFTypeUnigram indicates Unigram tokenizer (SentencePiece-style).
	HFTypeUnigram HFTokenizerType = "Unigram"
)

type hfAddedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

type hfTokenizer struct {
	Model struct {
		Type  HFTokenizerType `json:"type"`
		Vocab json.RawMessage `json:"vocab"`
	} `json:"model"`
	AddedTokens []hfAddedToken `json:"added_tokens"`
}

// FromHuggingFace builds a vocabulary from a tokenizer.json file.
//
// Added tokens override model tokens with the same id. Ids missing from both are filled
// with "<unused_N>" placeholders so that positions stay aligned with ids.
func FromHuggingFace(path string) (*Vocabulary, error) {
	//nolint:gosec // G304: loading tokenizer from user-specified path is intentional
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer.json: %w", err)
	}

	var raw hfTokenizer
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer.json: %w", err)
	}

	byID := make(map[int]string)
	switch raw.Model.Type {
	case HFTypeBPE, HFTypeWordPiece, "":
		var vocab map[string]int
		if err := json.Unmarshal(raw.Model.Vocab, &vocab); err != nil {
			return nil, fmt.Errorf("failed to parse %s vocab: %w", raw.Model.Type, err)
		}
		for tok, id := range vocab {
			byID[id] = tok
		}
	case HFTypeUnigram:
		var pieces [][]any
		if err := json.Unmarshal(raw.Model.Vocab, &pieces); err != nil {
			return nil, fmt.Errorf("failed to parse Unigram vocab: %w", err)
		}
		for id, piece := range pieces {
			if len(piece) == 0 {
				return nil, fmt.Errorf("empty Unigram piece at id %d", id)
			}
			tok, ok := piece[0].(string)
			if !ok {
				return nil, fmt.Errorf("unigram piece %d is not a string", id)
			}
			byID[id] = tok
		}
	default:
		return nil, fmt.Errorf("unknown tokenizer type: %s", raw.Model.Type)
	}

	for _, added := range raw.AddedTokens {
		byID[added.ID] = added.Content
	}
	return fromIDMap(byID)
}

func fromIDMap(byID map[int]string) (*Vocabulary, error) {
	size := 0
	for id := range byID {
		if id < 0 {
			return nil, fmt.Errorf("negative token id %d", id)
		}
		if id+1 > size {
			size = id + 1
		}
	}
	tokens := make([]string, size)
	for id := range tokens {
		tok, ok := byID[id]
		if !ok {
			tok = fmt.Sprintf("<unused_%d>", id)
		}
		tokens[id] = tok
	}
	return New(tokens)
}

// SpecialTokens are the tokens named in tokenizer_config.json.
type SpecialTokens struct {
	BOS string `json:"bos_token,omitempty" yaml:"bos_token"`
	EOS string `json:"eos_token,omitempty" yaml:"eos_token"`
	UNK string `json:"unk_token,omitempty" yaml:"unk_token"`
	PAD string `json:"pad_token,omitempty" yaml:"pad_token"`
}

// LoadSpecialTokens reads special tokens from tokenizer_config.json in dir.
// A missing file yields empty tokens.
func LoadSpecialTokens(dir string) (SpecialTokens, error) {
	//nolint:gosec // G304: path built from the model directory
	data, err := os.ReadFile(filepath.Join(dir, "tokenizer_config.json"))
	if os.IsNotExist(err) {
		return SpecialTokens{}, nil
	}
	if err != nil {
		return SpecialTokens{}, fmt.Errorf("failed to read tokenizer_config.json: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return SpecialTokens{}, fmt.Errorf("failed to parse tokenizer_config.json: %w", err)
	}

	var st SpecialTokens
	for key, dst := range map[string]*string{
		"bos_token": &st.BOS,
		"eos_token": &st.EOS,
		"unk_token": &st.UNK,
		"pad_token": &st.PAD,
	} {
		tok, err := tokenContent(raw[key])
		if err != nil {
			return SpecialTokens{}, fmt.Errorf("%s: %w", key, err)
		}
		*dst = tok
	}
	return st, nil
}

// tokenContent decodes a token given either as a string or as {"content": "..."}.
func tokenContent(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var obj struct {
		Content string `json:"content"`
	}
	err := json.Unmarshal(raw, &obj)
	return obj.Content, err
}
