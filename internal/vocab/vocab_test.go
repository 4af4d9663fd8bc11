package vocab

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVocabulary(t *testing.T) {
	v, err := New([]string{"<s>", "a", "b", "a"})
	require.NoError(t, err)

	assert.Equal(t, 4, v.Size())
	id, ok := v.ID("a")
	assert.True(t, ok)
	assert.Equal(t, 1, id)
	_, ok = v.ID("c")
	assert.False(t, ok)

	tok, ok := v.Token(2)
	assert.True(t, ok)
	assert.Equal(t, "b", tok)
	_, ok = v.Token(4)
	assert.False(t, ok)

	_, err = New(nil)
	assert.ErrorIs(t, err, ErrEmptyVocabulary)
}

func TestVocabulary_SaveLoad(t *testing.T) {
	v, err := New([]string{"<unk>", "hello", "▁world", "Ġx"})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = v.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"hello"`)

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, v.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, v.Tokens(), loaded.Tokens())
}

func TestFromHuggingFace(t *testing.T) {
	tests := []struct {
		name string
		json string
		want []string
	}{
		{
			name: "BPE with added tokens",
			json: `{
				"model": {"type": "BPE", "vocab": {"a": 2, "b": 3, "ab": 4}, "merges": ["a b"]},
				"added_tokens": [
					{"id": 0, "content": "<s>", "special": true},
					{"id": 1, "content": "</s>", "special": true}
				]
			}`,
			want: []string{"<s>", "</s>", "a", "b", "ab"},
		},
		{
			name: "WordPiece with a gap",
			json: `{"model": {"type": "WordPiece", "vocab": {"[PAD]": 0, "hello": 2}}}`,
			want: []string{"[PAD]", "<unused_1>", "hello"},
		},
		{
			name: "Unigram",
			json: `{"model": {"type": "Unigram", "vocab": [["<unk>", 0.0], ["▁the", -3.1], ["s", -4.2]]}}`,
			want: []string{"<unk>", "▁the", "s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "tokenizer.json", tt.json)
			v, err := FromHuggingFace(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Tokens())
		})
	}
}

func TestFromHuggingFace_Errors(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"bad.json":      `{"model": `,
		"unknown.json":  `{"model": {"type": "Sentencepiece", "vocab": {}}}`,
		"empty.json":    `{"model": {"type": "BPE", "vocab": {}}}`,
		"negative.json": `{"model": {"type": "BPE", "vocab": {"a": -1}}}`,
	} {
		_, err := FromHuggingFace(writeFile(t, dir, name, content))
		assert.Error(t, err, name)
	}

	_, err := FromHuggingFace(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestLoadSpecialTokens(t *testing.T) {
	dir := t.TempDir()
	st, err := LoadSpecialTokens(dir)
	require.NoError(t, err)
	assert.Equal(t, SpecialTokens{}, st)

	writeFile(t, dir, "tokenizer_config.json", `{
		"bos_token": "<s>",
		"eos_token": {"content": "</s>", "lstrip": false},
		"unk_token": null,
		"add_bos_token": true
	}`)
	st, err = LoadSpecialTokens(dir)
	require.NoError(t, err)
	assert.Equal(t, SpecialTokens{BOS: "<s>", EOS: "</s>"}, st)
}

func TestByteLevel(t *testing.T) {
	assert.Equal(t, "hello", ByteLevel([]byte("hello")))
	assert.Equal(t, "Ġworld", ByteLevel([]byte(" world")))
	assert.Equal(t, "Ċ", ByteLevel([]byte("\n")))
	assert.Equal(t, "Ā", ByteLevel([]byte{0}))

	// The alphabet is a bijection over bytes.
	seen := make(map[rune]bool)
	for b := range 256 {
		r := byteToRune[b]
		assert.False(t, seen[r], "byte %d", b)
		seen[r] = true
	}
}

func TestFromTikToken(t *testing.T) {
	v, err := FromTikToken("cl100k_base")
	if err != nil {
		t.Skipf("tiktoken ranks unavailable: %v", err)
	}
	assert.Equal(t, 100277, v.Size())

	tok, _ := v.Token(100257)
	assert.Equal(t, "<|endoftext|>", tok)
	tok, _ = v.Token(100256)
	assert.Equal(t, "<|reserved_100256|>", tok)

	id, ok := v.ID("Ġworld")
	assert.True(t, ok)
	assert.Positive(t, id)

	_, err = FromTikToken("not-an-encoding")
	assert.Error(t, err)
}
