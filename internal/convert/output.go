package convert

import (
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/ct2spec/internal/vocab"
)

// RuntimeConfigFileName is the runtime options file written next to model.bin.
const RuntimeConfigFileName = "config.json"

// tiktokenPrefix selects a tiktoken encoding as vocabulary source.
const tiktokenPrefix = "tiktoken:"

// RuntimeConfig is the content of the output config.json.
type RuntimeConfig struct {
	AddSourceBOS     bool    `json:"add_source_bos"`
	AddSourceEOS     bool    `json:"add_source_eos"`
	BOSToken         string  `json:"bos_token,omitempty"`
	EOSToken         string  `json:"eos_token,omitempty"`
	UNKToken         string  `json:"unk_token,omitempty"`
	LayerNormEpsilon float64 `json:"layer_norm_epsilon,omitempty"`
}

// writeRuntimeConfig writes config.json. Tokens set in the profile win over the ones
// found in the checkpoint's tokenizer_config.json.
func writeRuntimeConfig(outDir string, profile Profile, found vocab.SpecialTokens) (string, error) {
	cfg := RuntimeConfig{
		BOSToken:         firstNonEmpty(profile.Tokens.BOS, found.BOS),
		EOSToken:         firstNonEmpty(profile.Tokens.EOS, found.EOS),
		UNKToken:         firstNonEmpty(profile.Tokens.UNK, found.UNK),
		LayerNormEpsilon: profile.LayerNormEpsilon,
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal runtime config")
	}
	path := filepath.Join(outDir, RuntimeConfigFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", errors.Wrapf(err, "failed to write %q", path)
	}
	return path, nil
}

// writeVocabulary resolves the vocabulary source of the profile and writes
// vocabulary.json. It returns the special tokens found in the checkpoint.
func writeVocabulary(modelDir, outDir string, profile Profile, res *Result) (vocab.SpecialTokens, error) {
	tokens, err := vocab.LoadSpecialTokens(modelDir)
	if err != nil {
		return vocab.SpecialTokens{}, errors.WithStack(err)
	}

	var v *vocab.Vocabulary
	switch source := profile.Vocabulary; {
	case strings.HasPrefix(source, tiktokenPrefix):
		v, err = vocab.FromTikToken(strings.TrimPrefix(source, tiktokenPrefix))
	case source != "":
		v, err = vocab.FromHuggingFace(source)
	default:
		path := filepath.Join(modelDir, "tokenizer.json")
		if _, statErr := os.Stat(path); statErr != nil {
			klog.Warningf("No tokenizer.json in %q: %s not written", modelDir, vocab.FileName)
			return tokens, nil
		}
		v, err = vocab.FromHuggingFace(path)
	}
	if err != nil {
		return vocab.SpecialTokens{}, errors.Wrap(err, "failed to load vocabulary")
	}

	path := filepath.Join(outDir, vocab.FileName)
	if err := v.Save(path); err != nil {
		return vocab.SpecialTokens{}, errors.WithStack(err)
	}
	res.VocabSize = v.Size()
	klog.V(1).Infof("Wrote %s (%d tokens)", path, v.Size())
	return tokens, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
