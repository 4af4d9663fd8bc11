package convert

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/ct2spec/internal/layers"
	"github.com/born-ml/ct2spec/internal/quantize"
	"github.com/born-ml/ct2spec/internal/vocab"
)

// RopeScaling holds the rotary scaling tables and factors that are filled from the
// checkpoint configuration rather than declared by the builder flags.
type RopeScaling struct {
	LowFreqFactor  float32   `yaml:"low_freq_factor"`  // Llama3
	HighFreqFactor float32   `yaml:"high_freq_factor"` // Llama3
	LongFactor     []float32 `yaml:"long_factor"`      // Su
	ShortFactor    []float32 `yaml:"short_factor"`     // Su
}

// Profile describes how to convert one checkpoint.
//
// Example YAML:
//
//	architecture: llama
//	quantization: int8
//	layer_norm_epsilon: 1e-5
//	decoder:
//	  num_layers: 16
//	  num_heads: 32
//	  activation: SWISH
//	  ffn_glu: true
//	  rms_norm: true
//	  scale_embeddings: false
//	  attention:
//	    rotary_dim: 0
//	    rotary_interleave: false
//	    rotary_base: 500000
//	    num_heads_kv: 8
type Profile struct {
	Architecture      string               `yaml:"architecture"` // Weight name mapping, see loader.GetMapper
	Decoder           layers.DecoderConfig `yaml:"decoder"`
	Quantization      quantize.Mode        `yaml:"quantization"`
	LayerNormEpsilon  float64              `yaml:"layer_norm_epsilon"`
	TieWordEmbeddings bool                 `yaml:"tie_word_embeddings"` // Projection shares the embeddings
	RopeScaling       *RopeScaling         `yaml:"rope_scaling"`
	Tokens            vocab.SpecialTokens  `yaml:"tokens"`

	// Vocabulary is a tokenizer.json path, "tiktoken:<encoding>", or empty for the
	// checkpoint's tokenizer.json.
	Vocabulary string `yaml:"vocabulary"`
}

// DefaultProfile returns a LLaMA-style profile without layer counts.
func DefaultProfile() Profile {
	dec := layers.DefaultDecoderConfig()
	dec.FFNGLU = true
	dec.RMSNorm = true
	dec.ScaleEmbeddings = false
	return Profile{
		Decoder:          dec,
		Quantization:     quantize.Float32,
		LayerNormEpsilon: 1e-6,
	}
}

// ParseProfile decodes a YAML profile on top of DefaultProfile. Unknown keys are errors.
func ParseProfile(r io.Reader) (Profile, error) {
	p := DefaultProfile()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return Profile{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	return p, p.Check()
}

// LoadProfile reads a YAML profile file.
func LoadProfile(path string) (Profile, error) {
	//nolint:gosec // G304: profile path is user input
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile: %w", err)
	}
	p, err := ParseProfile(bytes.NewReader(data))
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Check reports profile values that cannot produce a decoder.
func (p Profile) Check() error {
	if p.Decoder.NumLayers <= 0 {
		return fmt.Errorf("profile: decoder.num_layers must be positive, got %d", p.Decoder.NumLayers)
	}
	if p.Decoder.NumHeads <= 0 {
		return fmt.Errorf("profile: decoder.num_heads must be positive, got %d", p.Decoder.NumHeads)
	}
	if _, err := quantize.ParseMode(string(p.Quantization)); err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	return nil
}
