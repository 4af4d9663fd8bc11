package convert

import (
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/born-ml/ct2spec/internal/enums"
	"github.com/born-ml/ct2spec/internal/loader"
	"github.com/born-ml/ct2spec/internal/quantize"
)

// HFConfigFileName is the model configuration file of a Hugging Face checkpoint.
const HFConfigFileName = "config.json"

type hfRopeScaling struct {
	Type                          string    `json:"type"`
	RopeType                      string    `json:"rope_type"`
	Factor                        float32   `json:"factor"`
	LowFreqFactor                 float32   `json:"low_freq_factor"`
	HighFreqFactor                float32   `json:"high_freq_factor"`
	OriginalMaxPositionEmbeddings int       `json:"original_max_position_embeddings"`
	LongFactor                    []float32 `json:"long_factor"`
	ShortFactor                   []float32 `json:"short_factor"`
}

// kind returns the scaling kind; newer configs use rope_type.
func (r *hfRopeScaling) kind() string {
	if r.RopeType != "" {
		return strings.ToLower(r.RopeType)
	}
	return strings.ToLower(r.Type)
}

type hfConfig struct {
	ModelType             string         `json:"model_type"`
	HiddenSize            int            `json:"hidden_size"`
	NumHiddenLayers       int            `json:"num_hidden_layers"`
	NumAttentionHeads     int            `json:"num_attention_heads"`
	NumKeyValueHeads      int            `json:"num_key_value_heads"`
	HeadDim               int            `json:"head_dim"`
	HiddenAct             string         `json:"hidden_act"`
	RMSNormEps            float64        `json:"rms_norm_eps"`
	RopeTheta             float32        `json:"rope_theta"`
	RopeScaling           *hfRopeScaling `json:"rope_scaling"`
	MaxPositionEmbeddings int            `json:"max_position_embeddings"`
	SlidingWindow         *int           `json:"sliding_window"`
	TieWordEmbeddings     bool           `json:"tie_word_embeddings"`

	// Phi-3 style configs keep it next to max_position_embeddings.
	OriginalMaxPositionEmbeddings int `json:"original_max_position_embeddings"`
}

var hfActivations = map[string]enums.Activation{
	"silu":              enums.Swish,
	"swish":             enums.Swish,
	"gelu":              enums.GELU,
	"gelu_new":          enums.GELUTanh,
	"gelu_pytorch_tanh": enums.GELUTanh,
	"relu":              enums.ReLU,
	"sigmoid":           enums.Sigmoid,
	"tanh":              enums.Tanh,
}

// ProfileFromHF derives a profile from a Hugging Face config.json.
//
// LLaMA-family checkpoints rotate the full head dimension with non-interleaved (half
// split) rotary embeddings, which maps to rotary_dim 0 and rotary_interleave false.
func ProfileFromHF(path string) (Profile, error) {
	//nolint:gosec // G304: path built from the model directory
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read %s: %w", HFConfigFileName, err)
	}
	var cfg hfConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Profile{}, fmt.Errorf("failed to parse %s: %w", HFConfigFileName, err)
	}

	if _, err := loader.GetMapper(cfg.ModelType); err != nil {
		return Profile{}, err
	}

	p := DefaultProfile()
	p.Architecture = cfg.ModelType
	p.TieWordEmbeddings = cfg.TieWordEmbeddings
	if cfg.RMSNormEps > 0 {
		p.LayerNormEpsilon = cfg.RMSNormEps
	}

	dec := &p.Decoder
	dec.NumLayers = cfg.NumHiddenLayers
	dec.NumHeads = cfg.NumAttentionHeads
	if cfg.HiddenAct != "" {
		act, ok := hfActivations[strings.ToLower(cfg.HiddenAct)]
		if !ok {
			return Profile{}, fmt.Errorf("unsupported hidden_act %q", cfg.HiddenAct)
		}
		dec.Activation = act
	} else {
		dec.Activation = enums.Swish
	}

	att := &dec.Attention
	att.RotaryDim = intPtr(0)
	att.RotaryInterleave = false
	if cfg.RopeTheta > 0 {
		att.RotaryBase = cfg.RopeTheta
	}
	if cfg.NumKeyValueHeads > 0 && cfg.NumKeyValueHeads != cfg.NumAttentionHeads {
		att.NumHeadsKV = intPtr(cfg.NumKeyValueHeads)
	}
	if cfg.HeadDim > 0 && cfg.NumAttentionHeads > 0 && cfg.HeadDim*cfg.NumAttentionHeads != cfg.HiddenSize {
		att.HeadDim = intPtr(cfg.HeadDim)
	}
	if cfg.SlidingWindow != nil && *cfg.SlidingWindow > 0 {
		att.SlidingWindow = intPtr(*cfg.SlidingWindow)
	}

	if rs := cfg.RopeScaling; rs != nil {
		if rs.OriginalMaxPositionEmbeddings == 0 {
			rs.OriginalMaxPositionEmbeddings = cfg.OriginalMaxPositionEmbeddings
		}
		if err := applyRopeScaling(&p, rs, cfg.MaxPositionEmbeddings); err != nil {
			return Profile{}, err
		}
	}
	return p, p.Check()
}

func applyRopeScaling(p *Profile, rs *hfRopeScaling, maxPositions int) error {
	att := &p.Decoder.Attention
	var kind enums.RotaryScalingType
	switch rs.kind() {
	case "linear":
		kind = enums.RotaryScalingLinear
		att.RotaryScalingFactor = rs.Factor
	case "llama3":
		kind = enums.RotaryScalingLlama3
		p.RopeScaling = &RopeScaling{LowFreqFactor: rs.LowFreqFactor, HighFreqFactor: rs.HighFreqFactor}
		att.OriginalMaxPositionEmbeddings = rs.OriginalMaxPositionEmbeddings
	case "su", "longrope":
		kind = enums.RotaryScalingSu
		p.RopeScaling = &RopeScaling{LongFactor: rs.LongFactor, ShortFactor: rs.ShortFactor}
		att.OriginalMaxPositionEmbeddings = rs.OriginalMaxPositionEmbeddings
		att.MaxPositionEmbeddings = maxPositions
	case "default", "":
		return nil
	default:
		return fmt.Errorf("unsupported rope_scaling type %q", rs.kind())
	}
	att.RotaryScalingType = &kind
	return nil
}

func intPtr(v int) *int {
	return &v
}

// resolveProfile returns the profile of a conversion: opts.Profile if set, else the one
// derived from the checkpoint's config.json. A non-empty opts.Quantization overrides the
// profile's mode.
func resolveProfile(opts Options, configPath string) (Profile, error) {
	var p Profile
	if opts.Profile != nil {
		p = *opts.Profile
		if err := p.Check(); err != nil {
			return Profile{}, err
		}
	} else {
		var err error
		if p, err = ProfileFromHF(configPath); err != nil {
			return Profile{}, err
		}
	}
	if opts.Quantization != "" {
		mode, err := quantize.ParseMode(string(opts.Quantization))
		if err != nil {
			return Profile{}, err
		}
		p.Quantization = mode
	}
	return p, nil
}
