package loader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/ct2spec/internal/spec"
)

// Architecture names, as found in the model_type field of config.json.
const (
	ArchitectureLLaMA   = "llama"
	ArchitectureMistral = "mistral"
	ArchitectureQwen2   = "qwen2"
)

// Target is the spec attribute a checkpoint tensor is written to.
//
// Fused attributes are assembled from several source tensors: Part is the index of this
// tensor among Parts, concatenated along the first dimension.
type Target struct {
	Path  string
	Part  int
	Parts int
}

// IsFused reports whether the target is assembled from several tensors.
func (t Target) IsFused() bool {
	return t.Parts > 1
}

// WeightMapper maps checkpoint tensor names to spec attribute paths.
type WeightMapper interface {
	// Map returns the target of a checkpoint tensor. ok is false for tensors with no
	// spec equivalent, which are skipped.
	Map(name string) (target Target, ok bool, err error)

	// Architecture returns the architecture name (e.g., "llama", "mistral").
	Architecture() string
}

// LLaMAMapper maps LLaMA weight names onto TransformerDecoderSpec paths.
// Supports LLaMA 1-3 and dense models sharing its layout (Mistral, Qwen2).
//
// LLaMA format:
//   - model.embed_tokens.weight -> decoder/embeddings/weight
//   - model.layers.{i}.self_attn.{q,k,v}_proj.weight -> decoder/layer_{i}/self_attention/linear_0/weight (fused)
//   - model.layers.{i}.mlp.gate_proj.weight -> decoder/layer_{i}/ffn/linear_0/weight
//   - model.norm.weight -> decoder/layer_norm/gamma
type LLaMAMapper struct {
	arch string
}

// NewLLaMAMapper creates a new LLaMA weight mapper.
func NewLLaMAMapper() *LLaMAMapper {
	return &LLaMAMapper{arch: ArchitectureLLaMA}
}

// Map implements WeightMapper.
func (m *LLaMAMapper) Map(name string) (Target, bool, error) {
	switch name {
	case "model.embed_tokens.weight":
		return Target{Path: "decoder/embeddings/weight"}, true, nil
	case "model.norm.weight":
		return Target{Path: "decoder/layer_norm/gamma"}, true, nil
	case "lm_head.weight":
		return Target{Path: "decoder/projection/weight"}, true, nil
	}

	if strings.HasPrefix(name, "model.layers.") {
		return m.mapLayerWeight(name)
	}
	return Target{}, false, nil
}

// mapLayerWeight maps model.layers.{i}.* weights.
func (m *LLaMAMapper) mapLayerWeight(name string) (Target, bool, error) {
	parts := strings.Split(name, ".")
	if len(parts) < 5 {
		return Target{}, false, fmt.Errorf("malformed layer weight name %q", name)
	}
	idx, err := strconv.Atoi(parts[2])
	if err != nil || idx < 0 {
		return Target{}, false, fmt.Errorf("malformed layer index in %q", name)
	}
	layer := "decoder/layer_" + parts[2]
	rest := strings.Join(parts[3:], ".")

	// Rotary frequencies are recomputed by the runtime.
	if strings.HasSuffix(rest, "rotary_emb.inv_freq") {
		return Target{}, false, nil
	}

	switch rest {
	case "input_layernorm.weight":
		return Target{Path: spec.Join(layer, "self_attention/layer_norm/gamma")}, true, nil
	case "post_attention_layernorm.weight":
		return Target{Path: spec.Join(layer, "ffn/layer_norm/gamma")}, true, nil
	case "self_attn.o_proj.weight":
		return Target{Path: spec.Join(layer, "self_attention/linear_1/weight")}, true, nil
	case "self_attn.o_proj.bias":
		return Target{Path: spec.Join(layer, "self_attention/linear_1/bias")}, true, nil
	case "mlp.gate_proj.weight":
		return Target{Path: spec.Join(layer, "ffn/linear_0/weight")}, true, nil
	case "mlp.up_proj.weight":
		return Target{Path: spec.Join(layer, "ffn/linear_0_noact/weight")}, true, nil
	case "mlp.down_proj.weight":
		return Target{Path: spec.Join(layer, "ffn/linear_1/weight")}, true, nil
	}

	// q, k and v are fused into one projection.
	for part, proj := range []string{"q_proj", "k_proj", "v_proj"} {
		for _, kind := range []string{"weight", "bias"} {
			if rest == "self_attn."+proj+"."+kind {
				return Target{
					Path:  spec.Join(layer, "self_attention/linear_0", kind),
					Part:  part,
					Parts: 3,
				}, true, nil
			}
		}
	}

	if strings.HasPrefix(rest, "block_sparse_moe.") || strings.HasPrefix(rest, "mlp.experts.") {
		return Target{}, false, fmt.Errorf("%w: mixture-of-experts weight %q", ErrUnknownArchitecture, name)
	}
	return Target{}, false, nil
}

// Architecture returns the architecture this mapper was created for.
func (m *LLaMAMapper) Architecture() string {
	return m.arch
}

// DetectArchitecture attempts to detect model architecture from weight names.
func DetectArchitecture(names []string) string {
	for _, name := range names {
		// Qwen2 is the LLaMA layout with biased q/k/v projections.
		if strings.HasSuffix(name, "self_attn.q_proj.bias") {
			return ArchitectureQwen2
		}
	}
	return ArchitectureLLaMA
}

// GetMapper returns the weight mapper for an architecture.
func GetMapper(architecture string) (WeightMapper, error) {
	switch architecture {
	case ArchitectureLLaMA, ArchitectureMistral, ArchitectureQwen2:
		return &LLaMAMapper{arch: architecture}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownArchitecture, architecture)
	}
}
