package layers

import (
	"fmt"

	"github.com/born-ml/ct2spec/internal/enums"
	"github.com/born-ml/ct2spec/internal/spec"
)

// AttentionConfig configures a MultiHeadAttentionSpec.
//
// Pointer fields are unset when nil. Zero-valued position bounds are not declared.
// Start from DefaultAttentionConfig to get the runtime defaults for the rotary group.
type AttentionConfig struct {
	SelfAttention              bool `yaml:"self_attention"`               // 2 projections (fused QKV + output) instead of 3
	RelativePosition           bool `yaml:"relative_position"`            // Shaw et al. relative position keys/values
	RelativeAsymmetricPosition bool `yaml:"relative_asymmetric_position"` // Asymmetric relative position keys
	RelativeAttentionBias      bool `yaml:"relative_attention_bias"`      // T5-style bucketed bias
	RMSNorm                    bool `yaml:"rms_norm"`                     // RMS normalization for the layer norm child
	LowRank                    bool `yaml:"low_rank"`                     // 4 low-rank projections

	RotaryDim           *int                     `yaml:"rotary_dim"`            // 0 rotates the full head dimension
	RotaryInterleave    bool                     `yaml:"rotary_interleave"`     // Default: true
	RotaryScalingType   *enums.RotaryScalingType `yaml:"rotary_scaling_type"`   // Requires RotaryDim
	RotaryScalingFactor float32                  `yaml:"rotary_scaling_factor"` // Linear scaling only. Default: 1
	RotaryBase          float32                  `yaml:"rotary_base"`           // Default: 10000

	OriginalMaxPositionEmbeddings int `yaml:"original_max_position_embeddings"`
	MaxPositionEmbeddings         int `yaml:"max_position_embeddings"`

	NumHeadsKV    *int `yaml:"num_heads_kv"`
	HeadDim       *int `yaml:"head_dim"`
	SlidingWindow *int `yaml:"sliding_window"`
}

// DefaultAttentionConfig returns the runtime defaults: no optional groups,
// interleaved rotary embeddings, scaling factor 1 and base 10000.
func DefaultAttentionConfig() AttentionConfig {
	return AttentionConfig{
		RotaryInterleave:    true,
		RotaryScalingFactor: 1,
		RotaryBase:          10000,
	}
}

// validate checks the flags that cannot be expressed by the resulting attribute set.
func (cfg AttentionConfig) validate() error {
	if cfg.RotaryScalingType != nil {
		if _, err := enums.RotaryScalingTypes.Name(*cfg.RotaryScalingType); err != nil {
			return fmt.Errorf("multi-head attention: %w", err)
		}
		if cfg.RotaryDim == nil {
			return &spec.FlagError{
				Builder: "multi-head attention",
				Details: fmt.Sprintf("rotary_scaling_type %s set without rotary_dim", *cfg.RotaryScalingType),
			}
		}
	}
	if cfg.RotaryDim != nil && *cfg.RotaryDim < 0 {
		return &spec.FlagError{
			Builder: "multi-head attention",
			Details: fmt.Sprintf("negative rotary_dim %d", *cfg.RotaryDim),
		}
	}
	return nil
}

// RotaryScaling is one of the mutually exclusive rotary scaling parameter groups:
// *LinearRotaryScaling, *SuRotaryScaling or *Llama3RotaryScaling.
type RotaryScaling interface {
	// Type returns the scaling kind stored in rotary_scaling_type.
	Type() enums.RotaryScalingType
	fields() []spec.Field
}

// LinearRotaryScaling divides positions by a constant factor.
type LinearRotaryScaling struct {
	Factor spec.Slot // rotary_scaling_factor, float32
}

// Type implements RotaryScaling.
func (*LinearRotaryScaling) Type() enums.RotaryScalingType { return enums.RotaryScalingLinear }

func (s *LinearRotaryScaling) fields() []spec.Field {
	return []spec.Field{spec.SlotField("rotary_scaling_factor", &s.Factor)}
}

// SuRotaryScaling carries per-dimension long and short factors. Both are filled by the
// conversion driver from the checkpoint configuration.
type SuRotaryScaling struct {
	LongFactor  spec.Slot // rotary_scaling_long_factor
	ShortFactor spec.Slot // rotary_scaling_short_factor
}

// Type implements RotaryScaling.
func (*SuRotaryScaling) Type() enums.RotaryScalingType { return enums.RotaryScalingSu }

func (s *SuRotaryScaling) fields() []spec.Field {
	return []spec.Field{
		spec.SlotField("rotary_scaling_long_factor", &s.LongFactor),
		spec.SlotField("rotary_scaling_short_factor", &s.ShortFactor),
	}
}

// Llama3RotaryScaling carries the low and high frequency factors of Llama 3 scaling.
type Llama3RotaryScaling struct {
	LowFreqFactor  spec.Slot // rotary_low_freq_factor, float32
	HighFreqFactor spec.Slot // rotary_high_freq_factor, float32
}

// Type implements RotaryScaling.
func (*Llama3RotaryScaling) Type() enums.RotaryScalingType { return enums.RotaryScalingLlama3 }

func (s *Llama3RotaryScaling) fields() []spec.Field {
	return []spec.Field{
		spec.SlotField("rotary_low_freq_factor", &s.LowFreqFactor),
		spec.SlotField("rotary_high_freq_factor", &s.HighFreqFactor),
	}
}

// Rotary is the rotary embedding group. It exists iff a rotary dimension was configured.
type Rotary struct {
	Dim         spec.Slot     // rotary_dim, int32
	Interleave  spec.Slot     // rotary_interleave, bool
	Base        spec.Slot     // rotary_base, float32
	ScalingType *spec.Slot    // rotary_scaling_type, int8; nil without scaling
	Scaling     RotaryScaling // nil without scaling
}

func (r *Rotary) fields() []spec.Field {
	fields := []spec.Field{
		spec.SlotField("rotary_dim", &r.Dim),
		spec.SlotField("rotary_interleave", &r.Interleave),
		spec.SlotField("rotary_base", &r.Base),
	}
	if r.ScalingType != nil {
		fields = append(fields, spec.SlotField("rotary_scaling_type", r.ScalingType))
	}
	if r.Scaling != nil {
		fields = append(fields, r.Scaling.fields()...)
	}
	return fields
}

// MultiHeadAttentionSpec declares a multi-head attention block.
//
// Self-attention uses a fused query/key/value projection and an output projection
// (2 linear children). Cross-attention projects queries and fused keys/values
// separately (3 linear children). Low-rank mode replaces them with 4 low-rank
// projections.
//
// All other groups are nil unless enabled by the configuration.
type MultiHeadAttentionSpec struct {
	QueriesScale  spec.Slot
	LayerNorm     *LayerNormSpec
	Linear        []*LinearSpec        // nil in low-rank mode
	LowRankLinear []*LowRankLinearSpec // nil unless low-rank mode

	RelativePositionKeys   *spec.Slot
	RelativePositionValues *spec.Slot

	RelativeAttentionBias        *spec.Slot
	RelativeAttentionMaxDistance *spec.Slot // int32

	RelativeAsymmetricPositionKeys *spec.Slot
	RelativeLeftMaxPosition        *spec.Slot // int32
	RelativeRightMaxPosition       *spec.Slot // int32

	OriginalMaxPositionEmbeddings *spec.Slot
	MaxPositionEmbeddings         *spec.Slot

	Rotary *Rotary

	NumHeadsKV    *spec.Slot
	HeadDim       *spec.Slot
	SlidingWindow *spec.Slot
}

// NewMultiHeadAttentionSpec creates a MultiHeadAttentionSpec.
//
// Every attribute group enabled by cfg is declared here, once. Constants known from the
// configuration (rotary_dim, rotary_base, num_heads_kv, ...) are filled immediately as
// fixed-width scalars; weights and tables are left for the conversion driver.
//
// Returns an error wrapping spec.ErrInvalidFlagCombination for contradictory flags
// (a rotary scaling kind without a rotary dimension), enums.ErrEnumVersionSkew for an
// unknown scaling kind, and spec.ErrRange for values that do not fit their type.
//
// Example:
//
//	cfg := layers.DefaultAttentionConfig()
//	cfg.SelfAttention = true
//	cfg.RMSNorm = true
//	cfg.RotaryDim = ptr(0)
//	cfg.NumHeadsKV = ptr(8)
//	mha, err := layers.NewMultiHeadAttentionSpec(cfg)
//	// mha.Linear has 2 elements; rotary_dim, rotary_interleave, rotary_base
//	// and num_heads_kv are filled.
func NewMultiHeadAttentionSpec(cfg AttentionConfig) (*MultiHeadAttentionSpec, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	mha := &MultiHeadAttentionSpec{
		QueriesScale: spec.NewOptional(),
		LayerNorm:    NewLayerNormSpec(cfg.RMSNorm),
	}

	switch {
	case cfg.LowRank:
		mha.LowRankLinear = make([]*LowRankLinearSpec, 4)
		for i := range mha.LowRankLinear {
			mha.LowRankLinear[i] = NewLowRankLinearSpec()
		}
	case cfg.SelfAttention:
		mha.Linear = []*LinearSpec{NewLinearSpec(), NewLinearSpec()}
	default:
		mha.Linear = []*LinearSpec{NewLinearSpec(), NewLinearSpec(), NewLinearSpec()}
	}

	if cfg.RelativePosition {
		mha.RelativePositionKeys = requiredSlot()
		mha.RelativePositionValues = requiredSlot()
	}
	if cfg.RelativeAttentionBias {
		mha.RelativeAttentionBias = requiredSlot()
		mha.RelativeAttentionMaxDistance = requiredSlot()
	}
	if cfg.RelativeAsymmetricPosition {
		mha.RelativeAsymmetricPositionKeys = requiredSlot()
		mha.RelativeLeftMaxPosition = requiredSlot()
		mha.RelativeRightMaxPosition = requiredSlot()
	}

	var err error
	if cfg.OriginalMaxPositionEmbeddings != 0 {
		if mha.OriginalMaxPositionEmbeddings, err = int32Slot("original_max_position_embeddings", cfg.OriginalMaxPositionEmbeddings); err != nil {
			return nil, err
		}
	}
	if cfg.MaxPositionEmbeddings != 0 {
		if mha.MaxPositionEmbeddings, err = int32Slot("max_position_embeddings", cfg.MaxPositionEmbeddings); err != nil {
			return nil, err
		}
	}

	if cfg.RotaryDim != nil {
		if mha.Rotary, err = newRotary(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.NumHeadsKV != nil {
		if mha.NumHeadsKV, err = int32Slot("num_heads_kv", *cfg.NumHeadsKV); err != nil {
			return nil, err
		}
	}
	if cfg.HeadDim != nil {
		if mha.HeadDim, err = int32Slot("head_dim", *cfg.HeadDim); err != nil {
			return nil, err
		}
	}
	if cfg.SlidingWindow != nil {
		if mha.SlidingWindow, err = int32Slot("sliding_window", *cfg.SlidingWindow); err != nil {
			return nil, err
		}
	}

	return mha, nil
}

func newRotary(cfg AttentionConfig) (*Rotary, error) {
	dim, err := spec.Int32(int64(*cfg.RotaryDim))
	if err != nil {
		return nil, fmt.Errorf("rotary_dim: %w", err)
	}
	base, err := spec.Float32(float64(cfg.RotaryBase))
	if err != nil {
		return nil, fmt.Errorf("rotary_base: %w", err)
	}

	r := &Rotary{
		Dim:        spec.NewFilled(dim),
		Interleave: spec.NewFilled(spec.Bool(cfg.RotaryInterleave)),
		Base:       spec.NewFilled(base),
	}
	if cfg.RotaryScalingType == nil {
		return r, nil
	}

	kind := *cfg.RotaryScalingType
	code, err := spec.Int8(int64(kind))
	if err != nil {
		return nil, fmt.Errorf("rotary_scaling_type: %w", err)
	}
	r.ScalingType = filledSlot(code)

	switch kind {
	case enums.RotaryScalingLinear:
		factor, err := spec.Float32(float64(cfg.RotaryScalingFactor))
		if err != nil {
			return nil, fmt.Errorf("rotary_scaling_factor: %w", err)
		}
		r.Scaling = &LinearRotaryScaling{Factor: spec.NewFilled(factor)}
	case enums.RotaryScalingSu:
		r.Scaling = &SuRotaryScaling{LongFactor: spec.NewRequired(), ShortFactor: spec.NewRequired()}
	case enums.RotaryScalingLlama3:
		r.Scaling = &Llama3RotaryScaling{LowFreqFactor: spec.NewRequired(), HighFreqFactor: spec.NewRequired()}
	}
	return r, nil
}

func int32Slot(name string, v int) (*spec.Slot, error) {
	s, err := spec.Int32(int64(v))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return filledSlot(s), nil
}

// Fields implements spec.Spec.
func (m *MultiHeadAttentionSpec) Fields() []spec.Field {
	fields := []spec.Field{
		spec.SlotField("queries_scale", &m.QueriesScale),
		spec.SpecField("layer_norm", m.LayerNorm),
	}
	if m.LowRankLinear != nil {
		fields = append(fields, spec.ListField("linear", m.LowRankLinear))
	} else {
		fields = append(fields, spec.ListField("linear", m.Linear))
	}

	fields = appendSlot(fields, "relative_position_keys", m.RelativePositionKeys)
	fields = appendSlot(fields, "relative_position_values", m.RelativePositionValues)
	fields = appendSlot(fields, "relative_attention_bias", m.RelativeAttentionBias)
	fields = appendSlot(fields, "relative_attention_max_distance", m.RelativeAttentionMaxDistance)
	fields = appendSlot(fields, "relative_asymmetric_position_keys", m.RelativeAsymmetricPositionKeys)
	fields = appendSlot(fields, "relative_left_max_position", m.RelativeLeftMaxPosition)
	fields = appendSlot(fields, "relative_right_max_position", m.RelativeRightMaxPosition)
	fields = appendSlot(fields, "original_max_position_embeddings", m.OriginalMaxPositionEmbeddings)
	fields = appendSlot(fields, "max_position_embeddings", m.MaxPositionEmbeddings)

	if m.Rotary != nil {
		fields = append(fields, m.Rotary.fields()...)
	}

	fields = appendSlot(fields, "num_heads_kv", m.NumHeadsKV)
	fields = appendSlot(fields, "head_dim", m.HeadDim)
	fields = appendSlot(fields, "sliding_window", m.SlidingWindow)
	return fields
}

// Validate implements spec.Validator.
//
// Fields are exported, so a caller can still assemble a block that no builder
// produces. Validate rejects those before serialization.
func (m *MultiHeadAttentionSpec) Validate() error {
	switch {
	case m.Linear != nil && m.LowRankLinear != nil:
		return &spec.FlagError{Builder: "multi-head attention", Details: "both linear and low-rank projections declared"}
	case m.LowRankLinear != nil && len(m.LowRankLinear) != 4:
		return &spec.FlagError{Builder: "multi-head attention", Details: fmt.Sprintf("%d low-rank projections, want 4", len(m.LowRankLinear))}
	case m.LowRankLinear == nil && len(m.Linear) != 2 && len(m.Linear) != 3:
		return &spec.FlagError{Builder: "multi-head attention", Details: fmt.Sprintf("%d linear projections, want 2 or 3", len(m.Linear))}
	}

	if r := m.Rotary; r != nil {
		if (r.ScalingType == nil) != (r.Scaling == nil) {
			return &spec.FlagError{Builder: "multi-head attention", Details: "rotary_scaling_type and scaling parameters must be declared together"}
		}
		if r.Scaling != nil {
			code, ok := r.ScalingType.Scalar()
			if ok && enums.RotaryScalingType(code.Int()) != r.Scaling.Type() {
				return &spec.FlagError{
					Builder: "multi-head attention",
					Details: fmt.Sprintf("rotary_scaling_type %d does not match %s parameters", code.Int(), r.Scaling.Type()),
				}
			}
		}
	}

	if err := checkScalarType("relative_attention_max_distance", m.RelativeAttentionMaxDistance, spec.Int32Type); err != nil {
		return err
	}
	if err := checkScalarType("relative_left_max_position", m.RelativeLeftMaxPosition, spec.Int32Type); err != nil {
		return err
	}
	if err := checkScalarType("relative_right_max_position", m.RelativeRightMaxPosition, spec.Int32Type); err != nil {
		return err
	}
	if m.Rotary == nil {
		return nil
	}
	if s, ok := m.Rotary.Scaling.(*Llama3RotaryScaling); ok {
		if err := checkScalarType("rotary_low_freq_factor", &s.LowFreqFactor, spec.Float32Type); err != nil {
			return err
		}
		if err := checkScalarType("rotary_high_freq_factor", &s.HighFreqFactor, spec.Float32Type); err != nil {
			return err
		}
	}
	return nil
}

// checkScalarType rejects a filled scalar whose tag differs from the declared one.
func checkScalarType(name string, slot *spec.Slot, want spec.DType) error {
	if slot == nil {
		return nil
	}
	s, ok := slot.Scalar()
	if !ok || s.DType() == want {
		return nil
	}
	return fmt.Errorf("%s: declared %s, filled with %s", name, want, s.DType())
}

func appendSlot(fields []spec.Field, name string, slot *spec.Slot) []spec.Field {
	if slot == nil {
		return fields
	}
	return append(fields, spec.SlotField(name, slot))
}
