package layers

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/born-ml/ct2spec/internal/enums"
	"github.com/born-ml/ct2spec/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// topLevel returns the declared attributes of node that are not nested in a child.
func topLevel(node spec.Spec) []string {
	var names []string
	for _, name := range spec.Declared(node) {
		if !strings.Contains(name, spec.Separator) {
			names = append(names, name)
		}
	}
	return names
}

func filledNames(t *testing.T, node spec.Spec) []string {
	t.Helper()
	var names []string
	err := spec.Walk(node, "", nil, func(scope, name string, slot *spec.Slot) error {
		if slot.IsFilled() {
			names = append(names, spec.Join(scope, name))
		}
		return nil
	})
	require.NoError(t, err)
	return names
}

func tensor(t *testing.T, values ...float32) *spec.Tensor {
	t.Helper()
	w, err := spec.FromFloat32([]int{len(values)}, values)
	require.NoError(t, err)
	return w
}

func TestLayerNormSpec(t *testing.T) {
	assert.Equal(t, []string{"gamma", "beta"}, spec.Declared(NewLayerNormSpec(false)))
	assert.Equal(t, []string{"gamma", "layer_norm_use_residual"}, spec.Declared(NewLayerNormSpec(true)))
	assert.True(t, NewLayerNormSpec(true).IsRMS())

	ln := NewLayerNormSpec(true)
	require.NoError(t, ln.Gamma.Set(tensor(t, 1, 1)))
	vars, err := spec.Flatten(ln, "decoder/layer_norm")
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "decoder/layer_norm/gamma", vars[0].Name)
}

func TestLinearSpec_Bias(t *testing.T) {
	t.Run("bias never filled", func(t *testing.T) {
		l := NewLinearSpec()
		require.NoError(t, l.Weight.Set(tensor(t, 1, 2)))
		assert.False(t, l.HasBias())

		vars, err := spec.Flatten(l, "")
		require.NoError(t, err)
		require.Len(t, vars, 1)
		assert.Equal(t, "weight", vars[0].Name)
	})

	t.Run("bias filled with float32 scalar", func(t *testing.T) {
		l := NewLinearSpec()
		require.NoError(t, l.Weight.Set(tensor(t, 1, 2)))
		bias, err := spec.Float32(0.5)
		require.NoError(t, err)
		require.NoError(t, l.Bias.Set(bias))
		assert.True(t, l.HasBias())

		vars, err := spec.Flatten(l, "")
		require.NoError(t, err)
		require.Len(t, vars, 2)
		assert.Equal(t, "bias", vars[1].Name)
		assert.Len(t, vars[1].Value.Bytes(), 4)
	})

	t.Run("weight missing", func(t *testing.T) {
		_, err := spec.Flatten(NewLinearSpec(), "decoder/projection")
		var incomplete *spec.IncompleteError
		require.ErrorAs(t, err, &incomplete)
		assert.Equal(t, "decoder/projection", incomplete.Path)
		assert.Equal(t, "weight", incomplete.Attribute)
	})
}

func TestCommonSpecs_Declared(t *testing.T) {
	assert.Equal(t,
		[]string{"low_rank_weight_1", "low_rank_weight_2", "weight_scale", "weight_zero", "bias"},
		spec.Declared(NewLowRankLinearSpec()))
	assert.Equal(t, []string{"weight", "weight_scale", "bias"}, spec.Declared(NewConv1DSpec()))
	assert.Equal(t, []string{"weight", "weight_scale", "multiply_by_sqrt_depth"}, spec.Declared(NewEmbeddingsSpec()))
}

func TestMultiHeadAttention_LinearCount(t *testing.T) {
	tests := []struct {
		name    string
		self    bool
		lowRank bool
		want    int
	}{
		{"self attention", true, false, 2},
		{"cross attention", false, false, 3},
		{"low rank", true, true, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAttentionConfig()
			cfg.SelfAttention = tt.self
			cfg.LowRank = tt.lowRank

			mha, err := NewMultiHeadAttentionSpec(cfg)
			require.NoError(t, err)

			var linear spec.Field
			for _, f := range mha.Fields() {
				if f.Name == "linear" {
					linear = f
				}
			}
			assert.Len(t, linear.List, tt.want)
			assert.NoError(t, mha.Validate())
		})
	}
}

func TestMultiHeadAttention_DefaultShape(t *testing.T) {
	cfg := DefaultAttentionConfig()
	cfg.SelfAttention = true
	mha, err := NewMultiHeadAttentionSpec(cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"queries_scale"}, topLevel(mha))
	assert.Nil(t, mha.Rotary)
	assert.Nil(t, mha.NumHeadsKV)
	assert.Empty(t, filledNames(t, mha))
}

func TestMultiHeadAttention_RotaryPresence(t *testing.T) {
	tests := []struct {
		name    string
		scaling *enums.RotaryScalingType
		want    []string
	}{
		{
			name: "no scaling",
			want: []string{"rotary_dim", "rotary_interleave", "rotary_base"},
		},
		{
			name:    "linear",
			scaling: ptr(enums.RotaryScalingLinear),
			want:    []string{"rotary_dim", "rotary_interleave", "rotary_base", "rotary_scaling_type", "rotary_scaling_factor"},
		},
		{
			name:    "su",
			scaling: ptr(enums.RotaryScalingSu),
			want: []string{"rotary_dim", "rotary_interleave", "rotary_base", "rotary_scaling_type",
				"rotary_scaling_long_factor", "rotary_scaling_short_factor"},
		},
		{
			name:    "llama3",
			scaling: ptr(enums.RotaryScalingLlama3),
			want: []string{"rotary_dim", "rotary_interleave", "rotary_base", "rotary_scaling_type",
				"rotary_low_freq_factor", "rotary_high_freq_factor"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAttentionConfig()
			cfg.SelfAttention = true
			cfg.RotaryDim = ptr(64)
			cfg.RotaryScalingType = tt.scaling

			mha, err := NewMultiHeadAttentionSpec(cfg)
			require.NoError(t, err)

			var rotary []string
			for _, name := range topLevel(mha) {
				if strings.HasPrefix(name, "rotary_") {
					rotary = append(rotary, name)
				}
			}
			assert.Equal(t, tt.want, rotary)

			if tt.scaling != nil {
				require.NotNil(t, mha.Rotary.Scaling)
				assert.Equal(t, *tt.scaling, mha.Rotary.Scaling.Type())
				code, ok := mha.Rotary.ScalingType.Scalar()
				require.True(t, ok)
				assert.Equal(t, int64(*tt.scaling), code.Int())
				assert.Equal(t, spec.Int8Type, code.DType())
			}
			assert.NoError(t, mha.Validate())
		})
	}
}

func TestMultiHeadAttention_RotaryValues(t *testing.T) {
	cfg := DefaultAttentionConfig()
	cfg.SelfAttention = true
	cfg.RotaryDim = ptr(0)
	cfg.RotaryInterleave = false
	cfg.RotaryBase = 500000
	cfg.RotaryScalingType = ptr(enums.RotaryScalingLinear)
	cfg.RotaryScalingFactor = 4

	mha, err := NewMultiHeadAttentionSpec(cfg)
	require.NoError(t, err)

	dim, _ := mha.Rotary.Dim.Scalar()
	assert.Equal(t, spec.Int32Type, dim.DType())
	assert.Equal(t, int64(0), dim.Int())

	interleave, _ := mha.Rotary.Interleave.Scalar()
	assert.False(t, interleave.Bool())

	base, _ := mha.Rotary.Base.Scalar()
	assert.Equal(t, spec.Float32Type, base.DType())
	assert.InDelta(t, 500000, base.Float(), 0)

	linear, ok := mha.Rotary.Scaling.(*LinearRotaryScaling)
	require.True(t, ok)
	factor, _ := linear.Factor.Scalar()
	assert.InDelta(t, 4, factor.Float(), 0)
}

func TestMultiHeadAttention_ScalingWithoutRotaryDim(t *testing.T) {
	cfg := DefaultAttentionConfig()
	cfg.SelfAttention = true
	cfg.RotaryScalingType = ptr(enums.RotaryScalingLinear)

	mha, err := NewMultiHeadAttentionSpec(cfg)
	require.Error(t, err)
	assert.Nil(t, mha)
	assert.ErrorIs(t, err, spec.ErrInvalidFlagCombination)

	var flagErr *spec.FlagError
	require.True(t, errors.As(err, &flagErr))
	assert.Contains(t, flagErr.Details, "rotary_dim")
}

func TestMultiHeadAttention_UnknownScalingKind(t *testing.T) {
	cfg := DefaultAttentionConfig()
	cfg.RotaryDim = ptr(32)
	cfg.RotaryScalingType = ptr(enums.RotaryScalingType(9))

	_, err := NewMultiHeadAttentionSpec(cfg)
	assert.ErrorIs(t, err, enums.ErrEnumVersionSkew)
}

func TestMultiHeadAttention_RangeErrors(t *testing.T) {
	cfg := DefaultAttentionConfig()
	cfg.NumHeadsKV = ptr(math.MaxInt32 + 1)
	_, err := NewMultiHeadAttentionSpec(cfg)
	assert.ErrorIs(t, err, spec.ErrRange)
	assert.Contains(t, err.Error(), "num_heads_kv")

	cfg = DefaultAttentionConfig()
	cfg.RotaryDim = ptr(-1)
	_, err = NewMultiHeadAttentionSpec(cfg)
	assert.ErrorIs(t, err, spec.ErrInvalidFlagCombination)
}

func TestMultiHeadAttention_OptionalGroups(t *testing.T) {
	cfg := DefaultAttentionConfig()
	cfg.RelativePosition = true
	cfg.RelativeAttentionBias = true
	cfg.RelativeAsymmetricPosition = true
	cfg.OriginalMaxPositionEmbeddings = 4096
	cfg.MaxPositionEmbeddings = 131072
	cfg.NumHeadsKV = ptr(8)
	cfg.HeadDim = ptr(128)
	cfg.SlidingWindow = ptr(4096)

	mha, err := NewMultiHeadAttentionSpec(cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"queries_scale",
		"relative_position_keys",
		"relative_position_values",
		"relative_attention_bias",
		"relative_attention_max_distance",
		"relative_asymmetric_position_keys",
		"relative_left_max_position",
		"relative_right_max_position",
		"original_max_position_embeddings",
		"max_position_embeddings",
		"num_heads_kv",
		"head_dim",
		"sliding_window",
	}, topLevel(mha))

	assert.Equal(t, []string{
		"original_max_position_embeddings",
		"max_position_embeddings",
		"num_heads_kv",
		"head_dim",
		"sliding_window",
	}, filledNames(t, mha))

	// Relative tables are required once declared.
	err = spec.Validate(mha)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relative_position_keys")
}

func TestMultiHeadAttention_Deterministic(t *testing.T) {
	cfg := DefaultAttentionConfig()
	cfg.SelfAttention = true
	cfg.RMSNorm = true
	cfg.RotaryDim = ptr(128)
	cfg.RotaryScalingType = ptr(enums.RotaryScalingLlama3)
	cfg.NumHeadsKV = ptr(8)

	a, err := NewMultiHeadAttentionSpec(cfg)
	require.NoError(t, err)
	b, err := NewMultiHeadAttentionSpec(cfg)
	require.NoError(t, err)

	assert.Equal(t, spec.Declared(a), spec.Declared(b))
	assert.Equal(t, filledNames(t, a), filledNames(t, b))
}

func TestMultiHeadAttention_Validate(t *testing.T) {
	cfg := DefaultAttentionConfig()
	cfg.SelfAttention = true
	cfg.RotaryDim = ptr(64)
	cfg.RotaryScalingType = ptr(enums.RotaryScalingLlama3)

	mha, err := NewMultiHeadAttentionSpec(cfg)
	require.NoError(t, err)
	require.NoError(t, mha.Validate())

	// A scaling code that disagrees with the parameter group.
	linearCode, err := spec.Int8(int64(enums.RotaryScalingLinear))
	require.NoError(t, err)
	require.NoError(t, mha.Rotary.ScalingType.Replace(linearCode))
	assert.ErrorIs(t, mha.Validate(), spec.ErrInvalidFlagCombination)

	llamaCode, err := spec.Int8(int64(enums.RotaryScalingLlama3))
	require.NoError(t, err)
	require.NoError(t, mha.Rotary.ScalingType.Replace(llamaCode))

	// Llama 3 factors are float32 attributes.
	scaling := mha.Rotary.Scaling.(*Llama3RotaryScaling)
	wide, err := spec.Int32(1)
	require.NoError(t, err)
	require.NoError(t, scaling.LowFreqFactor.Set(wide))
	assert.Error(t, mha.Validate())

	// Both projection kinds at once.
	mha.Rotary = nil
	mha.LowRankLinear = []*LowRankLinearSpec{NewLowRankLinearSpec()}
	assert.ErrorIs(t, mha.Validate(), spec.ErrInvalidFlagCombination)
}

func TestFeedForwardSpec(t *testing.T) {
	assert.Equal(t, []string{
		"layer_norm/gamma", "layer_norm/beta",
		"linear_0/weight", "linear_0/weight_scale", "linear_0/weight_zero", "linear_0/bias",
		"linear_1/weight", "linear_1/weight_scale", "linear_1/weight_zero", "linear_1/bias",
	}, spec.Declared(NewFeedForwardSpec(false, false)))

	gated := NewFeedForwardSpec(true, true)
	require.NotNil(t, gated.Linear0NoAct)

	w := tensor(t, 1)
	require.NoError(t, spec.Set(gated, "linear_0_noact/weight", w))
	assert.Same(t, w, gated.Linear0NoAct.Weight.Value())
	require.NoError(t, spec.Set(gated, "linear_0/weight", w))
	assert.Same(t, w, gated.Linear0.Weight.Value())
}

func TestTransformerDecoderSpec(t *testing.T) {
	cfg := DefaultDecoderConfig()
	cfg.NumLayers = 2
	cfg.NumHeads = 4
	cfg.Activation = enums.Swish
	cfg.FFNGLU = true
	cfg.RMSNorm = true
	cfg.Attention.RotaryDim = ptr(0)
	cfg.Attention.NumHeadsKV = ptr(2)

	model, err := NewDecoderModelSpec(cfg)
	require.NoError(t, err)
	assert.Equal(t, "TransformerDecoderSpec", model.Name())
	assert.Equal(t, 8, model.Revision())

	dec := model.Decoder
	require.Len(t, dec.Layer, 2)
	assert.Nil(t, dec.Layer[0].Attention)
	assert.Len(t, dec.Layer[0].SelfAttention.Linear, 2)
	assert.True(t, dec.Layer[1].SelfAttention.LayerNorm.IsRMS())
	assert.NotSame(t, dec.Layer[0].SelfAttention, dec.Layer[1].SelfAttention)

	act, _ := dec.Activation.Scalar()
	assert.Equal(t, int64(enums.Swish), act.Int())
	assert.Equal(t, spec.Int8Type, act.DType())

	heads, _ := dec.NumHeads.Scalar()
	assert.Equal(t, spec.Int16Type, heads.DType())

	declared := spec.Declared(model)
	assert.Contains(t, declared, "decoder/layer_1/self_attention/rotary_dim")
	assert.Contains(t, declared, "decoder/layer_1/ffn/linear_0_noact/weight")
	assert.Contains(t, declared, "decoder/projection/weight")
	assert.NotContains(t, declared, "decoder/layer_0/attention/linear_0/weight")

	slot, err := spec.Lookup(model, "decoder/layer_1/self_attention/num_heads_kv")
	require.NoError(t, err)
	kv, _ := slot.Scalar()
	assert.Equal(t, int64(2), kv.Int())

	assert.NoError(t, dec.Validate())
}

func TestTransformerDecoderSpec_Quantization(t *testing.T) {
	cfg := DefaultDecoderConfig()
	cfg.NumLayers = 1
	cfg.NumHeads = 1
	dec, err := NewTransformerDecoderSpec(cfg)
	require.NoError(t, err)

	assert.NotContains(t, filledNames(t, dec), "quantization_type")

	require.NoError(t, dec.SetQuantization(enums.QuantizationAWQGemm, 4, 128))
	assert.Subset(t, filledNames(t, dec), []string{"quantization_type", "quantization_bits", "quantization_group_size"})
	assert.NoError(t, dec.Validate())

	assert.ErrorIs(t, dec.SetQuantization(enums.QuantizationCT2, 8, 0), spec.ErrAlreadyFilled)
	assert.ErrorIs(t, dec.SetQuantization(enums.Quantization(7), 8, 0), enums.ErrEnumVersionSkew)

	partial, err := NewTransformerDecoderSpec(cfg)
	require.NoError(t, err)
	bits, err := spec.Int32(4)
	require.NoError(t, err)
	require.NoError(t, partial.QuantizationBits.Set(bits))
	assert.ErrorIs(t, partial.Validate(), spec.ErrInvalidFlagCombination)
}

func TestTransformerDecoderSpec_InvalidConfig(t *testing.T) {
	cfg := DefaultDecoderConfig()
	cfg.NumHeads = 8
	_, err := NewTransformerDecoderSpec(cfg)
	assert.ErrorIs(t, err, spec.ErrInvalidFlagCombination)

	cfg.NumLayers = 1
	cfg.Activation = enums.Activation(42)
	_, err = NewTransformerDecoderSpec(cfg)
	assert.ErrorIs(t, err, enums.ErrEnumVersionSkew)

	cfg.Activation = enums.GELU
	cfg.NumHeads = math.MaxInt16 + 1
	_, err = NewTransformerDecoderSpec(cfg)
	assert.ErrorIs(t, err, spec.ErrRange)

	cfg.NumHeads = 8
	cfg.Attention.RotaryScalingType = ptr(enums.RotaryScalingSu)
	_, err = NewTransformerDecoderSpec(cfg)
	assert.ErrorIs(t, err, spec.ErrInvalidFlagCombination)
	assert.Contains(t, err.Error(), "layer_0")
}

func TestTransformerEncoderSpec(t *testing.T) {
	cfg := DefaultEncoderConfig()
	cfg.NumLayers = 1
	cfg.NumHeads = 2

	enc, err := NewTransformerEncoderSpec(cfg)
	require.NoError(t, err)
	assert.Nil(t, enc.EmbeddingsMerge)
	assert.NotContains(t, topLevel(enc), "embeddings_merge")
	assert.NoError(t, enc.Validate())

	cfg.NumSourceEmbeddings = 3
	cfg.EmbeddingsMerge = enums.MergeAdd
	enc, err = NewTransformerEncoderSpec(cfg)
	require.NoError(t, err)
	require.NotNil(t, enc.EmbeddingsMerge)
	merge, _ := enc.EmbeddingsMerge.Scalar()
	assert.Equal(t, int64(enums.MergeAdd), merge.Int())

	declared := spec.Declared(enc)
	assert.Contains(t, declared, "embeddings_2/weight")
	assert.Contains(t, declared, "layer_0/self_attention/linear_1/weight")
	assert.NoError(t, enc.Validate())

	cfg.PreNorm = false
	enc, err = NewTransformerEncoderSpec(cfg)
	require.NoError(t, err)
	assert.Nil(t, enc.LayerNorm)
}

func TestSeq2SeqModelSpec(t *testing.T) {
	encCfg := DefaultEncoderConfig()
	encCfg.NumLayers = 1
	encCfg.NumHeads = 2

	decCfg := DefaultDecoderConfig()
	decCfg.NumLayers = 1
	decCfg.NumHeads = 2

	_, err := NewSeq2SeqModelSpec(encCfg, decCfg)
	assert.ErrorIs(t, err, spec.ErrInvalidFlagCombination)

	decCfg.WithEncoderAttention = true
	model, err := NewSeq2SeqModelSpec(encCfg, decCfg)
	require.NoError(t, err)
	assert.Equal(t, "TransformerSpec", model.Name())
	assert.Equal(t, 7, model.Revision())

	cross := model.Decoder.Layer[0].Attention
	require.NotNil(t, cross)
	assert.Len(t, cross.Linear, 3)
	assert.Contains(t, spec.Declared(model), "decoder/layer_0/attention/linear_2/weight")
}
