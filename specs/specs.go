// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package specs

import (
	"github.com/born-ml/ct2spec/internal/enums"
	"github.com/born-ml/ct2spec/internal/format"
	"github.com/born-ml/ct2spec/internal/layers"
	"github.com/born-ml/ct2spec/internal/parallel"
	"github.com/born-ml/ct2spec/internal/quantize"
	"github.com/born-ml/ct2spec/internal/spec"
)

// Values

// DType is the element type of a serialized variable.
type DType = spec.DType

// Data types.
const (
	Float32  = spec.Float32Type
	Int8     = spec.Int8Type
	Int16    = spec.Int16Type
	Int32    = spec.Int32Type
	Float16  = spec.Float16Type
	BFloat16 = spec.BFloat16Type
)

// Value is a scalar or a tensor.
type Value = spec.Value

// Tensor is an n-dimensional array stored in its serialized type.
type Tensor = spec.Tensor

// Scalar is a rank-0 value with an explicit width.
type Scalar = spec.Scalar

// NewTensor wraps raw little-endian data.
func NewTensor(dtype DType, shape []int, data []byte) (*Tensor, error) {
	return spec.NewTensor(dtype, shape, data)
}

// FromFloat32 creates a float32 tensor.
func FromFloat32(shape []int, values []float32) (*Tensor, error) {
	return spec.FromFloat32(shape, values)
}

// Int32Scalar creates an int32 scalar, for attributes such as relative_attention_max_distance.
func Int32Scalar(v int64) (Scalar, error) {
	return spec.Int32(v)
}

// Slots

// Slot is an attribute in one of the states Required, Optional or Filled.
type Slot = spec.Slot

// Spec is a node of a specification tree.
type Spec = spec.Spec

// Named is a root specification with a name and a revision.
type Named = spec.Named

// IncompleteError reports a required attribute left unfilled.
type IncompleteError = spec.IncompleteError

// Errors.
var (
	ErrAlreadyFilled          = spec.ErrAlreadyFilled
	ErrRange                  = spec.ErrRange
	ErrInvalidFlagCombination = spec.ErrInvalidFlagCombination
	ErrSchemaViolation        = spec.ErrSchemaViolation
	ErrEnumVersionSkew        = enums.ErrEnumVersionSkew
)

// Set fills the attribute at a "/"-separated path. A filled attribute is never
// overwritten; see Replace.
func Set(root Spec, path string, v Value) error {
	return spec.Set(root, path, v)
}

// Replace overwrites the attribute at path.
func Replace(root Spec, path string, v Value) error {
	return spec.Replace(root, path, v)
}

// Declared returns the paths of all declared attributes, in serialization order.
func Declared(root Spec) []string {
	return spec.Declared(root)
}

// Missing returns the paths of the required attributes that are not filled yet.
func Missing(root Spec) []string {
	var paths []string
	_ = spec.Walk(root, "", nil, func(scope, name string, slot *spec.Slot) error {
		if slot.State() == spec.Required {
			paths = append(paths, spec.Join(scope, name))
		}
		return nil
	})
	return paths
}

// Validate checks that the tree is complete and consistent.
func Validate(root Spec) error {
	return spec.Validate(root)
}

// Layers

// AttentionConfig configures a multi-head attention block.
type AttentionConfig = layers.AttentionConfig

// DecoderConfig configures a Transformer decoder.
type DecoderConfig = layers.DecoderConfig

// EncoderConfig configures a Transformer encoder.
type EncoderConfig = layers.EncoderConfig

// DefaultAttentionConfig returns the runtime defaults for attention blocks.
func DefaultAttentionConfig() AttentionConfig {
	return layers.DefaultAttentionConfig()
}

// DefaultDecoderConfig returns a pre-norm decoder configuration.
func DefaultDecoderConfig() DecoderConfig {
	return layers.DefaultDecoderConfig()
}

// DefaultEncoderConfig returns a pre-norm encoder configuration.
func DefaultEncoderConfig() EncoderConfig {
	return layers.DefaultEncoderConfig()
}

// NewLayerNorm declares a layer norm (RMS norm when rmsNorm is set).
func NewLayerNorm(rmsNorm bool) *layers.LayerNormSpec {
	return layers.NewLayerNormSpec(rmsNorm)
}

// NewLinear declares a linear projection.
func NewLinear() *layers.LinearSpec {
	return layers.NewLinearSpec()
}

// NewMultiHeadAttention declares a multi-head attention block.
func NewMultiHeadAttention(cfg AttentionConfig) (*layers.MultiHeadAttentionSpec, error) {
	return layers.NewMultiHeadAttentionSpec(cfg)
}

// NewDecoderModel declares a decoder-only model (TransformerDecoderSpec).
func NewDecoderModel(cfg DecoderConfig) (*layers.DecoderModelSpec, error) {
	return layers.NewDecoderModelSpec(cfg)
}

// NewSeq2SeqModel declares an encoder-decoder model (TransformerSpec).
func NewSeq2SeqModel(enc EncoderConfig, dec DecoderConfig) (*layers.Seq2SeqModelSpec, error) {
	return layers.NewSeq2SeqModelSpec(enc, dec)
}

// Enumerations

// Activation is the feed-forward activation.
type Activation = enums.Activation

// RotaryScalingType selects the rotary scaling method.
type RotaryScalingType = enums.RotaryScalingType

// Serialization

// Save validates model and writes it to path.
func Save(path string, model Named) error {
	return format.Save(path, model)
}

// Encode validates model and returns its serialized bytes.
func Encode(model Named) ([]byte, error) {
	return format.Encode(model)
}

// Open reads a model.bin file.
func Open(path string) (*format.Model, error) {
	return format.Open(path)
}

// Mode is a weight storage mode.
type Mode = quantize.Mode

// Storage modes.
const (
	ModeFloat32  = quantize.Float32
	ModeFloat16  = quantize.Float16
	ModeBFloat16 = quantize.BFloat16
	ModeInt8     = quantize.Int8
)

// QuantizeStats summarizes a Quantize run.
type QuantizeStats = quantize.Stats

// ParseMode parses a storage mode name, ignoring case.
func ParseMode(name string) (Mode, error) {
	return quantize.ParseMode(name)
}

// Quantize converts the filled weights of root to mode ("float32", "float16",
// "bfloat16" or "int8").
func Quantize(root Spec, mode Mode) (QuantizeStats, error) {
	return quantize.Apply(root, mode, parallel.DefaultConfig())
}
