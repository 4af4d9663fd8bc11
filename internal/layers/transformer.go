package layers

import (
	"fmt"

	"github.com/born-ml/ct2spec/internal/enums"
	"github.com/born-ml/ct2spec/internal/spec"
)

// Spec names and revisions understood by the runtime.
const (
	DecoderModelName     = "TransformerDecoderSpec"
	DecoderModelRevision = 8
	Seq2SeqModelName     = "TransformerSpec"
	Seq2SeqModelRevision = 7
)

// FeedForwardSpec declares a position-wise feed-forward block.
//
// Gated variants (SwiGLU, GeGLU) add linear_0_noact, the projection that is not passed
// through the activation.
type FeedForwardSpec struct {
	LayerNorm    *LayerNormSpec
	Linear0      *LinearSpec
	Linear1      *LinearSpec
	Linear0NoAct *LinearSpec // nil unless gated
}

// NewFeedForwardSpec creates a FeedForwardSpec.
func NewFeedForwardSpec(glu, rmsNorm bool) *FeedForwardSpec {
	ffn := &FeedForwardSpec{
		LayerNorm: NewLayerNormSpec(rmsNorm),
		Linear0:   NewLinearSpec(),
		Linear1:   NewLinearSpec(),
	}
	if glu {
		ffn.Linear0NoAct = NewLinearSpec()
	}
	return ffn
}

// Fields implements spec.Spec.
func (f *FeedForwardSpec) Fields() []spec.Field {
	fields := []spec.Field{
		spec.SpecField("layer_norm", f.LayerNorm),
		spec.SpecField("linear_0", f.Linear0),
		spec.SpecField("linear_1", f.Linear1),
	}
	if f.Linear0NoAct != nil {
		fields = append(fields, spec.SpecField("linear_0_noact", f.Linear0NoAct))
	}
	return fields
}

// DecoderConfig configures a TransformerDecoderSpec.
type DecoderConfig struct {
	NumLayers            int              `yaml:"num_layers"`
	NumHeads             int              `yaml:"num_heads"`
	PreNorm              bool             `yaml:"pre_norm"`               // Default: true
	Activation           enums.Activation `yaml:"activation"`             // Default: RELU
	FFNGLU               bool             `yaml:"ffn_glu"`                // Gated feed-forward
	RMSNorm              bool             `yaml:"rms_norm"`               // RMS normalization everywhere
	WithEncoderAttention bool             `yaml:"with_encoder_attention"` // Cross-attention in every layer
	NoFinalNorm          bool             `yaml:"no_final_norm"`          // Omit the final layer_norm
	ScaleEmbeddings      bool             `yaml:"scale_embeddings"`       // Default: true

	// Attention configures the self-attention of every layer. SelfAttention and RMSNorm
	// are forced from the decoder configuration.
	Attention AttentionConfig `yaml:"attention"`
}

// DefaultDecoderConfig returns a pre-norm decoder configuration with runtime defaults.
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{
		PreNorm:         true,
		Activation:      enums.ReLU,
		ScaleEmbeddings: true,
		Attention:       DefaultAttentionConfig(),
	}
}

// TransformerDecoderLayerSpec declares one decoder layer.
type TransformerDecoderLayerSpec struct {
	SelfAttention *MultiHeadAttentionSpec
	Attention     *MultiHeadAttentionSpec // nil without encoder attention
	FFN           *FeedForwardSpec
}

// NewTransformerDecoderLayerSpec creates a decoder layer.
func NewTransformerDecoderLayerSpec(cfg DecoderConfig) (*TransformerDecoderLayerSpec, error) {
	selfCfg := cfg.Attention
	selfCfg.SelfAttention = true
	selfCfg.RMSNorm = cfg.RMSNorm

	self, err := NewMultiHeadAttentionSpec(selfCfg)
	if err != nil {
		return nil, fmt.Errorf("self_attention: %w", err)
	}

	layer := &TransformerDecoderLayerSpec{
		SelfAttention: self,
		FFN:           NewFeedForwardSpec(cfg.FFNGLU, cfg.RMSNorm),
	}

	if cfg.WithEncoderAttention {
		crossCfg := DefaultAttentionConfig()
		crossCfg.RMSNorm = cfg.RMSNorm
		if layer.Attention, err = NewMultiHeadAttentionSpec(crossCfg); err != nil {
			return nil, fmt.Errorf("attention: %w", err)
		}
	}
	return layer, nil
}

// Fields implements spec.Spec.
func (l *TransformerDecoderLayerSpec) Fields() []spec.Field {
	fields := []spec.Field{spec.SpecField("self_attention", l.SelfAttention)}
	if l.Attention != nil {
		fields = append(fields, spec.SpecField("attention", l.Attention))
	}
	return append(fields, spec.SpecField("ffn", l.FFN))
}

// TransformerDecoderSpec declares a Transformer decoder stack.
//
// Structure:
//
//	num_heads, pre_norm, activation, embeddings, scale_embeddings,
//	layer_norm, projection, layer_0 ... layer_N-1,
//	[quantization_type, quantization_bits, quantization_group_size]
//
// Example:
//
//	cfg := layers.DefaultDecoderConfig()
//	cfg.NumLayers = 32
//	cfg.NumHeads = 32
//	cfg.Activation = enums.Swish
//	cfg.FFNGLU = true
//	cfg.RMSNorm = true
//	dec, err := layers.NewTransformerDecoderSpec(cfg)
type TransformerDecoderSpec struct {
	NumHeads        spec.Slot // int16
	PreNorm         spec.Slot // bool
	Activation      spec.Slot // int8
	Embeddings      *EmbeddingsSpec
	ScaleEmbeddings spec.Slot      // bool
	LayerNorm       *LayerNormSpec // nil with NoFinalNorm
	Projection      *LinearSpec
	Layer           []*TransformerDecoderLayerSpec

	QuantizationType      spec.Slot // int8, optional
	QuantizationBits      spec.Slot // int32, optional
	QuantizationGroupSize spec.Slot // int32, optional
}

// NewTransformerDecoderSpec creates a decoder stack of cfg.NumLayers layers.
func NewTransformerDecoderSpec(cfg DecoderConfig) (*TransformerDecoderSpec, error) {
	if cfg.NumLayers <= 0 {
		return nil, &spec.FlagError{Builder: "transformer decoder", Details: fmt.Sprintf("num_layers must be positive, got %d", cfg.NumLayers)}
	}
	header, err := stackHeader(cfg.NumHeads, cfg.Activation)
	if err != nil {
		return nil, fmt.Errorf("transformer decoder: %w", err)
	}

	dec := &TransformerDecoderSpec{
		NumHeads:              spec.NewFilled(header.numHeads),
		PreNorm:               spec.NewFilled(spec.Bool(cfg.PreNorm)),
		Activation:            spec.NewFilled(header.activation),
		Embeddings:            NewEmbeddingsSpec(),
		ScaleEmbeddings:       spec.NewFilled(spec.Bool(cfg.ScaleEmbeddings)),
		Projection:            NewLinearSpec(),
		Layer:                 make([]*TransformerDecoderLayerSpec, cfg.NumLayers),
		QuantizationType:      spec.NewOptional(),
		QuantizationBits:      spec.NewOptional(),
		QuantizationGroupSize: spec.NewOptional(),
	}
	if !cfg.NoFinalNorm {
		dec.LayerNorm = NewLayerNormSpec(cfg.RMSNorm)
	}
	for i := range dec.Layer {
		if dec.Layer[i], err = NewTransformerDecoderLayerSpec(cfg); err != nil {
			return nil, fmt.Errorf("layer_%d: %w", i, err)
		}
	}
	return dec, nil
}

// SetQuantization records the weight quantization scheme of the stack.
func (d *TransformerDecoderSpec) SetQuantization(kind enums.Quantization, bits, groupSize int) error {
	if _, err := enums.Quantizations.Name(kind); err != nil {
		return err
	}
	code, err := spec.Int8(int64(kind))
	if err != nil {
		return fmt.Errorf("quantization_type: %w", err)
	}
	b, err := spec.Int32(int64(bits))
	if err != nil {
		return fmt.Errorf("quantization_bits: %w", err)
	}
	g, err := spec.Int32(int64(groupSize))
	if err != nil {
		return fmt.Errorf("quantization_group_size: %w", err)
	}
	if err := d.QuantizationType.Set(code); err != nil {
		return fmt.Errorf("quantization_type: %w", err)
	}
	if err := d.QuantizationBits.Set(b); err != nil {
		return fmt.Errorf("quantization_bits: %w", err)
	}
	if err := d.QuantizationGroupSize.Set(g); err != nil {
		return fmt.Errorf("quantization_group_size: %w", err)
	}
	return nil
}

// Fields implements spec.Spec.
func (d *TransformerDecoderSpec) Fields() []spec.Field {
	fields := []spec.Field{
		spec.SlotField("num_heads", &d.NumHeads),
		spec.SlotField("pre_norm", &d.PreNorm),
		spec.SlotField("activation", &d.Activation),
		spec.SpecField("embeddings", d.Embeddings),
		spec.SlotField("scale_embeddings", &d.ScaleEmbeddings),
	}
	if d.LayerNorm != nil {
		fields = append(fields, spec.SpecField("layer_norm", d.LayerNorm))
	}
	return append(fields,
		spec.SpecField("projection", d.Projection),
		spec.ListField("layer", d.Layer),
		spec.SlotField("quantization_type", &d.QuantizationType),
		spec.SlotField("quantization_bits", &d.QuantizationBits),
		spec.SlotField("quantization_group_size", &d.QuantizationGroupSize),
	)
}

// Validate implements spec.Validator.
func (d *TransformerDecoderSpec) Validate() error {
	if err := checkActivation(&d.Activation); err != nil {
		return err
	}
	filled := 0
	for _, s := range []*spec.Slot{&d.QuantizationType, &d.QuantizationBits, &d.QuantizationGroupSize} {
		if s.IsFilled() {
			filled++
		}
	}
	if filled != 0 && filled != 3 {
		return &spec.FlagError{Builder: "transformer decoder", Details: "quantization_type, quantization_bits and quantization_group_size must be set together"}
	}
	return nil
}

// EncoderConfig configures a TransformerEncoderSpec.
type EncoderConfig struct {
	NumLayers           int                   `yaml:"num_layers"`
	NumHeads            int                   `yaml:"num_heads"`
	PreNorm             bool                  `yaml:"pre_norm"`              // Default: true
	Activation          enums.Activation      `yaml:"activation"`            // Default: RELU
	NumSourceEmbeddings int                   `yaml:"num_source_embeddings"` // Default: 1
	EmbeddingsMerge     enums.EmbeddingsMerge `yaml:"embeddings_merge"`      // Used with several source embeddings
	FFNGLU              bool                  `yaml:"ffn_glu"`
	RMSNorm             bool                  `yaml:"rms_norm"`
	ScaleEmbeddings     bool                  `yaml:"scale_embeddings"` // Default: true

	Attention AttentionConfig `yaml:"attention"`
}

// DefaultEncoderConfig returns a pre-norm encoder configuration with one source embedding.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		PreNorm:             true,
		Activation:          enums.ReLU,
		NumSourceEmbeddings: 1,
		EmbeddingsMerge:     enums.MergeConcat,
		ScaleEmbeddings:     true,
		Attention:           DefaultAttentionConfig(),
	}
}

// TransformerEncoderLayerSpec declares one encoder layer.
type TransformerEncoderLayerSpec struct {
	SelfAttention *MultiHeadAttentionSpec
	FFN           *FeedForwardSpec
}

// NewTransformerEncoderLayerSpec creates an encoder layer.
func NewTransformerEncoderLayerSpec(cfg EncoderConfig) (*TransformerEncoderLayerSpec, error) {
	selfCfg := cfg.Attention
	selfCfg.SelfAttention = true
	selfCfg.RMSNorm = cfg.RMSNorm

	self, err := NewMultiHeadAttentionSpec(selfCfg)
	if err != nil {
		return nil, fmt.Errorf("self_attention: %w", err)
	}
	return &TransformerEncoderLayerSpec{
		SelfAttention: self,
		FFN:           NewFeedForwardSpec(cfg.FFNGLU, cfg.RMSNorm),
	}, nil
}

// Fields implements spec.Spec.
func (l *TransformerEncoderLayerSpec) Fields() []spec.Field {
	return []spec.Field{
		spec.SpecField("self_attention", l.SelfAttention),
		spec.SpecField("ffn", l.FFN),
	}
}

// TransformerEncoderSpec declares a Transformer encoder stack with one embedding table
// per source feature.
type TransformerEncoderSpec struct {
	NumHeads        spec.Slot  // int16
	PreNorm         spec.Slot  // bool
	Activation      spec.Slot  // int8
	EmbeddingsMerge *spec.Slot // int8; nil with a single source embedding
	Embeddings      []*EmbeddingsSpec
	ScaleEmbeddings spec.Slot      // bool
	LayerNorm       *LayerNormSpec // nil for post-norm encoders
	Layer           []*TransformerEncoderLayerSpec
}

// NewTransformerEncoderSpec creates an encoder stack of cfg.NumLayers layers.
func NewTransformerEncoderSpec(cfg EncoderConfig) (*TransformerEncoderSpec, error) {
	if cfg.NumLayers <= 0 {
		return nil, &spec.FlagError{Builder: "transformer encoder", Details: fmt.Sprintf("num_layers must be positive, got %d", cfg.NumLayers)}
	}
	if cfg.NumSourceEmbeddings <= 0 {
		return nil, &spec.FlagError{Builder: "transformer encoder", Details: fmt.Sprintf("num_source_embeddings must be positive, got %d", cfg.NumSourceEmbeddings)}
	}
	header, err := stackHeader(cfg.NumHeads, cfg.Activation)
	if err != nil {
		return nil, fmt.Errorf("transformer encoder: %w", err)
	}

	enc := &TransformerEncoderSpec{
		NumHeads:        spec.NewFilled(header.numHeads),
		PreNorm:         spec.NewFilled(spec.Bool(cfg.PreNorm)),
		Activation:      spec.NewFilled(header.activation),
		Embeddings:      make([]*EmbeddingsSpec, cfg.NumSourceEmbeddings),
		ScaleEmbeddings: spec.NewFilled(spec.Bool(cfg.ScaleEmbeddings)),
		Layer:           make([]*TransformerEncoderLayerSpec, cfg.NumLayers),
	}
	for i := range enc.Embeddings {
		enc.Embeddings[i] = NewEmbeddingsSpec()
	}
	if cfg.NumSourceEmbeddings > 1 {
		if _, err := enums.EmbeddingsMerges.Name(cfg.EmbeddingsMerge); err != nil {
			return nil, fmt.Errorf("transformer encoder: %w", err)
		}
		merge, err := spec.Int8(int64(cfg.EmbeddingsMerge))
		if err != nil {
			return nil, fmt.Errorf("embeddings_merge: %w", err)
		}
		enc.EmbeddingsMerge = filledSlot(merge)
	}
	if cfg.PreNorm {
		enc.LayerNorm = NewLayerNormSpec(cfg.RMSNorm)
	}
	for i := range enc.Layer {
		if enc.Layer[i], err = NewTransformerEncoderLayerSpec(cfg); err != nil {
			return nil, fmt.Errorf("layer_%d: %w", i, err)
		}
	}
	return enc, nil
}

// Fields implements spec.Spec.
func (e *TransformerEncoderSpec) Fields() []spec.Field {
	fields := []spec.Field{
		spec.SlotField("num_heads", &e.NumHeads),
		spec.SlotField("pre_norm", &e.PreNorm),
		spec.SlotField("activation", &e.Activation),
	}
	fields = appendSlot(fields, "embeddings_merge", e.EmbeddingsMerge)
	fields = append(fields,
		spec.ListField("embeddings", e.Embeddings),
		spec.SlotField("scale_embeddings", &e.ScaleEmbeddings),
	)
	if e.LayerNorm != nil {
		fields = append(fields, spec.SpecField("layer_norm", e.LayerNorm))
	}
	return append(fields, spec.ListField("layer", e.Layer))
}

// Validate implements spec.Validator.
func (e *TransformerEncoderSpec) Validate() error {
	if err := checkActivation(&e.Activation); err != nil {
		return err
	}
	if (e.EmbeddingsMerge != nil) != (len(e.Embeddings) > 1) {
		return &spec.FlagError{Builder: "transformer encoder", Details: "embeddings_merge must be declared iff there are several source embeddings"}
	}
	return nil
}

// DecoderModelSpec is the root of a decoder-only language model.
type DecoderModelSpec struct {
	Decoder *TransformerDecoderSpec
}

// NewDecoderModelSpec creates a decoder-only model.
func NewDecoderModelSpec(cfg DecoderConfig) (*DecoderModelSpec, error) {
	dec, err := NewTransformerDecoderSpec(cfg)
	if err != nil {
		return nil, err
	}
	return &DecoderModelSpec{Decoder: dec}, nil
}

// Name implements spec.Named.
func (*DecoderModelSpec) Name() string { return DecoderModelName }

// Revision implements spec.Named.
func (*DecoderModelSpec) Revision() int { return DecoderModelRevision }

// Fields implements spec.Spec.
func (m *DecoderModelSpec) Fields() []spec.Field {
	return []spec.Field{spec.SpecField("decoder", m.Decoder)}
}

// Seq2SeqModelSpec is the root of an encoder-decoder model.
type Seq2SeqModelSpec struct {
	Encoder *TransformerEncoderSpec
	Decoder *TransformerDecoderSpec
}

// NewSeq2SeqModelSpec creates an encoder-decoder model. The decoder must attend to the
// encoder output.
func NewSeq2SeqModelSpec(encCfg EncoderConfig, decCfg DecoderConfig) (*Seq2SeqModelSpec, error) {
	if !decCfg.WithEncoderAttention {
		return nil, &spec.FlagError{Builder: "transformer", Details: "decoder without encoder attention"}
	}
	enc, err := NewTransformerEncoderSpec(encCfg)
	if err != nil {
		return nil, err
	}
	dec, err := NewTransformerDecoderSpec(decCfg)
	if err != nil {
		return nil, err
	}
	return &Seq2SeqModelSpec{Encoder: enc, Decoder: dec}, nil
}

// Name implements spec.Named.
func (*Seq2SeqModelSpec) Name() string { return Seq2SeqModelName }

// Revision implements spec.Named.
func (*Seq2SeqModelSpec) Revision() int { return Seq2SeqModelRevision }

// Fields implements spec.Spec.
func (m *Seq2SeqModelSpec) Fields() []spec.Field {
	return []spec.Field{
		spec.SpecField("encoder", m.Encoder),
		spec.SpecField("decoder", m.Decoder),
	}
}

type stackScalars struct {
	numHeads   spec.Scalar
	activation spec.Scalar
}

func stackHeader(numHeads int, activation enums.Activation) (stackScalars, error) {
	if numHeads <= 0 {
		return stackScalars{}, &spec.FlagError{Builder: "transformer", Details: fmt.Sprintf("num_heads must be positive, got %d", numHeads)}
	}
	if _, err := enums.Activations.Name(activation); err != nil {
		return stackScalars{}, err
	}
	heads, err := spec.Int16(int64(numHeads))
	if err != nil {
		return stackScalars{}, fmt.Errorf("num_heads: %w", err)
	}
	act, err := spec.Int8(int64(activation))
	if err != nil {
		return stackScalars{}, fmt.Errorf("activation: %w", err)
	}
	return stackScalars{numHeads: heads, activation: act}, nil
}

func checkActivation(slot *spec.Slot) error {
	s, ok := slot.Scalar()
	if !ok {
		return nil
	}
	if _, err := enums.Activations.Parse(s.Int()); err != nil {
		return fmt.Errorf("activation: %w", err)
	}
	return nil
}
