// Package layers declares the parameter layout of neural network layers as understood by
// the inference runtime.
//
// Every builder returns a closed struct whose attribute set is fixed by the builder
// arguments. Attributes a builder does not declare are nil pointers and never reach the
// serialized model. Attributes the runtime treats as optional start as optional slots and
// are only written when filled by the conversion driver.
package layers

import "github.com/born-ml/ct2spec/internal/spec"

// LayerNormSpec declares a layer normalization.
//
// Standard normalization declares gamma and beta. RMS normalization declares gamma and
// the optional layer_norm_use_residual flag.
type LayerNormSpec struct {
	Gamma       spec.Slot
	Beta        *spec.Slot // nil for RMS normalization
	UseResidual *spec.Slot // nil for standard normalization
}

// NewLayerNormSpec creates a LayerNormSpec.
func NewLayerNormSpec(rmsNorm bool) *LayerNormSpec {
	ln := &LayerNormSpec{Gamma: spec.NewRequired()}
	if rmsNorm {
		ln.UseResidual = optionalSlot()
	} else {
		ln.Beta = requiredSlot()
	}
	return ln
}

// IsRMS reports whether this is an RMS normalization.
func (ln *LayerNormSpec) IsRMS() bool {
	return ln.Beta == nil
}

// Fields implements spec.Spec.
func (ln *LayerNormSpec) Fields() []spec.Field {
	fields := []spec.Field{spec.SlotField("gamma", &ln.Gamma)}
	if ln.Beta != nil {
		fields = append(fields, spec.SlotField("beta", ln.Beta))
	}
	if ln.UseResidual != nil {
		fields = append(fields, spec.SlotField("layer_norm_use_residual", ln.UseResidual))
	}
	return fields
}

// LinearSpec declares a dense projection y = x·Wᵀ + b.
//
// Quantization (weight_scale, weight_zero) and bias are decided when the layer is filled,
// not when it is built.
type LinearSpec struct {
	Weight      spec.Slot
	WeightScale spec.Slot
	WeightZero  spec.Slot
	Bias        spec.Slot
}

// NewLinearSpec creates a LinearSpec.
func NewLinearSpec() *LinearSpec {
	return &LinearSpec{
		Weight:      spec.NewRequired(),
		WeightScale: spec.NewOptional(),
		WeightZero:  spec.NewOptional(),
		Bias:        spec.NewOptional(),
	}
}

// HasBias reports whether a bias was filled.
func (l *LinearSpec) HasBias() bool {
	return l.Bias.IsFilled()
}

// Fields implements spec.Spec.
func (l *LinearSpec) Fields() []spec.Field {
	return []spec.Field{
		spec.SlotField("weight", &l.Weight),
		spec.SlotField("weight_scale", &l.WeightScale),
		spec.SlotField("weight_zero", &l.WeightZero),
		spec.SlotField("bias", &l.Bias),
	}
}

// LowRankLinearSpec declares a dense projection factored as two low-rank weights.
type LowRankLinearSpec struct {
	LowRankWeight1 spec.Slot
	LowRankWeight2 spec.Slot
	WeightScale    spec.Slot
	WeightZero     spec.Slot
	Bias           spec.Slot
}

// NewLowRankLinearSpec creates a LowRankLinearSpec.
func NewLowRankLinearSpec() *LowRankLinearSpec {
	return &LowRankLinearSpec{
		LowRankWeight1: spec.NewRequired(),
		LowRankWeight2: spec.NewRequired(),
		WeightScale:    spec.NewOptional(),
		WeightZero:     spec.NewOptional(),
		Bias:           spec.NewOptional(),
	}
}

// HasBias reports whether a bias was filled.
func (l *LowRankLinearSpec) HasBias() bool {
	return l.Bias.IsFilled()
}

// Fields implements spec.Spec.
func (l *LowRankLinearSpec) Fields() []spec.Field {
	return []spec.Field{
		spec.SlotField("low_rank_weight_1", &l.LowRankWeight1),
		spec.SlotField("low_rank_weight_2", &l.LowRankWeight2),
		spec.SlotField("weight_scale", &l.WeightScale),
		spec.SlotField("weight_zero", &l.WeightZero),
		spec.SlotField("bias", &l.Bias),
	}
}

// Conv1DSpec declares a 1D convolution.
type Conv1DSpec struct {
	Weight      spec.Slot
	WeightScale spec.Slot
	Bias        spec.Slot
}

// NewConv1DSpec creates a Conv1DSpec.
func NewConv1DSpec() *Conv1DSpec {
	return &Conv1DSpec{
		Weight:      spec.NewRequired(),
		WeightScale: spec.NewOptional(),
		Bias:        spec.NewOptional(),
	}
}

// Fields implements spec.Spec.
func (c *Conv1DSpec) Fields() []spec.Field {
	return []spec.Field{
		spec.SlotField("weight", &c.Weight),
		spec.SlotField("weight_scale", &c.WeightScale),
		spec.SlotField("bias", &c.Bias),
	}
}

// EmbeddingsSpec declares an embedding table.
type EmbeddingsSpec struct {
	Weight              spec.Slot
	WeightScale         spec.Slot
	MultiplyBySqrtDepth spec.Slot
}

// NewEmbeddingsSpec creates an EmbeddingsSpec.
func NewEmbeddingsSpec() *EmbeddingsSpec {
	return &EmbeddingsSpec{
		Weight:              spec.NewRequired(),
		WeightScale:         spec.NewOptional(),
		MultiplyBySqrtDepth: spec.NewOptional(),
	}
}

// Fields implements spec.Spec.
func (e *EmbeddingsSpec) Fields() []spec.Field {
	return []spec.Field{
		spec.SlotField("weight", &e.Weight),
		spec.SlotField("weight_scale", &e.WeightScale),
		spec.SlotField("multiply_by_sqrt_depth", &e.MultiplyBySqrtDepth),
	}
}

func requiredSlot() *spec.Slot {
	s := spec.NewRequired()
	return &s
}

func optionalSlot() *spec.Slot {
	s := spec.NewOptional()
	return &s
}

func filledSlot(v spec.Value) *spec.Slot {
	s := spec.NewFilled(v)
	return &s
}
