package enums

// Activation is the activation function applied inside feed-forward blocks.
type Activation int8

// Activation variants.
const (
	ReLU        Activation = 0
	GELUTanh    Activation = 1
	Swish       Activation = 2
	GELU        Activation = 3
	GELUSigmoid Activation = 4
	Tanh        Activation = 5
	Sigmoid     Activation = 6
)

// Activations is the Activation registry.
var Activations = NewRegistry("Activation",
	Entry[Activation]{"RELU", ReLU},
	Entry[Activation]{"GELUTanh", GELUTanh},
	Entry[Activation]{"SWISH", Swish},
	Entry[Activation]{"GELU", GELU},
	Entry[Activation]{"GELUSigmoid", GELUSigmoid},
	Entry[Activation]{"Tanh", Tanh},
	Entry[Activation]{"Sigmoid", Sigmoid},
)

func (a Activation) String() string { return nameOf(Activations, a) }

// MarshalText implements encoding.TextMarshaler.
func (a Activation) MarshalText() ([]byte, error) {
	name, err := Activations.Name(a)
	return []byte(name), err
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Activation) UnmarshalText(text []byte) error {
	return unmarshalText(Activations, text, a)
}

// EmbeddingsMerge is the strategy used to merge the embeddings of source factors.
type EmbeddingsMerge int8

// EmbeddingsMerge variants.
const (
	MergeConcat EmbeddingsMerge = 0
	MergeAdd    EmbeddingsMerge = 1
)

// EmbeddingsMerges is the EmbeddingsMerge registry.
var EmbeddingsMerges = NewRegistry("EmbeddingsMerge",
	Entry[EmbeddingsMerge]{"CONCAT", MergeConcat},
	Entry[EmbeddingsMerge]{"ADD", MergeAdd},
)

func (m EmbeddingsMerge) String() string { return nameOf(EmbeddingsMerges, m) }

// MarshalText implements encoding.TextMarshaler.
func (m EmbeddingsMerge) MarshalText() ([]byte, error) {
	name, err := EmbeddingsMerges.Name(m)
	return []byte(name), err
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *EmbeddingsMerge) UnmarshalText(text []byte) error {
	return unmarshalText(EmbeddingsMerges, text, m)
}

// Quantization is the weight quantization scheme understood by the runtime.
type Quantization int8

// Quantization variants.
const (
	QuantizationCT2     Quantization = 0
	QuantizationAWQGemm Quantization = 1
	QuantizationAWQGemv Quantization = 2
)

// Quantizations is the Quantization registry.
var Quantizations = NewRegistry("Quantization",
	Entry[Quantization]{"CT2", QuantizationCT2},
	Entry[Quantization]{"AWQ_GEMM", QuantizationAWQGemm},
	Entry[Quantization]{"AWQ_GEMV", QuantizationAWQGemv},
)

func (q Quantization) String() string { return nameOf(Quantizations, q) }

// MarshalText implements encoding.TextMarshaler.
func (q Quantization) MarshalText() ([]byte, error) {
	name, err := Quantizations.Name(q)
	return []byte(name), err
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quantization) UnmarshalText(text []byte) error {
	return unmarshalText(Quantizations, text, q)
}

// RotaryScalingType selects how rotary embeddings are rescaled for long contexts.
type RotaryScalingType int8

// RotaryScalingType variants. The runtime reserves -1 for "no scaling", which is
// expressed here by the absence of a scaling type.
const (
	RotaryScalingLinear RotaryScalingType = 0
	RotaryScalingSu     RotaryScalingType = 1
	RotaryScalingLlama3 RotaryScalingType = 2
)

// RotaryScalingTypes is the RotaryScalingType registry.
var RotaryScalingTypes = NewRegistry("RotaryScalingType",
	Entry[RotaryScalingType]{"Linear", RotaryScalingLinear},
	Entry[RotaryScalingType]{"Su", RotaryScalingSu},
	Entry[RotaryScalingType]{"Llama3", RotaryScalingLlama3},
)

func (t RotaryScalingType) String() string { return nameOf(RotaryScalingTypes, t) }

// MarshalText implements encoding.TextMarshaler.
func (t RotaryScalingType) MarshalText() ([]byte, error) {
	name, err := RotaryScalingTypes.Name(t)
	return []byte(name), err
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *RotaryScalingType) UnmarshalText(text []byte) error {
	return unmarshalText(RotaryScalingTypes, text, t)
}
