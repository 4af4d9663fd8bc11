// Package quantize converts the weights of a filled specification to the storage type
// requested for the model.
//
// Modes:
//   - float32, float16, bfloat16: every floating point tensor is converted.
//   - int8: weights of linear, embedding and convolution layers are quantized row-wise
//     to int8 with a float32 weight_scale. Other tensors are left untouched.
package quantize

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/born-ml/ct2spec/internal/layers"
	"github.com/born-ml/ct2spec/internal/parallel"
	"github.com/born-ml/ct2spec/internal/spec"
)

// ErrNonFinite is returned when a weight to quantize holds NaN or an infinity.
var ErrNonFinite = errors.New("non-finite weight")

// Mode is a weight storage mode.
type Mode string

// Supported modes.
const (
	Float32  Mode = "float32"
	Float16  Mode = "float16"
	BFloat16 Mode = "bfloat16"
	Int8     Mode = "int8"
)

// Modes lists the supported modes.
var Modes = []Mode{Float32, Float16, BFloat16, Int8}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(name string) (Mode, error) {
	for _, m := range Modes {
		if strings.EqualFold(name, string(m)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown quantization mode %q (want one of %v)", name, Modes)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// floatType returns the float storage type of m. Int8 keeps float32 for the tensors it
// does not quantize.
func (m Mode) floatType() spec.DType {
	switch m {
	case Float16:
		return spec.Float16Type
	case BFloat16:
		return spec.BFloat16Type
	default:
		return spec.Float32Type
	}
}

// Stats summarizes an Apply run.
type Stats struct {
	Converted   int   // Tensors converted to another float type
	Quantized   int   // Weights quantized to int8
	BytesBefore int64 // Tensor bytes before
	BytesAfter  int64 // Tensor bytes after, including added scales
}

// Apply rewrites the filled tensors of root for mode. Tensors shared between several
// attributes stay shared. Already quantized weights (with a filled weight_scale) are
// skipped, and weight_scale attributes always stay float32.
func Apply(root spec.Spec, mode Mode, cfg parallel.Config) (Stats, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return Stats{}, err
	}
	a := &applier{
		mode:      mode,
		cfg:       cfg,
		converted: make(map[*spec.Tensor]*spec.Tensor),
		quantized: make(map[*spec.Tensor]quantized),
	}

	if mode == Int8 {
		if err := spec.Walk(root, "", a.quantizeSpec, nil); err != nil {
			return a.stats, err
		}
	}
	err := spec.Walk(root, "", nil, func(scope, name string, slot *spec.Slot) error {
		if name == "weight_scale" {
			return nil
		}
		if err := a.convertSlot(slot); err != nil {
			return fmt.Errorf("%s: %w", spec.Join(scope, name), err)
		}
		return nil
	})
	return a.stats, err
}

type quantized struct {
	weight *spec.Tensor
	scale  *spec.Tensor
}

type applier struct {
	mode      Mode
	cfg       parallel.Config
	stats     Stats
	converted map[*spec.Tensor]*spec.Tensor
	quantized map[*spec.Tensor]quantized
}

func (a *applier) quantizeSpec(scope string, node spec.Spec) error {
	var weight, scale *spec.Slot
	switch n := node.(type) {
	case *layers.LinearSpec:
		weight, scale = &n.Weight, &n.WeightScale
	case *layers.EmbeddingsSpec:
		weight, scale = &n.Weight, &n.WeightScale
	case *layers.Conv1DSpec:
		weight, scale = &n.Weight, &n.WeightScale
	default:
		return nil
	}
	if scale.IsFilled() {
		return nil
	}
	w, ok := weight.Tensor()
	if !ok || !w.DType().IsFloat() {
		return nil
	}

	q, seen := a.quantized[w]
	if !seen {
		qw, qs, err := QuantizeInt8(w, a.cfg)
		if err != nil {
			return fmt.Errorf("%s: %w", spec.Join(scope, "weight"), err)
		}
		q = quantized{weight: qw, scale: qs}
		a.quantized[w] = q
		a.stats.Quantized++
		a.stats.BytesBefore += int64(len(w.Bytes()))
		a.stats.BytesAfter += int64(len(qw.Bytes()) + len(qs.Bytes()))
	}
	if err := weight.Replace(q.weight); err != nil {
		return err
	}
	return scale.Set(q.scale)
}

func (a *applier) convertSlot(slot *spec.Slot) error {
	t, ok := slot.Tensor()
	if !ok || !t.DType().IsFloat() {
		return nil
	}
	target := a.mode.floatType()
	if t.DType() == target {
		return nil
	}
	c, seen := a.converted[t]
	if !seen {
		var err error
		if c, err = t.Convert(target); err != nil {
			return err
		}
		a.converted[t] = c
		a.stats.Converted++
		a.stats.BytesBefore += int64(len(t.Bytes()))
		a.stats.BytesAfter += int64(len(c.Bytes()))
	}
	return slot.Replace(c)
}

// QuantizeInt8 quantizes a weight row by row: each row r is scaled by
// scale[r] = 127 / max|w[r]| and rounded to int8. The first dimension indexes rows.
// Rows that are entirely zero get a scale of 1. NaN and infinite values are rejected
// with ErrNonFinite.
func QuantizeInt8(w *spec.Tensor, cfg parallel.Config) (*spec.Tensor, *spec.Tensor, error) {
	shape := w.Shape()
	if len(shape) < 2 {
		return nil, nil, fmt.Errorf("cannot quantize rank %d tensor %s", len(shape), w)
	}
	values, err := w.Float32s()
	if err != nil {
		return nil, nil, err
	}
	rows := shape[0]
	cols := 0
	if rows > 0 {
		cols = len(values) / rows
	}
	for i, v := range values {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, nil, fmt.Errorf("%w: %v at row %d, column %d of %s", ErrNonFinite, v, i/cols, i%cols, w)
		}
	}

	q := make([]int8, len(values))
	scales := make([]float32, rows)
	parallel.For(rows, func(r int) {
		row := values[r*cols : (r+1)*cols]
		var amax float32
		for _, v := range row {
			amax = max(amax, float32(math.Abs(float64(v))))
		}
		scale := float32(1)
		if amax > 0 {
			scale = 127 / amax
		}
		scales[r] = scale
		out := q[r*cols : (r+1)*cols]
		for i, v := range row {
			x := math.Round(float64(v * scale))
			out[i] = int8(max(-127, min(127, x)))
		}
	}, cfg)

	qw, err := spec.FromInt8(shape, q)
	if err != nil {
		return nil, nil, err
	}
	qs, err := spec.FromFloat32([]int{rows}, scales)
	if err != nil {
		return nil, nil, err
	}
	return qw, qs, nil
}

// DequantizeInt8 reverses QuantizeInt8 up to rounding.
func DequantizeInt8(q, scale *spec.Tensor) ([]float32, error) {
	values, err := q.Int8s()
	if err != nil {
		return nil, err
	}
	scales, err := scale.Float32s()
	if err != nil {
		return nil, err
	}
	shape := q.Shape()
	if len(shape) < 2 || shape[0] != len(scales) {
		return nil, fmt.Errorf("%w: %d scales for %s", spec.ErrShapeMismatch, len(scales), q)
	}
	cols := len(values) / max(len(scales), 1)
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v) / scales[i/cols]
	}
	return out, nil
}
