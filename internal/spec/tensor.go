package spec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Tensor is a dense, row-major array stored as little-endian bytes.
//
// It is the payload of the tensor-encoding sub-protocol: the spec layer only tracks
// dtype, shape and raw bytes, it never computes with them.
type Tensor struct {
	dtype DType
	shape []int
	data  []byte
}

// NewTensor wraps raw little-endian data. The data length must equal
// NumElements(shape) * dtype.Size().
func NewTensor(dtype DType, shape []int, data []byte) (*Tensor, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("unsupported tensor dtype %s", dtype)
	}
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if want := n * dtype.Size(); want != len(data) {
		return nil, fmt.Errorf("%w: shape %v of %s needs %d bytes, got %d", ErrShapeMismatch, shape, dtype, want, len(data))
	}
	return &Tensor{dtype: dtype, shape: append([]int(nil), shape...), data: data}, nil
}

// FromFloat32 creates a float32 tensor.
func FromFloat32(shape []int, values []float32) (*Tensor, error) {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return NewTensor(Float32Type, shape, data)
}

// FromInt8 creates an int8 tensor.
func FromInt8(shape []int, values []int8) (*Tensor, error) {
	data := make([]byte, len(values))
	for i, v := range values {
		data[i] = byte(v)
	}
	return NewTensor(Int8Type, shape, data)
}

// FromInt32 creates an int32 tensor.
func FromInt32(shape []int, values []int32) (*Tensor, error) {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], uint32(v))
	}
	return NewTensor(Int32Type, shape, data)
}

// DType returns the element type.
func (t *Tensor) DType() DType {
	return t.dtype
}

// Shape returns a copy of the dimensions.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Bytes returns the raw payload. The slice is shared, callers must not modify it.
func (t *Tensor) Bytes() []byte {
	return t.data
}

// NumElements returns the product of the dimensions.
func (t *Tensor) NumElements() int {
	if t.dtype.Size() == 0 {
		return 0
	}
	return len(t.data) / t.dtype.Size()
}

// Float32s decodes a floating point tensor into float32 values.
func (t *Tensor) Float32s() ([]float32, error) {
	n := t.NumElements()
	out := make([]float32, n)
	switch t.dtype {
	case Float32Type:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[4*i:]))
		}
	case Float16Type:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.data[2*i:])).Float32()
		}
	case BFloat16Type:
		for i := range out {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(t.data[2*i:])) << 16)
		}
	default:
		return nil, fmt.Errorf("cannot read %s tensor as float32", t.dtype)
	}
	return out, nil
}

// Int8s decodes an int8 tensor.
func (t *Tensor) Int8s() ([]int8, error) {
	if t.dtype != Int8Type {
		return nil, fmt.Errorf("cannot read %s tensor as int8", t.dtype)
	}
	out := make([]int8, len(t.data))
	for i, b := range t.data {
		out[i] = int8(b)
	}
	return out, nil
}

// Convert returns a copy of a floating point tensor in another floating point type.
// Converting to the same type returns t itself.
func (t *Tensor) Convert(dtype DType) (*Tensor, error) {
	if dtype == t.dtype {
		return t, nil
	}
	if !dtype.IsFloat() {
		return nil, fmt.Errorf("cannot convert %s tensor to %s", t.dtype, dtype)
	}
	values, err := t.Float32s()
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(values)*dtype.Size())
	for i, v := range values {
		switch dtype {
		case Float32Type:
			binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
		case Float16Type:
			binary.LittleEndian.PutUint16(data[2*i:], float16.Fromfloat32(v).Bits())
		case BFloat16Type:
			binary.LittleEndian.PutUint16(data[2*i:], uint16(bfloat16.FromFloat32(v)))
		}
	}
	return NewTensor(dtype, t.shape, data)
}

// String returns a short description such as "float32[4096 4096]".
func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.dtype, t.shape)
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
		}
		n *= d
	}
	return n, nil
}
