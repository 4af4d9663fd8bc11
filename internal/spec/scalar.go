package spec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Value is anything a slot can be filled with: a Scalar or a *Tensor.
type Value interface {
	// DType returns the element type.
	DType() DType
	// Shape returns the dimensions; scalars have an empty shape.
	Shape() []int
	// Bytes returns the little-endian encoded payload.
	Bytes() []byte
}

// Scalar is a numeric value tagged with an explicit fixed-width type.
//
// The tag is chosen by the schema author per attribute and never inferred from the value:
// Int8(3) and Int32(3) encode to 1 and 4 bytes respectively.
type Scalar struct {
	dtype DType
	bits  uint32 // Raw little-endian bit pattern, low Size() bytes significant
}

// Int8 returns an int8 scalar, or a *RangeError if v is outside [-128, 127].
func Int8(v int64) (Scalar, error) {
	if v < math.MinInt8 || v > math.MaxInt8 {
		return Scalar{}, &RangeError{DType: Int8Type, Value: strconv.FormatInt(v, 10)}
	}
	return Scalar{dtype: Int8Type, bits: uint32(uint8(int8(v)))}, nil
}

// Int16 returns an int16 scalar, or a *RangeError if v does not fit.
func Int16(v int64) (Scalar, error) {
	if v < math.MinInt16 || v > math.MaxInt16 {
		return Scalar{}, &RangeError{DType: Int16Type, Value: strconv.FormatInt(v, 10)}
	}
	return Scalar{dtype: Int16Type, bits: uint32(uint16(int16(v)))}, nil
}

// Int32 returns an int32 scalar, or a *RangeError if v does not fit.
func Int32(v int64) (Scalar, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return Scalar{}, &RangeError{DType: Int32Type, Value: strconv.FormatInt(v, 10)}
	}
	return Scalar{dtype: Int32Type, bits: uint32(int32(v))}, nil
}

// Float32 returns a float32 scalar, or a *RangeError if v is finite but beyond float32 range.
func Float32(v float64) (Scalar, error) {
	if !math.IsInf(v, 0) && !math.IsNaN(v) && math.Abs(v) > math.MaxFloat32 {
		return Scalar{}, &RangeError{DType: Float32Type, Value: formatFloat(v)}
	}
	return Scalar{dtype: Float32Type, bits: math.Float32bits(float32(v))}, nil
}

// Float16 returns an IEEE half precision scalar, or a *RangeError if |v| > 65504.
func Float16(v float64) (Scalar, error) {
	if !math.IsInf(v, 0) && !math.IsNaN(v) && math.Abs(v) > maxFloat16 {
		return Scalar{}, &RangeError{DType: Float16Type, Value: formatFloat(v)}
	}
	return Scalar{dtype: Float16Type, bits: uint32(float16.Fromfloat32(float32(v)).Bits())}, nil
}

// BFloat16 returns a bfloat16 scalar, or a *RangeError if v is beyond bfloat16 range.
func BFloat16(v float64) (Scalar, error) {
	if !math.IsInf(v, 0) && !math.IsNaN(v) && math.Abs(v) > maxBFloat16 {
		return Scalar{}, &RangeError{DType: BFloat16Type, Value: formatFloat(v)}
	}
	return Scalar{dtype: BFloat16Type, bits: uint32(uint16(bfloat16.FromFloat32(float32(v))))}, nil
}

// Bool returns the runtime encoding of a flag: an int8 holding 0 or 1.
func Bool(b bool) Scalar {
	if b {
		return Scalar{dtype: Int8Type, bits: 1}
	}
	return Scalar{dtype: Int8Type}
}

const (
	maxFloat16  = 65504
	maxBFloat16 = 3.3895313892515355e38
)

// NewScalar builds a scalar of the given type from a float64.
// Integer types require an integral value.
func NewScalar(dtype DType, v float64) (Scalar, error) {
	switch dtype {
	case Float32Type:
		return Float32(v)
	case Float16Type:
		return Float16(v)
	case BFloat16Type:
		return BFloat16(v)
	case Int8Type, Int16Type, Int32Type:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) || math.Abs(v) > math.MaxInt64/2 {
			return Scalar{}, &RangeError{DType: dtype, Value: formatFloat(v)}
		}
		switch dtype {
		case Int8Type:
			return Int8(int64(v))
		case Int16Type:
			return Int16(int64(v))
		default:
			return Int32(int64(v))
		}
	default:
		return Scalar{}, fmt.Errorf("unsupported scalar dtype %s", dtype)
	}
}

// DecodeScalar decodes a little-endian payload of exactly dtype.Size() bytes.
func DecodeScalar(dtype DType, data []byte) (Scalar, error) {
	if !dtype.Valid() {
		return Scalar{}, fmt.Errorf("unsupported scalar dtype %s", dtype)
	}
	if len(data) != dtype.Size() {
		return Scalar{}, fmt.Errorf("%w: %s scalar needs %d bytes, got %d", ErrShapeMismatch, dtype, dtype.Size(), len(data))
	}
	var bits uint32
	switch dtype.Size() {
	case 1:
		bits = uint32(data[0])
	case 2:
		bits = uint32(binary.LittleEndian.Uint16(data))
	case 4:
		bits = binary.LittleEndian.Uint32(data)
	}
	return Scalar{dtype: dtype, bits: bits}, nil
}

// DType returns the declared type.
func (s Scalar) DType() DType {
	return s.dtype
}

// Shape returns an empty shape: scalars are rank 0.
func (s Scalar) Shape() []int {
	return nil
}

// Bytes returns exactly DType().Size() bytes, little endian.
func (s Scalar) Bytes() []byte {
	out := make([]byte, s.dtype.Size())
	switch len(out) {
	case 1:
		out[0] = byte(s.bits)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(s.bits))
	case 4:
		binary.LittleEndian.PutUint32(out, s.bits)
	}
	return out
}

// Int returns the value of an integer scalar.
// For floating point scalars the value is truncated.
func (s Scalar) Int() int64 {
	switch s.dtype {
	case Int8Type:
		return int64(int8(uint8(s.bits)))
	case Int16Type:
		return int64(int16(uint16(s.bits)))
	case Int32Type:
		return int64(int32(s.bits))
	default:
		return int64(s.Float())
	}
}

// Float returns the value as a float64.
func (s Scalar) Float() float64 {
	switch s.dtype {
	case Float32Type:
		return float64(math.Float32frombits(s.bits))
	case Float16Type:
		return float64(float16.Frombits(uint16(s.bits)).Float32())
	case BFloat16Type:
		return float64(math.Float32frombits(s.bits << 16))
	default:
		return float64(s.Int())
	}
}

// Bool reports whether the scalar is non-zero.
func (s Scalar) Bool() bool {
	return s.bits != 0
}

// String returns "<value>:<dtype>".
func (s Scalar) String() string {
	if s.dtype.IsFloat() {
		return formatFloat(s.Float()) + ":" + s.dtype.String()
	}
	return strconv.FormatInt(s.Int(), 10) + ":" + s.dtype.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
