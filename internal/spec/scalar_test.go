package spec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalar_RangeBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		make    func() (Scalar, error)
		wantErr bool
	}{
		{"int8 max", func() (Scalar, error) { return Int8(127) }, false},
		{"int8 min", func() (Scalar, error) { return Int8(-128) }, false},
		{"int8 max+1", func() (Scalar, error) { return Int8(128) }, true},
		{"int8 min-1", func() (Scalar, error) { return Int8(-129) }, true},
		{"int16 max", func() (Scalar, error) { return Int16(math.MaxInt16) }, false},
		{"int16 max+1", func() (Scalar, error) { return Int16(math.MaxInt16 + 1) }, true},
		{"int32 max", func() (Scalar, error) { return Int32(math.MaxInt32) }, false},
		{"int32 min", func() (Scalar, error) { return Int32(math.MinInt32) }, false},
		{"int32 max+1", func() (Scalar, error) { return Int32(math.MaxInt32 + 1) }, true},
		{"float32 max", func() (Scalar, error) { return Float32(math.MaxFloat32) }, false},
		{"float32 overflow", func() (Scalar, error) { return Float32(math.MaxFloat64) }, true},
		{"float32 inf", func() (Scalar, error) { return Float32(math.Inf(1)) }, false},
		{"float16 max", func() (Scalar, error) { return Float16(65504) }, false},
		{"float16 overflow", func() (Scalar, error) { return Float16(70000) }, true},
		{"bfloat16 large", func() (Scalar, error) { return BFloat16(1e38) }, false},
		{"bfloat16 overflow", func() (Scalar, error) { return BFloat16(1e39) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.make()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrRange)
				var rangeErr *RangeError
				assert.ErrorAs(t, err, &rangeErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestScalar_WidthFollowsTag(t *testing.T) {
	i8, err := Int8(3)
	require.NoError(t, err)
	i32, err := Int32(3)
	require.NoError(t, err)
	f32, err := Float32(3)
	require.NoError(t, err)
	f16, err := Float16(3)
	require.NoError(t, err)

	assert.Equal(t, []byte{3}, i8.Bytes())
	assert.Equal(t, []byte{3, 0, 0, 0}, i32.Bytes())
	assert.Equal(t, []byte{0x00, 0x00, 0x40, 0x40}, f32.Bytes())
	assert.Len(t, f16.Bytes(), 2)
	assert.NotEqual(t, i8, i32)
}

func TestScalar_NegativeEncoding(t *testing.T) {
	s, err := Int8(-1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff}, s.Bytes())
	assert.Equal(t, int64(-1), s.Int())

	s, err = Int32(-2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfe, 0xff, 0xff, 0xff}, s.Bytes())
}

func TestScalar_DecodeRoundtrip(t *testing.T) {
	values := []Scalar{
		mustScalar(Int8(-7)),
		mustScalar(Int16(-300)),
		mustScalar(Int32(4096)),
		mustScalar(Float32(10000)),
		mustScalar(Float16(0.5)),
		mustScalar(BFloat16(8)),
		Bool(true),
	}

	for _, s := range values {
		t.Run(s.String(), func(t *testing.T) {
			got, err := DecodeScalar(s.DType(), s.Bytes())
			require.NoError(t, err)
			assert.Equal(t, s, got)
			assert.InDelta(t, s.Float(), got.Float(), 0)
		})
	}

	_, err := DecodeScalar(Int32Type, []byte{1, 2})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestNewScalar(t *testing.T) {
	s, err := NewScalar(Int32Type, 2048)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), s.Int())

	_, err = NewScalar(Int8Type, 1.5)
	assert.ErrorIs(t, err, ErrRange)

	_, err = NewScalar(Int8Type, 300)
	assert.ErrorIs(t, err, ErrRange)

	s, err = NewScalar(Float32Type, 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, s.Float(), 0)
}

func TestBool(t *testing.T) {
	assert.Equal(t, Int8Type, Bool(true).DType())
	assert.Equal(t, []byte{1}, Bool(true).Bytes())
	assert.Equal(t, []byte{0}, Bool(false).Bytes())
	assert.True(t, Bool(true).Bool())
	assert.False(t, Bool(false).Bool())
}

func mustScalar(s Scalar, err error) Scalar {
	if err != nil {
		panic(err)
	}
	return s
}
