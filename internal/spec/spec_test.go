package spec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLinear mirrors the shape of a linear layer without depending on internal/layers.
type testLinear struct {
	Weight Slot
	Bias   Slot
}

func newTestLinear() *testLinear {
	return &testLinear{Weight: NewRequired(), Bias: NewOptional()}
}

func (l *testLinear) Fields() []Field {
	return []Field{SlotField("weight", &l.Weight), SlotField("bias", &l.Bias)}
}

type testBlock struct {
	Scale  Slot
	Linear []*testLinear
	Norm   *testLinear
}

func (b *testBlock) Fields() []Field {
	return []Field{
		SlotField("scale", &b.Scale),
		ListField("linear", b.Linear),
		SpecField("norm", b.Norm),
	}
}

func newTestBlock() *testBlock {
	return &testBlock{
		Scale:  NewFilled(mustScalar(Float32(0.5))),
		Linear: []*testLinear{newTestLinear(), newTestLinear()},
		Norm:   newTestLinear(),
	}
}

func fillWeights(t *testing.T, b *testBlock) {
	t.Helper()
	w, err := FromFloat32([]int{2}, []float32{1, 2})
	require.NoError(t, err)
	for _, l := range b.Linear {
		require.NoError(t, l.Weight.Set(w))
	}
	require.NoError(t, b.Norm.Weight.Set(w))
}

func TestWalk_DeclarationOrder(t *testing.T) {
	b := newTestBlock()

	assert.Equal(t, []string{
		"scale",
		"linear_0/weight",
		"linear_0/bias",
		"linear_1/weight",
		"linear_1/bias",
		"norm/weight",
		"norm/bias",
	}, Declared(b))
}

func TestFlatten_SkipsOptional(t *testing.T) {
	b := newTestBlock()
	fillWeights(t, b)

	bias := mustScalar(Float32(1))
	require.NoError(t, b.Linear[1].Bias.Set(bias))

	vars, err := Flatten(b, "model")
	require.NoError(t, err)

	var names []string
	for _, v := range vars {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{
		"model/scale",
		"model/linear_0/weight",
		"model/linear_1/weight",
		"model/linear_1/bias",
		"model/norm/weight",
	}, names)
	assert.Equal(t, bias, vars[3].Value)
}

func TestFlatten_RequiredUnfilled(t *testing.T) {
	b := newTestBlock()

	_, err := Flatten(b, "decoder")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaViolation)

	var incomplete *IncompleteError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, "decoder/linear_0", incomplete.Path)
	assert.Equal(t, "weight", incomplete.Attribute)
	assert.Contains(t, err.Error(), "decoder/linear_0")
}

func TestValidate_ReportsEveryMissingAttribute(t *testing.T) {
	b := newTestBlock()
	err := Validate(b)
	require.Error(t, err)

	var count int
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		assert.ErrorIs(t, e, ErrSchemaViolation)
		count++
	}
	assert.Equal(t, 3, count)

	fillWeights(t, b)
	assert.NoError(t, Validate(b))
}

func TestSlot_WriteOnce(t *testing.T) {
	s := NewRequired()
	assert.Equal(t, Required, s.State())

	first := mustScalar(Int32(1))
	second := mustScalar(Int32(2))

	require.NoError(t, s.Set(first))
	assert.Equal(t, Filled, s.State())

	err := s.Set(second)
	assert.ErrorIs(t, err, ErrAlreadyFilled)
	assert.Equal(t, first, s.Value())

	require.NoError(t, s.Replace(second))
	assert.Equal(t, second, s.Value())
	assert.Equal(t, Filled, s.State())

	assert.Error(t, s.Set(nil))
}

func TestSlot_OptionalFill(t *testing.T) {
	s := NewOptional()
	assert.False(t, s.IsFilled())
	require.NoError(t, s.Set(Bool(true)))
	assert.True(t, s.IsFilled())

	v, ok := s.Scalar()
	require.True(t, ok)
	assert.True(t, v.Bool())

	_, ok = s.Tensor()
	assert.False(t, ok)
}

func TestLookupAndSet(t *testing.T) {
	b := newTestBlock()
	w, err := FromFloat32([]int{1}, []float32{3})
	require.NoError(t, err)

	require.NoError(t, Set(b, "linear_1/weight", w))
	assert.Same(t, w, b.Linear[1].Weight.Value())

	err = Set(b, "linear_1/weight", w)
	assert.ErrorIs(t, err, ErrAlreadyFilled)

	require.NoError(t, Replace(b, "linear_1/weight", w))

	for _, bad := range []string{"linear_2/weight", "linear", "norm", "scale/x", "missing", "linear_x/weight"} {
		_, err := Lookup(b, bad)
		assert.ErrorIs(t, err, ErrUnknownAttribute, bad)
	}
}

func TestNode_Declarations(t *testing.T) {
	n := NewNode()
	slot, err := n.AddSlot("revision", NewFilled(mustScalar(Int32(2))))
	require.NoError(t, err)
	assert.True(t, slot.IsFilled())

	_, err = n.AddSlot("revision", NewRequired())
	assert.Error(t, err)
	_, err = n.AddSlot("a/b", NewRequired())
	assert.Error(t, err)
	_, err = n.AddSlot("", NewRequired())
	assert.Error(t, err)

	child, err := n.Child("encoder")
	require.NoError(t, err)
	again, err := n.Child("encoder")
	require.NoError(t, err)
	assert.Same(t, child, again)

	_, err = n.Child("revision")
	assert.Error(t, err)

	require.NoError(t, n.AddList("layer", []Spec{newTestLinear()}))
	assert.Equal(t, []string{"revision", "layer_0/weight", "layer_0/bias"}, Declared(n))
}

func TestTensor(t *testing.T) {
	w, err := FromFloat32([]int{2, 2}, []float32{1, -2, 0.5, 4})
	require.NoError(t, err)
	assert.Equal(t, 4, w.NumElements())
	assert.Equal(t, "float32[2 2]", w.String())

	_, err = NewTensor(Float32Type, []int{3}, make([]byte, 8))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	half, err := w.Convert(Float16Type)
	require.NoError(t, err)
	assert.Len(t, half.Bytes(), 8)

	back, err := half.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -2, 0.5, 4}, back)

	bf, err := w.Convert(BFloat16Type)
	require.NoError(t, err)
	back, err = bf.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -2, 0.5, 4}, back)

	same, err := w.Convert(Float32Type)
	require.NoError(t, err)
	assert.Same(t, w, same)

	q, err := FromInt8([]int{2}, []int8{-1, 127})
	require.NoError(t, err)
	_, err = q.Convert(Float16Type)
	assert.Error(t, err)

	i8, err := q.Int8s()
	require.NoError(t, err)
	assert.Equal(t, []int8{-1, 127}, i8)
}

func TestDType(t *testing.T) {
	for _, dt := range []DType{Float32Type, Int8Type, Int16Type, Int32Type, Float16Type, BFloat16Type} {
		parsed, err := ParseDType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, parsed)
		assert.NotZero(t, dt.Size())
	}
	assert.False(t, DType(6).Valid())
	assert.Equal(t, 0, DType(9).Size())
}
