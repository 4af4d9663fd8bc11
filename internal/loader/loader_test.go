package loader

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ct2spec/internal/spec"
)

func f32(t *testing.T, shape []int, values ...float32) *spec.Tensor {
	t.Helper()
	tensor, err := spec.FromFloat32(shape, values)
	require.NoError(t, err)
	return tensor
}

func TestSafeTensors_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")

	half, err := f32(t, []int{2}, 1.5, -2).Convert(spec.Float16Type)
	require.NoError(t, err)
	ints, err := spec.FromInt8([]int{3}, []int8{1, -1, 127})
	require.NoError(t, err)

	tensors := map[string]*spec.Tensor{
		"b.weight": f32(t, []int{2, 2}, 1, 2, 3, 4),
		"a.half":   half,
		"c.int8":   ints,
	}
	require.NoError(t, WriteSafeTensors(path, tensors, map[string]string{"format": "pt"}))

	r, err := NewSafeTensorsReader(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"a.half", "b.weight", "c.int8"}, r.TensorNames())
	assert.Equal(t, "pt", r.Metadata()["format"])
	assert.Equal(t, path, r.Path())

	info, err := r.TensorInfo("b.weight")
	require.NoError(t, err)
	assert.Equal(t, SafeTensorsF32, info.DType)
	assert.Equal(t, []int{2, 2}, info.Shape)

	for name, want := range tensors {
		got, err := r.LoadTensor(name)
		require.NoError(t, err, name)
		assert.Equal(t, want.DType(), got.DType(), name)
		assert.Equal(t, want.Shape(), got.Shape(), name)
		assert.Equal(t, want.Bytes(), got.Bytes(), name)
	}

	_, err = r.LoadTensor("missing")
	assert.ErrorIs(t, err, ErrTensorNotFound)
}

// writeRaw writes a safetensors file from a hand-built header.
func writeRaw(t *testing.T, header map[string]any, data []byte) string {
	t.Helper()
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)

	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(headerJSON)))
	buf = append(buf, headerJSON...)
	buf = append(buf, data...)

	path := filepath.Join(t.TempDir(), "raw.safetensors")
	require.NoError(t, os.WriteFile(path, buf, 0o600))
	return path
}

func TestSafeTensors_F64Narrowed(t *testing.T) {
	data := binary.LittleEndian.AppendUint64(nil, math.Float64bits(0.5))
	data = binary.LittleEndian.AppendUint64(data, math.Float64bits(-3))
	path := writeRaw(t, map[string]any{
		"x": map[string]any{"dtype": "F64", "shape": []int{2}, "data_offsets": []int{0, 16}},
	}, data)

	r, err := NewSafeTensorsReader(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.LoadTensor("x")
	require.NoError(t, err)
	assert.Equal(t, spec.Float32Type, got.DType())
	values, err := got.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -3}, values)
}

func TestSafeTensors_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]any
		data   []byte
		onLoad bool
	}{
		{
			name: "offsets past end",
			header: map[string]any{
				"x": map[string]any{"dtype": "F32", "shape": []int{2}, "data_offsets": []int{0, 8}},
			},
			data: make([]byte, 4),
		},
		{
			name: "size mismatch",
			header: map[string]any{
				"x": map[string]any{"dtype": "F32", "shape": []int{3}, "data_offsets": []int{0, 8}},
			},
			data: make([]byte, 8),
		},
		{
			name: "unsupported dtype",
			header: map[string]any{
				"x": map[string]any{"dtype": "I64", "shape": []int{1}, "data_offsets": []int{0, 8}},
			},
			data:   make([]byte, 8),
			onLoad: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRaw(t, tt.header, tt.data)
			r, err := NewSafeTensorsReader(path)
			if !tt.onLoad {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer r.Close()
			_, err = r.LoadTensor("x")
			assert.ErrorIs(t, err, ErrUnsupportedDType)
		})
	}
}

func TestOpenCheckpoint_Single(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteSafeTensors(filepath.Join(dir, SingleFileName), map[string]*spec.Tensor{
		"w": f32(t, []int{1}, 7),
	}, nil))

	for _, path := range []string{dir, filepath.Join(dir, SingleFileName)} {
		ckpt, err := OpenCheckpoint(path)
		require.NoError(t, err)
		assert.Equal(t, 1, ckpt.NumShards())
		assert.Equal(t, []string{"w"}, ckpt.TensorNames())
		require.NoError(t, ckpt.Close())
	}
}

func TestOpenCheckpoint_Sharded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteSafeTensors(filepath.Join(dir, "model-00001-of-00002.safetensors"), map[string]*spec.Tensor{
		"a": f32(t, []int{1}, 1),
	}, nil))
	require.NoError(t, WriteSafeTensors(filepath.Join(dir, "model-00002-of-00002.safetensors"), map[string]*spec.Tensor{
		"b": f32(t, []int{2}, 2, 3),
	}, nil))

	index, err := json.Marshal(map[string]any{
		"metadata": map[string]any{"total_size": 12},
		"weight_map": map[string]string{
			"a": "model-00001-of-00002.safetensors",
			"b": "model-00002-of-00002.safetensors",
		},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFileName), index, 0o600))

	ckpt, err := OpenCheckpoint(dir)
	require.NoError(t, err)
	defer ckpt.Close()

	var src Source = ckpt
	assert.Equal(t, 2, ckpt.NumShards())
	assert.Equal(t, []string{"a", "b"}, src.TensorNames())

	b, err := src.LoadTensor("b")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, b.Shape())

	_, err = src.TensorInfo("c")
	assert.ErrorIs(t, err, ErrTensorNotFound)
}

func TestOpenCheckpoint_Errors(t *testing.T) {
	_, err := OpenCheckpoint(t.TempDir())
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	_, err = OpenCheckpoint(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	// The index lists a tensor no shard holds.
	dir := t.TempDir()
	require.NoError(t, WriteSafeTensors(filepath.Join(dir, "shard.safetensors"), map[string]*spec.Tensor{
		"a": f32(t, []int{1}, 1),
	}, nil))
	index := `{"weight_map": {"a": "shard.safetensors", "b": "shard.safetensors"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFileName), []byte(index), 0o600))
	_, err = OpenCheckpoint(dir)
	assert.ErrorIs(t, err, ErrTensorNotFound)
}

func TestLLaMAMapper(t *testing.T) {
	m := NewLLaMAMapper()
	assert.Equal(t, ArchitectureLLaMA, m.Architecture())

	tests := []struct {
		name string
		want Target
		ok   bool
	}{
		{"model.embed_tokens.weight", Target{Path: "decoder/embeddings/weight"}, true},
		{"model.norm.weight", Target{Path: "decoder/layer_norm/gamma"}, true},
		{"lm_head.weight", Target{Path: "decoder/projection/weight"}, true},
		{"model.layers.3.input_layernorm.weight", Target{Path: "decoder/layer_3/self_attention/layer_norm/gamma"}, true},
		{"model.layers.3.post_attention_layernorm.weight", Target{Path: "decoder/layer_3/ffn/layer_norm/gamma"}, true},
		{"model.layers.0.self_attn.q_proj.weight", Target{Path: "decoder/layer_0/self_attention/linear_0/weight", Part: 0, Parts: 3}, true},
		{"model.layers.0.self_attn.k_proj.weight", Target{Path: "decoder/layer_0/self_attention/linear_0/weight", Part: 1, Parts: 3}, true},
		{"model.layers.0.self_attn.v_proj.bias", Target{Path: "decoder/layer_0/self_attention/linear_0/bias", Part: 2, Parts: 3}, true},
		{"model.layers.12.self_attn.o_proj.weight", Target{Path: "decoder/layer_12/self_attention/linear_1/weight"}, true},
		{"model.layers.1.mlp.gate_proj.weight", Target{Path: "decoder/layer_1/ffn/linear_0/weight"}, true},
		{"model.layers.1.mlp.up_proj.weight", Target{Path: "decoder/layer_1/ffn/linear_0_noact/weight"}, true},
		{"model.layers.1.mlp.down_proj.weight", Target{Path: "decoder/layer_1/ffn/linear_1/weight"}, true},
		{"model.layers.1.self_attn.rotary_emb.inv_freq", Target{}, false},
		{"unrelated.tensor", Target{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := m.Map(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	target, _, _ := m.Map("model.layers.0.self_attn.q_proj.weight")
	assert.True(t, target.IsFused())
}

func TestLLaMAMapper_Errors(t *testing.T) {
	m := NewLLaMAMapper()
	for _, name := range []string{
		"model.layers.x.mlp.up_proj.weight",
		"model.layers.0",
		"model.layers.0.block_sparse_moe.experts.1.w1.weight",
	} {
		_, _, err := m.Map(name)
		assert.Error(t, err, name)
	}
}

func TestGetMapper(t *testing.T) {
	for _, arch := range []string{ArchitectureLLaMA, ArchitectureMistral, ArchitectureQwen2} {
		m, err := GetMapper(arch)
		require.NoError(t, err)
		assert.Equal(t, arch, m.Architecture())
	}
	_, err := GetMapper("deepseek_v3")
	assert.ErrorIs(t, err, ErrUnknownArchitecture)

	assert.Equal(t, ArchitectureLLaMA, DetectArchitecture([]string{"model.layers.0.self_attn.q_proj.weight"}))
	assert.Equal(t, ArchitectureQwen2, DetectArchitecture([]string{"model.layers.0.self_attn.q_proj.bias"}))
}
