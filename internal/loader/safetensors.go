package loader

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/born-ml/ct2spec/internal/spec"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// MaxHeaderSize bounds the JSON header of a SafeTensors file.
const MaxHeaderSize = 100 * 1024 * 1024

// SafeTensorsDType represents SafeTensors data types.
type SafeTensorsDType string

// SafeTensors dtypes.
const (
	SafeTensorsF16  SafeTensorsDType = "F16"
	SafeTensorsF32  SafeTensorsDType = "F32"
	SafeTensorsF64  SafeTensorsDType = "F64"
	SafeTensorsBF16 SafeTensorsDType = "BF16"
	SafeTensorsI8   SafeTensorsDType = "I8"
	SafeTensorsI16  SafeTensorsDType = "I16"
	SafeTensorsI32  SafeTensorsDType = "I32"
	SafeTensorsI64  SafeTensorsDType = "I64"
	SafeTensorsU8   SafeTensorsDType = "U8"
	SafeTensorsBool SafeTensorsDType = "BOOL"
)

// size returns the element size in bytes, or 0 for unknown dtypes.
func (dt SafeTensorsDType) size() int {
	switch dt {
	case SafeTensorsI8, SafeTensorsU8, SafeTensorsBool:
		return 1
	case SafeTensorsF16, SafeTensorsBF16, SafeTensorsI16:
		return 2
	case SafeTensorsF32, SafeTensorsI32:
		return 4
	case SafeTensorsF64, SafeTensorsI64:
		return 8
	default:
		return 0
	}
}

// SafeTensorInfo describes a tensor in SafeTensors format.
type SafeTensorInfo struct {
	DType       SafeTensorsDType `json:"dtype"`
	Shape       []int            `json:"shape"`
	DataOffsets [2]int64         `json:"data_offsets"` // [start, end]
}

// SafeTensorsHeader is the JSON header in SafeTensors format.
type SafeTensorsHeader struct {
	Metadata map[string]string         `json:"__metadata__"`
	Tensors  map[string]SafeTensorInfo `json:"-"`
}

// UnmarshalJSON implements custom JSON unmarshaling for SafeTensorsHeader.
// Every key but __metadata__ is a tensor.
func (h *SafeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]SafeTensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info SafeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}
	return nil
}

// SafeTensorsReader reads SafeTensors format files.
type SafeTensorsReader struct {
	path       string
	file       *os.File
	header     SafeTensorsHeader
	dataOffset int64 // Offset where tensor data starts
	dataSize   int64 // Size of the data section
}

// NewSafeTensorsReader opens a SafeTensors file and validates its header.
func NewSafeTensorsReader(path string) (*SafeTensorsReader, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	r, err := newSafeTensorsReader(path, file)
	if err != nil {
		_ = file.Close() // Best effort close on error
		return nil, err
	}
	return r, nil
}

func newSafeTensorsReader(path string, file *os.File) (*SafeTensorsReader, error) {
	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return nil, fmt.Errorf("invalid header size: %d (too large)", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var header SafeTensorsHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	dataOffset := int64(8 + headerSize) //nolint:gosec // G115: bounded by MaxHeaderSize

	r := &SafeTensorsReader{
		path:       path,
		file:       file,
		header:     header,
		dataOffset: dataOffset,
		dataSize:   stat.Size() - dataOffset,
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// validate checks every tensor entry against its dtype, shape and the data section.
func (r *SafeTensorsReader) validate() error {
	for name, info := range r.header.Tensors {
		start, end := info.DataOffsets[0], info.DataOffsets[1]
		if start < 0 || end < start || end > r.dataSize {
			return fmt.Errorf("tensor %s: data offsets [%d, %d] outside data section of %d bytes", name, start, end, r.dataSize)
		}
		size := info.DType.size()
		if size == 0 {
			continue // Unsupported dtypes fail on load, not on open.
		}
		n := int64(1)
		for _, d := range info.Shape {
			if d < 0 {
				return fmt.Errorf("tensor %s: negative dimension in %v", name, info.Shape)
			}
			n *= int64(d)
		}
		if n*int64(size) != end-start {
			return fmt.Errorf("tensor %s: %s%v needs %d bytes, offsets span %d", name, info.DType, info.Shape, n*int64(size), end-start)
		}
	}
	return nil
}

// Close closes the SafeTensors file.
func (r *SafeTensorsReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Path returns the file path.
func (r *SafeTensorsReader) Path() string {
	return r.path
}

// Metadata returns the metadata map from the header.
func (r *SafeTensorsReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns the sorted names of all tensors in the file.
func (r *SafeTensorsReader) TensorNames() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TensorInfo returns information about a specific tensor.
func (r *SafeTensorsReader) TensorInfo(name string) (*SafeTensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return &info, nil
}

// ReadTensorData reads raw tensor data for a given tensor name.
func (r *SafeTensorsReader) ReadTensorData(name string) ([]byte, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	start := r.dataOffset + info.DataOffsets[0]
	data := make([]byte, info.DataOffsets[1]-info.DataOffsets[0])
	if _, err := r.file.ReadAt(data, start); err != nil {
		return nil, fmt.Errorf("failed to read tensor data of %s: %w", name, err)
	}
	return data, nil
}

// LoadTensor loads a tensor in its stored type. F64 tensors are narrowed to float32.
func (r *SafeTensorsReader) LoadTensor(name string) (*spec.Tensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}

	var dtype spec.DType
	switch info.DType {
	case SafeTensorsF32:
		dtype = spec.Float32Type
	case SafeTensorsF16:
		dtype = spec.Float16Type
	case SafeTensorsBF16:
		dtype = spec.BFloat16Type
	case SafeTensorsI8:
		dtype = spec.Int8Type
	case SafeTensorsI16:
		dtype = spec.Int16Type
	case SafeTensorsI32:
		dtype = spec.Int32Type
	case SafeTensorsF64:
		values := make([]float32, len(data)/8)
		for i := range values {
			values[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:])))
		}
		return spec.FromFloat32(info.Shape, values)
	default:
		return nil, fmt.Errorf("tensor %s: %w: %s", name, ErrUnsupportedDType, info.DType)
	}
	return spec.NewTensor(dtype, info.Shape, data)
}
