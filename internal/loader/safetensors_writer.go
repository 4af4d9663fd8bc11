package loader

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/born-ml/ct2spec/internal/spec"
)

// safeTensorHeader represents a tensor in the SafeTensors header.
type safeTensorHeader struct {
	DType       SafeTensorsDType `json:"dtype"`
	Shape       []int            `json:"shape"`
	DataOffsets [2]int64         `json:"data_offsets"`
}

// WriteSafeTensors writes tensors to a SafeTensors file, in alphabetical order by name.
func WriteSafeTensors(path string, tensors map[string]*spec.Tensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	var offset int64
	for _, name := range names {
		t := tensors[name]
		dtype, err := safeTensorsDType(t.DType())
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		size := int64(len(t.Bytes()))
		header[name] = safeTensorHeader{
			DType:       dtype,
			Shape:       t.Shape(),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	w := bufio.NewWriter(file)

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, name := range names {
		if _, err := w.Write(tensors[name].Bytes()); err != nil {
			_ = file.Close()
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to flush: %w", err)
	}
	return file.Close()
}

func safeTensorsDType(dt spec.DType) (SafeTensorsDType, error) {
	switch dt {
	case spec.Float32Type:
		return SafeTensorsF32, nil
	case spec.Float16Type:
		return SafeTensorsF16, nil
	case spec.BFloat16Type:
		return SafeTensorsBF16, nil
	case spec.Int8Type:
		return SafeTensorsI8, nil
	case spec.Int16Type:
		return SafeTensorsI16, nil
	case spec.Int32Type:
		return SafeTensorsI32, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
}
